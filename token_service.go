package identity

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenService signs and validates session tokens.
type TokenService interface {
	Generate(user *User, extended bool) (string, error)
	SignClaims(claims *JWTClaims) (string, error)
	Validate(tokenString string) (AuthClaims, error)
}

// TokenServiceImpl implements TokenService over HS256 with a symmetric key.
type TokenServiceImpl struct {
	signingKey       []byte
	tokenExpiration  int
	extendedDuration int
	issuer           string
	audience         jwt.ClaimStrings
	logger           Logger
}

// NewTokenService creates a TokenService instance. Expirations are in hours;
// extendedExpiration covers "remember me" sessions and falls back to the
// short window when zero.
func NewTokenService(signingKey []byte, tokenExpiration, extendedExpiration int, issuer string, audience jwt.ClaimStrings, logger Logger) *TokenServiceImpl {
	if logger == nil {
		logger = defLogger{}
	}
	if tokenExpiration <= 0 {
		tokenExpiration = 24
	}
	if extendedExpiration <= 0 {
		extendedExpiration = tokenExpiration
	}
	return &TokenServiceImpl{
		signingKey:       signingKey,
		tokenExpiration:  tokenExpiration,
		extendedDuration: extendedExpiration,
		issuer:           issuer,
		audience:         audience,
		logger:           logger,
	}
}

// NewTokenServiceFromConfig wires a TokenService from identity configuration.
func NewTokenServiceFromConfig(cfg Config, logger Logger) *TokenServiceImpl {
	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetExtendedTokenDuration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		logger,
	)
}

// SessionDuration returns the expiry window applied to tokens and cookies.
func (ts *TokenServiceImpl) SessionDuration(extended bool) time.Duration {
	if extended {
		return time.Duration(ts.extendedDuration) * time.Hour
	}
	return time.Duration(ts.tokenExpiration) * time.Hour
}

// Generate signs a token carrying a snapshot of the user's public fields. The
// snapshot is trusted on validation without a storage round trip.
func (ts *TokenServiceImpl) Generate(user *User, extended bool) (string, error) {
	if user == nil {
		return "", goerrors.New("user must not be nil", goerrors.CategoryInternal)
	}

	now := time.Now()
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.SessionDuration(extended))),
		},
		UID:       user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		IsAdmin:   user.IsAdmin,
	}

	ensureTokenID(&claims.RegisteredClaims)

	return ts.SignClaims(claims)
}

// SignClaims signs arbitrary session claims using the configured key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if len(ts.signingKey) == 0 {
		return "", ErrMissingSigningKey
	}
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

// Validate parses and verifies a token string, returning structured claims.
func (ts *TokenServiceImpl) Validate(tokenString string) (AuthClaims, error) {
	if len(ts.signingKey) == 0 {
		return nil, ErrMissingSigningKey
	}

	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		// The parser verifies one expected audience; issued tokens carry the
		// whole configured list, so the first entry is the one enforced.
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	ts.logger.Error("token validate could not decode claims")
	return nil, ErrTokenMalformed
}
