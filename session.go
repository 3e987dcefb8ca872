package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var _ Session = &SessionObject{}

// SessionObject is the claim snapshot handed to request handlers after a
// bearer token has been validated.
type SessionObject struct {
	UserID         int64      `json:"user_id,omitempty"`
	Email          string     `json:"email,omitempty"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	IsAdmin        bool       `json:"is_admin,omitempty"`
	Issuer         string     `json:"issuer,omitempty"`
	IssuedAt       *time.Time `json:"issued_at,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

func (s *SessionObject) GetUserID() int64 {
	return s.UserID
}

func (s *SessionObject) GetEmail() string {
	return s.Email
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetExpiration() *time.Time {
	return s.ExpirationDate
}

func (s *SessionObject) GetIsAdmin() bool {
	return s.IsAdmin
}

func (s SessionObject) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"user=%d email=%s admin=%t iss=%s iat=%s",
		s.UserID,
		s.Email,
		s.IsAdmin,
		s.Issuer,
		issuedAt,
	)
}

// SessionFromAuthClaims converts validated claims into a SessionObject.
func SessionFromAuthClaims(claims AuthClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrUnableToMapClaims
	}

	issuedAt := claims.IssuedAt()
	expiresAt := claims.Expires()

	issuer := ""
	if jc, ok := claims.(*JWTClaims); ok {
		issuer = jc.RegisteredClaims.Issuer
	}

	return &SessionObject{
		UserID:         claims.UserID(),
		Email:          claims.UserEmail(),
		FirstName:      claims.GivenName(),
		LastName:       claims.FamilyName(),
		IsAdmin:        claims.Admin(),
		Issuer:         issuer,
		IssuedAt:       &issuedAt,
		ExpirationDate: &expiresAt,
	}, nil
}

// sessionFromClaims maps untyped JWT claims, as stored by middleware that
// keeps the raw *jwt.Token around, into a SessionObject.
func sessionFromClaims(claims jwt.MapClaims) (*SessionObject, error) {
	s := &SessionObject{}

	if uid, ok := claims["uid"].(float64); ok {
		s.UserID = int64(uid)
	}
	if email, ok := claims["email"].(string); ok {
		s.Email = email
	}
	if first, ok := claims["first_name"].(string); ok {
		s.FirstName = first
	}
	if last, ok := claims["last_name"].(string); ok {
		s.LastName = last
	}
	if admin, ok := claims["admin"].(bool); ok {
		s.IsAdmin = admin
	}
	if iss, ok := claims["iss"].(string); ok {
		s.Issuer = iss
	}
	if iat, ok := claims["iat"].(float64); ok {
		t := time.Unix(int64(iat), 0)
		s.IssuedAt = &t
	}
	if exp, ok := claims["exp"].(float64); ok {
		t := time.Unix(int64(exp), 0)
		s.ExpirationDate = &t
	}

	if s.UserID == 0 {
		return nil, ErrUnableToMapClaims
	}

	return s, nil
}
