package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthClaims is the read side of a validated session token. The values are a
// snapshot taken at issuance; they are trusted without re-querying storage, so
// they can go stale until the token expires. That tradeoff is deliberate, the
// short default expiry bounds the staleness window.
type AuthClaims interface {
	Subject() string
	UserID() int64
	UserEmail() string
	GivenName() string
	FamilyName() string
	Admin() bool
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete claim set signed into session tokens.
type JWTClaims struct {
	jwt.RegisteredClaims
	UID       int64  `json:"uid,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	IsAdmin   bool   `json:"admin,omitempty"`
}

var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim.
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the numeric user id carried in the token.
func (c *JWTClaims) UserID() int64 {
	return c.UID
}

// UserEmail returns the email snapshot taken at issuance.
func (c *JWTClaims) UserEmail() string {
	return c.Email
}

// GivenName returns the first name snapshot.
func (c *JWTClaims) GivenName() string {
	return c.FirstName
}

// FamilyName returns the last name snapshot.
func (c *JWTClaims) FamilyName() string {
	return c.LastName
}

// Admin reports the admin flag snapshot.
func (c *JWTClaims) Admin() bool {
	return c.IsAdmin
}

// Expires returns the expiration time.
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time.
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// ensureTokenID assigns a jti when the caller did not provide one.
func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
