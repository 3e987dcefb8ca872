package identity

import (
	"time"

	"github.com/uptrace/bun"
)

// AccountStatus is the lifecycle variant derived from a user's credential state.
type AccountStatus = string

const (
	// AccountPendingActivation is an admin created account with no usable
	// credential yet; only an invitation token can activate it.
	AccountPendingActivation AccountStatus = "pending_activation"
	// AccountActive has a verified credential and can authenticate.
	AccountActive AccountStatus = "active"
)

// User is the identity record. The password hash never travels on the wire;
// JSON marshaling always drops it.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID            int64      `bun:"id,pk,autoincrement" json:"id"`
	Email         string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash  *string    `bun:"password_hash" json:"-"`
	EmailVerified bool       `bun:"email_verified,notnull,default:false" json:"email_verified"`
	FirstName     string     `bun:"first_name" json:"first_name,omitempty"`
	LastName      string     `bun:"last_name" json:"last_name,omitempty"`
	Country       string     `bun:"country" json:"country,omitempty"`
	IsAdmin       bool       `bun:"is_admin,notnull,default:false" json:"is_admin"`
	PropertyID    *int64     `bun:"property_id,nullzero" json:"property_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// AccountStatus derives the account variant from the credential state. A nil
// password hash means the account was created on someone's behalf and has not
// been activated through an invitation yet.
func (u *User) AccountStatus() AccountStatus {
	if u.PasswordHash == nil {
		return AccountPendingActivation
	}
	return AccountActive
}

// FullName joins the optional name fields for notification templates.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}

// TokenType discriminates what a verification token is allowed to do.
type TokenType = string

const (
	// TokenTypeVerification backs the verify-email flow.
	TokenTypeVerification TokenType = "verification"
	// TokenTypeInvitation backs the accept-invitation flow.
	TokenTypeInvitation TokenType = "invitation"
	// TokenTypeReset backs the password reset flow.
	TokenTypeReset TokenType = "reset"
)

// Default token lifetimes per flow. Reset tokens stay deliberately short.
const (
	VerificationTokenTTL = 24 * time.Hour
	InvitationTokenTTL   = 7 * 24 * time.Hour
	ResetTokenTTL        = time.Hour
)

// VerificationToken is a single use credential for one state transition. Once
// UsedAt is set it never changes; superseded tokens are marked used rather than
// deleted so the row history doubles as an audit trail.
type VerificationToken struct {
	bun.BaseModel `bun:"table:verification_tokens,alias:vtk"`

	ID        int64      `bun:"id,pk,autoincrement" json:"id"`
	UserID    int64      `bun:"user_id,notnull" json:"user_id"`
	User      *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Token     string     `bun:"token,notnull,unique" json:"-"`
	TokenType TokenType  `bun:"token_type,notnull" json:"type"`
	ExpiresAt time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	UsedAt    *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Active reports whether the token could still be consumed at the given time.
func (t *VerificationToken) Active(now time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(now)
}

// ValidTokenType reports whether s is one of the known token types.
func ValidTokenType(s string) bool {
	switch s {
	case TokenTypeVerification, TokenTypeInvitation, TokenTypeReset:
		return true
	}
	return false
}
