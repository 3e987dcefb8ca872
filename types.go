package identity

import (
	"context"
	"fmt"
	"time"
)

// Logger is the minimal logging surface every identity component accepts.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Session holds attributes of an authenticated request.
type Session interface {
	GetUserID() int64
	GetEmail() string
	GetIssuer() string
	GetIssuedAt() *time.Time
	GetExpiration() *time.Time
	GetIsAdmin() bool
}

// Authenticator orchestrates credential based session issuance.
type Authenticator interface {
	Register(ctx context.Context, input RegisterInput) (*User, string, error)
	Login(ctx context.Context, email, password string, rememberMe bool) (*User, string, error)
	SessionFromToken(token string) (Session, error)
	SessionDuration(extended bool) time.Duration
}

// RegisterInput carries the fields of a plain registration. Callers decide
// the verification policy; the admin-invited path creates accounts that are
// considered active from the start.
type RegisterInput struct {
	Email         string
	Password      string
	FirstName     string
	LastName      string
	EmailVerified bool
}

// Notifier delivers account emails. It is fire and forget: flows commit their
// rows first and delivery failures are logged, never surfaced to the caller.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendInvitationEmail(ctx context.Context, email, token, inviterName string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
