package identity

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrUnableToFindSession is returned when a request carries no session cookie.
var ErrUnableToFindSession = errors.New("unable to find session")

// ErrUnableToDecodeSession means the session cookie did not hold a JWT.
var ErrUnableToDecodeSession = errors.New("unable to decode session")

// ErrUnableToMapClaims means a token parsed but its claims were unusable.
var ErrUnableToMapClaims = errors.New("unable to map claims")

// Client facing messages. Anti enumeration flows reuse these verbatim so the
// response body carries no hint about internal state.
const (
	MsgInvalidOrExpiredToken = "Invalid or expired verification link"
	MsgInvalidCredentials    = "Invalid email or password"
	MsgGenericEmailSent      = "If an account exists for that address, an email has been sent"
)

// Stable text codes surfaced in API error payloads.
const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeEmailTaken         = "EMAIL_TAKEN"
	TextCodeInvalidToken       = "INVALID_OR_EXPIRED_TOKEN"
	TextCodeUserGone           = "USER_NOT_FOUND"
	TextCodeMissingSigningKey  = "MISSING_SIGNING_KEY"
)

// ErrInvalidCredentials collapses unknown email and wrong password into one
// undifferentiated failure.
var ErrInvalidCredentials = goerrors.New(MsgInvalidCredentials, goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials)

// ErrEmailTaken is returned by explicit sign-up when the email already exists.
// Sign-up is the one flow that intentionally leaks account existence.
var ErrEmailTaken = goerrors.New("an account with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken)

// ErrInvalidOrExpiredToken is the generic signal the orchestration layer maps
// every token store failure to: not found, used, expired, and wrong type are
// indistinguishable to callers.
var ErrInvalidOrExpiredToken = goerrors.New(MsgInvalidOrExpiredToken, goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidToken)

// ErrUserGone marks the invitation race where the invited user row was deleted
// after the invite went out. The only token flow allowed to surface a 404.
var ErrUserGone = goerrors.New("the invited account no longer exists", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserGone)

// ErrMissingSigningKey is fatal: tokens can neither be issued nor verified.
var ErrMissingSigningKey = goerrors.New("JWT signing key is not configured", goerrors.CategoryInternal).
	WithTextCode(TextCodeMissingSigningKey)

// ErrTokenExpired is returned when a session token fails expiry validation.
var ErrTokenExpired = goerrors.New("session token is expired", goerrors.CategoryAuth).
	WithTextCode("TOKEN_EXPIRED")

// ErrTokenMalformed is returned when a session token cannot be parsed or its
// signature does not check out.
var ErrTokenMalformed = goerrors.New("session token is malformed", goerrors.CategoryAuth).
	WithTextCode("TOKEN_MALFORMED")

// Token store diagnostics. The orchestrator collapses all of these into
// ErrInvalidOrExpiredToken before anything reaches the wire; they exist so
// logs and tests can tell the cases apart.
var (
	ErrTokenNotFound = goerrors.New("verification token not found", goerrors.CategoryNotFound).
				WithTextCode("TOKEN_NOT_FOUND")
	ErrTokenUsed = goerrors.New("verification token already consumed", goerrors.CategoryConflict).
			WithTextCode("TOKEN_ALREADY_USED")
	ErrTokenTypeMismatch = goerrors.New("verification token type does not match operation", goerrors.CategoryValidation).
				WithTextCode("TOKEN_TYPE_MISMATCH")
	ErrVerificationExpired = goerrors.New("verification token has expired", goerrors.CategoryValidation).
				WithTextCode("TOKEN_EXPIRED")
)

// IsTokenInvalid reports whether err is any of the token store diagnostics.
func IsTokenInvalid(err error) bool {
	return goerrors.Is(err, ErrTokenNotFound) ||
		goerrors.Is(err, ErrTokenUsed) ||
		goerrors.Is(err, ErrTokenTypeMismatch) ||
		goerrors.Is(err, ErrVerificationExpired)
}

// IsDuplicateEmail detects the unique constraint violation on users.email
// across the sqlite and postgres drivers we run against.
func IsDuplicateEmail(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "constraint failed: users.email")
}

// IsTokenExpiredError checks for expired session tokens, including errors
// coming out of the JWT library before they are wrapped.
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError checks for structurally broken session tokens.
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
