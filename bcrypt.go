package identity

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when no explicit cost is
// configured. Tests dial it down through Hasher to stay fast.
const DefaultBcryptCost = 12

// ErrNoEmptyString rejects hashing an empty password.
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode("EMPTY_PASSWORD")

// ErrMismatchedHashAndPassword is the single verification failure: callers
// never learn whether the hash or the plaintext was at fault.
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials)

// Hasher wraps bcrypt with a configurable work factor.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher with the given cost. Costs outside bcrypt's
// supported range fall back to DefaultBcryptCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &Hasher{cost: cost}
}

// Hash generates a salted one-way hash of the password. Failures here are
// internal errors; there is no recoverable path for a caller.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(out), nil
}

// Compare validates the cleartext password against a stored hash. A mismatch
// is reported as ErrMismatchedHashAndPassword, never as a panic or an
// internal error.
func (h *Hasher) Compare(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		// Malformed stored hashes read the same as a wrong password; the
		// distinction stays server-side.
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return goerrors.Wrap(err, ErrMismatchedHashAndPassword.Category, ErrMismatchedHashAndPassword.Message).
				WithTextCode(TextCodeInvalidCredentials)
		}
		return ErrMismatchedHashAndPassword
	}
	return nil
}

// Cost exposes the configured work factor.
func (h *Hasher) Cost() int {
	return h.cost
}

// HashPassword hashes with the default production work factor.
func HashPassword(password string) (string, error) {
	return NewHasher(DefaultBcryptCost).Hash(password)
}

// ComparePasswordAndHash validates the given cleartext password against the
// hashed password using bcrypt's own constant-time comparison.
func ComparePasswordAndHash(password, hash string) error {
	return NewHasher(DefaultBcryptCost).Compare(password, hash)
}
