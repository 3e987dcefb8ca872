package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Auther orchestrates register, login, and session token issuance.
type Auther struct {
	repo         RepositoryManager
	tokenService *TokenServiceImpl
	hasher       *Hasher
	logger       Logger
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator backed by the given
// repositories and configuration.
func NewAuthenticator(repo RepositoryManager, cfg Config) *Auther {
	return &Auther{
		repo:         repo,
		tokenService: NewTokenServiceFromConfig(cfg, nil),
		hasher:       NewHasher(cfg.GetBcryptCost()),
		logger:       defLogger{},
	}
}

// WithLogger overrides the logger.
func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithHasher overrides the credential hasher, mostly for tests that want a
// cheaper work factor.
func (s *Auther) WithHasher(hasher *Hasher) *Auther {
	if hasher != nil {
		s.hasher = hasher
	}
	return s
}

// TokenService exposes the session token issuer, e.g. for request-gating
// middleware configuration.
func (s *Auther) TokenService() *TokenServiceImpl {
	return s.tokenService
}

// Hasher exposes the configured credential hasher.
func (s *Auther) Hasher() *Hasher {
	return s.hasher
}

// SessionDuration returns the cookie/token expiry window for a session class.
func (s *Auther) SessionDuration(extended bool) time.Duration {
	return s.tokenService.SessionDuration(extended)
}

// Register hashes the password, inserts the user, and issues a short session
// token. Duplicate emails surface as a conflict. Whether the account starts
// verified is the caller's policy, carried in input.EmailVerified.
func (s *Auther) Register(ctx context.Context, input RegisterInput) (*User, string, error) {
	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, "", err
	}

	user := &User{
		Email:         input.Email,
		PasswordHash:  &hash,
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		EmailVerified: input.EmailVerified,
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := s.repo.Users().CreateTx(ctx, tx, user)
		if err != nil {
			if IsDuplicateEmail(err) {
				return ErrEmailTaken
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
		}
		user = created
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	token, err := s.tokenService.Generate(user, false)
	if err != nil {
		return nil, "", err
	}

	return user, token, nil
}

// Login verifies credentials and issues a session token whose expiry reflects
// rememberMe. Unknown email and wrong password are indistinguishable: both
// come back as ErrInvalidCredentials, nothing else.
func (s *Auther) Login(ctx context.Context, email, password string, rememberMe bool) (*User, string, error) {
	user, err := s.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if IsRecordNotFound(err) {
			// Burn a comparison anyway so the miss costs about the same
			// as a mismatch.
			_ = s.hasher.Compare(password, burnHash)
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during login")
	}

	if user.PasswordHash == nil {
		// PendingActivation accounts hold no usable credential; only an
		// invitation token can activate them.
		return nil, "", ErrInvalidCredentials
	}

	if err := s.hasher.Compare(password, *user.PasswordHash); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	// Re-fetch the public projection so the claims snapshot never carries
	// anything the select above may have loaded for credential checking.
	public, err := s.repo.Users().GetByID(ctx, user.ID)
	if err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user after login")
	}

	token, err := s.tokenService.Generate(public, rememberMe)
	if err != nil {
		return nil, "", err
	}

	return public, token, nil
}

// SessionFromToken validates a bearer token and returns the embedded session
// snapshot. No storage round trip happens here; see AuthClaims.
func (s *Auther) SessionFromToken(raw string) (Session, error) {
	claims, err := s.tokenService.Validate(raw)
	if err != nil {
		s.logger.Debug("session token validation failed", "error", err)
		return nil, err
	}
	return SessionFromAuthClaims(claims)
}

// burnHash is a bcrypt digest of throwaway material, compared against when
// the email is unknown so the miss costs about as much as a mismatch.
var burnHash = func() string {
	h, _ := HashPassword("go-identity.timing.pad")
	return h
}()
