package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// SignUpMessage starts the self-service registration flow: the account is
// created unverified and a verification token goes out by email. The token is
// never part of the response.
type SignUpMessage struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (e SignUpMessage) Type() string { return "identity.sign_up" }

type SignUpHandler struct {
	repo     RepositoryManager
	hasher   *Hasher
	notifier Notifier
	logger   Logger
}

// NewSignUpHandler creates a handler with sane defaults.
func NewSignUpHandler(repo RepositoryManager, hasher *Hasher, notifier Notifier) *SignUpHandler {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &SignUpHandler{
		repo:     repo,
		hasher:   hasher,
		notifier: notifier,
		logger:   defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *SignUpHandler) WithLogger(logger Logger) *SignUpHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *SignUpHandler) Execute(ctx context.Context, event SignUpMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during sign up",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SignUpHandler) execute(ctx context.Context, event SignUpMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	hash, err := h.hasher.Hash(event.Password)
	if err != nil {
		return err
	}

	var token *VerificationToken

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user := &User{
			Email:         event.Email,
			PasswordHash:  &hash,
			FirstName:     event.FirstName,
			LastName:      event.LastName,
			EmailVerified: false,
		}

		created, err := h.repo.Users().CreateTx(ctx, tx, user)
		if err != nil {
			if IsDuplicateEmail(err) {
				// Sign-up intentionally leaks existence; resend does not.
				return ErrEmailTaken
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
		}

		token, err = h.repo.VerificationTokens().IssueTx(ctx, tx, created.ID, TokenTypeVerification, VerificationTokenTTL)
		if err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "sign up transaction failed")
	}

	// The rows are committed; delivery runs after the fact and its failure
	// is logged, never surfaced.
	go h.notify(event.Email, token.Token)

	return nil
}

func (h *SignUpHandler) notify(email, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	if err := h.notifier.SendVerificationEmail(ctx, email, token); err != nil {
		h.logger.Warn("failed to send verification email", "error", err)
	}
}
