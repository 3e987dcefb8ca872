package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// VerifyEmailMessage consumes a verification token and flips the owning user
// to verified. Retried requests with an already spent token still succeed as
// long as the owner did get verified; duplicate clicks on an email link must
// not scare users with an error.
type VerifyEmailMessage struct {
	Token string `json:"token"`
}

func (e VerifyEmailMessage) Type() string { return "identity.verify_email" }

type VerifyEmailHandler struct {
	repo   RepositoryManager
	logger Logger
}

// NewVerifyEmailHandler creates a handler with sane defaults.
func NewVerifyEmailHandler(repo RepositoryManager) *VerifyEmailHandler {
	return &VerifyEmailHandler{
		repo:   repo,
		logger: defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *VerifyEmailHandler) WithLogger(logger Logger) *VerifyEmailHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		userID, err := h.repo.VerificationTokens().ConsumeTx(ctx, tx, event.Token, TokenTypeVerification)
		if err != nil {
			return err
		}

		if err := h.repo.Users().MarkEmailVerifiedTx(ctx, tx, userID); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark user verified")
		}

		return nil
	})

	if err == nil {
		return nil
	}

	if IsTokenInvalid(err) {
		if h.alreadyVerified(ctx, event.Token) {
			return nil
		}
		return ErrInvalidOrExpiredToken
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "email verification failed")
}

// alreadyVerified is the idempotency fallback: when the consume lost, check
// whether this exact token exists for verification and its owner is verified
// already. If so the caller gets the same success it got the first time.
func (h *VerifyEmailHandler) alreadyVerified(ctx context.Context, token string) bool {
	record, err := h.repo.VerificationTokens().PeekUsedBy(ctx, token, TokenTypeVerification)
	if err != nil {
		return false
	}

	user, err := h.repo.Users().GetByID(ctx, record.UserID)
	if err != nil {
		return false
	}

	return user.EmailVerified
}
