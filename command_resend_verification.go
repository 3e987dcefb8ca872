package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// ResendVerificationMessage re-issues a verification token. The response is
// identical no matter whether the email is unknown, already verified, or
// pending: callers must not be able to probe for accounts here.
type ResendVerificationMessage struct {
	Email string `json:"email"`
}

func (e ResendVerificationMessage) Type() string { return "identity.resend_verification" }

type ResendVerificationHandler struct {
	repo     RepositoryManager
	notifier Notifier
	logger   Logger
}

// NewResendVerificationHandler creates a handler with sane defaults.
func NewResendVerificationHandler(repo RepositoryManager, notifier Notifier) *ResendVerificationHandler {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &ResendVerificationHandler{
		repo:     repo,
		notifier: notifier,
		logger:   defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *ResendVerificationHandler) WithLogger(logger Logger) *ResendVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// Execute never returns a caller-visible failure for account state reasons;
// only infrastructure errors (storage down mid transaction) bubble up.
func (h *ResendVerificationHandler) Execute(ctx context.Context, event ResendVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification resend",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResendVerificationHandler) execute(ctx context.Context, event ResendVerificationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByEmail(ctx, event.Email)
	if err != nil {
		if IsRecordNotFound(err) {
			// Unknown address: do nothing, answer the same.
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user for resend")
	}

	if user.EmailVerified {
		return nil
	}

	var token *VerificationToken

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err = h.repo.VerificationTokens().IssueTx(ctx, tx, user.ID, TokenTypeVerification, VerificationTokenTTL)
		return err
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to re-issue verification token")
	}

	go h.notify(user.Email, token.Token)

	return nil
}

func (h *ResendVerificationHandler) notify(email, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	if err := h.notifier.SendVerificationEmail(ctx, email, token); err != nil {
		h.logger.Warn("failed to send verification email", "error", err)
	}
}
