package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// AcceptInvitationMessage activates an invited account: the invitation token
// is consumed, the password hash is set, and the email counts as verified,
// all in one transaction.
type AcceptInvitationMessage struct {
	Token     string `json:"token"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (e AcceptInvitationMessage) Type() string { return "identity.accept_invitation" }

type AcceptInvitationHandler struct {
	repo   RepositoryManager
	hasher *Hasher
	logger Logger
}

// NewAcceptInvitationHandler creates a handler with sane defaults.
func NewAcceptInvitationHandler(repo RepositoryManager, hasher *Hasher) *AcceptInvitationHandler {
	return &AcceptInvitationHandler{
		repo:   repo,
		hasher: hasher,
		logger: defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *AcceptInvitationHandler) WithLogger(logger Logger) *AcceptInvitationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *AcceptInvitationHandler) Execute(ctx context.Context, event AcceptInvitationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during invitation acceptance",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *AcceptInvitationHandler) execute(ctx context.Context, event AcceptInvitationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	hash, err := h.hasher.Hash(event.Password)
	if err != nil {
		return err
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		userID, err := h.repo.VerificationTokens().ConsumeTx(ctx, tx, event.Token, TokenTypeInvitation)
		if err != nil {
			return err
		}

		if _, err := h.repo.Users().ActivateTx(ctx, tx, userID, hash); err != nil {
			if IsRecordNotFound(err) {
				// The invited user was deleted after the invite went
				// out. Legitimate race; the rollback also revives
				// nothing since the cascade removed the token row.
				return ErrUserGone
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to activate invited user")
		}

		if event.FirstName != "" || event.LastName != "" {
			if err := h.repo.Users().UpdateNamesTx(ctx, tx, userID, event.FirstName, event.LastName); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update invited user names")
			}
		}

		return nil
	})

	if err == nil {
		return nil
	}

	if IsTokenInvalid(err) {
		return ErrInvalidOrExpiredToken
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "invitation acceptance failed")
}
