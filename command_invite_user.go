package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// InviteUserMessage creates an account on someone's behalf. The user starts
// with no credential at all; only accepting the invitation token activates it.
type InviteUserMessage struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	IsAdmin     bool   `json:"is_admin"`
	InviterName string `json:"-"`
}

func (e InviteUserMessage) Type() string { return "identity.invite_user" }

// InviteUserResponse reports the created account. The token value stays
// inside the email.
type InviteUserResponse struct {
	User *User
}

type InviteUserHandler struct {
	repo     RepositoryManager
	notifier Notifier
	logger   Logger
}

// NewInviteUserHandler creates a handler with sane defaults.
func NewInviteUserHandler(repo RepositoryManager, notifier Notifier) *InviteUserHandler {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &InviteUserHandler{
		repo:     repo,
		notifier: notifier,
		logger:   defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *InviteUserHandler) WithLogger(logger Logger) *InviteUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InviteUserHandler) Execute(ctx context.Context, event InviteUserMessage) (*InviteUserResponse, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user invitation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InviteUserHandler) execute(ctx context.Context, event InviteUserMessage) (*InviteUserResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var (
		user  *User
		token *VerificationToken
	)

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &User{
			Email:     event.Email,
			FirstName: event.FirstName,
			LastName:  event.LastName,
			IsAdmin:   event.IsAdmin,
			// No credential yet: AccountStatus() is PendingActivation
			// until the invitation is accepted.
			PasswordHash:  nil,
			EmailVerified: false,
		}

		var err error
		if user, err = h.repo.Users().CreateTx(ctx, tx, record); err != nil {
			if IsDuplicateEmail(err) {
				return ErrEmailTaken
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create invited user")
		}

		if token, err = h.repo.VerificationTokens().IssueTx(ctx, tx, user.ID, TokenTypeInvitation, InvitationTokenTTL); err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user invitation transaction failed")
	}

	go h.notify(event.Email, token.Token, event.InviterName)

	return &InviteUserResponse{User: user}, nil
}

func (h *InviteUserHandler) notify(email, token, inviter string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	if err := h.notifier.SendInvitationEmail(ctx, email, token, inviter); err != nil {
		h.logger.Warn("failed to send invitation email", "error", err)
	}
}
