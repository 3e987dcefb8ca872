package identity_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/staykit/go-identity"
)

func signUpAndGetToken(t *testing.T, repo identity.RepositoryManager, email string) string {
	t.Helper()

	notifier := newRecordingNotifier()
	handler := identity.NewSignUpHandler(repo, fastHasher(), notifier)

	err := handler.Execute(context.Background(), identity.SignUpMessage{
		Email:    email,
		Password: "a long enough password",
	})
	require.NoError(t, err)

	return waitForCall(t, notifier.Verifications).Token
}

func TestVerifyEmailHappyPath(t *testing.T) {
	repo := newTestRepo(t)
	handler := identity.NewVerifyEmailHandler(repo)

	token := signUpAndGetToken(t, repo, "verify@example.com")

	err := handler.Execute(context.Background(), identity.VerifyEmailMessage{Token: token})
	require.NoError(t, err)

	user, err := repo.Users().GetByEmail(context.Background(), "verify@example.com")
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
}

func TestVerifyEmailIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	handler := identity.NewVerifyEmailHandler(repo)

	token := signUpAndGetToken(t, repo, "twice@example.com")

	require.NoError(t, handler.Execute(context.Background(), identity.VerifyEmailMessage{Token: token}))

	// the second click on the same email link still succeeds
	require.NoError(t, handler.Execute(context.Background(), identity.VerifyEmailMessage{Token: token}))
}

func TestVerifyEmailRejectsUnknownToken(t *testing.T) {
	repo := newTestRepo(t)
	handler := identity.NewVerifyEmailHandler(repo)

	err := handler.Execute(context.Background(), identity.VerifyEmailMessage{Token: "not-a-real-token"})
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, identity.ErrInvalidOrExpiredToken))
}

func TestVerifyEmailRejectsExpiredToken(t *testing.T) {
	repo := newTestRepo(t)
	handler := identity.NewVerifyEmailHandler(repo)
	ctx := context.Background()

	hash, err := fastHasher().Hash("a long enough password")
	require.NoError(t, err)
	user, err := repo.Users().Create(ctx, &identity.User{
		Email:        "late@example.com",
		PasswordHash: &hash,
	})
	require.NoError(t, err)

	issued, err := repo.VerificationTokens().Issue(ctx, user.ID, identity.TokenTypeVerification, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	err = handler.Execute(ctx, identity.VerifyEmailMessage{Token: issued.Token})
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, identity.ErrInvalidOrExpiredToken))
}

func TestVerifyEmailRejectsWrongTokenType(t *testing.T) {
	repo := newTestRepo(t)
	handler := identity.NewVerifyEmailHandler(repo)
	ctx := context.Background()

	user := createTestUser(t, repo, "wrongtype@example.com", "a long enough password")
	issued, err := repo.VerificationTokens().Issue(ctx, user.ID, identity.TokenTypeReset, time.Hour)
	require.NoError(t, err)

	err = handler.Execute(ctx, identity.VerifyEmailMessage{Token: issued.Token})
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, identity.ErrInvalidOrExpiredToken))
}

func TestVerifyEmailSupersededTokenFailsWhenUnverified(t *testing.T) {
	repo := newTestRepo(t)
	handler := identity.NewVerifyEmailHandler(repo)
	ctx := context.Background()

	token := signUpAndGetToken(t, repo, "superseded@example.com")

	user, err := repo.Users().GetByEmail(ctx, "superseded@example.com")
	require.NoError(t, err)

	// a newer token retires the delivered one before it was clicked
	_, err = repo.VerificationTokens().Issue(ctx, user.ID, identity.TokenTypeVerification, time.Hour)
	require.NoError(t, err)

	err = handler.Execute(ctx, identity.VerifyEmailMessage{Token: token})
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, identity.ErrInvalidOrExpiredToken))
}
