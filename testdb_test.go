package identity_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	identity "github.com/staykit/go-identity"
)

var testDBSeq int64

// newTestDB opens a fresh in-memory database with the package migrations
// applied. Each call gets its own named shared-cache store so parallel tests
// never see each other's rows.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:identity_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	applyTestMigrations(t, db)

	return db
}

func applyTestMigrations(t *testing.T, db *bun.DB) {
	t.Helper()

	migrations := identity.GetMigrationsFS()

	var files []string
	err := fs.WalkDir(migrations, "data/sql/migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".up.sql") {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, files)

	sort.Strings(files)

	for _, file := range files {
		stmt, err := fs.ReadFile(migrations, file)
		require.NoError(t, err)
		_, err = db.ExecContext(context.Background(), string(stmt))
		require.NoError(t, err)
	}
}

func newTestRepo(t *testing.T) identity.RepositoryManager {
	t.Helper()
	repo, _ := newTestRepoWithDB(t)
	return repo
}

func newTestRepoWithDB(t *testing.T) (identity.RepositoryManager, *bun.DB) {
	t.Helper()
	db := newTestDB(t)
	repo := identity.NewRepositoryManager(db)
	require.NoError(t, repo.Validate())
	return repo, db
}

// fastHasher keeps bcrypt cheap in tests.
func fastHasher() *identity.Hasher {
	return identity.NewHasher(4)
}

func createTestUser(t *testing.T, repo identity.RepositoryManager, email, password string) *identity.User {
	t.Helper()

	var hash *string
	if password != "" {
		h, err := fastHasher().Hash(password)
		require.NoError(t, err)
		hash = &h
	}

	user, err := repo.Users().Create(context.Background(), &identity.User{
		Email:         email,
		PasswordHash:  hash,
		EmailVerified: password != "",
	})
	require.NoError(t, err)
	require.NotZero(t, user.ID)

	return user
}

// notifierCall records one delivery attempt.
type notifierCall struct {
	Email   string
	Token   string
	Inviter string
}

// recordingNotifier captures deliveries on channels so tests can wait for the
// asynchronous send without sleeping.
type recordingNotifier struct {
	Verifications chan notifierCall
	Invitations   chan notifierCall
	Resets        chan notifierCall
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		Verifications: make(chan notifierCall, 8),
		Invitations:   make(chan notifierCall, 8),
		Resets:        make(chan notifierCall, 8),
	}
}

func (n *recordingNotifier) SendVerificationEmail(ctx context.Context, email, token string) error {
	n.Verifications <- notifierCall{Email: email, Token: token}
	return nil
}

func (n *recordingNotifier) SendInvitationEmail(ctx context.Context, email, token, inviterName string) error {
	n.Invitations <- notifierCall{Email: email, Token: token, Inviter: inviterName}
	return nil
}

func (n *recordingNotifier) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	n.Resets <- notifierCall{Email: email, Token: token}
	return nil
}

func waitForCall(t *testing.T, ch chan notifierCall) notifierCall {
	t.Helper()
	select {
	case call := <-ch:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notifier call")
		return notifierCall{}
	}
}

func expectNoCall(t *testing.T, ch chan notifierCall) {
	t.Helper()
	select {
	case call := <-ch:
		t.Fatalf("unexpected notifier call: %+v", call)
	case <-time.After(150 * time.Millisecond):
	}
}
