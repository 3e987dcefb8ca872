package identity_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	identity "github.com/staykit/go-identity"
	"github.com/staykit/go-identity/middleware/jwtware"
)

type testApp struct {
	App      *fiber.App
	Repo     identity.RepositoryManager
	DB       *bun.DB
	Auth     *identity.Auther
	Notifier *recordingNotifier
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	cfg := testConfig()
	repo, db := newTestRepoWithDB(t)
	notifier := newRecordingNotifier()

	auth := identity.NewAuthenticator(repo, cfg)
	routeAuth := identity.NewHTTPAuthenticator(auth, cfg)

	app := fiber.New()

	// only the invite endpoint requires an authenticated admin
	app.Use(jwtware.New(jwtware.Config{
		SigningKey:  jwtware.SigningKey{JWTAlg: "HS256", Key: []byte(cfg.GetSigningKey())},
		ContextKey:  cfg.GetContextKey(),
		TokenLookup: "cookie:" + identity.CookieName,
		Filter: func(c *fiber.Ctx) bool {
			return c.Path() != "/verification/invite"
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": identity.MsgInvalidCredentials,
			})
		},
	}))

	identity.RegisterIdentityRoutes(app,
		identity.WithControllerRepo(repo),
		identity.WithControllerAuther(routeAuth),
		identity.WithControllerHasher(auth.Hasher()),
		identity.WithControllerNotifier(notifier),
	)

	return &testApp{App: app, Repo: repo, DB: db, Auth: auth, Notifier: notifier}
}

func promoteToAdmin(t *testing.T, ta *testApp, userID int64) error {
	t.Helper()
	_, err := ta.DB.NewUpdate().
		Model((*identity.User)(nil)).
		Set("is_admin = ?", true).
		Where("id = ?", userID).
		Exec(context.Background())
	return err
}

func deleteUser(t *testing.T, ta *testApp, userID int64) error {
	t.Helper()
	_, err := ta.DB.NewDelete().
		Model((*identity.User)(nil)).
		Where("id = ?", userID).
		Exec(context.Background())
	return err
}

func (ta *testApp) post(t *testing.T, path string, payload any, cookies ...*http.Cookie) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for _, c := range cookies {
		req.AddCookie(c)
	}

	res, err := ta.App.Test(req, -1)
	require.NoError(t, err)
	return res
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	out, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(out)
}

func sessionCookie(res *http.Response) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == identity.CookieName {
			return c
		}
	}
	return nil
}

func TestHTTPRegister(t *testing.T) {
	ta := newTestApp(t)

	res := ta.post(t, "/auth/register", map[string]any{
		"email":            "web@example.com",
		"password":         "a long enough password",
		"confirm_password": "a long enough password",
		"first_name":       "Ada",
	})
	require.Equal(t, fiber.StatusCreated, res.StatusCode)

	body := readBody(t, res)
	assert.Contains(t, body, "web@example.com")
	assert.NotContains(t, body, "password")

	cookie := sessionCookie(res)
	require.NotNil(t, cookie, "register must set the session cookie")
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.False(t, cookie.Secure, "secure only in production")
	assert.Equal(t, int(ta.Auth.SessionDuration(false).Seconds()), cookie.MaxAge)
}

func TestHTTPRegisterValidation(t *testing.T) {
	ta := newTestApp(t)

	t.Run("password too short", func(t *testing.T) {
		res := ta.post(t, "/auth/register", map[string]any{
			"email":            "short@example.com",
			"password":         "short",
			"confirm_password": "short",
		})
		assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
	})

	t.Run("mismatched confirmation", func(t *testing.T) {
		res := ta.post(t, "/auth/register", map[string]any{
			"email":            "mismatch@example.com",
			"password":         "a long enough password",
			"confirm_password": "a different password!!",
		})
		assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
	})

	t.Run("duplicate email", func(t *testing.T) {
		payload := map[string]any{
			"email":            "dupe@example.com",
			"password":         "a long enough password",
			"confirm_password": "a long enough password",
		}
		res := ta.post(t, "/auth/register", payload)
		require.Equal(t, fiber.StatusCreated, res.StatusCode)

		res = ta.post(t, "/auth/register", payload)
		assert.Equal(t, fiber.StatusConflict, res.StatusCode)
	})
}

func TestHTTPLogin(t *testing.T) {
	ta := newTestApp(t)

	res := ta.post(t, "/auth/register", map[string]any{
		"email":            "session@example.com",
		"password":         "a long enough password",
		"confirm_password": "a long enough password",
	})
	require.Equal(t, fiber.StatusCreated, res.StatusCode)

	t.Run("valid credentials set the cookie", func(t *testing.T) {
		res := ta.post(t, "/auth/login", map[string]any{
			"email":    "session@example.com",
			"password": "a long enough password",
		})
		require.Equal(t, fiber.StatusOK, res.StatusCode)

		cookie := sessionCookie(res)
		require.NotNil(t, cookie)
		assert.Equal(t, int(ta.Auth.SessionDuration(false).Seconds()), cookie.MaxAge)
	})

	t.Run("remember me extends the cookie", func(t *testing.T) {
		res := ta.post(t, "/auth/login", map[string]any{
			"email":       "session@example.com",
			"password":    "a long enough password",
			"remember_me": true,
		})
		require.Equal(t, fiber.StatusOK, res.StatusCode)

		cookie := sessionCookie(res)
		require.NotNil(t, cookie)
		assert.Equal(t, int(ta.Auth.SessionDuration(true).Seconds()), cookie.MaxAge)
	})

	t.Run("failures are undifferentiated", func(t *testing.T) {
		wrongPassword := ta.post(t, "/auth/login", map[string]any{
			"email":    "session@example.com",
			"password": "not the password!!",
		})
		unknownEmail := ta.post(t, "/auth/login", map[string]any{
			"email":    "stranger@example.com",
			"password": "a long enough password",
		})

		assert.Equal(t, fiber.StatusUnauthorized, wrongPassword.StatusCode)
		assert.Equal(t, fiber.StatusUnauthorized, unknownEmail.StatusCode)
		assert.Equal(t, readBody(t, wrongPassword), readBody(t, unknownEmail))
	})
}

func TestHTTPLogout(t *testing.T) {
	ta := newTestApp(t)

	res := ta.post(t, "/auth/logout", map[string]any{})
	require.Equal(t, fiber.StatusOK, res.StatusCode)

	cookie := sessionCookie(res)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.True(t, cookie.Expires.Before(time.Now()), "cleared cookie must already be expired")
}

func TestHTTPSignUpAndVerifyEmail(t *testing.T) {
	ta := newTestApp(t)

	res := ta.post(t, "/verification/sign-up", map[string]any{
		"email":            "flow@example.com",
		"password":         "a long enough password",
		"confirm_password": "a long enough password",
	})
	require.Equal(t, fiber.StatusCreated, res.StatusCode)

	call := waitForCall(t, ta.Notifier.Verifications)
	require.Equal(t, "flow@example.com", call.Email)

	t.Run("duplicate sign-up conflicts", func(t *testing.T) {
		res := ta.post(t, "/verification/sign-up", map[string]any{
			"email":            "flow@example.com",
			"password":         "a long enough password",
			"confirm_password": "a long enough password",
		})
		assert.Equal(t, fiber.StatusConflict, res.StatusCode)
	})

	t.Run("emailed token verifies", func(t *testing.T) {
		res := ta.post(t, "/verification/verify-email", map[string]any{"token": call.Token})
		require.Equal(t, fiber.StatusOK, res.StatusCode)

		user, err := ta.Repo.Users().GetByEmail(context.Background(), "flow@example.com")
		require.NoError(t, err)
		assert.True(t, user.EmailVerified)
	})

	t.Run("second click still succeeds", func(t *testing.T) {
		res := ta.post(t, "/verification/verify-email", map[string]any{"token": call.Token})
		assert.Equal(t, fiber.StatusOK, res.StatusCode)
	})

	t.Run("bogus token is a generic 400", func(t *testing.T) {
		res := ta.post(t, "/verification/verify-email", map[string]any{"token": "bogus"})
		assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
		assert.Contains(t, readBody(t, res), identity.MsgInvalidOrExpiredToken)
	})
}

func TestHTTPResendVerificationAnswersIdentically(t *testing.T) {
	ta := newTestApp(t)

	// one pending account, one verified account, one unknown address
	res := ta.post(t, "/verification/sign-up", map[string]any{
		"email":            "pending@example.com",
		"password":         "a long enough password",
		"confirm_password": "a long enough password",
	})
	require.Equal(t, fiber.StatusCreated, res.StatusCode)
	waitForCall(t, ta.Notifier.Verifications)

	res = ta.post(t, "/auth/register", map[string]any{
		"email":            "confirmed@example.com",
		"password":         "a long enough password",
		"confirm_password": "a long enough password",
	})
	require.Equal(t, fiber.StatusCreated, res.StatusCode)

	bodies := map[string]string{}
	for _, email := range []string{"pending@example.com", "confirmed@example.com", "unknown@example.com"} {
		res := ta.post(t, "/verification/resend-verification", map[string]any{"email": email})
		require.Equal(t, fiber.StatusOK, res.StatusCode)
		bodies[email] = readBody(t, res)
	}

	assert.Equal(t, bodies["pending@example.com"], bodies["confirmed@example.com"])
	assert.Equal(t, bodies["pending@example.com"], bodies["unknown@example.com"])
	assert.Contains(t, bodies["pending@example.com"], identity.MsgGenericEmailSent)

	// only the pending account actually got an email
	call := waitForCall(t, ta.Notifier.Verifications)
	assert.Equal(t, "pending@example.com", call.Email)
	expectNoCall(t, ta.Notifier.Verifications)
}

func TestHTTPForgotAndResetPassword(t *testing.T) {
	ta := newTestApp(t)

	res := ta.post(t, "/auth/register", map[string]any{
		"email":            "resetme@example.com",
		"password":         "the original password",
		"confirm_password": "the original password",
	})
	require.Equal(t, fiber.StatusCreated, res.StatusCode)

	t.Run("forgot password answers generically", func(t *testing.T) {
		known := ta.post(t, "/verification/forgot-password", map[string]any{"email": "resetme@example.com"})
		unknown := ta.post(t, "/verification/forgot-password", map[string]any{"email": "nothere@example.com"})

		require.Equal(t, fiber.StatusOK, known.StatusCode)
		require.Equal(t, fiber.StatusOK, unknown.StatusCode)
		assert.Equal(t, readBody(t, known), readBody(t, unknown))
	})

	call := waitForCall(t, ta.Notifier.Resets)
	require.Equal(t, "resetme@example.com", call.Email)

	t.Run("reset with the emailed token", func(t *testing.T) {
		res := ta.post(t, "/verification/reset-password", map[string]any{
			"token":            call.Token,
			"password":         "a brand new password",
			"confirm_password": "a brand new password",
		})
		require.Equal(t, fiber.StatusOK, res.StatusCode)

		login := ta.post(t, "/auth/login", map[string]any{
			"email":    "resetme@example.com",
			"password": "a brand new password",
		})
		assert.Equal(t, fiber.StatusOK, login.StatusCode)

		oldLogin := ta.post(t, "/auth/login", map[string]any{
			"email":    "resetme@example.com",
			"password": "the original password",
		})
		assert.Equal(t, fiber.StatusUnauthorized, oldLogin.StatusCode)
	})

	t.Run("token replay fails", func(t *testing.T) {
		res := ta.post(t, "/verification/reset-password", map[string]any{
			"token":            call.Token,
			"password":         "yet another password",
			"confirm_password": "yet another password",
		})
		assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
	})
}

func TestHTTPInviteAndAccept(t *testing.T) {
	ta := newTestApp(t)

	// seed an admin and a regular member
	admin, _, err := ta.Auth.Register(context.Background(), identity.RegisterInput{
		Email:         "admin@example.com",
		Password:      "a long enough password",
		EmailVerified: true,
	})
	require.NoError(t, err)

	_, memberToken, err := ta.Auth.Register(context.Background(), identity.RegisterInput{
		Email:         "member@example.com",
		Password:      "a long enough password",
		EmailVerified: true,
	})
	require.NoError(t, err)

	// promote the admin and mint a token carrying the admin flag
	require.NoError(t, promoteToAdmin(t, ta, admin.ID))
	adminUser, err := ta.Repo.Users().GetByID(context.Background(), admin.ID)
	require.NoError(t, err)
	adminToken, err := ta.Auth.TokenService().Generate(adminUser, false)
	require.NoError(t, err)

	invitePayload := map[string]any{
		"email":      "newhire@example.com",
		"first_name": "New",
		"last_name":  "Hire",
	}

	t.Run("anonymous invite is rejected", func(t *testing.T) {
		res := ta.post(t, "/verification/invite", invitePayload)
		assert.Equal(t, fiber.StatusUnauthorized, res.StatusCode)
	})

	t.Run("non admin invite is rejected", func(t *testing.T) {
		res := ta.post(t, "/verification/invite", invitePayload,
			&http.Cookie{Name: identity.CookieName, Value: memberToken})
		assert.Equal(t, fiber.StatusUnauthorized, res.StatusCode)
	})

	t.Run("admin invite creates a pending account", func(t *testing.T) {
		res := ta.post(t, "/verification/invite", invitePayload,
			&http.Cookie{Name: identity.CookieName, Value: adminToken})
		require.Equal(t, fiber.StatusCreated, res.StatusCode)

		invited, err := ta.Repo.Users().GetByEmail(context.Background(), "newhire@example.com")
		require.NoError(t, err)
		assert.Equal(t, identity.AccountPendingActivation, invited.AccountStatus())
	})

	call := waitForCall(t, ta.Notifier.Invitations)
	require.Equal(t, "newhire@example.com", call.Email)

	t.Run("accepting the invitation activates and signs in", func(t *testing.T) {
		res := ta.post(t, "/verification/accept-invitation", map[string]any{
			"token":            call.Token,
			"password":         "the new hires password",
			"confirm_password": "the new hires password",
		})
		require.Equal(t, fiber.StatusOK, res.StatusCode)

		login := ta.post(t, "/auth/login", map[string]any{
			"email":    "newhire@example.com",
			"password": "the new hires password",
		})
		assert.Equal(t, fiber.StatusOK, login.StatusCode)
	})

	t.Run("accepting for a deleted user is a 404", func(t *testing.T) {
		res := ta.post(t, "/verification/invite", map[string]any{"email": "shortlived@example.com"},
			&http.Cookie{Name: identity.CookieName, Value: adminToken})
		require.Equal(t, fiber.StatusCreated, res.StatusCode)

		gone := waitForCall(t, ta.Notifier.Invitations)

		invited, err := ta.Repo.Users().GetByEmail(context.Background(), "shortlived@example.com")
		require.NoError(t, err)
		require.NoError(t, deleteUser(t, ta, invited.ID))

		res = ta.post(t, "/verification/accept-invitation", map[string]any{
			"token":            gone.Token,
			"password":         "does not matter much",
			"confirm_password": "does not matter much",
		})
		assert.Equal(t, fiber.StatusNotFound, res.StatusCode)
	})
}
