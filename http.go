package identity

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// RouteAuthenticator owns the session cookie contract: HTTP-only, SameSite
// Lax, path "/", Secure only in production, max age equal to the token's
// expiry window.
type RouteAuthenticator struct {
	auth   Authenticator
	cfg    Config
	Logger Logger
}

// NewHTTPAuthenticator returns the cookie issuing wrapper around an
// Authenticator.
func NewHTTPAuthenticator(auther Authenticator, cfg Config) *RouteAuthenticator {
	return &RouteAuthenticator{
		auth:   auther,
		cfg:    cfg,
		Logger: defLogger{},
	}
}

// CookieName returns the configured session cookie name.
func (a *RouteAuthenticator) CookieName() string {
	if key := a.cfg.GetContextKey(); key != "" {
		return key
	}
	return CookieName
}

// Login authenticates and sets the session cookie. The cookie lifetime
// follows the rememberMe session class.
func (a *RouteAuthenticator) Login(c *fiber.Ctx, email, password string, rememberMe bool) (*User, error) {
	user, token, err := a.auth.Login(c.Context(), email, password, rememberMe)
	if err != nil {
		return nil, err
	}

	a.SetSessionCookie(c, token, a.auth.SessionDuration(rememberMe))
	return user, nil
}

// Register creates the account and sets a short session cookie.
func (a *RouteAuthenticator) Register(c *fiber.Ctx, input RegisterInput) (*User, error) {
	user, token, err := a.auth.Register(c.Context(), input)
	if err != nil {
		return nil, err
	}

	a.SetSessionCookie(c, token, a.auth.SessionDuration(false))
	return user, nil
}

// Logout clears the session cookie. Tokens issued earlier stay valid until
// their natural expiry; there is no server side revocation list.
func (a *RouteAuthenticator) Logout(c *fiber.Ctx) {
	a.ClearSessionCookie(c)
}

// SetSessionCookie writes the auth cookie with the contract attributes.
func (a *RouteAuthenticator) SetSessionCookie(c *fiber.Ctx, token string, duration time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     a.CookieName(),
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(duration),
		MaxAge:   int(duration.Seconds()),
		HTTPOnly: true,
		Secure:   a.secureCookies(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ClearSessionCookie expires the auth cookie immediately.
func (a *RouteAuthenticator) ClearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     a.CookieName(),
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * 24 * 365),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   a.secureCookies(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (a *RouteAuthenticator) secureCookies() bool {
	return a.cfg.GetEnvironment() == "production"
}
