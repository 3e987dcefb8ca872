package identity

import (
	"os"
	"strconv"

	goerrors "github.com/goliatone/go-errors"
)

// Config holds identity options. Consumers usually satisfy it from their own
// configuration tree; LoadConfig provides an env backed implementation.
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetContextKey() string
	GetTokenExpiration() int
	GetExtendedTokenDuration() int
	GetIssuer() string
	GetAudience() []string
	GetBcryptCost() int
	GetBaseURL() string
	GetEnvironment() string
}

// CookieName is the session cookie set on login/register and cleared on logout.
const CookieName = "auth_token"

// EnvConfig is configuration read from the process environment.
type EnvConfig struct {
	SigningKey            string
	SigningMethod         string
	ContextKey            string
	TokenExpiration       int
	ExtendedTokenDuration int
	Issuer                string
	Audience              []string
	BcryptCost            int
	BaseURL               string
	Environment           string
}

var _ Config = (*EnvConfig)(nil)

// LoadConfig reads identity configuration from the environment. The signing
// key is the only hard requirement; everything else has defaults. The long
// session duration defaults to 30 days.
func LoadConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{
		SigningKey:            os.Getenv("AUTH_SIGNING_KEY"),
		SigningMethod:         envOr("AUTH_SIGNING_METHOD", "HS256"),
		ContextKey:            envOr("AUTH_CONTEXT_KEY", CookieName),
		TokenExpiration:       envIntOr("AUTH_TOKEN_EXPIRATION_HOURS", 24),
		ExtendedTokenDuration: envIntOr("AUTH_EXTENDED_TOKEN_HOURS", 24*30),
		Issuer:                envOr("AUTH_ISSUER", "go-identity"),
		BcryptCost:            envIntOr("AUTH_BCRYPT_COST", DefaultBcryptCost),
		BaseURL:               envOr("APP_BASE_URL", "http://localhost:3000"),
		Environment:           envOr("APP_ENV", "development"),
	}

	if aud := os.Getenv("AUTH_AUDIENCE"); aud != "" {
		cfg.Audience = []string{aud}
	}

	if cfg.SigningKey == "" {
		return nil, ErrMissingSigningKey
	}

	return cfg, nil
}

// MustLoadConfig is LoadConfig for program startup paths where a missing
// signing key should halt the process.
func MustLoadConfig() *EnvConfig {
	cfg, err := LoadConfig()
	if err != nil {
		panic(goerrors.Wrap(err, goerrors.CategoryInternal, "identity configuration is invalid"))
	}
	return cfg
}

func (c *EnvConfig) GetSigningKey() string         { return c.SigningKey }
func (c *EnvConfig) GetSigningMethod() string      { return c.SigningMethod }
func (c *EnvConfig) GetContextKey() string         { return c.ContextKey }
func (c *EnvConfig) GetTokenExpiration() int       { return c.TokenExpiration }
func (c *EnvConfig) GetExtendedTokenDuration() int { return c.ExtendedTokenDuration }
func (c *EnvConfig) GetIssuer() string             { return c.Issuer }
func (c *EnvConfig) GetAudience() []string         { return c.Audience }
func (c *EnvConfig) GetBcryptCost() int            { return c.BcryptCost }
func (c *EnvConfig) GetBaseURL() string            { return c.BaseURL }
func (c *EnvConfig) GetEnvironment() string        { return c.Environment }

// IsProduction gates the Secure cookie attribute.
func (c *EnvConfig) IsProduction() bool {
	return c.Environment == "production"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
