package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds every recognized environment option of the auth service.
type Config struct {
	Port        int    `env:"PORT" envDefault:"3000" validate:"min=1,max=65535"`
	TLSCertFile string `env:"TLS_CERT_FILE" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `env:"TLS_KEY_FILE" validate:"required_with=TLSCertFile"`

	ClientID     string   `env:"CLIENT_ID" validate:"required"`
	ClientSecret string   `env:"CLIENT_SECRET" validate:"required"`
	RedirectURL  string   `env:"REDIRECT_URL" envDefault:"https://localhost:3000/auth/callback" validate:"required,url"`
	Scopes       []string `env:"OAUTH_SCOPES" envSeparator:"," envDefault:"openid,email,profile" validate:"min=1,dive,required"`
	AccessType   string   `env:"OAUTH_ACCESS_TYPE" validate:"omitempty,oneof=online offline"`
	Prompt       string   `env:"OAUTH_PROMPT"`
	AuthURL      string   `env:"OAUTH_AUTH_URL" validate:"omitempty,url"`
	TokenURL     string   `env:"OAUTH_TOKEN_URL" validate:"omitempty,url"`
	ProfileURL   string   `env:"OAUTH_PROFILE_URL" validate:"omitempty,url"`

	// provider response field names are not standardized across providers
	ProfileSubjectField string `env:"PROFILE_SUBJECT_FIELD" envDefault:"sub" validate:"required"`
	ProfileEmailField   string `env:"PROFILE_EMAIL_FIELD" envDefault:"email"`

	ProviderTimeout     time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	ProviderMaxAttempts uint          `env:"PROVIDER_MAX_ATTEMPTS" envDefault:"2" validate:"min=1,max=5"`

	// SessionKeys is newest first; the oldest key goes last during rotation.
	SessionKeys       []string      `env:"SESSION_KEYS" envSeparator:"," validate:"min=1,dive,min=16"`
	SessionMaxAge     time.Duration `env:"SESSION_MAX_AGE" envDefault:"24h" validate:"gt=0"`
	SessionCookieName string        `env:"SESSION_COOKIE_NAME" envDefault:"session" validate:"required"`
	CookieSecure      bool          `env:"COOKIE_SECURE" envDefault:"true"`

	StateTTL   time.Duration `env:"STATE_TTL" envDefault:"10m" validate:"gt=0"`
	StateStore string        `env:"STATE_STORE" envDefault:"memory" validate:"oneof=memory redis postgres"`
	RedisAddr  string        `env:"REDIS_ADDR" envDefault:"localhost:6379" validate:"required_if=StateStore redis"`
}

// ConfigFromEnv parses and validates the service configuration.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints declared in struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// TLSEnabled reports whether the server should terminate TLS itself.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
