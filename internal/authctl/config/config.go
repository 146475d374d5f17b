// Package config loads authctl settings: defaults, then the YAML/.env/
// environment layers, then global command-line flags.
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/configx"
	"github.com/spf13/pflag"
)

type Config struct {
	UsersURL   string        `yaml:"users_url" env:"AUTHCTL_USERS_URL" validate:"required,url"`
	NonceURL   string        `yaml:"nonce_url" env:"AUTHCTL_NONCE_URL" validate:"omitempty,url"`
	Timeout    time.Duration `yaml:"timeout" env:"AUTHCTL_TIMEOUT" validate:"gt=0"`
	SessionDir string        `yaml:"session_dir" env:"AUTHCTL_SESSION_DIR"`

	// Service credentials minted by "authctl mint".
	ServiceName      string        `yaml:"service_name" env:"AUTHCTL_SERVICE_NAME" validate:"required"`
	ServiceJWTSecret string        `yaml:"service_jwt_secret" env:"SERVICE_JWT_SECRET"`
	ServiceTokenTTL  time.Duration `yaml:"service_token_ttl" env:"AUTHCTL_SERVICE_TOKEN_TTL" validate:"gt=0"`
}

func (c *Config) LoadDefaults() {
	c.UsersURL = "http://127.0.0.1:8080"
	c.NonceURL = "http://127.0.0.1:8081"
	c.Timeout = 5 * time.Second
	c.ServiceName = "authctl"
	c.ServiceTokenTTL = 30 * time.Second
}

// LoadConfig returns the configuration and the arguments left after the
// global flags, starting with the subcommand name.
func LoadConfig(args []string) (*Config, []string, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := configx.Overlay(cfg, args); err != nil {
		return nil, nil, err
	}

	fs := NewFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("%w\n\n%s", err, fs.FlagUsages())
	}
	if err := configx.Validate(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

// NewFlagSet binds the global flags to cfg. Parsing stops at the first
// positional argument so subcommands keep their own flags.
func NewFlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("authctl", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)

	fs.StringP("config", "c", "", "YAML config file")
	fs.StringVar(&cfg.UsersURL, "users-url", cfg.UsersURL, "users service base URL")
	fs.StringVar(&cfg.NonceURL, "nonce-url", cfg.NonceURL, "nonce service base URL")
	fs.DurationVarP(&cfg.Timeout, "timeout", "t", cfg.Timeout, "per-request timeout")
	fs.StringVar(&cfg.SessionDir, "session-dir", cfg.SessionDir, "directory holding the local session (default: user config dir)")
	fs.StringVar(&cfg.ServiceName, "service", cfg.ServiceName, "service name put into minted credentials")
	return fs
}
