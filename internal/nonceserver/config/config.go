// Package config handles configuration for the nonce service.
package config

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/configx"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds runtime settings for the nonce service. NONCE_STORE=redis
// is required when more than one instance serves the same callers.
type Config struct {
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR" validate:"required"`
	Env      string `yaml:"app_env" env:"APP_ENV"`

	NonceBytes int           `yaml:"nonce_bytes" env:"NONCE_BYTES" validate:"min=16,max=64"`
	NonceTTL   time.Duration `yaml:"nonce_ttl" env:"NONCE_TTL" validate:"gt=0"`
	Store      string        `yaml:"nonce_store" env:"NONCE_STORE" validate:"oneof=memory redis"`

	RedisAddr        string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword    string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB          int           `yaml:"redis_db" env:"REDIS_DB" validate:"min=0"`
	RedisDialTimeout time.Duration `yaml:"redis_dial_timeout" env:"REDIS_DIAL_TIMEOUT" validate:"gt=0"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8081"
	c.Env = "development"
	c.NonceBytes = 32
	c.NonceTTL = 30 * time.Second
	c.Store = StoreMemory
	c.RedisAddr = "localhost:6379"
	c.RedisDialTimeout = 5 * time.Second
	c.ShutdownTimeout = 10 * time.Second
}

func (c *Config) Validate() error {
	if err := configx.Validate(c); err != nil {
		return err
	}
	if c.Store == StoreRedis && c.RedisAddr == "" {
		return errors.New("invalid configuration: REDIS_ADDR is required for the redis store")
	}
	return nil
}

// LoadConfig applies defaults, the YAML/.env/environment layers and flags,
// then validates the result.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := configx.Overlay(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
