// Package configx implements the configuration layers shared by every binary:
// an optional YAML file, a .env file, and process environment variables,
// followed by struct-tag validation.
package configx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/dmitrijs2005/chatauth/internal/flagx"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DotEnvFile is the .env file consulted by Overlay. A missing file is not an error.
var DotEnvFile = ".env"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Overlay applies, in order, the YAML file named by -c/-config in args,
// DotEnvFile, and the process environment onto cfg. Fields absent from a
// layer keep the value set by the previous one.
func Overlay(cfg any, args []string) error {
	if path := flagx.ConfigFileFlag(args); path != "" {
		if err := ReadYAML(path, cfg); err != nil {
			return err
		}
	}
	if err := LoadDotEnv(DotEnvFile); err != nil {
		return err
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// ReadYAML decodes the file at path into cfg.
func ReadYAML(path string, cfg any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv exports variables from path into the process environment without
// overriding variables that are already set.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// Validate checks cfg against its `validate` struct tags.
func Validate(cfg any) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
