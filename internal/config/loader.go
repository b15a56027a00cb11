// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC process time to prevent drift bugs (the business timezone
//     is applied explicitly where hour slots and day keys are computed).
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Process envconfig struct tags to populate the Config struct.
//  4. Validate the struct with go-playground/validator, plus checks the tag
//     language cannot express (timezone parse, token requirement).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load loads and validates the service configuration from the environment.
func Load() (*Config, error) {
	time.Local = time.UTC

	// Does not override variables already set in the environment.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct-tag validation and the cross-field checks that tags
// cannot express. Exported so tests and the ops tooling can validate
// hand-built configs.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if _, err := time.LoadLocation(cfg.Queue.Timezone); err != nil {
		return fmt.Errorf("invalid QUEUE_TIMEZONE %q: %w", cfg.Queue.Timezone, err)
	}

	if cfg.IsProductionLike() && cfg.Server.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required when APP_ENV=%s", cfg.Environment)
	}

	return nil
}

// Location returns the parsed business timezone. Call only after Load or
// Validate has succeeded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Queue.Timezone)
	if err != nil {
		// Validate rejects unparseable zones; reaching this means the config
		// was built without validation.
		panic(fmt.Sprintf("config: invalid timezone %q: %v", c.Queue.Timezone, err))
	}
	return loc
}
