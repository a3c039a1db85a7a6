package postgres

import (
	"errors"
	"fmt"
)

const defaultMaxConns = 4

// Config holds the store.postgres module configuration.
type Config struct {
	// DSN is a libpq connection string or URL. Use ${VAR} to read it
	// from the environment.
	DSN string `yaml:"dsn"`

	// MaxConns caps the pool size. Defaults to 4.
	MaxConns int32 `yaml:"max_conns"`

	// Migrate creates the schema on provision. Defaults to true.
	Migrate *bool `yaml:"migrate"`

	// DispatchArgs are appended to every step at dispatch. "{task}" and
	// "{tenant}" are substituted.
	DispatchArgs []string `yaml:"dispatch_args"`
}

func (c *Config) defaults() {
	if c.MaxConns == 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.Migrate == nil {
		t := true
		c.Migrate = &t
	}
}

func (c *Config) migrateEnabled() bool {
	return c.Migrate == nil || *c.Migrate
}

func (c *Config) validate() error {
	if c.DSN == "" {
		return errors.New("postgres: dsn is required")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("postgres: max_conns must be non-negative, got %d", c.MaxConns)
	}
	return nil
}
