package sqlite

import "fmt"

const (
	defaultBusyTimeout = 5000
	defaultDBFile      = "cronsync.db"
)

// Config holds the store.sqlite module configuration.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/cronsync.db.
	Path string `yaml:"path"`

	// WAL enables WAL journal mode. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the milliseconds to wait on a busy lock. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// Migrate creates the schema on provision. Defaults to true. When false
	// the store reports not ready until the schema exists.
	Migrate *bool `yaml:"migrate"`

	// DispatchArgs are appended to every step at dispatch. "{task}" and
	// "{tenant}" are substituted.
	DispatchArgs []string `yaml:"dispatch_args"`
}

func (c *Config) defaults() {
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.Migrate == nil {
		t := true
		c.Migrate = &t
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) migrateEnabled() bool {
	return c.Migrate == nil || *c.Migrate
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	return nil
}
