package gateway

import (
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind string     `yaml:"bind"`
	Auth AuthConfig `yaml:"auth"`
	// Tenant is used when a request does not name one.
	Tenant          string                      `yaml:"tenant"`
	Webhooks        map[string]WebhookSourceCfg `yaml:"webhooks"`
	ReadTimeout     time.Duration               `yaml:"read_timeout"`
	WriteTimeout    time.Duration               `yaml:"write_timeout"`
	ShutdownTimeout time.Duration               `yaml:"shutdown_timeout"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.Tenant == "" {
		c.Tenant = schedule.DefaultTenant
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.Auth.MaxAttemptsPerMinute <= 0 {
		c.Auth.MaxAttemptsPerMinute = 60
	}
}

// AuthConfig configures authentication for admin endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
	// MaxAttemptsPerMinute rate-limits authentication attempts.
	MaxAttemptsPerMinute int `yaml:"max_attempts_per_minute"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// WebhookSourceCfg configures a webhook source that may force task runs.
type WebhookSourceCfg struct {
	Secret string `yaml:"secret"`
	// Tasks restricts which task names the source may run. Empty allows all.
	Tasks []string `yaml:"tasks"`
}
