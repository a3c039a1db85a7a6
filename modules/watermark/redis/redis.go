// Package redis implements the watermark.redis module, which keeps the
// evaluation watermark in Redis so several hosts sharing a store agree on
// where catch-up starts.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ schedule.WatermarkStore = (*Watermark)(nil)
	_ core.Configurable       = (*Module)(nil)
	_ core.Provisioner        = (*Module)(nil)
	_ core.Stopper            = (*Module)(nil)
)

const (
	defaultAddr = "localhost:6379"
	defaultKey  = "cronsync:watermark"
)

// Config holds the watermark.redis configuration.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Key is the Redis key holding the watermark. Defaults to "cronsync:watermark".
	Key string `yaml:"key"`
	// TTL expires the watermark when evaluations stop. Zero keeps it forever.
	TTL time.Duration `yaml:"ttl"`
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.Key == "" {
		c.Key = defaultKey
	}
}

// Watermark is a schedule.WatermarkStore backed by a single Redis key.
type Watermark struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewWatermark wraps client.
func NewWatermark(client *redis.Client, key string, ttl time.Duration) *Watermark {
	if key == "" {
		key = defaultKey
	}
	return &Watermark{client: client, key: key, ttl: ttl}
}

// NewClient creates a Redis client with conservative timeouts.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     4,
	})
}

// LoadWatermark implements schedule.WatermarkStore.
func (w *Watermark) LoadWatermark(ctx context.Context) (*time.Time, error) {
	val, err := w.client.Get(ctx, w.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get watermark: %w", err)
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, fmt.Errorf("redis parse watermark %q: %w", val, err)
	}
	return &t, nil
}

// SaveWatermark implements schedule.WatermarkStore.
func (w *Watermark) SaveWatermark(ctx context.Context, t time.Time) error {
	if err := w.client.Set(ctx, w.key, t.UTC().Format(time.RFC3339), w.ttl).Err(); err != nil {
		return fmt.Errorf("redis set watermark: %w", err)
	}
	return nil
}

// Module registers a Watermark as "schedule.watermark", replacing any
// watermark a store module registered.
type Module struct {
	config Config
	client *redis.Client
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "watermark.redis",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("redis: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	m.client = NewClient(m.config)

	pctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.client.Ping(pctx).Err(); err != nil {
		_ = m.client.Close()
		return fmt.Errorf("redis: ping %s: %w", m.config.Addr, err)
	}

	ctx.RegisterService("schedule.watermark", NewWatermark(m.client, m.config.Key, m.config.TTL))
	m.logger.Info("redis watermark provisioned", "addr", m.config.Addr, "key", m.config.Key)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}
