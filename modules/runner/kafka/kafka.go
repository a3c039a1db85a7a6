// Package kafka implements the runner.kafka module. Work units are
// published as JSON jobs on a topic for external workers; an optional status
// topic feeds run outcomes back.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/internal/schedule"
	segkafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ schedule.Runner   = (*Runner)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

const (
	defaultTopic   = "cronsync.jobs"
	defaultGroupID = "cronsync"
	defaultMaxRuns = 1000
)

// Config holds the runner.kafka configuration.
type Config struct {
	Brokers []string `yaml:"brokers"`
	// Topic receives job messages. Defaults to "cronsync.jobs".
	Topic string `yaml:"topic"`
	// StatusTopic, when set, is consumed for run status updates.
	StatusTopic string `yaml:"status_topic"`
	GroupID     string `yaml:"group_id"`
	MaxRuns     int    `yaml:"max_runs"`
}

func (c *Config) defaults() {
	if c.Topic == "" {
		c.Topic = defaultTopic
	}
	if c.GroupID == "" {
		c.GroupID = defaultGroupID
	}
}

func (c *Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	return nil
}

// Module registers a Runner as "schedule.runner" and, when a status topic
// is configured, consumes it in the background.
type Module struct {
	config Config
	runner *Runner
	reader *segkafka.Reader
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "runner.kafka",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("kafka: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	m.runner = NewRunner(NewWriter(m.config.Brokers), m.config.Topic, m.config.MaxRuns, ctx.Logger)
	ctx.RegisterService("schedule.runner", m.runner)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter.
func (m *Module) Start() error {
	if m.config.StatusTopic == "" {
		return nil
	}
	m.reader = segkafka.NewReader(segkafka.ReaderConfig{
		Brokers:        m.config.Brokers,
		Topic:          m.config.StatusTopic,
		GroupID:        m.config.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    segkafka.LastOffset,
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.consume(ctx)
	}()

	m.logger.Info("kafka status consumer started", "topic", m.config.StatusTopic)
	return nil
}

// consume applies status messages until ctx is cancelled. Offsets are
// committed only after a message was applied.
func (m *Module) consume(ctx context.Context) {
	for {
		msg, err := m.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("kafka fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		carrier := HeaderCarrier(msg.Headers)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)

		if err := m.runner.HandleStatus(msgCtx, msg.Value); err != nil {
			m.logger.Error("status message rejected, skipping commit",
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		if err := m.reader.CommitMessages(ctx, msg); err != nil {
			m.logger.Error("failed to commit kafka offset", "offset", msg.Offset, "error", err)
		}
	}
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	var errs []error
	if m.reader != nil {
		errs = append(errs, m.reader.Close())
	}
	if m.runner != nil {
		errs = append(errs, m.runner.Close())
	}
	return errors.Join(errs...)
}
