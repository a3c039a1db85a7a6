// Package shell implements the runner.shell module. It runs each step of a
// work unit with an embedded POSIX shell interpreter, so task hosts need no
// system shell, and remembers recent runs in memory for status lookups.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/internal/schedule"
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
	_ core.Stopper      = (*Module)(nil)
)

const (
	defaultMaxRuns   = 1000
	defaultMaxOutput = 64 << 10
)

// Config holds the runner.shell configuration.
type Config struct {
	// Dir is the working directory. Defaults to the workspace.
	Dir            string            `yaml:"dir"`
	Env            map[string]string `yaml:"env"`
	MaxRuns        int               `yaml:"max_runs"`
	MaxOutput      int               `yaml:"max_output"`
	DefaultTimeout time.Duration     `yaml:"default_timeout"`
}

// Module registers a Runner as the "schedule.runner" service.
type Module struct {
	config Config
	runner *Runner
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "runner.shell",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("shell: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	if m.config.Dir == "" {
		m.config.Dir = ctx.Workspace
	}
	if m.config.Dir != "" {
		if err := os.MkdirAll(m.config.Dir, 0o750); err != nil {
			return fmt.Errorf("shell: create dir %s: %w", m.config.Dir, err)
		}
	}

	m.runner = NewRunner(Options{
		Dir:            m.config.Dir,
		Env:            m.config.Env,
		MaxRuns:        m.config.MaxRuns,
		MaxOutput:      m.config.MaxOutput,
		DefaultTimeout: m.config.DefaultTimeout,
		Logger:         ctx.Logger,
	})
	ctx.RegisterService("schedule.runner", m.runner)

	m.logger.Info("shell runner provisioned", "dir", m.config.Dir)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.MaxRuns < 0 || m.config.MaxOutput < 0 {
		return fmt.Errorf("shell: max_runs and max_output must be non-negative")
	}
	if m.config.DefaultTimeout < 0 {
		return fmt.Errorf("shell: default_timeout must be non-negative, got %s", m.config.DefaultTimeout)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.runner == nil {
		return nil
	}
	m.logger.Info("shell runner stopping")
	return m.runner.Stop(ctx)
}
