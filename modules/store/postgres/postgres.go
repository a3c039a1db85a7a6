// Package postgres implements the store.postgres module: a schedule.Store
// backed by PostgreSQL through pgx. It suits deployments where several
// hosts share one task table.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/internal/schedule"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ schedule.Store          = (*Store)(nil)
	_ schedule.Purger         = (*Store)(nil)
	_ schedule.WatermarkStore = (*Store)(nil)
	_ core.Configurable       = (*Module)(nil)
	_ core.Provisioner        = (*Module)(nil)
	_ core.Stopper            = (*Module)(nil)
)

const connectTimeout = 10 * time.Second

// Module registers a PostgreSQL Store as "schedule.store" and
// "schedule.watermark".
type Module struct {
	config Config
	store  *Store
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.postgres",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("postgres: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	if err := m.config.validate(); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := NewPool(cctx, m.config.DSN, m.config.MaxConns)
	if err != nil {
		return err
	}
	m.store = NewStore(pool, m.config.DispatchArgs)

	if m.config.migrateEnabled() {
		if err := m.store.Migrate(cctx); err != nil {
			pool.Close()
			return err
		}
	}

	ctx.RegisterService("schedule.store", m.store)
	ctx.RegisterService("schedule.watermark", m.store)

	m.logger.Info("postgres store provisioned",
		"max_conns", m.config.MaxConns,
		"migrate", m.config.migrateEnabled(),
	)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.store != nil {
		m.store.pool.Close()
	}
	return nil
}

// Store returns the provisioned store.
func (m *Module) Store() *Store {
	return m.store
}
