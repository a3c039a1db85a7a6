// Package scheduler implements the scheduler module. It reconciles the
// tasks declared in configuration into the store, then evaluates and
// dispatches due tasks once a minute, carrying a watermark between ticks so
// missed minutes are caught up.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/internal/cron"
	"github.com/flemzord/cronsync/internal/schedule"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
	_ core.Reloader     = (*Module)(nil)
)

// ModuleID is the configuration key of the scheduler.
const ModuleID = "scheduler"

const evaluateJob = "evaluate"

// Module drives the scheduling core.
type Module struct {
	config   Config
	location *time.Location
	appCtx   *core.AppContext
	logger   *slog.Logger
	clock    func() time.Time

	mu   sync.Mutex
	comp *Components
	cron *cron.Scheduler
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("scheduler: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner. Backends are resolved later, in
// Components, since they may be provisioned after this module.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger
	if m.clock == nil {
		m.clock = time.Now
	}
	loc, err := m.config.loadLocation()
	if err != nil {
		return err
	}
	m.location = loc
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Components assembles the scheduling core on first use. It is safe to call
// once every module has been provisioned, whether or not the app started.
func (m *Module) Components() (*Components, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.comp != nil {
		return m.comp, nil
	}
	comp, err := Assemble(m.appCtx, m.location, m.clock)
	if err != nil {
		return nil, err
	}
	m.comp = comp
	return comp, nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	comp, err := m.Components()
	if err != nil {
		return err
	}
	m.appCtx.RegisterService(ServiceManager, comp.Manager)
	m.appCtx.RegisterService(ServiceEvents, comp.Events)
	m.appCtx.RegisterService(ServiceTrigger, m)

	if _, err := m.Reconcile(context.Background()); err != nil {
		return err
	}

	s := cron.NewScheduler(m.logger, m.location)
	if err := s.RegisterJob(&cron.FuncJob{JobName: evaluateJob, Fn: m.evaluate}); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}

	m.mu.Lock()
	m.cron = s
	m.mu.Unlock()

	m.logger.Info("scheduler started",
		"tasks", len(m.config.Tasks),
		"tenants", m.config.Tenants,
		"location", m.location.String(),
	)
	return nil
}

// Stop implements core.Stopper. An evaluation in progress finishes first.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	s := m.cron
	m.cron = nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Stop(ctx)
}

// Reload implements core.Reloader. Declared tasks and tenants are replaced
// and reconciled; the location only changes on restart.
func (m *Module) Reload(ctx *core.AppContext) error {
	var cfg Config
	if node, ok := ctx.ModuleConfig(ModuleID); ok {
		if err := node.Decode(&cfg); err != nil {
			return fmt.Errorf("scheduler: decode config: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	if cfg.Location != m.config.Location {
		m.logger.Warn("scheduler: location change ignored until restart",
			"current", m.config.Location,
			"configured", cfg.Location,
		)
		cfg.Location = m.config.Location
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	_, err := m.Reconcile(context.Background())
	return err
}

// Reconcile applies the declared tasks to every tenant. Per-task failures
// are logged by the registry and reported in each tenant's Failed map; they
// never fail the call. The returned error only covers tenants whose pass
// could not run at all.
func (m *Module) Reconcile(ctx context.Context) (map[string]schedule.ReconcileResult, error) {
	comp, err := m.Components()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	cfg := m.config
	m.mu.Unlock()

	tenants, err := schedule.StaticTenants(cfg.Tenants).Tenants(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[string]schedule.ReconcileResult, len(tenants))
	var errs []error
	for _, tenant := range tenants {
		reg := schedule.NewRegistry(comp.Store, tenant, m.logger)
		for _, t := range cfg.Tasks {
			reg.Register(t.Name, t.Interval, t.work())
		}
		res, err := reg.Reconcile(ctx)
		results[tenant] = res
		if errors.Is(err, schedule.ErrNotReady) {
			errs = append(errs, fmt.Errorf("scheduler: reconcile tenant %s: %w", tenant, err))
			continue
		}
		if res.Skipped {
			m.logger.Warn("scheduler: store not ready, declarations skipped", "tenant", tenant)
			continue
		}
		m.logger.Info("scheduler: tasks reconciled",
			"tenant", tenant,
			"inserted", len(res.Inserted),
			"updated", len(res.Updated),
			"unchanged", len(res.Unchanged),
			"failed", len(res.Failed),
		)
	}
	return results, errors.Join(errs...)
}

// EvaluateNow runs an evaluation immediately under the same lock as the
// minute tick.
func (m *Module) EvaluateNow() error {
	m.mu.Lock()
	s := m.cron
	m.mu.Unlock()
	if s == nil {
		return errors.New("scheduler: not started")
	}
	return s.RunNow(evaluateJob)
}

// evaluate is one tick. The watermark only advances when evaluation
// succeeded, so a failed tick is caught up by the next one.
func (m *Module) evaluate(ctx context.Context) error {
	comp, err := m.Components()
	if err != nil {
		return err
	}

	last, err := comp.Watermark.LoadWatermark(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load watermark: %w", err)
	}

	set, err := comp.Evaluator.ComputeDue(ctx, last)
	if err != nil {
		return err
	}

	report := comp.Dispatcher.Dispatch(ctx, set)
	if n := report.Failed(); n > 0 {
		m.logger.Warn("scheduler: some dispatches failed", "failed", n, "total", len(report.Results))
	}

	if err := comp.Watermark.SaveWatermark(ctx, set.Now); err != nil {
		return fmt.Errorf("scheduler: save watermark: %w", err)
	}
	return nil
}
