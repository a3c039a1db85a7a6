package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/flemzord/cronsync/modules/scheduler"
)

const defaultWaitPoll = 500 * time.Millisecond

// Session is a short-lived, provisioned-but-not-started set of modules
// used by operator commands. It talks to the same store as the daemon
// without starting the minute tick or the HTTP gateway.
type Session struct {
	app    *core.App
	sched  *scheduler.Module
	comp   *scheduler.Components
	logger *slog.Logger
}

// OpenSession loads configuration and provisions every configured module.
// The configuration must include the scheduler module.
func OpenSession(params RunParams) (*Session, error) {
	cfgPath, cfg, err := loadConfig(params.ConfigPath)
	if err != nil {
		return nil, err
	}

	redactor := newRedactor(cfg)
	logger := NewLogger(params.LogLevel, params.LogJSON, redactor)
	application, err := newApp(params, cfgPath, cfg, logger, redactor)
	if err != nil {
		return nil, err
	}

	s := &Session{app: application, logger: logger}
	if err := s.wire(); err != nil {
		application.Close()
		return nil, err
	}
	return s, nil
}

// wire locates the scheduler among the loaded modules and assembles its
// components from the provisioned store and runner.
func (s *Session) wire() error {
	mod, ok := s.app.Module(scheduler.ModuleID)
	if !ok {
		return fmt.Errorf("session: module %q is not configured", scheduler.ModuleID)
	}
	sched, ok := mod.(*scheduler.Module)
	if !ok {
		return fmt.Errorf("session: module %q has unexpected type %T", scheduler.ModuleID, mod)
	}
	comp, err := sched.Components()
	if err != nil {
		return err
	}
	s.sched = sched
	s.comp = comp
	return nil
}

// Manager returns the task manager backed by the configured store.
func (s *Session) Manager() *schedule.Manager {
	return s.comp.Manager
}

// Sync reconciles the declared tasks into the store for every tenant.
func (s *Session) Sync(ctx context.Context) (map[string]schedule.ReconcileResult, error) {
	return s.sched.Reconcile(ctx)
}

// WaitRun polls the runner until runID leaves the running state or ctx is
// done. A zero poll uses a default interval.
func (s *Session) WaitRun(ctx context.Context, runID string, poll time.Duration) (schedule.RunInfo, error) {
	if poll <= 0 {
		poll = defaultWaitPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		info, err := s.comp.Runner.RunInfo(ctx, runID)
		if err != nil {
			return schedule.RunInfo{}, err
		}
		if info.State != schedule.RunRunning {
			return info, nil
		}
		select {
		case <-ctx.Done():
			return info, errors.Join(ctx.Err(), fmt.Errorf("session: run %s still running", runID))
		case <-ticker.C:
		}
	}
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Close releases every module resource.
func (s *Session) Close() {
	s.app.Close()
}
