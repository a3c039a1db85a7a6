package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RunSummary is a history row joined with the runner's view of the run.
type RunSummary struct {
	State    RunState  `json:"state"`
	Time     time.Time `json:"time,omitzero"`
	RunID    string    `json:"run_id,omitempty"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Output   string    `json:"output,omitempty"`
}

// TaskSummary is one row of the task list.
type TaskSummary struct {
	Key
	Interval string     `json:"interval"`
	Override bool       `json:"override"`
	Enabled  bool       `json:"enabled"`
	LastRun  RunSummary `json:"last_run"`
}

// TaskInfo is the detailed view of one task.
type TaskInfo struct {
	TaskSummary
	CodeInterval   string       `json:"code_interval"`
	ManualInterval string       `json:"manual_interval,omitempty"`
	Steps          []Step       `json:"steps"`
	Timeout        Duration     `json:"timeout"`
	History        []RunSummary `json:"history"`
}

// Duration marshals as a Go duration string.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Manager is the operator surface over a Store, a Runner and a Dispatcher.
// Every operation on an unknown task returns ErrNotFound.
type Manager struct {
	store      Store
	runner     Runner
	evaluator  *Evaluator
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewManager creates a Manager.
func NewManager(store Store, runner Runner, evaluator *Evaluator, dispatcher *Dispatcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		runner:     runner,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		logger:     logger.With("component", "manager"),
	}
}

// List returns every task of tenant with its last run.
func (m *Manager) List(ctx context.Context, tenant string) ([]TaskSummary, error) {
	defs, err := m.store.ListTasks(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("schedule: list: %w", err)
	}
	out := make([]TaskSummary, 0, len(defs))
	for _, def := range defs {
		last, err := m.lastRun(ctx, def.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(def, last))
	}
	return out, nil
}

// Info returns the definition of key with up to DefaultHistoryLimit runs.
func (m *Manager) Info(ctx context.Context, key Key) (*TaskInfo, error) {
	def, err := m.store.GetTask(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("schedule: info %s: %w", key, err)
	}
	entries, err := m.store.History(ctx, key, DefaultHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("schedule: history %s: %w", key, err)
	}

	history := make([]RunSummary, 0, len(entries))
	for _, e := range entries {
		history = append(history, m.join(ctx, e))
	}
	last := RunSummary{State: RunNever}
	if len(history) > 0 {
		last = history[0]
	}

	steps := def.Work.Steps
	if steps == nil {
		steps = []Step{}
	}
	return &TaskInfo{
		TaskSummary:    summarize(*def, last),
		CodeInterval:   def.Interval,
		ManualInterval: def.ManualInterval,
		Steps:          steps,
		Timeout:        Duration(def.Work.Timeout),
		History:        history,
	}, nil
}

// Enable turns key on.
func (m *Manager) Enable(ctx context.Context, key Key) error {
	return m.setEnabled(ctx, key, true)
}

// Disable turns key off. A disabled task is never due.
func (m *Manager) Disable(ctx context.Context, key Key) error {
	return m.setEnabled(ctx, key, false)
}

func (m *Manager) setEnabled(ctx context.Context, key Key, enabled bool) error {
	if err := m.store.SetEnabled(ctx, key, enabled); err != nil {
		return fmt.Errorf("schedule: set enabled %s: %w", key, err)
	}
	m.logger.Info("manager: task toggled", "task", key.String(), "enabled", enabled)
	return nil
}

// SetInterval stores a manual override for key. The value ClearOverride
// removes the override instead.
func (m *Manager) SetInterval(ctx context.Context, key Key, expr string) error {
	if IsClearOverride(expr) {
		return m.ClearInterval(ctx, key)
	}
	if err := ValidateInterval(expr); err != nil {
		return err
	}
	if err := m.store.SetInterval(ctx, key, expr); err != nil {
		return fmt.Errorf("schedule: set interval %s: %w", key, err)
	}
	m.logger.Info("manager: interval overridden", "task", key.String(), "interval", expr)
	return nil
}

// ClearInterval reverts key to its code-declared interval.
func (m *Manager) ClearInterval(ctx context.Context, key Key) error {
	if err := m.store.ClearInterval(ctx, key); err != nil {
		return fmt.Errorf("schedule: clear interval %s: %w", key, err)
	}
	m.logger.Info("manager: interval override cleared", "task", key.String())
	return nil
}

// ForceRun dispatches key now, regardless of cadence or enabled state, and
// records history. It returns the run ID.
func (m *Manager) ForceRun(ctx context.Context, key Key) (string, error) {
	def, err := m.store.GetTask(ctx, key)
	if err != nil {
		return "", fmt.Errorf("schedule: force run %s: %w", key, err)
	}
	args, err := m.store.DispatchArgs(ctx, key)
	if err != nil {
		return "", fmt.Errorf("schedule: force run %s: %w", key, err)
	}
	return m.dispatcher.DispatchUnit(ctx, BuildWorkUnit(*def, args))
}

// Due previews what an evaluation with lastChecked would dispatch, without
// dispatching it.
func (m *Manager) Due(ctx context.Context, lastChecked *time.Time) (DueSet, error) {
	return m.evaluator.ComputeDue(ctx, lastChecked)
}

// Purge deletes every task of tenant. It requires a Store implementing Purger.
func (m *Manager) Purge(ctx context.Context, tenant string) (int, error) {
	p, ok := m.store.(Purger)
	if !ok {
		return 0, ErrUnsupported
	}
	ready, err := m.store.Ready(ctx)
	if err != nil {
		return 0, fmt.Errorf("schedule: purge: %w", err)
	}
	if !ready {
		return 0, ErrNotReady
	}
	n, err := p.Purge(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("schedule: purge: %w", err)
	}
	m.logger.Warn("manager: tasks purged", "tenant", tenant, "count", n)
	return n, nil
}

func (m *Manager) lastRun(ctx context.Context, key Key) (RunSummary, error) {
	entry, err := m.store.LastRun(ctx, key)
	if err != nil {
		return RunSummary{}, fmt.Errorf("schedule: last run %s: %w", key, err)
	}
	if entry == nil {
		return RunSummary{State: RunNever}, nil
	}
	return m.join(ctx, *entry), nil
}

// join attaches runner state to a history row. A run the runner cannot
// resolve is reported as RunNoStatus.
func (m *Manager) join(ctx context.Context, e HistoryEntry) RunSummary {
	s := RunSummary{State: RunNoStatus, Time: e.Time, RunID: e.RunID}
	if m.runner == nil {
		return s
	}
	info, err := m.runner.RunInfo(ctx, e.RunID)
	if err != nil {
		if !errors.Is(err, ErrRunUnknown) {
			m.logger.Warn("manager: run info failed", "run_id", e.RunID, "error", err)
		}
		return s
	}
	s.State = info.State
	s.Output = info.Output
	if info.State != RunRunning {
		code := info.ExitCode
		s.ExitCode = &code
	}
	return s
}

func summarize(def Definition, last RunSummary) TaskSummary {
	return TaskSummary{
		Key:      def.Key,
		Interval: def.EffectiveInterval(),
		Override: def.Overridden(),
		Enabled:  def.Enabled,
		LastRun:  last,
	}
}
