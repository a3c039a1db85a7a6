package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/cronsync/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DispatchResult is the outcome for one due task.
type DispatchResult struct {
	Key
	RunID string
	Err   error
}

// DispatchReport lists per-task outcomes in dispatch order.
type DispatchReport struct {
	Now     time.Time
	Results []DispatchResult
}

// Failed counts results with an error.
func (r DispatchReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Dispatcher starts due tasks on a Runner and records their history.
type Dispatcher struct {
	store     Store
	runner    Runner
	evaluator *Evaluator
	events    *Broadcaster
	clock     func() time.Time
	logger    *slog.Logger
}

// DispatcherConfig configures a Dispatcher. Events may be nil.
type DispatcherConfig struct {
	Store     Store
	Runner    Runner
	Evaluator *Evaluator
	Events    *Broadcaster
	Clock     func() time.Time
	Logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Dispatcher{
		store:     cfg.Store,
		runner:    cfg.Runner,
		evaluator: cfg.Evaluator,
		events:    cfg.Events,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "dispatcher"),
	}
}

// Run evaluates and dispatches everything due since lastChecked. An
// evaluation error is logged and treated as nothing due; the report's Now
// is still the evaluated minute.
func (d *Dispatcher) Run(ctx context.Context, lastChecked *time.Time) DispatchReport {
	set, err := d.evaluator.ComputeDue(ctx, lastChecked)
	if err != nil {
		d.logger.Error("dispatcher: evaluation failed, nothing dispatched", "error", err)
		return DispatchReport{Now: set.Now}
	}
	return d.Dispatch(ctx, set)
}

// Dispatch starts every task of set in order. A failing task never stops
// the remaining ones.
func (d *Dispatcher) Dispatch(ctx context.Context, set DueSet) DispatchReport {
	report := DispatchReport{Now: set.Now, Results: make([]DispatchResult, 0, len(set.Tasks))}
	for _, task := range set.Tasks {
		runID, err := d.dispatchOne(ctx, task.Unit)
		report.Results = append(report.Results, DispatchResult{Key: task.Key, RunID: runID, Err: err})
	}
	return report
}

// DispatchUnit starts a single work unit outside evaluation.
func (d *Dispatcher) DispatchUnit(ctx context.Context, unit WorkUnit) (string, error) {
	return d.dispatchOne(ctx, unit)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, unit WorkUnit) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "schedule.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("task", unit.Name),
		attribute.String("tenant", unit.Tenant),
	)

	logger := d.logger.With("task", unit.Name, "tenant", unit.Tenant)
	event := DispatchEvent{Key: unit.Key, Time: d.clock()}

	runID, err := d.runner.Start(ctx, unit)
	if err != nil {
		telemetry.Dispatches.WithLabelValues("start_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		logger.Error("dispatcher: start failed", "error", err)
		event.Error = err.Error()
		d.events.Publish(event)
		return "", fmt.Errorf("schedule: dispatch %s: start: %w", unit.Key, err)
	}
	event.RunID = runID
	span.SetAttributes(attribute.String("run_id", runID))

	if err := d.store.StoreHistory(ctx, unit.Key, runID); err != nil {
		telemetry.Dispatches.WithLabelValues("history_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "history write failed")
		logger.Error("dispatcher: history write failed", "run_id", runID, "error", err)
		event.Error = err.Error()
		d.events.Publish(event)
		return runID, fmt.Errorf("schedule: dispatch %s: history: %w", unit.Key, err)
	}

	telemetry.Dispatches.WithLabelValues("ok").Inc()
	logger.Info("dispatcher: task started", "run_id", runID)
	d.events.Publish(event)
	return runID, nil
}
