package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/internal/schedule"
)

// Service names shared through the AppContext.
const (
	ServiceStore     = "schedule.store"
	ServiceRunner    = "schedule.runner"
	ServiceWatermark = "schedule.watermark"
	ServiceManager   = "schedule.manager"
	ServiceEvents    = "schedule.events"
	ServiceTrigger   = "schedule.trigger"
)

// Components is the scheduling core assembled over the configured backends.
type Components struct {
	Store      schedule.Store
	Runner     schedule.Runner
	Watermark  schedule.WatermarkStore
	Evaluator  *schedule.Evaluator
	Dispatcher *schedule.Dispatcher
	Manager    *schedule.Manager
	Events     *schedule.Broadcaster
}

// Assemble resolves the store, runner and watermark services registered by
// backend modules and builds the core on top of them. Without a watermark
// service the last evaluation is only remembered in memory.
func Assemble(ctx *core.AppContext, loc *time.Location, clock func() time.Time) (*Components, error) {
	store, err := lookup[schedule.Store](ctx, ServiceStore)
	if err != nil {
		return nil, err
	}
	runner, err := lookup[schedule.Runner](ctx, ServiceRunner)
	if err != nil {
		return nil, err
	}
	wm, err := lookup[schedule.WatermarkStore](ctx, ServiceWatermark)
	if err != nil {
		ctx.Logger.Warn("scheduler: no watermark service, catch-up will not survive restarts")
		wm = &memoryWatermark{}
	}
	return build(store, runner, wm, loc, clock, ctx.Logger), nil
}

func build(
	store schedule.Store,
	runner schedule.Runner,
	wm schedule.WatermarkStore,
	loc *time.Location,
	clock func() time.Time,
	logger *slog.Logger,
) *Components {
	events := schedule.NewBroadcaster()
	evaluator := schedule.NewEvaluator(schedule.EvaluatorConfig{
		Store:    store,
		Clock:    clock,
		Location: loc,
		Logger:   logger,
	})
	dispatcher := schedule.NewDispatcher(schedule.DispatcherConfig{
		Store:     store,
		Runner:    runner,
		Evaluator: evaluator,
		Events:    events,
		Clock:     clock,
		Logger:    logger,
	})
	return &Components{
		Store:      store,
		Runner:     runner,
		Watermark:  wm,
		Evaluator:  evaluator,
		Dispatcher: dispatcher,
		Manager:    schedule.NewManager(store, runner, evaluator, dispatcher, logger),
		Events:     events,
	}
}

func lookup[T any](ctx *core.AppContext, name string) (T, error) {
	var zero T
	svc, ok := ctx.Service(name)
	if !ok {
		return zero, fmt.Errorf("scheduler: no %s service registered", name)
	}
	v, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("scheduler: service %s has unexpected type %T", name, svc)
	}
	return v, nil
}

type memoryWatermark struct {
	mu sync.Mutex
	t  *time.Time
}

func (w *memoryWatermark) LoadWatermark(context.Context) (*time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t == nil {
		return nil, nil
	}
	t := *w.t
	return &t, nil
}

func (w *memoryWatermark) SaveWatermark(_ context.Context, t time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.t = &t
	return nil
}
