package schedule_test

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/flemzord/cronsync/internal/cron/crontest"
	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/flemzord/cronsync/internal/schedule/scheduletest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func ptr[T any](v T) *T { return &v }

func newEvaluator(store schedule.Store, clock func() time.Time) *schedule.Evaluator {
	return schedule.NewEvaluator(schedule.EvaluatorConfig{
		Store:    store,
		Clock:    clock,
		Location: time.UTC,
		Logger:   quietLogger(),
	})
}

func key(name string) schedule.Key {
	return schedule.Key{Name: name, Tenant: schedule.DefaultTenant}
}

func put(store *scheduletest.MemoryStore, name, interval string) {
	store.Put(schedule.Definition{
		Key:      key(name),
		Interval: interval,
		Work:     schedule.WorkSpec{Steps: []schedule.Step{{Command: "echo", Args: []string{name}}}},
		Enabled:  true,
	})
}

type fixture struct {
	store      *scheduletest.MemoryStore
	runner     *scheduletest.MockRunner
	clock      *crontest.Clock
	evaluator  *schedule.Evaluator
	dispatcher *schedule.Dispatcher
	manager    *schedule.Manager
	events     *schedule.Broadcaster
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		store:  scheduletest.NewMemoryStore(),
		runner: scheduletest.NewMockRunner(),
		clock:  crontest.NewClock(now),
		events: schedule.NewBroadcaster(),
	}
	f.store.Clock = f.clock.Now
	f.evaluator = newEvaluator(f.store, f.clock.Now)
	f.dispatcher = schedule.NewDispatcher(schedule.DispatcherConfig{
		Store:     f.store,
		Runner:    f.runner,
		Evaluator: f.evaluator,
		Events:    f.events,
		Clock:     f.clock.Now,
		Logger:    quietLogger(),
	})
	f.manager = schedule.NewManager(f.store, f.runner, f.evaluator, f.dispatcher, quietLogger())
	return f
}
