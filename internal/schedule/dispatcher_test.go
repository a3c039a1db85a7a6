package schedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
)

func TestDispatcher_RunStartsAndRecordsHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ts(t, "2026-03-02 10:00:00"))
	put(f.store, "a", "* * * * *")
	put(f.store, "b", "0 * * * *")
	put(f.store, "c", "30 * * * *")

	report := f.dispatcher.Run(context.Background(), nil)
	if report.Failed() != 0 {
		t.Fatalf("failed = %d", report.Failed())
	}
	if len(report.Results) != 2 {
		t.Fatalf("results = %+v, want a and b", report.Results)
	}

	started := f.runner.Started()
	if len(started) != 2 || started[0].Name != "a" || started[1].Name != "b" {
		t.Errorf("started = %+v", started)
	}

	history := f.store.HistoryEntries()
	if len(history) != 2 {
		t.Fatalf("history = %+v", history)
	}
	for i, res := range report.Results {
		if history[i].RunID != res.RunID || history[i].Key != res.Key {
			t.Errorf("history[%d] = %+v, want run %s for %s", i, history[i], res.RunID, res.Key)
		}
	}
}

func TestDispatcher_StartFailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ts(t, "2026-03-02 10:00:00"))
	put(f.store, "a", "* * * * *")
	put(f.store, "b", "* * * * *")

	refused := errors.New("runner unavailable")
	f.runner.StartFunc = func(_ context.Context, unit schedule.WorkUnit) (string, error) {
		if unit.Name == "a" {
			return "", refused
		}
		return "ok-run", nil
	}

	report := f.dispatcher.Run(context.Background(), nil)
	if report.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", report.Failed())
	}
	if !errors.Is(report.Results[0].Err, refused) {
		t.Errorf("a err = %v", report.Results[0].Err)
	}
	if report.Results[1].Err != nil || report.Results[1].RunID != "ok-run" {
		t.Errorf("b = %+v", report.Results[1])
	}
	if history := f.store.HistoryEntries(); len(history) != 1 || history[0].Key != key("b") {
		t.Errorf("history = %+v, want only b", history)
	}
}

func TestDispatcher_HistoryFailureReported(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ts(t, "2026-03-02 10:00:00"))
	put(f.store, "a", "* * * * *")
	f.store.HistoryErr = errors.New("read-only")

	report := f.dispatcher.Run(context.Background(), nil)
	if report.Failed() != 1 {
		t.Fatalf("failed = %d", report.Failed())
	}
	if report.Results[0].RunID == "" {
		t.Error("run ID should be kept when only the history write failed")
	}
	if len(f.runner.Started()) != 1 {
		t.Error("work should still have been started")
	}
}

func TestDispatcher_EvaluationErrorDispatchesNothing(t *testing.T) {
	t.Parallel()

	now := ts(t, "2026-03-02 10:00:00")
	f := newFixture(t, now)
	put(f.store, "a", "* * * * *")
	f.store.IntervalsErr = errors.New("timeout")

	report := f.dispatcher.Run(context.Background(), nil)
	if len(report.Results) != 0 || len(f.runner.Started()) != 0 {
		t.Errorf("report = %+v, want nothing dispatched", report)
	}
	if !report.Now.Equal(now) {
		t.Errorf("Now = %v, want %v", report.Now, now)
	}
}

func TestDispatcher_PublishesEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ts(t, "2026-03-02 10:00:00"))
	put(f.store, "a", "* * * * *")

	events, cancel := f.events.Subscribe()
	defer cancel()

	f.dispatcher.Run(context.Background(), nil)

	select {
	case ev := <-events:
		if ev.Key != key("a") || ev.RunID != "run-1" || ev.Error != "" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestDispatcher_NilEventsIsSafe(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ts(t, "2026-03-02 10:00:00"))
	put(f.store, "a", "* * * * *")

	d := schedule.NewDispatcher(schedule.DispatcherConfig{
		Store:     f.store,
		Runner:    f.runner,
		Evaluator: f.evaluator,
		Logger:    quietLogger(),
	})
	if report := d.Run(context.Background(), nil); report.Failed() != 0 || len(report.Results) != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestDispatcher_WatermarkChaining(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ts(t, "2026-03-02 09:58:00"))
	put(f.store, "hourly", "0 * * * *")

	var last *time.Time
	dispatched := 0
	for range 5 {
		report := f.dispatcher.Run(context.Background(), last)
		dispatched += len(report.Results)
		last = &report.Now
		f.clock.Advance(time.Minute)
	}
	if dispatched != 1 {
		t.Errorf("dispatched %d times over 09:58..10:02, want 1", dispatched)
	}
}
