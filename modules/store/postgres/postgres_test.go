package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/jackc/pgx/v5/pgxpool"
)

// newTestStore connects to CRONSYNC_TEST_POSTGRES_DSN. Tests are skipped
// when it is unset or unreachable.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CRONSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CRONSYNC_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, dsn, 2)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	s := NewStore(pool, []string{"--tenant={tenant}"})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "TRUNCATE cronsync_tasks, cronsync_task_history, cronsync_watermark")
		pool.Close()
	})
	return s
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	var c Config
	c.defaults()
	if c.MaxConns != defaultMaxConns || !c.migrateEnabled() {
		t.Errorf("defaults = %+v", c)
	}
	if err := c.validate(); err == nil {
		t.Error("missing dsn should fail validation")
	}
	c.DSN = "postgres://localhost/cronsync"
	if err := c.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

const unreachableDSN = "postgres://cronsync@127.0.0.1:1/cronsync?connect_timeout=1"

func TestErrorsCarryPackagePrefix(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := NewPool(ctx, unreachableDSN, 1); err == nil || !strings.HasPrefix(err.Error(), "postgres: ping: ") {
		t.Errorf("NewPool err = %v", err)
	}

	pool, err := pgxpool.New(ctx, unreachableDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	s := NewStore(pool, nil)
	key := schedule.Key{Name: "digest", Tenant: "acme"}
	decl := schedule.Declaration{Name: "digest", Interval: "@daily"}

	ops := map[string]func() error{
		"has task":           func() error { _, err := s.HasTask(ctx, key); return err },
		"get task":           func() error { _, err := s.GetTask(ctx, key); return err },
		"list tasks":         func() error { _, err := s.ListTasks(ctx, "acme"); return err },
		"insert task":        func() error { return s.InsertTask(ctx, "acme", decl) },
		"compare task":       func() error { _, err := s.HasChanges(ctx, "acme", decl); return err },
		"possible intervals": func() error { _, err := s.PossibleIntervals(ctx, nil); return err },
		"store history":      func() error { return s.StoreHistory(ctx, key, "run-1") },
		"history":            func() error { _, err := s.History(ctx, key, 1); return err },
		"load watermark":     func() error { _, err := s.LoadWatermark(ctx); return err },
		"save watermark":     func() error { return s.SaveWatermark(ctx, time.Now()) },
	}
	for name, op := range ops {
		err := op()
		if err == nil || !strings.HasPrefix(err.Error(), "postgres: ") {
			t.Errorf("%s: err = %v, want postgres: prefix", name, err)
		}
	}
}

func TestStoreLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := schedule.Key{Name: "digest", Tenant: "acme"}
	decl := schedule.Declaration{
		Name:     "digest",
		Interval: "0 0 * * *",
		Work:     schedule.WorkSpec{Steps: []schedule.Step{{Command: "send"}}, Timeout: time.Minute},
	}

	if ok, err := s.Ready(ctx); err != nil || !ok {
		t.Fatalf("Ready = %v, %v", ok, err)
	}
	if got, _ := s.HasChanges(ctx, "acme", decl); got != schedule.ChangeNotFound {
		t.Errorf("before insert = %v", got)
	}
	if err := s.InsertTask(ctx, "acme", decl); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertTask(ctx, "acme", decl); !errors.Is(err, schedule.ErrAlreadyExists) {
		t.Errorf("duplicate insert err = %v", err)
	}
	if got, _ := s.HasChanges(ctx, "acme", decl); got != schedule.ChangeUnchanged {
		t.Errorf("unchanged = %v", got)
	}

	if err := s.SetInterval(ctx, key, "*/5 * * * *"); err != nil {
		t.Fatal(err)
	}
	intervals, err := s.PossibleIntervals(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if intervals["digest"]["acme"] != "*/5 * * * *" {
		t.Errorf("intervals = %v", intervals)
	}
	if excluded, _ := s.PossibleIntervals(ctx, []string{"digest"}); excluded.Len() != 0 {
		t.Errorf("excluded = %v", excluded)
	}

	if err := s.StoreHistory(ctx, key, "r1"); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreHistory(ctx, key, "r2"); err != nil {
		t.Fatal(err)
	}
	last, err := s.LastRun(ctx, key)
	if err != nil || last == nil || last.RunID != "r2" {
		t.Errorf("LastRun = %+v, %v", last, err)
	}

	args, _ := s.DispatchArgs(ctx, key)
	if len(args) != 1 || args[0] != "--tenant=acme" {
		t.Errorf("args = %v", args)
	}

	n, err := s.Purge(ctx, "acme")
	if err != nil || n != 1 {
		t.Errorf("Purge = %d, %v", n, err)
	}
	if _, err := s.GetTask(ctx, key); !errors.Is(err, schedule.ErrNotFound) {
		t.Errorf("after purge err = %v", err)
	}
}

func TestWatermark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if w, err := s.LoadWatermark(ctx); err != nil || w != nil {
		t.Fatalf("empty = %v, %v", w, err)
	}
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if err := s.SaveWatermark(ctx, want); err != nil {
		t.Fatal(err)
	}
	w, err := s.LoadWatermark(ctx)
	if err != nil || w == nil || !w.Equal(want) {
		t.Errorf("watermark = %v, %v", w, err)
	}
}
