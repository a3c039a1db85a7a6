package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/flemzord/cronsync/internal/schedule/scheduletest"
	"gopkg.in/yaml.v3"
)

const baseConfig = `
tenants: [acme, globex]
location: UTC
tasks:
  - name: heartbeat
    interval: "* * * * *"
    steps:
      - command: ping
  - name: digest
    interval: "0 0 * * *"
    timeout: 5m
    steps:
      - name: send
        command: send-digest
        args: ["--all"]
`

type fixture struct {
	mod    *Module
	ctx    *core.AppContext
	store  *scheduletest.MemoryStore
	runner *scheduletest.MockRunner
	now    time.Time
}

func decode(t *testing.T, src string) yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(src), &node); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	return node
}

func newFixture(t *testing.T, src string) *fixture {
	t.Helper()

	f := &fixture{
		store:  scheduletest.NewMemoryStore(),
		runner: scheduletest.NewMockRunner(),
		now:    time.Date(2026, 3, 2, 10, 0, 30, 0, time.UTC),
	}
	f.ctx = core.NewAppContext(slog.Default(), t.TempDir(), t.TempDir())
	f.ctx.RegisterService(ServiceStore, f.store)
	f.ctx.RegisterService(ServiceRunner, f.runner)
	f.ctx.RegisterService(ServiceWatermark, f.store)

	f.mod = &Module{clock: func() time.Time { return f.now }}
	node := decode(t, src)
	if err := f.mod.Configure(&node); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := f.mod.Provision(f.ctx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := f.mod.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return f
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing name":     `{tasks: [{interval: "* * * * *", steps: [{command: x}]}]}`,
		"duplicate":        `{tasks: [{name: a, interval: "* * * * *", steps: [{command: x}]}, {name: a, interval: "* * * * *", steps: [{command: x}]}]}`,
		"no steps":         `{tasks: [{name: a, interval: "@daily"}]}`,
		"blank command":    `{tasks: [{name: a, interval: "@daily", steps: [{command: " "}]}]}`,
		"negative timeout": `{tasks: [{name: a, interval: "@daily", timeout: -1s, steps: [{command: x}]}]}`,
		"bad location":     `{location: Mars/Olympus}`,
	}
	for name, src := range tests {
		var cfg Config
		node := decode(t, src)
		if err := node.Decode(&cfg); err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if err := cfg.validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	// Intervals are checked per task at reconcile time.
	var cfg Config
	node := decode(t, `{tasks: [{name: a, interval: "61 * * * *", steps: [{command: x}]}]}`)
	if err := node.Decode(&cfg); err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("bad interval rejected at load: %v", err)
	}
}

func TestModule_StartReconcilesEveryTenant(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	if err := f.mod.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.mod.Stop(context.Background()) })

	for _, tenant := range []string{"acme", "globex"} {
		def, err := f.store.GetTask(context.Background(), schedule.Key{Name: "digest", Tenant: tenant})
		if err != nil {
			t.Fatalf("%s: %v", tenant, err)
		}
		if def.Work.Timeout != 5*time.Minute || def.Work.Steps[0].Args[0] != "--all" || !def.Enabled {
			t.Errorf("%s: definition = %+v", tenant, def)
		}
	}

	for _, name := range []string{ServiceManager, ServiceEvents, ServiceTrigger} {
		if _, ok := f.ctx.Service(name); !ok {
			t.Errorf("service %s not registered", name)
		}
	}
}

func TestModule_EvaluateAdvancesWatermark(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	if _, err := f.mod.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Last checked at 09:57: catch-up covers 09:58..10:00. The heartbeat is
	// due once per tenant; the midnight digest is not due.
	_ = f.store.SaveWatermark(context.Background(), time.Date(2026, 3, 2, 9, 57, 0, 0, time.UTC))
	if err := f.mod.evaluate(context.Background()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := len(f.runner.Started()); got != 2 {
		t.Fatalf("started %d units, want 2", got)
	}

	wm, _ := f.store.LoadWatermark(context.Background())
	if wm == nil || !wm.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("watermark = %v, want 10:00", wm)
	}

	// Same minute again: nothing new.
	if err := f.mod.evaluate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(f.runner.Started()); got != 2 {
		t.Errorf("started %d units after repeat tick, want 2", got)
	}

	f.now = f.now.Add(time.Minute)
	if err := f.mod.evaluate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(f.runner.Started()); got != 4 {
		t.Errorf("started %d units after next minute, want 4", got)
	}
}

func TestModule_EvaluateErrorKeepsWatermark(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	if _, err := f.mod.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := time.Date(2026, 3, 2, 9, 50, 0, 0, time.UTC)
	_ = f.store.SaveWatermark(context.Background(), before)

	f.store.IntervalsErr = errors.New("db gone")
	if err := f.mod.evaluate(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	wm, _ := f.store.LoadWatermark(context.Background())
	if !wm.Equal(before) {
		t.Errorf("watermark moved to %v", wm)
	}
	if len(f.runner.Started()) != 0 {
		t.Error("nothing should be dispatched")
	}
}

func TestModule_ReloadReconcilesNewTasks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	if _, err := f.mod.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}

	updated := strings.Replace(baseConfig, `interval: "0 0 * * *"`, `interval: "30 6 * * *"`, 1) + `
  - name: cleanup
    interval: "@hourly"
    steps:
      - command: rm-old
`
	reloadCtx := f.ctx.WithModuleConfigs(map[string]yaml.Node{ModuleID: decode(t, updated)})
	if err := f.mod.Reload(reloadCtx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if ok, _ := f.store.HasTask(context.Background(), schedule.Key{Name: "cleanup", Tenant: "acme"}); !ok {
		t.Error("cleanup not inserted")
	}
	def, _ := f.store.GetTask(context.Background(), schedule.Key{Name: "digest", Tenant: "globex"})
	if def.Interval != "30 6 * * *" {
		t.Errorf("digest interval = %q", def.Interval)
	}
}

func TestModule_ReloadIsolatesBadInterval(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	if _, err := f.mod.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}

	updated := baseConfig + `
  - name: cleanup
    interval: "@hourly"
    steps:
      - command: rm-old
  - name: typo
    interval: "61 * * * *"
    steps:
      - command: nope
`
	reloadCtx := f.ctx.WithModuleConfigs(map[string]yaml.Node{ModuleID: decode(t, updated)})
	if err := f.mod.Reload(reloadCtx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	for _, tenant := range []string{"acme", "globex"} {
		if ok, _ := f.store.HasTask(context.Background(), schedule.Key{Name: "cleanup", Tenant: tenant}); !ok {
			t.Errorf("%s: cleanup not inserted", tenant)
		}
		if ok, _ := f.store.HasTask(context.Background(), schedule.Key{Name: "typo", Tenant: tenant}); ok {
			t.Errorf("%s: typo stored", tenant)
		}
	}
	if len(f.mod.config.Tasks) != 4 {
		t.Errorf("config has %d tasks, want 4", len(f.mod.config.Tasks))
	}
}

func TestModule_ReloadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	bad := f.ctx.WithModuleConfigs(map[string]yaml.Node{ModuleID: decode(t, `{tasks: [{name: x, steps: [{command: " "}]}]}`)})
	if err := f.mod.Reload(bad); err == nil {
		t.Fatal("expected error")
	}
	if len(f.mod.config.Tasks) != 2 {
		t.Error("config must be kept on failed reload")
	}
}

func TestModule_StartSurvivesTaskFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	f.store.Put(schedule.Definition{
		Key:      schedule.Key{Name: "heartbeat", Tenant: "acme"},
		Interval: "*/5 * * * *",
		Work:     schedule.WorkSpec{Steps: []schedule.Step{{Command: "ping"}}},
		Enabled:  true,
	})
	f.store.InsertErr = errors.New("disk full")

	if err := f.mod.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.mod.Stop(context.Background()) })

	if err := f.mod.EvaluateNow(); err != nil {
		t.Errorf("trigger not running: %v", err)
	}
	def, err := f.store.GetTask(context.Background(), schedule.Key{Name: "heartbeat", Tenant: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if def.Interval != "* * * * *" {
		t.Errorf("heartbeat interval = %q, want update applied", def.Interval)
	}
}

func TestModule_ReconcileReportsTaskFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	f.store.InsertErr = errors.New("disk full")

	results, err := f.mod.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	for _, tenant := range []string{"acme", "globex"} {
		res, ok := results[tenant]
		if !ok {
			t.Fatalf("%s: no result", tenant)
		}
		if len(res.Failed) != 2 {
			t.Errorf("%s: failed = %v, want heartbeat and digest", tenant, res.Failed)
		}
	}
}

func TestModule_StartFailsWhenStoreUnreachable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	f.store.ReadyErr = errors.New("connection refused")

	if err := f.mod.Start(); !errors.Is(err, schedule.ErrNotReady) {
		t.Fatalf("Start err = %v, want ErrNotReady", err)
	}
	if err := f.mod.EvaluateNow(); err == nil {
		t.Error("trigger started after failed pass")
	}
}

func TestAssemble_RequiresBackends(t *testing.T) {
	t.Parallel()

	ctx := core.NewAppContext(slog.Default(), t.TempDir(), t.TempDir())
	if _, err := Assemble(ctx, time.UTC, time.Now); err == nil {
		t.Fatal("expected error without a store")
	}

	ctx.RegisterService(ServiceStore, scheduletest.NewMemoryStore())
	if _, err := Assemble(ctx, time.UTC, time.Now); err == nil {
		t.Fatal("expected error without a runner")
	}

	ctx.RegisterService(ServiceRunner, scheduletest.NewMockRunner())
	comp, err := Assemble(ctx, time.UTC, time.Now)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := comp.Watermark.(*memoryWatermark); !ok {
		t.Errorf("watermark = %T, want in-memory fallback", comp.Watermark)
	}
}

func TestModule_EvaluateNowRequiresStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, baseConfig)
	if err := f.mod.EvaluateNow(); err == nil {
		t.Error("expected error before Start")
	}
}
