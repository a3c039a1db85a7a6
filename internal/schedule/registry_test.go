package schedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/flemzord/cronsync/internal/schedule/scheduletest"
)

var digestWork = schedule.WorkSpec{
	Steps:   []schedule.Step{{Command: "send-digest"}},
	Timeout: 5 * time.Minute,
}

func TestRegistry_InsertsIntoEmptyStore(t *testing.T) {
	t.Parallel()

	store := scheduletest.NewMemoryStore()
	reg := schedule.NewRegistry(store, "", quietLogger())
	reg.Register("daily-digest", "0 0 * * *", digestWork)

	res, err := reg.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Inserted) != 1 || res.Inserted[0] != "daily-digest" {
		t.Fatalf("Inserted = %v", res.Inserted)
	}

	def, err := store.GetTask(context.Background(), key("daily-digest"))
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !def.Enabled {
		t.Error("inserted task should be enabled")
	}
	if def.Interval != "0 0 * * *" || def.Work.Timeout != 5*time.Minute {
		t.Errorf("def = %+v", def)
	}
}

func TestRegistry_ReconcileIsIdempotent(t *testing.T) {
	t.Parallel()

	store := scheduletest.NewMemoryStore()
	reg := schedule.NewRegistry(store, schedule.DefaultTenant, quietLogger())

	for pass, wantWrites := range []int{1, 0, 0} {
		reg.Register("daily-digest", "0 0 * * *", digestWork)
		res, err := reg.Reconcile(context.Background())
		if err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if res.Writes() != wantWrites {
			t.Errorf("pass %d: writes = %d, want %d", pass, res.Writes(), wantWrites)
		}
	}
	if store.Writes() != 1 {
		t.Errorf("store writes = %d, want 1", store.Writes())
	}
}

func TestRegistry_LastWriteWins(t *testing.T) {
	t.Parallel()

	store := scheduletest.NewMemoryStore()
	reg := schedule.NewRegistry(store, "", quietLogger())
	reg.Register("job", "0 0 * * *", digestWork)
	reg.Register("other", "0 1 * * *", digestWork)
	reg.Register("job", "*/10 * * * *", digestWork)

	pending := reg.Pending()
	if len(pending) != 2 || pending[0].Name != "job" || pending[0].Interval != "*/10 * * * *" {
		t.Fatalf("Pending = %+v", pending)
	}

	if _, err := reg.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	def, _ := store.GetTask(context.Background(), key("job"))
	if def.Interval != "*/10 * * * *" {
		t.Errorf("Interval = %q, want last registration", def.Interval)
	}
	if len(reg.Pending()) != 0 {
		t.Error("buffer should be empty after reconcile")
	}
}

func TestRegistry_UpdatePreservesOperatorFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := scheduletest.NewMemoryStore()
	reg := schedule.NewRegistry(store, "", quietLogger())

	reg.Register("job", "0 0 * * *", digestWork)
	if _, err := reg.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.SetInterval(ctx, key("job"), "*/5 * * * *"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetEnabled(ctx, key("job"), false); err != nil {
		t.Fatal(err)
	}

	reg.Register("job", "0 3 * * *", schedule.WorkSpec{Timeout: time.Hour})
	res, err := reg.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Updated) != 1 {
		t.Fatalf("Updated = %v", res.Updated)
	}

	def, _ := store.GetTask(ctx, key("job"))
	if def.Interval != "0 3 * * *" || def.Work.Timeout != time.Hour {
		t.Errorf("code-owned fields not updated: %+v", def)
	}
	if def.ManualInterval != "*/5 * * * *" {
		t.Errorf("ManualInterval = %q, reconcile must not touch it", def.ManualInterval)
	}
	if def.Enabled {
		t.Error("reconcile must not re-enable a disabled task")
	}
	if def.EffectiveInterval() != "*/5 * * * *" {
		t.Errorf("override should still win, got %q", def.EffectiveInterval())
	}
}

func TestRegistry_InvalidIntervalFailsOnlyThatTask(t *testing.T) {
	t.Parallel()

	store := scheduletest.NewMemoryStore()
	reg := schedule.NewRegistry(store, "", quietLogger())
	reg.Register("bad", "every day", digestWork)
	reg.Register("good", "0 0 * * *", digestWork)

	res, err := reg.Reconcile(context.Background())
	if !errors.Is(err, schedule.ErrInvalidInterval) {
		t.Fatalf("err = %v, want ErrInvalidInterval", err)
	}
	if _, ok := res.Failed["bad"]; !ok {
		t.Errorf("Failed = %v, want bad", res.Failed)
	}
	if len(res.Inserted) != 1 || res.Inserted[0] != "good" {
		t.Errorf("Inserted = %v, want [good]", res.Inserted)
	}
	if ok, _ := store.HasTask(context.Background(), key("bad")); ok {
		t.Error("invalid task must not be stored")
	}
}

func TestRegistry_NotReadySkips(t *testing.T) {
	t.Parallel()

	store := scheduletest.NewMemoryStore()
	store.NotReady = true
	reg := schedule.NewRegistry(store, "", quietLogger())
	reg.Register("job", "0 0 * * *", digestWork)

	res, err := reg.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("not ready must not be an error: %v", err)
	}
	if !res.Skipped || res.Writes() != 0 {
		t.Errorf("res = %+v, want skipped", res)
	}
	if len(reg.Pending()) != 0 {
		t.Error("buffer should be discarded even when skipped")
	}
}

func TestRegistry_InsertRaceIsBenign(t *testing.T) {
	t.Parallel()

	store := scheduletest.NewMemoryStore()
	store.InsertErr = schedule.ErrAlreadyExists
	reg := schedule.NewRegistry(store, "", quietLogger())
	reg.Register("job", "0 0 * * *", digestWork)

	res, err := reg.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("race must not surface as error: %v", err)
	}
	if len(res.Raced) != 1 {
		t.Errorf("Raced = %v", res.Raced)
	}
}

func TestRegistry_PersistenceFailureContinuesBatch(t *testing.T) {
	t.Parallel()

	store := scheduletest.NewMemoryStore()
	put(store, "existing", "0 0 * * *")
	store.InsertErr = errors.New("disk full")

	reg := schedule.NewRegistry(store, "", quietLogger())
	reg.Register("new", "0 0 * * *", digestWork)
	reg.Register("existing", "0 5 * * *", digestWork)

	res, err := reg.Reconcile(context.Background())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if _, ok := res.Failed["new"]; !ok {
		t.Errorf("Failed = %v", res.Failed)
	}
	if len(res.Updated) != 1 || res.Updated[0] != "existing" {
		t.Errorf("Updated = %v, the batch should continue", res.Updated)
	}
}

func TestRegistry_ReadyError(t *testing.T) {
	t.Parallel()

	store := scheduletest.NewMemoryStore()
	store.ReadyErr = errors.New("connection refused")
	reg := schedule.NewRegistry(store, "", quietLogger())
	reg.Register("job", "0 0 * * *", digestWork)

	res, err := reg.Reconcile(context.Background())
	if !errors.Is(err, schedule.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if len(res.Failed) != 0 || res.Writes() != 0 {
		t.Errorf("result = %+v, want no task attempted", res)
	}
}

func TestRegistry_TaskFailureIsNotPassFailure(t *testing.T) {
	t.Parallel()

	store := scheduletest.NewMemoryStore()
	reg := schedule.NewRegistry(store, "", quietLogger())
	reg.Register("job", "0 0 * * *", digestWork)
	reg.Register("typo", "61 * * * *", digestWork)

	res, err := reg.Reconcile(context.Background())
	if err == nil {
		t.Fatal("expected joined task error")
	}
	if errors.Is(err, schedule.ErrNotReady) {
		t.Errorf("err = %v, task failure reported as pass failure", err)
	}
	if _, ok := res.Failed["typo"]; !ok {
		t.Errorf("failed = %v, want typo", res.Failed)
	}
	if len(res.Inserted) != 1 || res.Inserted[0] != "job" {
		t.Errorf("inserted = %v, want [job]", res.Inserted)
	}
}

func TestRegistry_TenantScoped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := scheduletest.NewMemoryStore()
	for _, tenant := range []string{"acme", "globex"} {
		reg := schedule.NewRegistry(store, tenant, quietLogger())
		reg.Register("job", "0 0 * * *", digestWork)
		if _, err := reg.Reconcile(ctx); err != nil {
			t.Fatal(err)
		}
	}
	for _, tenant := range []string{"acme", "globex"} {
		if ok, _ := store.HasTask(ctx, schedule.Key{Name: "job", Tenant: tenant}); !ok {
			t.Errorf("job missing for tenant %s", tenant)
		}
	}
}

func TestRegistry_DefinedIsCachedUntilReconcile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := scheduletest.NewMemoryStore()
	reg := schedule.NewRegistry(store, "", quietLogger())

	ok, err := reg.Defined(ctx, "job")
	if err != nil || ok {
		t.Fatalf("Defined = %v, %v, want false", ok, err)
	}

	put(store, "job", "0 0 * * *")
	if ok, _ := reg.Defined(ctx, "job"); ok {
		t.Error("answer should be served from the unit-of-work cache")
	}

	if _, err := reg.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := reg.Defined(ctx, "job"); !ok {
		t.Error("cache should be dropped after reconcile")
	}
}

func TestRegistry_DefinedReadsStoreOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := scheduletest.NewMemoryStore()
	put(store, "job", "0 0 * * *")
	reg := schedule.NewRegistry(store, "", quietLogger())

	for range 3 {
		if ok, err := reg.Defined(ctx, "job"); err != nil || !ok {
			t.Fatalf("Defined = %v, %v, want true", ok, err)
		}
	}
	if got := store.Lookups(); got != 1 {
		t.Errorf("store lookups = %d, want 1", got)
	}
}

func TestRegistry_ReconcileSeedsDefined(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := scheduletest.NewMemoryStore()
	reg := schedule.NewRegistry(store, "", quietLogger())
	reg.Register("job", "0 0 * * *", digestWork)
	reg.Register("typo", "61 * * * *", digestWork)
	_, _ = reg.Reconcile(ctx)

	before := store.Lookups()
	if ok, _ := reg.Defined(ctx, "job"); !ok {
		t.Error("job should be defined after reconcile")
	}
	if got := store.Lookups() - before; got != 0 {
		t.Errorf("store lookups for reconciled task = %d, want 0", got)
	}
	if ok, _ := reg.Defined(ctx, "typo"); ok {
		t.Error("failed declaration reported as defined")
	}
}

func TestHasChanges_Scenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := scheduletest.NewMemoryStore()
	decl := schedule.Declaration{Name: "daily-digest", Interval: "0 0 * * *", Work: digestWork}
	if err := store.InsertTask(ctx, schedule.DefaultTenant, decl); err != nil {
		t.Fatal(err)
	}

	if got, _ := store.HasChanges(ctx, schedule.DefaultTenant, decl); got != schedule.ChangeUnchanged {
		t.Errorf("identical = %v, want unchanged", got)
	}

	timeoutOnly := decl
	timeoutOnly.Work.Timeout = 10 * time.Minute
	if got, _ := store.HasChanges(ctx, schedule.DefaultTenant, timeoutOnly); got != schedule.ChangeChanged {
		t.Errorf("timeout change = %v, want changed", got)
	}

	unknown := decl
	unknown.Name = "never-seen"
	if got, _ := store.HasChanges(ctx, schedule.DefaultTenant, unknown); got != schedule.ChangeNotFound {
		t.Errorf("unknown = %v, want not-found", got)
	}
}
