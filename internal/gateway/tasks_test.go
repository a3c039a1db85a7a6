package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/flemzord/cronsync/internal/schedule/scheduletest"
)

const testToken = "t0ken"

type apiFixture struct {
	gw      *Gateway
	handler http.Handler
	store   *scheduletest.MemoryStore
	runner  *scheduletest.MockRunner
	events  *schedule.Broadcaster
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		store:  scheduletest.NewMemoryStore(),
		runner: scheduletest.NewMockRunner(),
		events: schedule.NewBroadcaster(),
	}
	now := func() time.Time { return time.Date(2026, 3, 2, 10, 0, 30, 0, time.UTC) }
	ev := schedule.NewEvaluator(schedule.EvaluatorConfig{Store: f.store, Clock: now, Location: time.UTC})
	d := schedule.NewDispatcher(schedule.DispatcherConfig{
		Store: f.store, Runner: f.runner, Evaluator: ev, Events: f.events, Clock: now,
	})

	f.gw = newTestGateway(t, "127.0.0.1:0", AuthConfig{BearerToken: testToken, MaxAttemptsPerMinute: 1000})
	f.gw.appCtx.RegisterService("schedule.store", f.store)
	f.gw.appCtx.RegisterService("schedule.manager", schedule.NewManager(f.store, f.runner, ev, d, nil))
	f.gw.appCtx.RegisterService("schedule.events", f.events)
	f.handler = f.gw.buildRouter()

	f.store.Put(schedule.Definition{
		Key:      schedule.Key{Name: "digest", Tenant: "default"},
		Interval: "0 10 * * *",
		Work:     schedule.WorkSpec{Steps: []schedule.Step{{Command: "send-digest"}}, Timeout: time.Minute},
		Enabled:  true,
	})
	f.store.Put(schedule.Definition{
		Key:      schedule.Key{Name: "digest", Tenant: "acme"},
		Interval: "0 10 * * *",
		Enabled:  true,
	})
	return f
}

func (f *apiFixture) call(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestTasks_List(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.call(t, http.MethodGet, "/api/tasks", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var tasks []schedule.TaskSummary
	if err := json.NewDecoder(rr.Body).Decode(&tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Tenant != "default" || tasks[0].LastRun.State != schedule.RunNever {
		t.Errorf("tasks = %+v", tasks)
	}

	rr = f.call(t, http.MethodGet, "/api/tasks?tenant=nobody", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("empty tenant body = %q", rr.Body)
	}
}

func TestTasks_InfoAndNotFound(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.call(t, http.MethodGet, "/api/tasks/default/digest", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"timeout":"1m0s"`) {
		t.Errorf("body = %s", rr.Body)
	}

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/tasks/default/missing", ""},
		{http.MethodPost, "/api/tasks/default/missing/enable", ""},
		{http.MethodPost, "/api/tasks/default/missing/run", ""},
		{http.MethodPut, "/api/tasks/default/missing/interval", `{"interval":"@daily"}`},
	} {
		if rr := f.call(t, tc.method, tc.path, tc.body); rr.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, rr.Code)
		}
	}
}

func TestTasks_EnableDisable(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	if rr := f.call(t, http.MethodPost, "/api/tasks/acme/digest/disable", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("disable = %d", rr.Code)
	}
	def, _ := f.store.GetTask(t.Context(), schedule.Key{Name: "digest", Tenant: "acme"})
	if def.Enabled {
		t.Error("task still enabled")
	}
	if rr := f.call(t, http.MethodPost, "/api/tasks/acme/digest/enable", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("enable = %d", rr.Code)
	}
	def, _ = f.store.GetTask(t.Context(), schedule.Key{Name: "digest", Tenant: "acme"})
	if !def.Enabled {
		t.Error("task not re-enabled")
	}
}

func TestTasks_Interval(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	key := schedule.Key{Name: "digest", Tenant: "default"}

	if rr := f.call(t, http.MethodPut, "/api/tasks/default/digest/interval", `{"interval":"*/5 * * * *"}`); rr.Code != http.StatusNoContent {
		t.Fatalf("set = %d: %s", rr.Code, rr.Body)
	}
	def, _ := f.store.GetTask(t.Context(), key)
	if def.EffectiveInterval() != "*/5 * * * *" {
		t.Errorf("effective = %q", def.EffectiveInterval())
	}

	if rr := f.call(t, http.MethodPut, "/api/tasks/default/digest/interval", `{"interval":"nope"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid = %d, want 400", rr.Code)
	}
	if rr := f.call(t, http.MethodPut, "/api/tasks/default/digest/interval", `{`); rr.Code != http.StatusBadRequest {
		t.Errorf("malformed = %d, want 400", rr.Code)
	}

	if rr := f.call(t, http.MethodDelete, "/api/tasks/default/digest/interval", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("clear = %d", rr.Code)
	}
	def, _ = f.store.GetTask(t.Context(), key)
	if def.Overridden() {
		t.Error("override not cleared")
	}
}

func TestTasks_ForceRun(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.call(t, http.MethodPost, "/api/tasks/default/digest/run", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]string
	_ = json.NewDecoder(rr.Body).Decode(&body)
	if body["run_id"] != "run-1" {
		t.Errorf("body = %v", body)
	}
	if len(f.store.HistoryEntries()) != 1 {
		t.Error("history not recorded")
	}
}

func TestTasks_Due(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.call(t, http.MethodGet, "/api/due?since=2026-03-02T09:55:00Z", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Now   time.Time `json:"now"`
		Tasks []dueJSON `json:"tasks"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tasks) != 2 {
		t.Errorf("due = %+v, want digest for both tenants", body.Tasks)
	}
	if len(f.runner.Started()) != 0 {
		t.Error("preview must not dispatch")
	}

	if rr := f.call(t, http.MethodGet, "/api/due?since=yesterday", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad since = %d, want 400", rr.Code)
	}
}

func TestTasks_Purge(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.call(t, http.MethodDelete, "/api/tenants/acme/tasks", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"deleted":1`) {
		t.Errorf("purge = %d %s", rr.Code, rr.Body)
	}

	f.store.NotReady = true
	if rr := f.call(t, http.MethodDelete, "/api/tenants/acme/tasks", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready = %d, want 503", rr.Code)
	}
}

type fakeTrigger struct{ err error }

func (f fakeTrigger) EvaluateNow() error { return f.err }

func TestTasks_EvaluateAndStatus(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	if rr := f.call(t, http.MethodPost, "/api/evaluate", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("without trigger = %d, want 503", rr.Code)
	}
	f.gw.appCtx.RegisterService("schedule.trigger", fakeTrigger{})
	if rr := f.call(t, http.MethodPost, "/api/evaluate", ""); rr.Code != http.StatusOK {
		t.Errorf("evaluate = %d", rr.Code)
	}
	f.gw.appCtx.RegisterService("schedule.trigger", fakeTrigger{err: errors.New("cron: job already running")})
	if rr := f.call(t, http.MethodPost, "/api/evaluate", ""); rr.Code != http.StatusConflict {
		t.Errorf("busy = %d, want 409", rr.Code)
	}

	rr := f.call(t, http.MethodGet, "/status", "")
	var status StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Tasks != 1 || status.Tenant != "default" {
		t.Errorf("status = %+v", status)
	}
}

func TestTasks_NoScheduler(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, "127.0.0.1:0", AuthConfig{BearerToken: testToken})
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}
