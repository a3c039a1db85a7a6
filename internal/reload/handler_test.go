package reload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/flemzord/cronsync/internal/config"
	"github.com/flemzord/cronsync/internal/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newHandler() *Handler {
	logger := testLogger()
	return NewHandler(core.NewApp(core.NewAppContext(logger, stateDir, stateDir)), logger)
}

const stateDir = "/var/lib/cronsync"

func TestHandler_HandleReload_Rejects(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := map[string]string{
		"missing file":   filepath.Join(dir, "absent.yaml"),
		"no version":     write("noversion.yaml", "modules: {}"),
		"unknown module": write("unknown.yaml", "version: \"1\"\nmodules:\n  store.nowhere: {}\n"),
		"bad yaml":       write("bad.yaml", "version: [\n"),
	}
	for name, path := range tests {
		if err := newHandler().HandleReload(context.Background(), path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestHandler_HandleReloadFromConfig_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := newHandler().HandleReloadFromConfig(ctx, &config.Config{Version: "1"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

type reloadRecorder struct {
	id     string
	called int
	tasks  string
	lookup bool
}

func (m *reloadRecorder) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: core.ModuleID(m.id), New: func() core.Module { return &reloadRecorder{id: m.id} }}
}

func (m *reloadRecorder) Reload(ctx *core.AppContext) error {
	m.called++
	var cfg struct {
		Tasks string `yaml:"tasks"`
	}
	if node, ok := ctx.ModuleConfig(m.id); ok {
		if err := node.Decode(&cfg); err != nil {
			return err
		}
	}
	m.tasks = cfg.Tasks
	_, m.lookup = ctx.Service("schedule.store")
	return nil
}

func TestHandler_HandleReload_KeepsServices(t *testing.T) {
	id := "reloadtest.recorder"
	core.RegisterModule(&reloadRecorder{id: id})

	dir := t.TempDir()
	path := filepath.Join(dir, "ok.yaml")
	content := "version: \"1\"\nmodules:\n  " + id + ":\n    tasks: nightly\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	logger := testLogger()
	appCtx := core.NewAppContext(logger, stateDir, stateDir)
	appCtx.RegisterService("schedule.store", struct{}{})
	a := core.NewApp(appCtx)
	rec := &reloadRecorder{id: id}
	a.AppendModule(id, rec)

	h := NewHandler(a, logger)
	var applied *config.Config
	h.OnApplied = func(cfg *config.Config) { applied = cfg }
	if err := h.HandleReload(context.Background(), path); err != nil {
		t.Fatalf("HandleReload: %v", err)
	}
	if applied == nil || len(applied.Modules) != 1 {
		t.Errorf("OnApplied got %+v", applied)
	}
	if rec.called != 1 || rec.tasks != "nightly" {
		t.Errorf("recorder = %+v", rec)
	}
	if !rec.lookup {
		t.Error("reloaded module lost access to shared services")
	}
}
