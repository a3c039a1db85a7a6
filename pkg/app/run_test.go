package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"

	_ "github.com/flemzord/cronsync/modules/runner/shell"
	_ "github.com/flemzord/cronsync/modules/store/sqlite"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestResolveConfigPath_XDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cronsync", "cronsync.yaml")
	writeFile(t, cfgPath, "version: \"1\"")

	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cfgPath {
		t.Errorf("got %q, want %q", got, cfgPath)
	}
}

func TestResolveConfigPath_NotFound(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/nonexistent/path")
	t.Chdir(t.TempDir())

	if _, err := os.Stat("/etc/cronsync/cronsync.yaml"); err == nil {
		t.Skip("system configuration present")
	}
	if _, err := ResolveConfigPath(); err == nil {
		t.Error("expected error when no config file found")
	}
}

func TestDefaultDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != "/custom/data/cronsync" {
		t.Errorf("got %q", got)
	}

	t.Setenv("XDG_DATA_HOME", "")
	_ = os.Unsetenv("XDG_DATA_HOME")
	home, _ := os.UserHomeDir()
	if got, want := DefaultDataDir(), filepath.Join(home, ".local", "share", "cronsync"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	badYAML := filepath.Join(dir, "bad.yaml")
	writeFile(t, badYAML, "not: valid: yaml: [")
	noVersion := filepath.Join(dir, "noversion.yaml")
	writeFile(t, noVersion, "modules:\n  store.sqlite: {}\n")

	for _, path := range []string{filepath.Join(dir, "missing.yaml"), badYAML, noVersion} {
		if err := Run(context.Background(), RunParams{ConfigPath: path}); err == nil {
			t.Errorf("Run(%s): expected error", filepath.Base(path))
		}
	}
}

func sessionConfig(t *testing.T) RunParams {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cronsync.yaml")
	writeFile(t, path, `version: "1"
modules:
  store.sqlite:
    path: `+filepath.Join(dir, "cron.db")+`
  runner.shell: {}
  scheduler:
    tenants: [acme]
    location: UTC
    tasks:
      - name: hello
        interval: "*/5 * * * *"
        steps:
          - command: echo
            args: [hello]
`)
	return RunParams{ConfigPath: path, DataDir: dir, Workspace: dir, LogLevel: slog.LevelError}
}

func TestSession_SyncAndForceRun(t *testing.T) {
	s, err := OpenSession(sessionConfig(t))
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer s.Close()

	results, err := s.Sync(t.Context())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := results["acme"].Inserted; len(got) != 1 || got[0] != "hello" {
		t.Fatalf("inserted = %v", got)
	}

	tasks, err := s.Manager().List(t.Context(), "acme")
	if err != nil || len(tasks) != 1 {
		t.Fatalf("List = %v, %v", tasks, err)
	}

	runID, err := s.Manager().ForceRun(t.Context(), schedule.Key{Name: "hello", Tenant: "acme"})
	if err != nil {
		t.Fatalf("ForceRun: %v", err)
	}
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	info, err := s.WaitRun(ctx, runID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitRun: %v", err)
	}
	if info.State != schedule.RunSucceeded {
		t.Errorf("state = %s, output %q", info.State, info.Output)
	}
}

func TestOpenSession_RequiresScheduler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cronsync.yaml")
	writeFile(t, path, "version: \"1\"\nmodules:\n  store.sqlite:\n    path: "+filepath.Join(dir, "cron.db")+"\n")

	if _, err := OpenSession(RunParams{ConfigPath: path, DataDir: dir, LogLevel: slog.LevelError}); err == nil {
		t.Fatal("expected error without scheduler module")
	}
}
