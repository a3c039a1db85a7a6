// Package app assembles the cronsync process: configuration, logging,
// tracing and the module lifecycle. It backs both the daemon and the
// operator commands of the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flemzord/cronsync/internal/config"
	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/internal/redact"
	"github.com/flemzord/cronsync/internal/reload"
	"github.com/flemzord/cronsync/internal/telemetry"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version is reported as the trace service version and in logs.
	Version string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// Workspace overrides the default working directory for task steps.
	Workspace string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level

	// LogJSON switches the log output to JSON lines.
	LogJSON bool
}

// NewLogger builds the process logger. Logs go to stderr so stdout stays
// free for command output and the MCP stdio transport. With a non-nil
// redactor every record is scrubbed first.
func NewLogger(level slog.Level, json bool, r *redact.Redactor) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if json {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	if r != nil {
		h = redact.NewHandler(h, r)
	}
	return slog.New(h)
}

// newRedactor collects the secrets present in cfg.
func newRedactor(cfg *config.Config) *redact.Redactor {
	r := redact.New()
	r.FromModules(cfg.Modules)
	return r
}

// loadConfig resolves, loads and validates the configuration file.
func loadConfig(path string) (string, *config.Config, error) {
	if path == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return "", nil, err
		}
		path = resolved
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return "", nil, err
	}
	return path, cfg, nil
}

// newApp builds the root context, registers process-wide services and
// loads the configured modules.
func newApp(params RunParams, cfgPath string, cfg *config.Config, logger *slog.Logger, r *redact.Redactor) (*core.App, error) {
	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	workspace := params.Workspace
	if workspace == "" {
		workspace = DefaultWorkspace()
	}

	appCtx := core.NewAppContext(logger, dataDir, workspace)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService("config.path", cfgPath)
	appCtx.RegisterService("redact.redactor", r)

	application := core.NewApp(appCtx)
	if err := application.LoadModules(config.Resolve(cfg)); err != nil {
		return nil, err
	}
	return application, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	var tc telemetry.Config
	if cfg.Telemetry != nil {
		tc = *cfg.Telemetry
	}
	shutdown, err := telemetry.InitTracer(ctx, tc.ServiceName, tc.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		return func() {}
	}
	return shutdown
}

// Run loads configuration, starts all modules and blocks until ctx is
// cancelled or SIGINT/SIGTERM arrives. SIGHUP and content changes of the
// configuration file reload modules implementing core.Reloader.
func Run(ctx context.Context, params RunParams) error {
	cfgPath, cfg, err := loadConfig(params.ConfigPath)
	if err != nil {
		return err
	}

	redactor := newRedactor(cfg)
	logger := NewLogger(params.LogLevel, params.LogJSON, redactor)
	shutdownTracing := initTracing(ctx, cfg, logger)
	defer shutdownTracing()

	application, err := newApp(params, cfgPath, cfg, logger, redactor)
	if err != nil {
		return err
	}

	// Registered before Start so the gateway can serve /api/config/reload.
	handler := reload.NewHandler(application, logger)
	handler.OnApplied = func(cfg *config.Config) {
		redactor.Reset()
		redactor.FromModules(cfg.Modules)
	}
	application.Context().RegisterService("reload.handler", handler)

	if err := application.Start(); err != nil {
		return err
	}
	logger.Info("cronsync started", "version", params.Version, "config", cfgPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	watcher := reload.NewWatcher(reload.WatcherConfig{ConfigPath: cfgPath})
	watcher.Start(watchCtx)
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown requested")
			application.Stop()
			return nil
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				if err := handler.HandleReload(watchCtx, cfgPath); err != nil {
					logger.Error("reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutdown signal received", "signal", sig.String())
			application.Stop()
			logger.Info("shutdown complete")
			return nil
		case evt := <-watcher.Events():
			logger.Info("config file changed, reloading", "path", evt.ConfigPath, "digest", evt.Digest[:12])
			if err := handler.HandleReload(watchCtx, cfgPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/cronsync/cronsync.yaml (or
// ~/.config/cronsync/cronsync.yaml), /etc/cronsync/cronsync.yaml, ./cronsync.yaml.
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "cronsync", "cronsync.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "cronsync", "cronsync.yaml"))
	}

	candidates = append(candidates, filepath.Join("/etc", "cronsync", "cronsync.yaml"), "cronsync.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/cronsync if set, otherwise ~/.local/share/cronsync.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "cronsync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "cronsync")
}

// DefaultWorkspace returns the current working directory.
func DefaultWorkspace() string {
	dir, _ := os.Getwd()
	return dir
}
