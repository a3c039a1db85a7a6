package reload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flemzord/cronsync/internal/config"
	"github.com/flemzord/cronsync/internal/core"
)

// Handler re-reads the configuration file and hands the new module nodes
// to every module implementing core.Reloader.
type Handler struct {
	app    *core.App
	logger *slog.Logger

	// OnApplied, if set, runs after modules accepted a new config.
	OnApplied func(cfg *config.Config)

	// mu serializes reloads coming from SIGHUP, the watcher and the API.
	mu sync.Mutex
}

// NewHandler creates a reload handler.
func NewHandler(app *core.App, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{app: app, logger: logger}
}

// HandleReload loads configPath, validates it and reloads modules.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.HandleReloadFromConfig(ctx, cfg)
}

// HandleReloadFromConfig reloads modules from an already validated config.
func (h *Handler) HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Derive from the root context so modules keep seeing the services
	// registered at startup.
	appCtx := h.app.Context().WithModuleConfigs(cfg.Modules)
	if err := h.app.ReloadModules(appCtx); err != nil {
		return fmt.Errorf("reloading modules: %w", err)
	}

	if h.OnApplied != nil {
		h.OnApplied(cfg)
	}
	h.logger.Info("configuration reloaded", "modules", len(cfg.Modules))
	return nil
}
