package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flemzord/cronsync/internal/config"
	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/internal/redact"
)

// moduleJSON is a serializable module info snapshot.
type moduleJSON struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// handleGetAllModules lists all compiled modules (for /api/modules).
func (g *Gateway) handleGetAllModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mods := core.GetModules()
		out := make([]moduleJSON, 0, len(mods))
		for _, m := range mods {
			out = append(out, moduleJSON{
				ID:        string(m.ID),
				Namespace: m.ID.Namespace(),
				Name:      m.ID.Name(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (g *Gateway) configPath() string {
	path, _ := service[string](g.appCtx, "config.path")
	return path
}

// redactor returns the process redactor, or a pattern-only one.
func (g *Gateway) redactor() *redact.Redactor {
	if r, ok := service[*redact.Redactor](g.appCtx, "redact.redactor"); ok {
		return r
	}
	return redact.New()
}

// handleGetConfig returns the current config with secrets redacted.
func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		cfgPath := g.configPath()
		if cfgPath == "" {
			http.Error(w, "config path not set", http.StatusServiceUnavailable)
			return
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			http.Error(w, "failed to load config", http.StatusInternalServerError)
			return
		}

		generic, err := config.Generic(cfg)
		if err != nil {
			http.Error(w, "failed to serialize config", http.StatusInternalServerError)
			return
		}

		g.redactor().Map(generic)
		writeJSON(w, http.StatusOK, generic)
	}
}

// handleReloadConfig triggers a hot-reload of the configuration.
func (g *Gateway) handleReloadConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfgPath := g.configPath()
		if cfgPath == "" {
			http.Error(w, "config path not set", http.StatusServiceUnavailable)
			return
		}
		reloader, ok := service[Reloader](g.appCtx, "reload.handler")
		if !ok {
			writeError(w, http.StatusServiceUnavailable, errors.New("reload not available"))
			return
		}

		if err := reloader.HandleReload(r.Context(), cfgPath); err != nil {
			g.logger.Error("config reload failed", "error", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	}
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
