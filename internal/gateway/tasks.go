package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/go-chi/chi/v5"
)

// dueJSON is one entry of GET /api/due.
type dueJSON struct {
	Name      string    `json:"name"`
	Tenant    string    `json:"tenant"`
	MatchedAt time.Time `json:"matched_at"`
}

type intervalRequest struct {
	Interval string `json:"interval"`
}

// withManager resolves the manager or answers 503.
func (g *Gateway) withManager(fn func(http.ResponseWriter, *http.Request, *schedule.Manager)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := g.manager()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, errors.New("scheduler not running"))
			return
		}
		fn(w, r, m)
	}
}

func taskKey(r *http.Request) schedule.Key {
	return schedule.Key{Name: chi.URLParam(r, "name"), Tenant: chi.URLParam(r, "tenant")}
}

func (g *Gateway) handleListTasks() http.HandlerFunc {
	return g.withManager(func(w http.ResponseWriter, r *http.Request, m *schedule.Manager) {
		tenant := r.URL.Query().Get("tenant")
		if tenant == "" {
			tenant = g.config.Tenant
		}
		tasks, err := m.List(r.Context(), tenant)
		if err != nil {
			writeScheduleError(w, err)
			return
		}
		if tasks == nil {
			tasks = []schedule.TaskSummary{}
		}
		writeJSON(w, http.StatusOK, tasks)
	})
}

func (g *Gateway) handleTaskInfo() http.HandlerFunc {
	return g.withManager(func(w http.ResponseWriter, r *http.Request, m *schedule.Manager) {
		info, err := m.Info(r.Context(), taskKey(r))
		if err != nil {
			writeScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	})
}

func (g *Gateway) handleSetEnabled(enabled bool) http.HandlerFunc {
	return g.withManager(func(w http.ResponseWriter, r *http.Request, m *schedule.Manager) {
		var err error
		if enabled {
			err = m.Enable(r.Context(), taskKey(r))
		} else {
			err = m.Disable(r.Context(), taskKey(r))
		}
		if err != nil {
			writeScheduleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (g *Gateway) handleSetInterval() http.HandlerFunc {
	return g.withManager(func(w http.ResponseWriter, r *http.Request, m *schedule.Manager) {
		var req intervalRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
			return
		}
		if err := m.SetInterval(r.Context(), taskKey(r), req.Interval); err != nil {
			writeScheduleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (g *Gateway) handleClearInterval() http.HandlerFunc {
	return g.withManager(func(w http.ResponseWriter, r *http.Request, m *schedule.Manager) {
		if err := m.ClearInterval(r.Context(), taskKey(r)); err != nil {
			writeScheduleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (g *Gateway) handleForceRun() http.HandlerFunc {
	return g.withManager(func(w http.ResponseWriter, r *http.Request, m *schedule.Manager) {
		runID, err := m.ForceRun(r.Context(), taskKey(r))
		if err != nil {
			writeScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	})
}

func (g *Gateway) handlePurge() http.HandlerFunc {
	return g.withManager(func(w http.ResponseWriter, r *http.Request, m *schedule.Manager) {
		n, err := m.Purge(r.Context(), chi.URLParam(r, "tenant"))
		if err != nil {
			writeScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	})
}

// handleDue previews what an evaluation would dispatch. The optional since
// query parameter (RFC 3339) is the last checked time.
func (g *Gateway) handleDue() http.HandlerFunc {
	return g.withManager(func(w http.ResponseWriter, r *http.Request, m *schedule.Manager) {
		var since *time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, errors.New("since must be RFC 3339"))
				return
			}
			since = &t
		}

		set, err := m.Due(r.Context(), since)
		if err != nil {
			writeScheduleError(w, err)
			return
		}
		out := make([]dueJSON, 0, len(set.Tasks))
		for _, task := range set.Tasks {
			out = append(out, dueJSON{Name: task.Name, Tenant: task.Tenant, MatchedAt: task.MatchedAt})
		}
		writeJSON(w, http.StatusOK, map[string]any{"now": set.Now, "tasks": out})
	})
}

func (g *Gateway) handleEvaluate() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		trigger, ok := service[Trigger](g.appCtx, "schedule.trigger")
		if !ok {
			writeError(w, http.StatusServiceUnavailable, errors.New("scheduler not running"))
			return
		}
		if err := trigger.EvaluateNow(); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "evaluated"})
	}
}

// writeScheduleError maps scheduling sentinels to HTTP status codes.
func writeScheduleError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, schedule.ErrInvalidInterval):
		code = http.StatusBadRequest
	case errors.Is(err, schedule.ErrNotReady):
		code = http.StatusServiceUnavailable
	case errors.Is(err, schedule.ErrUnsupported):
		code = http.StatusNotImplemented
	}
	writeError(w, code, err)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
