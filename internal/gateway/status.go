package gateway

import (
	"net/http"
	"time"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime           time.Duration `json:"uptime_seconds"`
	Tenant           string        `json:"tenant"`
	Tasks            int           `json:"tasks"`
	EventSubscribers int           `json:"event_subscribers"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Uptime: time.Since(g.startedAt).Truncate(time.Second),
			Tenant: g.config.Tenant,
		}

		if m, ok := g.manager(); ok {
			if tasks, err := m.List(r.Context(), g.config.Tenant); err == nil {
				resp.Tasks = len(tasks)
			}
		}
		if ev, ok := g.events(); ok {
			resp.EventSubscribers = ev.Subscribers()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
