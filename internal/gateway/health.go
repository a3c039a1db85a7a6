package gateway

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status     string `json:"status"` // "ok" or "degraded"
	StoreReady bool   `json:"store_ready"`
	Scheduler  bool   `json:"scheduler"`
	Error      string `json:"error,omitempty"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when the store is ready, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		_, resp.Scheduler = g.manager()

		if store, ok := g.store(); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			ready, err := store.Ready(ctx)
			cancel()
			resp.StoreReady = ready
			if err != nil {
				resp.Error = err.Error()
			}
		}
		if !resp.StoreReady {
			resp.Status = "degraded"
		}

		code := http.StatusOK
		if resp.Status == "degraded" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}
