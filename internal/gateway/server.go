package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", promhttp.Handler())

	// Webhooks carry their own HMAC auth per source.
	r.Post("/webhooks/{source}", g.dispatcher.ServeHTTP)

	// Admin endpoints. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth, g.logger))
			r.Get("/status", g.handleStatus())
			r.Get("/ws/events", g.handleEvents())
			r.Route("/api", func(r chi.Router) {
				r.Get("/tasks", g.handleListTasks())
				r.Route("/tasks/{tenant}/{name}", func(r chi.Router) {
					r.Get("/", g.handleTaskInfo())
					r.Post("/enable", g.handleSetEnabled(true))
					r.Post("/disable", g.handleSetEnabled(false))
					r.Put("/interval", g.handleSetInterval())
					r.Delete("/interval", g.handleClearInterval())
					r.Post("/run", g.handleForceRun())
				})
				r.Delete("/tenants/{tenant}/tasks", g.handlePurge())
				r.Get("/due", g.handleDue())
				r.Post("/evaluate", g.handleEvaluate())
				r.Get("/modules", g.handleGetAllModules())
				r.Get("/config", g.handleGetConfig())
				r.Post("/config/reload", g.handleReloadConfig())
			})
		})
	}

	return r
}
