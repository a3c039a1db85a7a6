// Package gateway provides an HTTP server for task administration,
// monitoring, live dispatch events and webhooks. It binds to loopback by
// default and follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/internal/schedule"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Gateway{})
}

var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Trigger runs an evaluation outside the minute tick.
type Trigger interface {
	EvaluateNow() error
}

// Reloader reloads configuration from a file.
type Reloader interface {
	HandleReload(ctx context.Context, configPath string) error
}

// Gateway is the HTTP gateway module. It is a leaf module; nothing imports it.
// Scheduling services are resolved per request since the scheduler may
// start after the gateway.
type Gateway struct {
	config     Config
	appCtx     *core.AppContext
	logger     *slog.Logger
	server     *http.Server
	dispatcher *WebhookDispatcher
	startedAt  time.Time
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.dispatcher = NewWebhookDispatcher(g.logger)

	for source, cfg := range g.config.Webhooks {
		g.dispatcher.Register(source, &runWebhook{gateway: g, allowed: cfg.Tasks}, cfg.Secret)
		g.logger.Info("webhook source configured", "source", source, "signed", cfg.Secret != "")
	}
	ctx.RegisterService("gateway.webhook_dispatcher", g.dispatcher)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

func (g *Gateway) manager() (*schedule.Manager, bool) {
	return service[*schedule.Manager](g.appCtx, "schedule.manager")
}

func (g *Gateway) events() (*schedule.Broadcaster, bool) {
	return service[*schedule.Broadcaster](g.appCtx, "schedule.events")
}

func (g *Gateway) store() (schedule.Store, bool) {
	return service[schedule.Store](g.appCtx, "schedule.store")
}

func service[T any](ctx *core.AppContext, name string) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	svc, ok := ctx.Service(name)
	if !ok {
		return zero, false
	}
	v, ok := svc.(T)
	return v, ok
}
