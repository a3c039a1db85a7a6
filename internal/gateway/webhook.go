package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/go-chi/chi/v5"
)

// WebhookHandler processes a validated webhook payload.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, source string, body []byte, headers http.Header) error
}

type webhookEntry struct {
	handler WebhookHandler
	secret  string
}

// WebhookDispatcher routes incoming webhooks to registered handlers with HMAC validation.
type WebhookDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]webhookEntry
	logger   *slog.Logger
}

// NewWebhookDispatcher creates a ready-to-use dispatcher.
func NewWebhookDispatcher(logger *slog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		handlers: make(map[string]webhookEntry),
		logger:   logger,
	}
}

// Register adds a handler for the given source with an optional HMAC secret.
func (d *WebhookDispatcher) Register(source string, h WebhookHandler, secret string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[source] = webhookEntry{handler: h, secret: secret}
}

// SignatureHeader carries "sha256=<hex HMAC of the body>" for sources with
// a secret.
const SignatureHeader = "X-Signature-256"

const maxWebhookBody = 1 << 20

// ServeHTTP resolves the {source} URL parameter, checks the body signature
// when the source has a secret, and hands the body to the source's handler.
func (d *WebhookDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	source := chi.URLParam(r, "source")
	d.mu.RLock()
	entry, ok := d.handlers[source]
	d.mu.RUnlock()
	if !ok {
		d.logger.Warn("webhook for unknown source", "source", source)
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	if entry.secret != "" && !validateHMAC(body, r.Header.Get(SignatureHeader), entry.secret) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if err := entry.handler.HandleWebhook(r.Context(), source, body, r.Header); err != nil {
		d.logger.Error("webhook rejected", "source", source, "error", err)
		http.Error(w, "webhook failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func validateHMAC(body []byte, signature, secret string) bool {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// runWebhookPayload is the body a webhook source sends to force a run.
type runWebhookPayload struct {
	Task   string `json:"task"`
	Tenant string `json:"tenant"`
}

// runWebhook forces a run of the task named in the payload.
type runWebhook struct {
	gateway *Gateway
	allowed []string
}

// HandleWebhook implements WebhookHandler.
func (h *runWebhook) HandleWebhook(ctx context.Context, source string, body []byte, _ http.Header) error {
	var p runWebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("gateway: webhook %s: decode payload: %w", source, err)
	}
	if p.Task == "" {
		return fmt.Errorf("gateway: webhook %s: task is required", source)
	}
	if len(h.allowed) > 0 && !slices.Contains(h.allowed, p.Task) {
		return fmt.Errorf("gateway: webhook %s: task %q not allowed", source, p.Task)
	}
	if p.Tenant == "" {
		p.Tenant = h.gateway.config.Tenant
	}

	m, ok := h.gateway.manager()
	if !ok {
		return errors.New("gateway: scheduler not running")
	}
	runID, err := m.ForceRun(ctx, schedule.Key{Name: p.Task, Tenant: p.Tenant})
	if err != nil {
		return err
	}
	h.gateway.logger.Info("webhook forced run", "source", source, "task", p.Task, "tenant", p.Tenant, "run_id", runID)
	return nil
}
