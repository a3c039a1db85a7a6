package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

type recordingWebhook struct {
	calls int
	body  string
	err   error
}

func (h *recordingWebhook) HandleWebhook(_ context.Context, _ string, body []byte, _ http.Header) error {
	h.calls++
	h.body = string(body)
	return h.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookDispatcher(t *testing.T) {
	t.Parallel()

	const payload = `{"task":"digest"}`
	tests := []struct {
		name      string
		method    string
		source    string
		signature string
		wantCode  int
		wantCalls int
	}{
		{"signed", http.MethodPost, "ci", signPayload([]byte(payload), "s3cret"), http.StatusOK, 1},
		{"bad signature", http.MethodPost, "ci", "sha256=00ff", http.StatusUnauthorized, 0},
		{"not hex", http.MethodPost, "ci", "sha256=zz", http.StatusUnauthorized, 0},
		{"missing signature", http.MethodPost, "ci", "", http.StatusUnauthorized, 0},
		{"open source", http.MethodPost, "open", "", http.StatusOK, 1},
		{"handler error", http.MethodPost, "broken", "", http.StatusInternalServerError, 1},
		{"unknown source", http.MethodPost, "nobody", "", http.StatusNotFound, 0},
		{"wrong method", http.MethodGet, "ci", "", http.StatusMethodNotAllowed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := &recordingWebhook{}
			if tt.source == "broken" {
				h.err = errors.New("task not allowed")
			}
			d := NewWebhookDispatcher(testLogger())
			d.Register("ci", h, "s3cret")
			d.Register("open", h, "")
			d.Register("broken", h, "")

			r := chi.NewRouter()
			r.Post("/webhooks/{source}", d.ServeHTTP)

			req := httptest.NewRequest(tt.method, "/webhooks/"+tt.source, strings.NewReader(payload))
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if h.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", h.calls, tt.wantCalls)
			}
			if tt.wantCalls > 0 && h.body != payload {
				t.Errorf("body = %q", h.body)
			}
		})
	}
}

func TestRunWebhook_ForcesRun(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.gw.config.Webhooks = map[string]WebhookSourceCfg{"ci": {Secret: "s", Tasks: []string{"digest"}}}
	if err := f.gw.Provision(f.gw.appCtx); err != nil {
		t.Fatal(err)
	}
	handler := f.gw.buildRouter()

	post := func(body string, signed bool) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/ci", strings.NewReader(body))
		if signed {
			req.Header.Set(SignatureHeader, signPayload([]byte(body), "s"))
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := post(`{"task":"digest","tenant":"acme"}`, true); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	started := f.runner.Started()
	if len(started) != 1 || started[0].Tenant != "acme" {
		t.Errorf("started = %+v", started)
	}

	if code := post(`{"task":"digest"}`, false); code != http.StatusUnauthorized {
		t.Errorf("unsigned = %d, want 401", code)
	}
	if code := post(`{"task":"other"}`, true); code != http.StatusInternalServerError {
		t.Errorf("disallowed task = %d, want 500", code)
	}
	if code := post(`{"task":"digest","tenant":"nobody"}`, true); code != http.StatusInternalServerError {
		t.Errorf("unknown task = %d, want 500", code)
	}
	if len(f.runner.Started()) != 1 {
		t.Error("rejected webhooks must not dispatch")
	}
}
