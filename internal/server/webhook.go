package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/OrlandoBitencourt/pennant/internal/logging"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Webhook-Signature"

// Refresher reloads the flag store.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// WebhookServer refreshes the flag store when the flag service reports a change
type WebhookServer struct {
	refresher Refresher
	port      int
	secret    string
	logger    *slog.Logger
	srv       *http.Server
}

// WebhookPayload represents the webhook payload from the flag service
type WebhookPayload struct {
	Event     string   `json:"event"`
	FlagKeys  []string `json:"flag_keys"`
	Timestamp string   `json:"timestamp"`
}

// NewWebhookServer creates a new webhook server
func NewWebhookServer(refresher Refresher, port int, secret string, logger *slog.Logger) *WebhookServer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WebhookServer{
		refresher: refresher,
		port:      port,
		secret:    secret,
		logger:    logger.With(logging.Component("webhook")),
	}
	w.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           w.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return w
}

// Handler returns the webhook router.
func (w *WebhookServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/webhook", w.handleWebhook)
	return r
}

// Start starts the webhook HTTP server and blocks until Shutdown.
func (w *WebhookServer) Start() error {
	w.logger.Info("webhook server listening", slog.String("addr", w.srv.Addr))
	return listen(w.srv)
}

// Shutdown stops the webhook server.
func (w *WebhookServer) Shutdown(ctx context.Context) error {
	return w.srv.Shutdown(ctx)
}

func (w *WebhookServer) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Failed to read body", http.StatusBadRequest)
		return
	}

	if w.secret != "" && !w.verifySignature(r, body) {
		http.Error(rw, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	switch payload.Event {
	case "flag.updated", "flag.deleted":
		if err := w.refresher.Refresh(r.Context()); err != nil {
			w.logger.Warn("webhook refresh failed",
				slog.String("event", payload.Event),
				slog.Any("flag_keys", payload.FlagKeys),
				logging.Error(err),
			)
			writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"status": "error"})
			return
		}
		w.logger.Info("flags refreshed from webhook",
			slog.String("event", payload.Event),
			slog.Any("flag_keys", payload.FlagKeys),
		)
	default:
		w.logger.Debug("ignoring webhook event", slog.String("event", payload.Event))
	}

	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

// Sign returns the signature expected for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (w *WebhookServer) verifySignature(r *http.Request, body []byte) bool {
	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(w.secret, body)))
}
