package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/OrlandoBitencourt/pennant/internal/logging"
)

// Controller defines what the admin server needs from the client
type Controller interface {
	Ready() bool
	Stats() any
	Refresh(ctx context.Context) error
	Flush(ctx context.Context) error
}

// AdminServer provides admin HTTP endpoints
type AdminServer struct {
	ctrl   Controller
	port   int
	logger *slog.Logger
	srv    *http.Server
}

// NewAdminServer creates a new admin server
func NewAdminServer(ctrl Controller, port int, logger *slog.Logger) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AdminServer{
		ctrl:   ctrl,
		port:   port,
		logger: logger.With(logging.Component("admin")),
	}
	a.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a
}

// Handler returns the admin router.
func (a *AdminServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", a.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/stats", a.handleStats)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/flush", a.handleFlush)
	})

	return r
}

// Start starts the admin HTTP server and blocks until Shutdown.
func (a *AdminServer) Start() error {
	a.logger.Info("admin server listening", slog.String("addr", a.srv.Addr))
	return listen(a.srv)
}

// Shutdown stops the admin server.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if !a.ctrl.Ready() {
		status, code = "initializing", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]string{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (a *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Stats())
}

func (a *AdminServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.Refresh(r.Context()); err != nil {
		a.logger.Warn("admin refresh failed", logging.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AdminServer) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.Flush(r.Context()); err != nil {
		a.logger.Warn("admin flush failed", logging.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
