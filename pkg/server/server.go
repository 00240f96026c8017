// Package server exposes the gateway over HTTP: the /realtime
// WebSocket upgrade plus the operational endpoints (health, stats,
// broadcast, metrics).
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
	"github.com/gorilla/websocket"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/config"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/gateway"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/observability"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/realtime"
)

// Server is the client-facing HTTP server.
type Server struct {
	cfg      config.ServerConfig
	manager  *gateway.Manager
	obs      *observability.Manager
	upgrader *websocket.Upgrader

	httpServer *http.Server
}

// New builds a server around the session manager.
func New(cfg config.ServerConfig, manager *gateway.Manager, obs *observability.Manager) *Server {
	return &Server{
		cfg:      cfg,
		manager:  manager,
		obs:      obs,
		upgrader: realtime.NewUpgrader(cfg.FrontendOrigins),
	}
}

// Handler builds the router. Split out so tests can drive the routes
// without binding a port.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(loggingMiddleware)
	r.Use(recoveryMiddleware)
	r.Use(corsMiddleware)

	r.Get("/realtime", s.handleRealtime)
	r.Get("/health", s.handleHealth)
	r.Get("/sessions/stats", s.handleStats)
	r.Post("/sessions/{subject}/broadcast", s.handleBroadcast)
	r.Get("/metrics", s.metricsHandler)

	return r
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Handler(),
	}

	slog.Info("Gateway listening", "addr", s.cfg.ListenAddr, "origins", s.cfg.FrontendOrigins)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop drains the HTTP server, then tears down the live sessions.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.manager.Shutdown()
	return err
}

// handleRealtime upgrades the connection and hands it to the session
// manager. The manager owns the socket from there on.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("customer_id")

	conn, err := realtime.Accept(s.upgrader, w, r)
	if err != nil {
		slog.Warn("WebSocket upgrade rejected", "origin", r.Header.Get("Origin"), "error", err)
		return
	}

	if _, err := s.manager.Accept(r.Context(), conn, subjectID); err != nil {
		slog.Error("Session setup failed", "subject_id", subjectID, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	var frame map[string]any
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be a JSON object"})
		return
	}

	delivered := s.manager.BroadcastToSubject(subject, frame)
	respondJSON(w, http.StatusOK, map[string]any{"subject_id": subject, "delivered": delivered})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	s.obs.Handler().ServeHTTP(w, r)
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// recoveryMiddleware turns handler panics into a 500 instead of
// killing the process.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Handler panicked", "method", r.Method, "path", r.URL.Path, "panic", rec)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
