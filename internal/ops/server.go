// Package ops exposes the operational HTTP surface: health, metrics, and a
// read-only view of the live rooms.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voiceloft/internal/observability/logging"
	"voiceloft/internal/observability/metrics"
	"voiceloft/internal/rooms"
)

// RoomLister supplies the room snapshot served by the API.
type RoomLister interface {
	Snapshot() []rooms.RoomStatus
}

// Pinger reports downstream reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires the ops server.
type Config struct {
	Addr string
	// TokenHash protects /api routes. Empty disables authentication.
	TokenHash string
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Rooms     RoomLister
	// Platform and Store are optional health probes.
	Platform Pinger
	Store    Pinger
}

// Server is the ops HTTP server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Server
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "ops")
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Default()
	}

	s := &Server{cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", rec.Handler())
	mux.Handle("/api/v1/rooms", s.requireToken(http.HandlerFunc(s.handleRooms)))

	handler := logging.RequestLogger(logger)(metrics.HTTPMiddleware(rec, mux))
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.TokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || VerifyToken(s.cfg.TokenHash, strings.TrimSpace(token)) != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	response := healthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK
	for name, probe := range map[string]Pinger{"platform": s.cfg.Platform, "store": s.cfg.Store} {
		if probe == nil {
			continue
		}
		if err := probe.Ping(ctx); err != nil {
			response.Checks[name] = err.Error()
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Checks[name] = "ok"
	}
	writeJSON(w, status, response)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snapshot := []rooms.RoomStatus{}
	if s.cfg.Rooms != nil {
		snapshot = s.cfg.Rooms.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": snapshot})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
