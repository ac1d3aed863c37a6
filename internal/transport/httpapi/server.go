// Package httpapi serves the simulation query surface as JSON over HTTP,
// alongside the WebSocket and metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rewired-gh/streamsim/internal/correlation"
	"github.com/rewired-gh/streamsim/internal/logger"
	"github.com/rewired-gh/streamsim/internal/models"
	"github.com/rewired-gh/streamsim/internal/scenario"
	"github.com/rewired-gh/streamsim/internal/simulation"
)

const apiPrefix = "/api/simulation"

// Simulation is the query surface the handlers call.
type Simulation interface {
	ListScenarios() []scenario.Summary
	ActivateScenario(id string) (models.ScenarioModifier, []models.ExternalEvent, error)
	StopScenario() (models.ScenarioModifier, error)
	Reset()
	State() models.SimulationState
	GenerateEvent(stream string) (models.StreamEvent, error)
	GenerateAll() ([]models.StreamEvent, error)
	History(ctx context.Context, q simulation.HistoryQuery) (*simulation.HistoryResult, error)
	Correlations(f correlation.Filter) []models.CorrelationData
	Audit(limit int) ([]models.AuditEntry, error)
}

// Config holds the listener settings.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server routes HTTP requests to the simulation.
type Server struct {
	sim     Simulation
	ws      http.Handler
	metrics http.Handler
	srv     *http.Server
}

// New builds a server. ws and metrics may be nil, in which case their
// routes answer 404.
func New(cfg Config, sim Simulation, ws, metrics http.Handler) *Server {
	if ws == nil {
		ws = http.NotFoundHandler()
	}
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	s := &Server{sim: sim, ws: ws, metrics: metrics}
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler wrapped in CORS and logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	r.Handle("/ws", s.ws).Methods(http.MethodGet)

	// Root router only: a PathPrefix subrouter answers 404 on method mismatch.
	api := func(path string, h http.HandlerFunc, method string) {
		r.HandleFunc(apiPrefix+path, h).Methods(method)
	}
	api("/scenarios", s.listScenarios, http.MethodGet)
	api("/scenario", s.activateScenario, http.MethodPost)
	api("/stop", s.stopScenario, http.MethodPost)
	api("/reset", s.reset, http.MethodPost)
	api("/state", s.state, http.MethodGet)
	api("/events", s.generateEvent, http.MethodGet)
	api("/events/all", s.generateAll, http.MethodGet)
	api("/history", s.history, http.MethodGet)
	api("/correlations", s.correlations, http.MethodGet)
	api("/audit", s.audit, http.MethodGet)

	return cors(logRequests(r))
}

// ListenAndServe blocks until the server stops. It returns nil after a
// graceful shutdown.
func (s *Server) ListenAndServe() error {
	logger.Info("HTTP server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type errorResponse struct {
	Error              string `json:"error"`
	BlockingScenarioID string `json:"blockingScenarioId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

// writeError maps typed errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	if id, ok := models.IsConflict(err); ok {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), BlockingScenarioID: id})
		return
	}
	switch {
	case models.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case models.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		logger.Error("Request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
