// Package server exposes SPSA minimization jobs over REST and JSON-RPC 2.0.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"

	"github.com/copyleftdev/spsa/internal/config"
	"github.com/copyleftdev/spsa/internal/errors"
	"github.com/copyleftdev/spsa/internal/logging"
	"github.com/copyleftdev/spsa/internal/metrics"
	"github.com/copyleftdev/spsa/internal/objectives"
	"github.com/copyleftdev/spsa/internal/optimization"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server implements the HTTP and JSON-RPC server for the optimization service.
// It manages minimization jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg     *config.Config
	logger  Logger
	metrics *metrics.Metrics

	// Bounds the number of jobs running at once
	sem *semaphore.Weighted

	// Parent of every job context; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobs   map[string]*Job
	jobsMu sync.RWMutex // Protects the jobs map and the jobs in it
}

// NewServer creates a new server instance with the given config and logger.
// m may be nil, in which case no metrics are recorded.
func NewServer(cfg *config.Config, logger Logger, m *metrics.Metrics) *Server {
	workers := cfg.Optimization.WorkerCount
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		sem:     semaphore.NewWeighted(int64(workers)),
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*Job),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/minimize", s.handleMinimize)
		r.Delete("/minimize/{id}", s.handleCancel)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/objectives", s.handleObjectives)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Close cancels every job and waits for them to finish.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// handleMinimize handles POST /api/v1/minimize.
func (s *Server) handleMinimize(w http.ResponseWriter, r *http.Request) {
	var req MinimizeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		errors.WriteJSON(w, optimization.WrapError(err, optimization.KindInvalidArgument, "invalid request body"))
		return
	}

	job, err := s.startJob(req)
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, startResponse{ID: job.ID, Status: StatusPending, Seed: job.Seed})
}

// handleStatus handles GET /api/v1/status/{id}. The history is included
// unless the history query parameter is "false".
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	withHistory := r.URL.Query().Get("history") != "false"

	resp, err := s.jobStatus(id, withHistory)
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleCancel handles DELETE /api/v1/minimize/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelJob(chi.URLParam(r, "id")); err != nil {
		errors.WriteJSON(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

// handleObjectives handles GET /api/v1/objectives.
func (s *Server) handleObjectives(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, objectives.List())
}

type startResponse struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
	Seed   uint64    `json:"seed"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
