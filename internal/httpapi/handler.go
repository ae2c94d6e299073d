// Package httpapi serves the daemon status and demand control API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"

	"github.com/aretw0/demandd/internal/logging"
	"github.com/aretw0/demandd/pkg/pool"
	"github.com/aretw0/demandd/pkg/runner"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Runtime is the part of *runner.MetaRunner the API needs.
type Runtime interface {
	Ready() bool
	Running() bool
	Status() []runner.RunnerStatus
	RunOne(ctx context.Context, p runner.Payload, f runner.Flavour) (any, error)
}

type server struct {
	runtime  Runtime
	pool     pool.Pool
	control  runner.Flavour
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

type Option func(*server)

// WithControlFlavour sets the flavour demand reads and writes run on.
// It defaults to LoopA so they are serialised with the pipeline services.
func WithControlFlavour(f runner.Flavour) Option {
	return func(s *server) {
		s.control = f
	}
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *server) {
		s.gatherer = g
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type demandBody struct {
	Demand *float64 `json:"demand"`
}

type poolState struct {
	Demand      float64 `json:"demand"`
	Supply      float64 `json:"supply"`
	Utilisation float64 `json:"utilisation"`
	Allocation  float64 `json:"allocation"`
}

type runnersResponse struct {
	Running bool                  `json:"running"`
	Ready   bool                  `json:"ready"`
	Runners []runner.RunnerStatus `json:"runners"`
}

// NewHandler creates the HTTP handler for rt and the head of the pipeline p.
func NewHandler(rt Runtime, p pool.Pool, opts ...Option) http.Handler {
	s := &server{
		runtime: rt,
		pool:    p,
		control: runner.LoopA,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Get("/readyz", s.ready)
	r.Get("/runners", s.runners)
	r.Get("/demand", s.getDemand)
	r.Put("/demand", s.putDemand)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) ready(w http.ResponseWriter, r *http.Request) {
	ready := s.runtime.Ready() && s.runtime.Running()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"ready": ready})
}

func (s *server) runners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, runnersResponse{
		Running: s.runtime.Running(),
		Ready:   s.runtime.Ready(),
		Runners: s.runtime.Status(),
	})
}

func (s *server) getDemand(w http.ResponseWriter, r *http.Request) {
	state, err := s.runtime.RunOne(r.Context(), func(ctx context.Context) (any, error) {
		return poolState{
			Demand:      s.pool.Demand(),
			Supply:      s.pool.Supply(),
			Utilisation: s.pool.Utilisation(),
			Allocation:  s.pool.Allocation(),
		}, nil
	}, s.control)
	if err != nil {
		s.runtimeError(w, "read demand", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *server) putDemand(w http.ResponseWriter, r *http.Request) {
	var body demandBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.logger.Warn("invalid demand body", "error", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Demand == nil || *body.Demand < 0 || math.IsInf(*body.Demand, 0) || math.IsNaN(*body.Demand) {
		http.Error(w, "demand must be a non-negative number", http.StatusBadRequest)
		return
	}

	demand := *body.Demand
	_, err := s.runtime.RunOne(r.Context(), func(ctx context.Context) (any, error) {
		s.pool.SetDemand(demand)
		return nil, nil
	}, s.control)
	if err != nil {
		s.runtimeError(w, "set demand", err)
		return
	}
	s.logger.Info("demand set through api", "demand", demand)
	writeJSON(w, http.StatusOK, map[string]float64{"demand": demand})
}

func (s *server) runtimeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, runner.ErrNotRunning) || errors.Is(err, runner.ErrStopped) {
		status = http.StatusServiceUnavailable
	}
	s.logger.Error("api "+op+" failed", "error", err)
	http.Error(w, op+": "+err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}
