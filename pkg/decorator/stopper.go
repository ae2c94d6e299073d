package decorator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/demandd/internal/logging"
	"github.com/aretw0/demandd/pkg/pool"
	"github.com/aretw0/demandd/pkg/runner"
)

// DefaultStopperInterval is the probe interval used when none is configured.
const DefaultStopperInterval = 5 * time.Minute

// JobProbe reports the number of jobs waiting in a scheduler partition.
type JobProbe interface {
	PendingJobs(ctx context.Context, partition string) (int, error)
}

// StopperConfig configures a Stopper.
type StopperConfig struct {
	// Partition is the scheduler partition checked for pending jobs. Required.
	Partition string `mapstructure:"partition"`
	// Interval is the time between two probes.
	Interval time.Duration `mapstructure:"interval"`
}

// Stopper sets the target demand to 0 while the partition has no pending
// jobs and passes demand through otherwise. It stays stopped until the first
// successful probe.
type Stopper struct {
	pool.Decorator
	probe     JobProbe
	partition string
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	demand  float64
	stopped bool
	probed  bool
}

// StopperOption configures optional Stopper behaviour.
type StopperOption func(*Stopper)

// WithStopperLogger sets the logger used for probe results.
func WithStopperLogger(logger *slog.Logger) StopperOption {
	return func(s *Stopper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStopper wraps target and registers the probe as a thread service on reg.
func NewStopper(target pool.Pool, probe JobProbe, cfg StopperConfig, reg Registrar, opts ...StopperOption) (*Stopper, error) {
	if cfg.Partition == "" {
		return nil, fmt.Errorf("%w: stopper partition must be specified", ErrInvalidOption)
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultStopperInterval
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: stopper interval must be positive, got %s", ErrInvalidOption, cfg.Interval)
	}
	if probe == nil {
		return nil, fmt.Errorf("%w: stopper needs a job probe", ErrInvalidOption)
	}

	s := &Stopper{
		Decorator: pool.Decorator{Target: target},
		probe:     probe,
		partition: cfg.Partition,
		interval:  cfg.Interval,
		logger:    logging.NewNop(),
		demand:    target.Demand(),
		stopped:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("partition", s.partition)

	if err := reg.Register(s.run, runner.Thread, "stopper:"+s.partition); err != nil {
		return nil, fmt.Errorf("failed to register stopper: %w", err)
	}
	return s, nil
}

// Demand returns the demand last requested from the stopper.
func (s *Stopper) Demand() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.demand
}

func (s *Stopper) SetDemand(demand float64) {
	s.mu.Lock()
	s.demand = demand
	gated := s.gate(demand)
	s.mu.Unlock()
	s.Target.SetDemand(gated)
}

// Stopped reports whether demand is currently held at 0.
func (s *Stopper) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Stopper) gate(demand float64) float64 {
	if s.stopped {
		return 0
	}
	return demand
}

// check probes the partition once and re-applies demand after the first
// probe and whenever the gate flips.
func (s *Stopper) check(ctx context.Context) {
	pending, err := s.probe.PendingJobs(ctx, s.partition)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("job probe failed, keeping previous state", "error", err)
		}
		return
	}

	s.mu.Lock()
	stopped := pending == 0
	changed := stopped != s.stopped || !s.probed
	s.stopped, s.probed = stopped, true
	gated := s.gate(s.demand)
	s.mu.Unlock()

	if changed {
		s.logger.Info("pending jobs changed stopper state", "pending", pending, "stopped", stopped)
		s.Target.SetDemand(gated)
	}
}

func (s *Stopper) run(ctx context.Context) (any, error) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.check(ctx)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
