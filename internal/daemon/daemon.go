// Package daemon assembles a pool pipeline from configuration and runs it on
// a MetaRunner together with the status API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/demandd/internal/config"
	"github.com/aretw0/demandd/internal/httpapi"
	"github.com/aretw0/demandd/internal/logging"
	"github.com/aretw0/demandd/internal/metrics"
	"github.com/aretw0/demandd/pkg/adapters/redis"
	"github.com/aretw0/demandd/pkg/adapters/slurm"
	"github.com/aretw0/demandd/pkg/decorator"
	"github.com/aretw0/demandd/pkg/pool"
	"github.com/aretw0/demandd/pkg/runner"
	"github.com/prometheus/client_golang/prometheus"
)

// Daemon owns the runner, the pipeline and the HTTP server.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	meta     *runner.MetaRunner
	base     pool.Pool
	head     pool.Pool
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	grace    time.Duration
	closers  []io.Closer

	// serving tracks the http payload so Run returns only after the
	// listener was released.
	mu      sync.Mutex
	closed  bool
	serving sync.WaitGroup

	probe decorator.JobProbe
}

type Option func(*Daemon)

// WithJobProbe replaces the squeue probe used by stopper stages.
func WithJobProbe(p decorator.JobProbe) Option {
	return func(d *Daemon) {
		d.probe = p
	}
}

// WithRegistry sets the metrics registry. The default registry carries the
// Go and process collectors.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(d *Daemon) {
		if reg != nil {
			d.registry = reg
		}
	}
}

// New builds the daemon described by cfg. Nothing runs until Run. If the
// HTTP address is set, the listener is bound here so that port conflicts
// surface before any payload starts.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:    cfg,
		logger: logger,
		grace:  cfg.Runner.ShutdownGrace,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = metrics.NewRegistry()
	}
	if d.grace <= 0 {
		d.grace = runner.DefaultShutdownGrace
	}

	m, err := metrics.New(d.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	d.meta = runner.NewMetaRunner(
		runner.WithLogger(logger),
		runner.WithHooks(m.Hooks()),
		runner.WithShutdownGrace(d.grace),
	)

	if d.base, err = d.basePool(); err != nil {
		d.close()
		return nil, err
	}
	if d.head, err = d.pipeline(d.base); err != nil {
		d.close()
		return nil, err
	}
	if err := m.RegisterPool(d.head); err != nil {
		d.close()
		return nil, fmt.Errorf("failed to register pool metrics: %w", err)
	}

	control, err := cfg.ControlFlavour()
	if err != nil {
		d.close()
		return nil, err
	}
	d.handler = httpapi.NewHandler(d.meta, d.head,
		httpapi.WithControlFlavour(control),
		httpapi.WithGatherer(d.registry),
		httpapi.WithLogger(logger.With("component", "http")),
	)

	if cfg.HTTP.Addr != "" {
		if err := d.listen(cfg.HTTP.Addr); err != nil {
			d.close()
			return nil, err
		}
	}
	return d, nil
}

func (d *Daemon) basePool() (pool.Pool, error) {
	switch d.cfg.Pool.Type {
	case config.PoolRedis:
		opts, err := d.cfg.Pool.Redis()
		if err != nil {
			return nil, fmt.Errorf("pool: %w", err)
		}
		p := redis.New(opts.Addr, opts.Password, opts.DB,
			redis.WithKey(opts.Key),
			redis.WithInterval(opts.Interval),
			redis.WithDemand(d.cfg.Pool.Demand),
			redis.WithLogger(d.logger.With("component", "redis")),
		)
		d.closers = append(d.closers, p)
		if err := d.meta.Register(p.Run, runner.Thread, "redis-sync"); err != nil {
			return nil, err
		}
		return p, nil
	case config.PoolStatic, "":
		return pool.NewStatic(d.cfg.Pool.Demand), nil
	default:
		return nil, fmt.Errorf("unknown pool %q", d.cfg.Pool.Type)
	}
}

// pipeline wraps base in the configured stages. The first stage ends up
// outermost, so it is built last.
func (d *Daemon) pipeline(base pool.Pool) (pool.Pool, error) {
	head := base
	for i := len(d.cfg.Pipeline) - 1; i >= 0; i-- {
		stage := d.cfg.Pipeline[i]
		var err error
		switch stage.Type {
		case config.StageBuffer:
			head, err = d.buffer(stage, head)
		case config.StageStopper:
			head, err = d.stopper(stage, head)
		default:
			err = fmt.Errorf("unknown stage %q", stage.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline[%d]: %w", i, err)
		}
	}
	return head, nil
}

func (d *Daemon) buffer(stage config.StageConfig, target pool.Pool) (pool.Pool, error) {
	cfg, err := stage.Buffer()
	if err != nil {
		return nil, err
	}
	return decorator.NewBuffer(target, cfg, d.meta)
}

func (d *Daemon) stopper(stage config.StageConfig, target pool.Pool) (pool.Pool, error) {
	opts, err := stage.Stopper()
	if err != nil {
		return nil, err
	}
	probe := d.probe
	if probe == nil {
		probe = slurm.New(slurm.WithCommand(opts.Command))
	}
	return decorator.NewStopper(target, probe, opts.StopperConfig, d.meta,
		decorator.WithStopperLogger(d.logger.With("component", "stopper", "partition", opts.Partition)))
}

func (d *Daemon) listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	d.listener = ln
	d.server = &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := d.meta.Register(d.serve, runner.Thread, "http"); err != nil {
		ln.Close()
		return err
	}
	return nil
}

// serve is the HTTP service payload. It only returns on cancellation or when
// the server breaks.
func (d *Daemon) serve(ctx context.Context) (any, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ctx.Err()
	}
	d.serving.Add(1)
	d.mu.Unlock()
	defer d.serving.Done()

	errs := make(chan error, 1)
	go func() {
		errs <- d.server.Serve(d.listener)
	}()
	d.logger.Info("http api listening", "addr", d.listener.Addr().String())

	select {
	case err := <-errs:
		return nil, fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.grace)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("graceful http shutdown did not complete", "error", err)
		d.server.Close()
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		d.logger.Warn("http server exited", "error", err)
	}
	return nil, ctx.Err()
}

// Run blocks until ctx is cancelled, Stop is called or a payload fails. A
// payload failure is returned as *runner.AbortError.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.close()
	d.logger.Info("daemon starting",
		"pool", d.cfg.Pool.Type,
		"stages", len(d.cfg.Pipeline),
		"http", d.cfg.HTTP.Addr,
	)
	err := d.meta.Run(ctx)

	// thread payloads may outlive the runner by their own unwinding
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.serving.Wait()

	if err != nil {
		return err
	}
	d.logger.Info("daemon stopped")
	return nil
}

// Stop requests a shutdown of all payloads.
func (d *Daemon) Stop() {
	d.meta.Stop()
}

// Handler returns the status API handler.
func (d *Daemon) Handler() http.Handler {
	return d.handler
}

// Head returns the outermost pool of the pipeline.
func (d *Daemon) Head() pool.Pool {
	return d.head
}

// Runner returns the MetaRunner driving the payloads.
func (d *Daemon) Runner() *runner.MetaRunner {
	return d.meta
}

// Addr returns the bound HTTP address, or "" when the API is disabled.
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

func (d *Daemon) close() {
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			d.logger.Warn("close failed", "error", err)
		}
	}
	d.closers = nil
	if d.listener != nil {
		// Already closed by Shutdown when the server ran.
		_ = d.listener.Close()
	}
}
