package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var constructors = map[Flavour]func(options) Runner{
	Thread: func(o options) Runner { return newThreadRunner(o) },
	LoopA:  func(o options) Runner { return newEventLoopRunner(LoopA, o) },
	LoopB:  func(o options) Runner { return newEventLoopRunner(LoopB, o) },
}

// RunnerStatus is a snapshot of one runner owned by a MetaRunner.
type RunnerStatus struct {
	Flavour Flavour `json:"flavour"`
	State   State   `json:"state"`
	Ready   bool    `json:"ready"`
}

// MetaRunner owns one Runner per flavour in use and gives them a single
// lifecycle. It is created once, accepts registrations at any time, is Run
// once and stopped on shutdown.
type MetaRunner struct {
	opts   options
	logger *slog.Logger

	mu       sync.Mutex
	runners  map[Flavour]Runner
	running  bool
	stopped  bool
	group    *errgroup.Group
	groupCtx context.Context

	failure  atomic.Pointer[AbortError]
	halted   chan struct{}
	haltOnce sync.Once
}

// NewMetaRunner creates a MetaRunner. Options are passed on to every runner it creates.
func NewMetaRunner(opts ...Option) *MetaRunner {
	o := newOptions(opts)
	return &MetaRunner{
		opts:    o,
		logger:  o.logger,
		runners: make(map[Flavour]Runner),
		halted:  make(chan struct{}),
	}
}

// Register adds a service payload to the runner of flavour f, creating the
// runner if needed. An empty name is replaced by a generated one.
func (m *MetaRunner) Register(p Payload, f Flavour, name string) error {
	if p == nil {
		return ErrNilPayload
	}
	if name == "" {
		name = "payload-" + uuid.NewString()[:8]
	}
	r, err := m.runnerFor(f)
	if err != nil {
		return err
	}
	if err := r.Register(p, name); err != nil {
		return fmt.Errorf("register %q on %s: %w", name, f, err)
	}
	return nil
}

// RunOne executes p on the runner of flavour f and returns its outcome
// unchanged. Thread payloads run on the calling goroutine at any time;
// cooperative flavours need a running MetaRunner.
func (m *MetaRunner) RunOne(ctx context.Context, p Payload, f Flavour) (any, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlavour, f)
	}
	if f.Cooperative() && !m.Running() {
		return nil, ErrNotRunning
	}
	r, err := m.runnerFor(f)
	if err != nil {
		return nil, err
	}
	return r.RunOne(ctx, p)
}

// Run starts every runner and blocks until Stop is called, ctx is done, or a
// runner fails. In the last case all other runners are stopped and an
// *AbortError carrying the failing payload's cause is returned.
func (m *MetaRunner) Run(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.running:
		m.mu.Unlock()
		return ErrAlreadyStarted
	case m.stopped:
		m.mu.Unlock()
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	m.running = true
	m.group, m.groupCtx = g, gctx
	// The supervisor keeps the group open so runners created later can join it.
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-m.halted:
		}
		m.Stop()
		return nil
	})
	for _, f := range Flavours() {
		if r, ok := m.runners[f]; ok {
			m.launch(r)
		}
	}
	m.mu.Unlock()
	m.logger.Info("meta runner started")

	err := g.Wait()

	m.mu.Lock()
	m.running = false
	m.group, m.groupCtx = nil, nil
	m.mu.Unlock()

	if err != nil {
		return err
	}
	m.logger.Info("meta runner stopped")
	return nil
}

// Stop stops every runner. It is idempotent and may be called before,
// during or after Run.
func (m *MetaRunner) Stop() {
	m.mu.Lock()
	m.stopped = true
	runners := make([]Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	for _, r := range runners {
		r.Stop()
	}
	m.haltOnce.Do(func() { close(m.halted) })
}

// Ready reports whether any runner has a registered or running service payload.
func (m *MetaRunner) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runners {
		if r.Ready() {
			return true
		}
	}
	return false
}

// Running reports whether Run is active.
func (m *MetaRunner) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running && !m.stopped
}

// Status lists the runners created so far in flavour order.
func (m *MetaRunner) Status() []RunnerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := make([]RunnerStatus, 0, len(m.runners))
	for _, f := range Flavours() {
		if r, ok := m.runners[f]; ok {
			status = append(status, RunnerStatus{Flavour: f, State: r.State(), Ready: r.Ready()})
		}
	}
	return status
}

func (m *MetaRunner) runnerFor(f Flavour) (Runner, error) {
	construct, ok := constructors[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlavour, f)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runners[f]; ok {
		return r, nil
	}
	if m.stopped {
		return nil, ErrStopped
	}
	r := construct(m.opts)
	m.runners[f] = r
	if m.running {
		m.launch(r)
	}
	return r, nil
}

// launch starts r and adds it to the running group. m.mu must be held.
func (m *MetaRunner) launch(r Runner) {
	if err := r.Start(); err != nil {
		m.logger.Error("failed to start runner", "flavour", r.Flavour().String(), "error", err)
		return
	}
	gctx := m.groupCtx
	m.group.Go(func() error {
		if err := r.Wait(gctx); err != nil {
			return m.abort(r.Flavour(), err)
		}
		return nil
	})
}

// abort turns a runner failure into the error reported by Run. The group
// keeps the first one; later ones are only logged.
func (m *MetaRunner) abort(f Flavour, err error) *AbortError {
	abort := &AbortError{Flavour: f, Cause: err}
	var failure *Failure
	if errors.As(err, &failure) {
		abort.Flavour, abort.Payload, abort.Cause = failure.Flavour, failure.Payload, failure.Cause
	}

	if m.failure.CompareAndSwap(nil, abort) {
		m.logger.Error("runner failed, stopping all runners",
			"flavour", abort.Flavour.String(), "payload", abort.Payload, "error", abort.Cause)
	} else {
		m.logger.Warn("discarding failure after abort",
			"flavour", abort.Flavour.String(), "payload", abort.Payload, "error", abort.Cause)
	}
	return abort
}
