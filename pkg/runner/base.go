package runner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// base holds the lifecycle and failure bookkeeping shared by every flavour.
type base struct {
	flavour   Flavour
	logger    *slog.Logger
	hooks     Hooks
	interrupt func()

	mu       sync.Mutex
	state    State
	pending  []service
	live     int
	stopping bool

	failure    atomic.Pointer[Failure]
	halted     chan struct{}
	haltOnce   sync.Once
	done       chan struct{}
	finishOnce sync.Once
}

// init prepares b. interrupt must cancel every running payload without blocking.
func (b *base) init(f Flavour, o options, interrupt func()) {
	b.flavour = f
	b.logger = o.logger.With("flavour", f.String())
	b.hooks = o.hooks
	b.interrupt = interrupt
	b.halted = make(chan struct{})
	b.done = make(chan struct{})
}

func (b *base) Flavour() Flavour {
	return b.flavour
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.state.Terminal() && len(b.pending)+b.live > 0
}

// Stop requests shutdown and cancels running payloads.
func (b *base) Stop() {
	b.mu.Lock()
	b.stopping = true
	idle := b.state == Idle
	b.mu.Unlock()

	b.halt()
	b.interrupt()
	if idle {
		b.finish(nil)
	}
}

func (b *base) halt() {
	b.haltOnce.Do(func() { close(b.halted) })
}

func (b *base) register(s service, launch func(service) error) error {
	b.mu.Lock()
	if b.stopping || b.state.Terminal() {
		b.mu.Unlock()
		return ErrStopped
	}
	if b.state == Running {
		b.live++
		if err := launch(s); err != nil {
			b.live--
			b.mu.Unlock()
			return err
		}
	} else {
		b.pending = append(b.pending, s)
	}
	state := b.state
	b.mu.Unlock()

	b.logger.Debug("payload registered", "payload", s.name, "state", state)
	b.hooks.register(b.flavour, s.name)
	return nil
}

func (b *base) start(launch func(service) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.state == Running:
		return ErrAlreadyStarted
	case b.stopping || b.state.Terminal():
		return ErrStopped
	}
	b.state = Running

	pending := b.pending
	b.pending = nil
	for _, s := range pending {
		b.live++
		if err := launch(s); err != nil {
			b.live--
			b.logger.Error("failed to launch payload", "payload", s.name, "error", err)
		}
	}
	b.logger.Debug("runner started", "payloads", len(pending))
	return nil
}

// exited records the end of a service payload. The first abnormal exit that
// was not preceded by a stop request becomes the runner failure and
// interrupts every other payload.
func (b *base) exited(name string, value any, err error) {
	b.mu.Lock()
	b.live--
	stopping := b.stopping
	completed := !stopping && err == nil && value == nil
	if !stopping && !completed {
		b.stopping = true
	}
	b.mu.Unlock()

	switch {
	case stopping:
		b.logger.Debug("payload stopped", "payload", name)
		b.hooks.payloadExit(b.flavour, name, ExitStopped)
		return
	case completed:
		b.logger.Debug("payload completed", "payload", name)
		b.hooks.payloadExit(b.flavour, name, ExitCompleted)
		return
	}

	cause := err
	if cause == nil {
		cause = &OrphanedReturn{Payload: name, Value: value}
	}
	b.hooks.payloadExit(b.flavour, name, classify(cause))

	f := &Failure{Flavour: b.flavour, Payload: name, Cause: cause}
	if b.failure.CompareAndSwap(nil, f) {
		b.logger.Error("payload failed", "payload", name, "error", cause)
		b.hooks.failure(f)
	}
	b.halt()
	b.interrupt()
}

func (b *base) wait(ctx context.Context, drain func()) error {
	if b.State() == Idle {
		return ErrNotRunning
	}

	select {
	case <-ctx.Done():
		b.Stop()
	case <-b.halted:
	}

	b.finish(drain)
	<-b.done
	return b.result()
}

// finish runs drain once and moves the runner into its terminal state.
func (b *base) finish(drain func()) {
	b.finishOnce.Do(func() {
		if drain != nil {
			drain()
		}
		b.mu.Lock()
		if b.failure.Load() != nil {
			b.state = Failed
		} else {
			b.state = Stopped
		}
		b.pending = nil
		state := b.state
		b.mu.Unlock()

		b.logger.Debug("runner finished", "state", state)
		close(b.done)
	})
}

func (b *base) result() error {
	if f := b.failure.Load(); f != nil {
		return f
	}
	return nil
}
