package runner

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/aretw0/demandd/pkg/loop"
)

// EventLoopRunner runs service payloads as cooperative tasks on a single
// event loop hosted on a dedicated OS thread.
type EventLoopRunner struct {
	base
	loop  *loop.Loop
	grace time.Duration
}

type outcome struct {
	value any
	err   error
}

// NewEventLoopRunner creates an idle runner for a cooperative flavour.
func NewEventLoopRunner(f Flavour, opts ...Option) (*EventLoopRunner, error) {
	if !f.Cooperative() {
		return nil, fmt.Errorf("%w: %s has no event loop", ErrUnknownFlavour, f)
	}
	return newEventLoopRunner(f, newOptions(opts)), nil
}

func newEventLoopRunner(f Flavour, o options) *EventLoopRunner {
	r := &EventLoopRunner{
		loop:  loop.New(f.String()),
		grace: o.grace,
	}
	r.init(f, o, r.loop.Close)
	return r
}

func (r *EventLoopRunner) Register(p Payload, name string) error {
	if p == nil {
		return ErrNilPayload
	}
	return r.register(service{name: name, payload: p}, r.launch)
}

func (r *EventLoopRunner) Start() error {
	if err := r.start(r.launch); err != nil {
		return err
	}
	go r.host()
	return nil
}

func (r *EventLoopRunner) Wait(ctx context.Context) error {
	return r.wait(ctx, r.drain)
}

func (r *EventLoopRunner) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	return r.Wait(ctx)
}

// RunOne submits p to the loop and blocks until the loop reports its outcome.
// The runner must be running. A panic in p is returned as a *PanicError.
// Calling it from a task of the same loop deadlocks that loop.
func (r *EventLoopRunner) RunOne(ctx context.Context, p Payload) (any, error) {
	if p == nil {
		return nil, ErrNilPayload
	}
	switch state := r.State(); {
	case state == Idle:
		return nil, ErrNotRunning
	case state.Terminal():
		return nil, ErrStopped
	}

	begin := time.Now()
	result := make(chan outcome, 1)
	task, err := r.loop.Spawn(ctx, "run-one", loop.Func(p), func(value any, err error) {
		result <- outcome{value: value, err: err}
	})
	if err != nil {
		return nil, ErrStopped
	}

	var out outcome
	select {
	case out = <-result:
	case <-ctx.Done():
		task.Cancel()
		out = outcome{err: ctx.Err()}
	case <-r.loop.Done():
		out = r.late(result)
	case <-r.done:
		out = r.late(result)
	}
	r.hooks.runOne(r.flavour, time.Since(begin), out.err)
	return out.value, out.err
}

// late picks up an outcome published just before the loop went away.
func (r *EventLoopRunner) late(result <-chan outcome) outcome {
	select {
	case out := <-result:
		return out
	default:
		return outcome{err: ErrStopped}
	}
}

func (r *EventLoopRunner) launch(s service) error {
	_, err := r.loop.Spawn(context.Background(), s.name, loop.Func(s.payload), func(value any, err error) {
		r.exited(s.name, value, err)
	})
	if err != nil {
		return ErrStopped
	}
	return nil
}

func (r *EventLoopRunner) host() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := r.loop.Run(); err != nil {
		r.logger.Error("event loop exited", "error", err)
	}
}

// drain closes the loop and waits for its tasks to unwind, giving up after
// the shutdown grace period.
func (r *EventLoopRunner) drain() {
	r.loop.Close()

	t := time.NewTimer(r.grace)
	defer t.Stop()
	select {
	case <-r.loop.Done():
	case <-t.C:
		r.logger.Warn("event loop did not drain in time, abandoning it", "grace", r.grace)
	}
}
