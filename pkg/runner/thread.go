package runner

import (
	"context"
	"runtime"
	"time"
)

// ThreadRunner runs every service payload on its own OS thread.
//
// Go cannot preempt a running function, so Stop only cancels the payload
// context. Payloads that ignore it are abandoned rather than waited for.
type ThreadRunner struct {
	base
	ctx    context.Context
	cancel context.CancelFunc
}

// NewThreadRunner creates an idle ThreadRunner.
func NewThreadRunner(opts ...Option) *ThreadRunner {
	return newThreadRunner(newOptions(opts))
}

func newThreadRunner(o options) *ThreadRunner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &ThreadRunner{ctx: ctx, cancel: cancel}
	r.init(Thread, o, cancel)
	return r
}

func (r *ThreadRunner) Register(p Payload, name string) error {
	if p == nil {
		return ErrNilPayload
	}
	return r.register(service{name: name, payload: p}, r.launch)
}

func (r *ThreadRunner) Start() error {
	return r.start(r.launch)
}

func (r *ThreadRunner) Wait(ctx context.Context) error {
	return r.wait(ctx, nil)
}

func (r *ThreadRunner) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	return r.Wait(ctx)
}

// RunOne calls p on the calling goroutine. It works in every state.
func (r *ThreadRunner) RunOne(ctx context.Context, p Payload) (any, error) {
	if p == nil {
		return nil, ErrNilPayload
	}
	begin := time.Now()
	value, err := p(ctx)
	r.hooks.runOne(Thread, time.Since(begin), err)
	return value, err
}

func (r *ThreadRunner) launch(s service) error {
	go r.serve(s)
	return nil
}

func (r *ThreadRunner) serve(s service) {
	// Never unlocked, so the thread exits together with the payload.
	runtime.LockOSThread()
	value, err := invoke(r.ctx, s.payload)
	r.exited(s.name, value, err)
}
