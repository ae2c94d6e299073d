package loop

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"time"
)

type taskKey struct{}

type parkKind int

const (
	parkYield parkKind = iota
	parkSleep
	parkDone
)

type parkEvent struct {
	kind  parkKind
	until time.Time
}

// Task is a unit of cooperative work scheduled on a Loop.
type Task struct {
	id      uint64
	name    string
	loop    *Loop
	fn      Func
	onDone  DoneFunc
	ctx     context.Context
	cancel  context.CancelCauseFunc
	release func() bool
	resume  chan struct{}

	// Written by the loop goroutine while the task is suspended and read by
	// the task only while it holds control.
	started   bool
	sleeping  bool
	cancelled bool
	seq       uint64
	value     any
	err       error
}

// Name returns the name given to Spawn.
func (t *Task) Name() string {
	return t.name
}

// Cancel requests cancellation. The task context is cancelled immediately and
// a suspended task is woken to observe it.
func (t *Task) Cancel() {
	t.cancel(ErrCancelled)
	l := t.loop
	l.mu.Lock()
	if !l.closing {
		l.cancels = append(l.cancels, t)
	}
	l.mu.Unlock()
	l.signal()
}

func (t *Task) main() {
	<-t.resume
	t.value, t.err = t.call()
	t.loop.parked <- parkEvent{kind: parkDone}
}

func (t *Task) call() (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.fn(t.ctx)
}

// park gives control back to the loop and waits to be resumed.
func (t *Task) park(ctx context.Context, ev parkEvent) error {
	if t.cancelled {
		// keep other tasks progressing even if the caller ignores the error
		ev = parkEvent{kind: parkYield}
	}
	t.loop.parked <- ev
	<-t.resume
	if t.cancelled || errors.Is(context.Cause(t.ctx), ErrCancelled) {
		return ErrCancelled
	}
	return ctx.Err()
}

// FromContext returns the task running with ctx, if any.
func FromContext(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(taskKey{}).(*Task)
	return t, ok
}

// Yield suspends the calling task and lets every other ready task run once.
// Outside of a task it only yields the processor.
func Yield(ctx context.Context) error {
	t, ok := FromContext(ctx)
	if !ok {
		runtime.Gosched()
		return ctx.Err()
	}
	return t.park(ctx, parkEvent{kind: parkYield})
}

// Sleep suspends the calling task for at least d. A deadline on ctx shortens
// the sleep. Outside of a task it blocks the goroutine until d elapsed or ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t, ok := FromContext(ctx)
	if !ok {
		tm := time.NewTimer(d)
		defer tm.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tm.C:
			return nil
		}
	}
	if d <= 0 {
		return t.park(ctx, parkEvent{kind: parkYield})
	}
	until := time.Now().Add(d)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(until) {
		until = deadline
	}
	return t.park(ctx, parkEvent{kind: parkSleep, until: until})
}
