package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Func is the body of a task.
type Func func(ctx context.Context) (any, error)

// DoneFunc is invoked on the loop goroutine once a task finished.
type DoneFunc func(value any, err error)

// Loop is a cooperative scheduler. Spawn, Close and Task.Cancel are safe for
// concurrent use; everything else happens on the goroutine calling Run.
type Loop struct {
	name   string
	nextID atomic.Uint64

	// parent of every task context, cancelled by Close
	ctx  context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	inbox   []*Task
	cancels []*Task
	closing bool
	wake    chan struct{}

	running atomic.Bool
	parked  chan parkEvent
	done    chan struct{}

	// owned by the loop goroutine
	ready    []*Task
	timers   timerQueue
	tasks    map[*Task]struct{}
	draining bool
}

// New creates an idle loop. Nothing executes until Run is called.
func New(name string) *Loop {
	ctx, stop := context.WithCancel(context.Background())
	return &Loop{
		name:   name,
		ctx:    ctx,
		stop:   stop,
		wake:   make(chan struct{}, 1),
		parked: make(chan parkEvent),
		done:   make(chan struct{}),
		tasks:  make(map[*Task]struct{}),
	}
}

// Name returns the loop name given to New.
func (l *Loop) Name() string {
	return l.name
}

// Done is closed once Run returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Spawn schedules fn as a new task. The task context derives from ctx and is
// also cancelled by Close.
// onDone, if set, is called on the loop goroutine with the task outcome.
func (l *Loop) Spawn(ctx context.Context, name string, fn Func, onDone DoneFunc) (*Task, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	t := &Task{
		id:     l.nextID.Add(1),
		name:   name,
		loop:   l,
		fn:     fn,
		onDone: onDone,
		resume: make(chan struct{}),
	}
	taskCtx, cancel := context.WithCancelCause(ctx)
	t.ctx = context.WithValue(taskCtx, taskKey{}, t)
	t.cancel = cancel
	t.release = context.AfterFunc(l.ctx, func() { cancel(ErrCancelled) })

	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		t.release()
		cancel(ErrClosed)
		return nil, ErrClosed
	}
	l.inbox = append(l.inbox, t)
	l.mu.Unlock()

	l.signal()
	return t, nil
}

// Close cancels every task and makes Run return once they all finished.
// Task contexts are cancelled right away, so a task blocked outside a
// suspension point is released too. It does not wait; use Done for that.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()
	l.stop()
	l.signal()
}

// Run executes tasks on the calling goroutine until Close was called and every
// task finished.
func (l *Loop) Run() error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.done)

	for {
		if l.collect() && !l.draining {
			l.draining = true
			for t := range l.tasks {
				l.cancelTask(t)
			}
		}
		if l.draining && len(l.tasks) == 0 {
			return nil
		}

		for _, tm := range l.timers.due(time.Now()) {
			if tm.task.sleeping && tm.seq == tm.task.seq {
				tm.task.sleeping = false
				l.ready = append(l.ready, tm.task)
			}
		}

		if len(l.ready) > 0 {
			t := l.ready[0]
			l.ready[0] = nil
			l.ready = l.ready[1:]
			l.step(t)
			continue
		}
		l.idle()
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// collect moves submissions and cancel requests onto the loop goroutine and
// reports whether Close was requested.
func (l *Loop) collect() bool {
	l.mu.Lock()
	inbox, cancels, closing := l.inbox, l.cancels, l.closing
	l.inbox, l.cancels = nil, nil
	l.mu.Unlock()

	for _, t := range inbox {
		l.tasks[t] = struct{}{}
		l.ready = append(l.ready, t)
	}
	for _, t := range cancels {
		if _, ok := l.tasks[t]; ok {
			l.cancelTask(t)
		}
	}
	return closing
}

func (l *Loop) cancelTask(t *Task) {
	if t.cancelled {
		return
	}
	t.cancelled = true
	t.cancel(ErrCancelled)
	if t.sleeping {
		t.sleeping = false
		t.seq++
		l.ready = append(l.ready, t)
	}
}

// step hands control to t and blocks until it suspends or finishes.
func (l *Loop) step(t *Task) {
	if !t.started {
		t.started = true
		if t.cancelled {
			l.finish(t, nil, ErrCancelled)
			return
		}
		go t.main()
	}

	t.resume <- struct{}{}
	ev := <-l.parked

	switch ev.kind {
	case parkYield:
		l.ready = append(l.ready, t)
	case parkSleep:
		t.sleeping = true
		t.seq++
		l.timers.schedule(timer{at: ev.until, task: t, seq: t.seq})
	case parkDone:
		l.finish(t, t.value, t.err)
	}
}

func (l *Loop) finish(t *Task, value any, err error) {
	delete(l.tasks, t)
	t.release()
	t.cancel(nil)
	if t.onDone != nil {
		t.onDone(value, err)
	}
}

func (l *Loop) idle() {
	var timeout <-chan time.Time
	if at, ok := l.timers.next(); ok {
		tm := time.NewTimer(time.Until(at))
		defer tm.Stop()
		timeout = tm.C
	}
	select {
	case <-l.wake:
	case <-timeout:
	}
}
