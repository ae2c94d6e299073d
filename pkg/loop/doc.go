/*
Package loop implements a single-threaded cooperative scheduler.

A Loop owns a set of tasks and runs exactly one of them at a time. A task keeps
control until it reaches an explicit suspension point (Yield or Sleep), at which
point the loop picks the next ready task. Between two suspension points a task
therefore observes no interleaving with other tasks of the same loop.

# Tasks

Tasks are plain functions receiving a context. The context identifies the task to
the suspension helpers:

	l := loop.New("control")
	go l.Run()

	_, err := l.Spawn(ctx, "ticker", func(ctx context.Context) (any, error) {
		for {
			if err := loop.Sleep(ctx, time.Second); err != nil {
				return nil, err
			}
		}
	}, nil)

Yield and Sleep may also be called outside of a task, in which case they fall back
to runtime.Gosched and a context-aware timer. Payloads written against the helpers
run unchanged on plain goroutines.

# Cancellation

Cancellation is cooperative. Close cancels every task; a cancelled task observes
ErrCancelled at its next suspension point and its context is cancelled. A task that
never suspends starves the loop and blocks shutdown.
*/
package loop
