package runner

import (
	"errors"
	"time"
)

// Exit classifies how a service payload left its runner.
type Exit int

const (
	// ExitStopped means the payload ended after a stop was requested.
	ExitStopped Exit = iota
	// ExitCompleted means a payload ran to completion without a result.
	ExitCompleted
	// ExitOrphaned means the payload returned a result instead of running until stopped.
	ExitOrphaned
	// ExitError means the payload returned an error.
	ExitError
	// ExitPanic means the payload panicked.
	ExitPanic
)

func (e Exit) String() string {
	switch e {
	case ExitStopped:
		return "stopped"
	case ExitCompleted:
		return "completed"
	case ExitOrphaned:
		return "orphaned"
	case ExitError:
		return "error"
	case ExitPanic:
		return "panic"
	default:
		return "unknown"
	}
}

func classify(cause error) Exit {
	var orphan *OrphanedReturn
	var panicErr *PanicError
	switch {
	case errors.As(cause, &orphan):
		return ExitOrphaned
	case errors.As(cause, &panicErr):
		return ExitPanic
	default:
		return ExitError
	}
}

// Hooks are optional callbacks fired on runner lifecycle events.
// They may be called from any goroutine, including an event loop, and must not block.
type Hooks struct {
	OnRegister    func(f Flavour, payload string)
	OnPayloadExit func(f Flavour, payload string, exit Exit)
	OnFailure     func(failure *Failure)
	OnRunOne      func(f Flavour, elapsed time.Duration, err error)
}

func (h Hooks) register(f Flavour, payload string) {
	if h.OnRegister != nil {
		h.OnRegister(f, payload)
	}
}

func (h Hooks) payloadExit(f Flavour, payload string, exit Exit) {
	if h.OnPayloadExit != nil {
		h.OnPayloadExit(f, payload, exit)
	}
}

func (h Hooks) failure(failure *Failure) {
	if h.OnFailure != nil {
		h.OnFailure(failure)
	}
}

func (h Hooks) runOne(f Flavour, elapsed time.Duration, err error) {
	if h.OnRunOne != nil {
		h.OnRunOne(f, elapsed, err)
	}
}
