package runner

import (
	"errors"
	"fmt"

	"github.com/aretw0/demandd/pkg/loop"
)

var (
	// ErrNotRunning is returned by RunOne on an event-loop flavour whose loop is not active.
	ErrNotRunning = errors.New("runner is not running")

	// ErrStopped is returned when using a runner that reached a terminal state.
	ErrStopped = errors.New("runner is stopped")

	// ErrAlreadyStarted is returned by Start and Run when the runner left Idle.
	ErrAlreadyStarted = errors.New("runner already started")

	// ErrUnknownFlavour is returned for flavours outside the supported set.
	ErrUnknownFlavour = errors.New("unknown flavour")

	// ErrNilPayload is returned when registering or running a nil payload.
	ErrNilPayload = errors.New("payload is nil")
)

// PanicError is the cause recorded for a payload that panicked.
type PanicError = loop.PanicError

// OrphanedReturn is the cause recorded for a service payload that returned
// instead of running until it was stopped.
type OrphanedReturn struct {
	Payload string
	Value   any
}

func (e *OrphanedReturn) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("payload %q returned %v instead of running until stopped", e.Payload, e.Value)
	}
	return fmt.Sprintf("payload %q returned instead of running until stopped", e.Payload)
}

// Failure is returned by a Runner whose service payload terminated abnormally.
type Failure struct {
	Flavour Flavour
	Payload string
	Cause   error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("%s runner: payload %q failed: %v", e.Flavour, e.Payload, e.Cause)
}

func (e *Failure) Unwrap() error {
	return e.Cause
}

// AbortError is returned by MetaRunner.Run after a runner failed and every
// other runner was stopped. Cause is the failing payload's error, or an
// *OrphanedReturn.
type AbortError struct {
	Flavour Flavour
	Payload string
	Cause   error
}

func (e *AbortError) Error() string {
	if e.Payload == "" {
		return fmt.Sprintf("background task failed: %s runner: %v", e.Flavour, e.Cause)
	}
	return fmt.Sprintf("background task failed: %s runner: payload %q: %v", e.Flavour, e.Payload, e.Cause)
}

func (e *AbortError) Unwrap() error {
	return e.Cause
}
