package loop

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when submitting work to a loop that is shutting down.
	ErrClosed = errors.New("loop is closed")

	// ErrAlreadyRunning is returned when Run is called on a loop twice.
	ErrAlreadyRunning = errors.New("loop is already running")

	// ErrCancelled is observed by a task at its next suspension point once it was cancelled.
	ErrCancelled = fmt.Errorf("task cancelled: %w", context.Canceled)
)

// PanicError carries a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
