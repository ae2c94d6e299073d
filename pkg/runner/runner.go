package runner

import (
	"context"
	"runtime/debug"
)

// Payload is a unit of work. Registered as a service it must run until its
// context is cancelled; passed to RunOne it is expected to return.
type Payload func(ctx context.Context) (any, error)

// Runner executes payloads under the concurrency model of one Flavour.
//
// A Runner moves from Idle to Running on Start and ends in Stopped or Failed.
// It is never reused after reaching a terminal state.
type Runner interface {
	Flavour() Flavour

	// Register adds a service payload. Valid before and while running.
	Register(p Payload, name string) error

	// Start launches registered payloads without blocking.
	Start() error

	// Wait blocks until Stop was honoured or a service payload failed, in which
	// case it returns a *Failure. Cancelling ctx acts as Stop.
	Wait(ctx context.Context) error

	// Run is Start followed by Wait.
	Run(ctx context.Context) error

	// RunOne executes p to completion and returns its outcome unchanged.
	RunOne(ctx context.Context, p Payload) (any, error)

	// Stop requests shutdown. It is idempotent and returns promptly.
	Stop()

	// Ready reports whether at least one service payload is registered or running.
	Ready() bool

	State() State
}

type service struct {
	name    string
	payload Payload
}

// invoke calls p, turning a panic into a *PanicError.
func invoke(ctx context.Context, p Payload) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return p(ctx)
}
