// Package decorator provides pool decorators that take part in the demand
// pipeline. Decorators that need background work register their own service
// payloads on a Registrar, usually the process MetaRunner.
package decorator

import (
	"errors"

	"github.com/aretw0/demandd/pkg/runner"
)

// ErrInvalidOption is returned when a decorator is configured with an invalid value.
var ErrInvalidOption = errors.New("invalid decorator option")

// Registrar accepts service payloads. *runner.MetaRunner implements it.
type Registrar interface {
	Register(p runner.Payload, f runner.Flavour, name string) error
}
