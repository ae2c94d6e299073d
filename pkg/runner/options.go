package runner

import (
	"log/slog"
	"time"

	"github.com/aretw0/demandd/internal/logging"
)

// DefaultShutdownGrace bounds how long an event loop may take to drain after Stop.
const DefaultShutdownGrace = 5 * time.Second

type options struct {
	logger *slog.Logger
	hooks  Hooks
	grace  time.Duration
}

// Option configures a Runner or MetaRunner.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger: logging.NewNop(),
		grace:  DefaultShutdownGrace,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for lifecycle and failure events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHooks installs lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

// WithShutdownGrace sets how long Wait waits for an event loop to drain its
// cancelled tasks before abandoning it. Non-positive values are ignored.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.grace = d
		}
	}
}
