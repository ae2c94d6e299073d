package decorator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/demandd/pkg/loop"
	"github.com/aretw0/demandd/pkg/pool"
	"github.com/aretw0/demandd/pkg/runner"
)

// DefaultBufferWindow is the flush interval used when none is configured.
const DefaultBufferWindow = 10 * time.Second

// BufferConfig configures a Buffer.
type BufferConfig struct {
	// Window is the interval after which buffered changes are applied.
	Window time.Duration `mapstructure:"window"`
	// Flavour is the event loop that runs the flush service.
	Flavour runner.Flavour `mapstructure:"flavour"`
}

// Buffer is a timed buffer for demand changes. Changes are kept locally and
// only the latest demand is applied to the target once per window.
type Buffer struct {
	pool.Decorator
	window time.Duration

	mu     sync.Mutex
	demand float64
}

// NewBuffer wraps target and registers the flush service on reg.
// A zero Window defaults to DefaultBufferWindow, a zero Flavour runs on LoopA.
func NewBuffer(target pool.Pool, cfg BufferConfig, reg Registrar) (*Buffer, error) {
	if cfg.Window == 0 {
		cfg.Window = DefaultBufferWindow
	}
	if cfg.Window < 0 {
		return nil, fmt.Errorf("%w: buffer window must be positive, got %s", ErrInvalidOption, cfg.Window)
	}
	if cfg.Flavour == 0 {
		cfg.Flavour = runner.LoopA
	}
	if !cfg.Flavour.Cooperative() {
		return nil, fmt.Errorf("%w: buffer needs an event loop flavour, got %s", ErrInvalidOption, cfg.Flavour)
	}

	b := &Buffer{
		Decorator: pool.Decorator{Target: target},
		window:    cfg.Window,
		demand:    target.Demand(),
	}
	if err := reg.Register(b.run, cfg.Flavour, "buffer"); err != nil {
		return nil, fmt.Errorf("failed to register buffer: %w", err)
	}
	return b, nil
}

// Demand returns the buffered demand, which may not have reached the target yet.
func (b *Buffer) Demand() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.demand
}

func (b *Buffer) SetDemand(demand float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.demand = demand
}

// Window returns the flush interval.
func (b *Buffer) Window() time.Duration {
	return b.window
}

func (b *Buffer) flush() {
	demand := b.Demand()
	if demand != b.Target.Demand() {
		b.Target.SetDemand(demand)
	}
}

func (b *Buffer) run(ctx context.Context) (any, error) {
	for {
		if err := loop.Sleep(ctx, b.window); err != nil {
			return nil, err
		}
		b.flush()
	}
}
