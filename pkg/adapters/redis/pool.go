// Package redis provides a pool whose state lives in a Redis hash.
//
// The daemon publishes the demand it computed to the "demand" field while an
// external agent publishes "supply", "utilisation" and "allocation". The pool
// caches both sides in memory and reconciles them in Sync.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aretw0/demandd/internal/logging"
	backend "github.com/redis/go-redis/v9"
)

const (
	// DefaultKey is the hash holding the pool state.
	DefaultKey = "demandd:pool"
	// DefaultInterval is the time between two syncs in Run.
	DefaultInterval = 5 * time.Second

	fieldDemand      = "demand"
	fieldSupply      = "supply"
	fieldUtilisation = "utilisation"
	fieldAllocation  = "allocation"
)

// Pool implements pool.Pool on top of a Redis hash.
type Pool struct {
	client   *backend.Client
	key      string
	interval time.Duration
	logger   *slog.Logger

	mu          sync.RWMutex
	demand      float64
	supply      float64
	utilisation float64
	allocation  float64
	dirty       bool
}

type Option func(*Pool)

// WithKey sets the hash key.
func WithKey(key string) Option {
	return func(p *Pool) {
		if key != "" {
			p.key = key
		}
	}
}

// WithInterval sets the sync interval used by Run.
func WithInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the logger used to report sync failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDemand sets the initial demand published on the first sync.
func WithDemand(demand float64) Option {
	return func(p *Pool) {
		p.demand = demand
	}
}

// New creates a pool connected to the given Redis server.
func New(address, password string, db int, opts ...Option) *Pool {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a pool from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Pool {
	p := &Pool{
		client:   client,
		key:      DefaultKey,
		interval: DefaultInterval,
		logger:   logging.NewNop(),
		dirty:    true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Demand() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.demand
}

// SetDemand records demand locally. It reaches Redis on the next Sync.
func (p *Pool) SetDemand(demand float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if demand != p.demand {
		p.demand = demand
		p.dirty = true
	}
}

func (p *Pool) Supply() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.supply
}

func (p *Pool) Utilisation() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.utilisation
}

func (p *Pool) Allocation() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.allocation
}

// Sync publishes a changed demand and refreshes the reported signals in one
// round trip. Fields missing from the hash keep their previous value.
func (p *Pool) Sync(ctx context.Context) error {
	p.mu.RLock()
	demand, dirty := p.demand, p.dirty
	p.mu.RUnlock()

	pipe := p.client.Pipeline()
	if dirty {
		pipe.HSet(ctx, p.key, fieldDemand, strconv.FormatFloat(demand, 'f', -1, 64))
	}
	signals := pipe.HMGet(ctx, p.key, fieldSupply, fieldUtilisation, fieldAllocation)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to sync pool %s: %w", p.key, err)
	}

	values, err := parseSignals(signals.Val())
	if err != nil {
		return fmt.Errorf("invalid pool signals in %s: %w", p.key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if dirty && p.demand == demand {
		p.dirty = false
	}
	for i, target := range []*float64{&p.supply, &p.utilisation, &p.allocation} {
		if values[i] != nil {
			*target = *values[i]
		}
	}
	return nil
}

func parseSignals(raw []any) ([3]*float64, error) {
	var values [3]*float64
	names := [3]string{fieldSupply, fieldUtilisation, fieldAllocation}
	for i, v := range raw {
		if i >= len(values) || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return values, fmt.Errorf("field %s has unexpected type %T", names[i], v)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return values, fmt.Errorf("field %s: %w", names[i], err)
		}
		values[i] = &f
	}
	return values, nil
}

// Run syncs every interval until ctx is cancelled. Failed syncs are logged
// and retried on the next tick. Register it as a service payload.
func (p *Pool) Run(ctx context.Context) (any, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Sync(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("pool sync failed", "key", p.key, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ping checks connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (p *Pool) Close() error {
	return p.client.Close()
}
