// Package pool defines the resource pool protocol driven by the demand pipeline.
package pool

import "sync"

// Pool is a set of resources whose size is steered through Demand.
//
// Supply, Utilisation and Allocation are read-only signals reported by the
// pool. Utilisation and Allocation are fractions in [0, 1].
type Pool interface {
	Demand() float64
	SetDemand(demand float64)
	Supply() float64
	Utilisation() float64
	Allocation() float64
}

// Decorator forwards every call to Target. Embed it and override the
// methods a decorator changes.
type Decorator struct {
	Target Pool
}

func (d *Decorator) Demand() float64 {
	return d.Target.Demand()
}

func (d *Decorator) SetDemand(demand float64) {
	d.Target.SetDemand(demand)
}

func (d *Decorator) Supply() float64 {
	return d.Target.Supply()
}

func (d *Decorator) Utilisation() float64 {
	return d.Target.Utilisation()
}

func (d *Decorator) Allocation() float64 {
	return d.Target.Allocation()
}

// Static is an in-memory pool whose signals are set by its owner.
type Static struct {
	mu          sync.RWMutex
	demand      float64
	supply      float64
	utilisation float64
	allocation  float64
}

// NewStatic creates a pool with the given initial demand.
func NewStatic(demand float64) *Static {
	return &Static{demand: demand}
}

func (s *Static) Demand() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.demand
}

func (s *Static) SetDemand(demand float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.demand = demand
}

func (s *Static) Supply() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supply
}

func (s *Static) Utilisation() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.utilisation
}

func (s *Static) Allocation() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocation
}

// SetSignals replaces the reported supply, utilisation and allocation.
func (s *Static) SetSignals(supply, utilisation, allocation float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supply, s.utilisation, s.allocation = supply, utilisation, allocation
}
