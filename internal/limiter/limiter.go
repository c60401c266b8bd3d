// Package limiter provides counting permit pools that bound in-flight
// requests per provider family.
package limiter

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limiter is a counting permit pool of fixed capacity.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
}

// New creates a limiter with the given capacity. Capacities below 1 are
// raised to 1.
func New(capacity int) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(capacity)), capacity: capacity}
}

// Capacity returns the pool size.
func (l *Limiter) Capacity() int { return l.capacity }

// Acquire suspends the caller until a permit is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Permit{l: l}, nil
}

// Permit is a single acquired slot. Release is safe to call more than once;
// only the first call returns the permit.
type Permit struct {
	once sync.Once
	l    *Limiter
}

// Release returns the permit to the pool.
func (p *Permit) Release() {
	p.once.Do(func() { p.l.sem.Release(1) })
}

// Registry hands out one shared limiter per provider family, so every model
// of a family respects the same upstream per-domain cap.
type Registry struct {
	mu         sync.Mutex
	defaultCap int
	capacities map[string]int
	limiters   map[string]*Limiter
}

// NewRegistry creates a registry whose families default to defaultCapacity.
func NewRegistry(defaultCapacity int) *Registry {
	if defaultCapacity < 1 {
		defaultCapacity = 1
	}
	return &Registry{
		defaultCap: defaultCapacity,
		capacities: make(map[string]int),
		limiters:   make(map[string]*Limiter),
	}
}

// SetCapacity overrides the capacity for a family. It must be called before
// the family's limiter is first handed out.
func (r *Registry) SetCapacity(family string, capacity int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capacities[family] = capacity
}

// For returns the shared limiter for a family, creating it on first use.
func (r *Registry) For(family string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[family]; ok {
		return l
	}
	capacity := r.defaultCap
	if c, ok := r.capacities[family]; ok {
		capacity = c
	}
	l := New(capacity)
	r.limiters[family] = l
	return l
}
