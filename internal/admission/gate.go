// Package admission bounds how many heavy transfers run at once.
package admission

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is the number of concurrent transfers admitted
const DefaultCapacity = 5

// Observer is notified whenever occupancy changes
type Observer interface {
	GateChanged(inUse, waiting int)
}

// Gate is a counting gate. Waiters are admitted in arrival order.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
	inUse    atomic.Int64
	waiting  atomic.Int64
	observer Observer
}

// New creates a gate with the given capacity (DefaultCapacity when < 1)
func New(capacity int, observer Observer) *Gate {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		observer: observer,
	}
}

// Acquire blocks until a slot is free or ctx is done
func (g *Gate) Acquire(ctx context.Context) error {
	g.waiting.Add(1)
	g.notify()

	err := g.sem.Acquire(ctx, 1)

	g.waiting.Add(-1)
	if err == nil {
		g.inUse.Add(1)
	}
	g.notify()
	return err
}

// Release frees one slot
func (g *Gate) Release() {
	g.inUse.Add(-1)
	g.sem.Release(1)
	g.notify()
}

// Capacity returns the configured capacity
func (g *Gate) Capacity() int {
	return g.capacity
}

// InUse returns the number of held slots
func (g *Gate) InUse() int {
	return int(g.inUse.Load())
}

// Waiting returns the number of blocked acquirers
func (g *Gate) Waiting() int {
	return int(g.waiting.Load())
}

func (g *Gate) notify() {
	if g.observer != nil {
		g.observer.GateChanged(g.InUse(), g.Waiting())
	}
}
