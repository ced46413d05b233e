// Package events fans progress events out to connected listeners.
package events

import (
	"sync"

	"github.com/ytget/ytfetch/internal/model"
)

// DefaultBuffer is the per-listener queue length
const DefaultBuffer = 256

// DropCounter is told about every event a slow listener missed
type DropCounter interface {
	EventDropped()
}

// Bus delivers events to listeners without ever blocking the publisher.
// A listener whose queue is full misses the event. Events of one task
// published from one goroutine arrive in publication order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	drops  DropCounter
}

// New creates a bus. drops may be nil.
func New(drops DropCounter) *Bus {
	return &Bus{
		subs:  make(map[uint64]*Subscription),
		drops: drops,
	}
}

// Subscription is one listener. Events() is closed by Close.
type Subscription struct {
	id     uint64
	ch     chan model.ProgressEvent
	filter map[string]struct{}
	bus    *Bus
	once   sync.Once
}

// Subscribe registers a listener for the given task ids, or for every task
// when none are given
func (b *Bus) Subscribe(buffer int, taskIDs ...string) *Subscription {
	if buffer < 1 {
		buffer = DefaultBuffer
	}

	sub := &Subscription{
		ch:  make(chan model.ProgressEvent, buffer),
		bus: b,
	}
	if len(taskIDs) > 0 {
		sub.filter = make(map[string]struct{}, len(taskIDs))
		for _, id := range taskIDs {
			sub.filter[id] = struct{}{}
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub
}

// Publish hands ev to every interested listener. It never blocks and never fails.
func (b *Bus) Publish(ev model.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(ev.TaskID) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if b.drops != nil {
				b.drops.EventDropped()
			}
		}
	}
}

// Listeners returns the number of registered listeners
func (b *Bus) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Events returns the delivery channel
func (s *Subscription) Events() <-chan model.ProgressEvent {
	return s.ch
}

// Close unregisters the listener and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

func (s *Subscription) wants(taskID string) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[taskID]
	return ok
}
