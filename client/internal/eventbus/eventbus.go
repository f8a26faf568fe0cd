// Package eventbus implements the process-wide event stream that connects the
// chain sync layer to status consumers. Events are tagged variants; handlers
// are keyed by uuid so they can be removed again when the owning component
// shuts down.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
)

// Event is a tagged variant published on the bus.
type Event interface {
	isEvent()
}

// NetworkStatus carries a periodic summary of the sync layer.
type NetworkStatus struct {
	Blocks  uint64
	Domains uint64
	Keys    uint64
	Nodes   int
}

// BlockchainChanged signals that the chain was mutated at the given index.
type BlockchainChanged struct {
	Index uint64
}

// NewBlockReceived signals arrival of a single block from a peer.
type NewBlockReceived struct{}

// Syncing reports block download progress.
type Syncing struct {
	Have   uint64
	Height uint64
}

// SyncFinished signals that the chain caught up with the network.
type SyncFinished struct{}

func (NetworkStatus) isEvent()     {}
func (BlockchainChanged) isEvent() {}
func (NewBlockReceived) isEvent()  {}
func (Syncing) isEvent()           {}
func (SyncFinished) isEvent()      {}

// Handler consumes one event. Returning false removes the subscription, same
// as calling Unsubscribe.
type Handler func(event Event) bool

// Subscription identifies one registered handler.
type Subscription struct {
	id  uuid.UUID
	bus *Bus
}

// Unsubscribe removes the handler from the bus. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s.id)
}

// Bus dispatches events to all current subscribers in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[uuid.UUID]Handler
	order    []uuid.UUID
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[uuid.UUID]Handler)}
}

// Subscribe registers a handler and returns its subscription handle.
func (b *Bus) Subscribe(handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New()
	b.handlers[id] = handler
	b.order = append(b.order, id)
	return &Subscription{id: id, bus: b}
}

// Publish delivers the event to every subscriber synchronously. Handlers that
// return false are dropped.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	ids := make([]uuid.UUID, len(b.order))
	copy(ids, b.order)
	handlers := make(map[uuid.UUID]Handler, len(b.handlers))
	for id, h := range b.handlers {
		handlers[id] = h
	}
	b.mu.RUnlock()

	for _, id := range ids {
		handler, ok := handlers[id]
		if !ok {
			continue
		}
		if !handler(event) {
			b.remove(id)
		}
	}
}

func (b *Bus) remove(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handlers[id]; !ok {
		return
	}
	delete(b.handlers, id)
	for i, known := range b.order {
		if known == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Len returns the current number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

var defaultBus = New()

// Default returns the process-wide bus shared by all components.
func Default() *Bus {
	return defaultBus
}
