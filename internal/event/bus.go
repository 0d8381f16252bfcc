// Package event carries change notifications from the engine to registered
// observers, replacing the browser-dispatched refresh event of the legacy UI.
package event

import "sync"

// Change identifies a committed mutation: which entity kind and which row.
type Change struct {
	Entity string
	ID     string
}

// Entity kinds published by the engine.
const (
	EntityLine  = "lines"
	EntityBatch = "settlement_batches"
)

// Handler receives a change notification after the transaction committed.
type Handler func(Change)

// Bus is a minimal in-process observer registry.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus { return &Bus{} }

// Subscribe registers a handler. Handlers run synchronously on Publish,
// in registration order.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish delivers the change to all registered handlers.
func (b *Bus) Publish(c Change) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(c)
	}
}
