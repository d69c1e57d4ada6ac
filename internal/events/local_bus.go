package events

import (
	"context"
	"sync"
)

// LocalEventBus is an in-process EventBus for single-node deployments and
// tests. Dispatch is synchronous so callers observe handler effects directly.
type LocalEventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
	running  bool

	// Published records every published event for inspection in tests.
	published []Event
}

func NewLocalEventBus() *LocalEventBus {
	return &LocalEventBus{handlers: make(map[EventType][]EventHandler)}
}

func (b *LocalEventBus) Start() error {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	return nil
}

func (b *LocalEventBus) Stop() error {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	return nil
}

func (b *LocalEventBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	b.published = append(b.published, event)
	handlers := append([]EventHandler(nil), b.handlers[event.EventType()]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *LocalEventBus) Subscribe(eventType EventType, handler EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Published returns a copy of everything published so far.
func (b *LocalEventBus) Published() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.published...)
}

// PublishedOf filters published events by type.
func (b *LocalEventBus) PublishedOf(eventType EventType) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.published {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}
