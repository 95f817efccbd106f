package events

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/jordanhubbard/mend/pkg/messages"
)

// Handler receives published events.
type Handler func(*messages.EventMessage)

// Subscription represents one registered event listener
type Subscription struct {
	ID    string
	Types map[string]bool // empty means all event types
	ch    chan *messages.EventMessage
	done  chan struct{}
}

// Bus is an in-process publish/subscribe event bus. Delivery is asynchronous:
// each subscriber drains its own buffered queue, so a slow observer never
// blocks the controller.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	bufferSize  int
	closed      bool
}

// NewBus creates an event bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		subscribers: make(map[string]*Subscription),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a handler for the given event types. With no types the
// handler receives every event. The returned subscription id is used to
// unsubscribe.
func (b *Bus) Subscribe(handler Handler, eventTypes ...string) string {
	sub := &Subscription{
		ID:    uuid.New().String(),
		Types: make(map[string]bool, len(eventTypes)),
		ch:    make(chan *messages.EventMessage, b.bufferSize),
		done:  make(chan struct{}),
	}
	for _, t := range eventTypes {
		sub.Types[t] = true
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-sub.ch:
				if !ok {
					return
				}
				handler(ev)
			case <-sub.done:
				return
			}
		}
	}()

	return sub.ID
}

// Unsubscribe removes a subscription. Safe to call more than once.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.done)
}

// Publish delivers an event to all matching subscribers. Events to
// subscribers with full queues are dropped rather than blocking the caller.
func (b *Bus) Publish(ev *messages.EventMessage) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if len(sub.Types) > 0 && !sub.Types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Printf("[EventBus] Dropping %s event for slow subscriber %s", ev.Type, sub.ID)
		}
	}
}

// Close shuts down all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.done)
	}
}
