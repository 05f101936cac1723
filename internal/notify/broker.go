package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one at-least-once notification. Delivery may repeat across
// reconnects, so consumers de-duplicate by ID.
type Event struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent builds an event with a fresh ID, marshaling the payload.
// Payloads that fail to marshal are sent empty rather than dropped.
func NewEvent(topic string, payload any) Event {
	ev := Event{
		ID:    uuid.NewString(),
		Topic: topic,
		At:    time.Now(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// Handler receives events for one subscription.
type Handler func(Event)

// Broker is a narrow at-least-once event stream. Subscribe returns an
// unsubscribe func so the backing implementation can be swapped without
// touching consumers.
type Broker interface {
	Publish(topic string, ev Event)
	Subscribe(topic string, h Handler) (unsubscribe func())
}

// MemoryBroker delivers events to in-process subscribers.
type MemoryBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]Handler)}
}

func (b *MemoryBroker) Publish(topic string, ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (b *MemoryBroker) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.subs[topic][id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs[topic], id)
		b.mu.Unlock()
	}
}
