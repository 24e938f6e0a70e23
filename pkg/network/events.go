package network

import "sync"

// EventType tags an event on the bus.
type EventType string

const (
	EventServerStarted   EventType = "server_started"
	EventServerStopped   EventType = "server_stopped"
	EventMessageReceived EventType = "message_received"
	EventContactAdded    EventType = "contact_added"
	EventError           EventType = "error"
)

// Event is one occurrence broadcast to subscribers. Only the fields
// relevant to the type are set.
type Event struct {
	Type    EventType    `json:"type"`
	Port    uint16       `json:"port,omitempty"`
	Message *ChatMessage `json:"message,omitempty"`
	Contact *Contact     `json:"contact,omitempty"`
	Error   string       `json:"error,omitempty"`
	Context string       `json:"context,omitempty"`
}

// EventBus fans events out to subscriber channels. Emitting never blocks;
// a subscriber that stops draining loses events rather than stalling the
// transport.
type EventBus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewEventBus builds an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered channel for all future events and
// returns it with a cancel function that closes the channel.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Emit delivers the event to every subscriber with room in its buffer.
func (b *EventBus) Emit(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
