package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives published events. Handlers run synchronously on the
// emitting goroutine and must not block.
type Handler func(event *Event)

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus fans events out to subscribers by type.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID SubscriptionID
	log    zerolog.Logger
}

// NewBus creates an empty event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventType][]subscription),
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler for eventType.
func (b *Bus) Subscribe(eventType EventType, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers handler for every known event type and returns the
// subscription ids in AllTypes order.
func (b *Bus) SubscribeAll(handler Handler) []SubscriptionID {
	ids := make([]SubscriptionID, 0, len(AllTypes))
	for _, t := range AllTypes {
		ids = append(ids, b.Subscribe(t, handler))
	}
	return ids
}

// Unsubscribe removes the given subscriptions. Unknown ids are ignored.
func (b *Bus) Unsubscribe(ids ...SubscriptionID) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[SubscriptionID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for t, list := range b.subs {
		kept := list[:0]
		for _, s := range list {
			if !drop[s.id] {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(b.subs, t)
		} else {
			b.subs[t] = kept
		}
	}
}

// Emit publishes an event to the subscribers of its type. A panicking handler
// is logged and does not stop delivery to the others.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Module:    module,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[eventType]))
	for _, s := range b.subs[eventType] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}

// SubscriberCount returns the number of handlers registered for eventType.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
