package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one event. A returned error is logged and dropped.
type HandlerFunc func(ctx context.Context, event Event) error

type subscriber struct {
	name    string
	handler HandlerFunc
}

// EventBus fans interception events out to storage, telemetry and the CLI.
// Handlers run on their own goroutines so a slow subscriber never holds up
// an exchange.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]subscriber
	closed   bool
	inflight sync.WaitGroup
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[EventType][]subscriber)}
}

// Subscribe registers handler for eventType under name.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	eb.handlers[eventType] = append(eb.handlers[eventType], subscriber{name: name, handler: handler})
	eb.mu.Unlock()

	log.Debug().Str("event", string(eventType)).Str("handler", name).Msg("subscribed")
}

// Unsubscribe drops every handler registered for eventType under name.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	kept := eb.handlers[eventType][:0:0]
	for _, s := range eb.handlers[eventType] {
		if s.name != name {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(eb.handlers, eventType)
		return
	}
	eb.handlers[eventType] = kept
}

// Publish delivers payload to the subscribers of eventType. It is safe on a
// nil bus and after Stop; both discard the event.
func (eb *EventBus) Publish(eventType EventType, source string, payload interface{}) {
	if eb == nil {
		return
	}
	event := Event{Type: eventType, Source: source, Payload: payload}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}

	subs := eb.handlers[eventType]
	log.Trace().Str("event", string(eventType)).Str("source", source).Int("handlers", len(subs)).Msg("publish")

	eb.inflight.Add(len(subs))
	for _, s := range subs {
		go eb.dispatch(s, event)
	}
}

func (eb *EventBus) dispatch(s subscriber, event Event) {
	defer eb.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", string(event.Type)).Str("handler", s.name).Interface("panic", r).Msg("handler panicked")
		}
	}()

	if err := s.handler(context.Background(), event); err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Str("handler", s.name).Msg("handler failed")
	}
}

// Stop refuses further events and waits for running handlers. Later calls
// return immediately.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.closed = true
	eb.mu.Unlock()

	eb.inflight.Wait()
	log.Info().Msg("event bus stopped")
}
