package corebank

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DomainEvent is one item published on the bus: spec.md §4.8's kind/tenant/
// entity-kind/entity-id/timestamp/event-id/payload shape. Amounts in
// Payload are decimal strings, never floats, so Kafka/notification bridges
// downstream can parse them without precision loss.
type DomainEvent struct {
	Kind       string
	Tenant     TenantID
	EntityKind string
	EntityID   string
	Timestamp  time.Time
	EventID    int64
	Payload    map[string]string
}

// EventHandler subscribes to published events. Handlers must not panic for
// control flow; a panic is caught, logged, and counted — it never aborts
// the publisher.
type EventHandler func(DomainEvent)

// DomainEventBus is an in-process publish/subscribe hub generalizing the
// teacher's EventProcessor (event_store.go), which only supports one
// hardcoded switch-dispatch consumer. Subscribers register at construction
// time (Design Notes' "injected event bus", not mixins or runtime
// instrumentation). Delivery is synchronous: Publish does not return until
// every subscriber for the event's kind has run.
type DomainEventBus struct {
	mu          sync.Mutex
	nextEventID int64
	subscribers map[string][]EventHandler // "" kind means "every event"
	failures    map[string]int64
	log         zerolog.Logger
}

// NewDomainEventBus constructs an empty bus.
func NewDomainEventBus(log zerolog.Logger) *DomainEventBus {
	return &DomainEventBus{
		subscribers: make(map[string][]EventHandler),
		failures:    make(map[string]int64),
		log:         log,
	}
}

// Subscribe registers handler for events of kind, or every event if kind is
// "". Subscriptions are only expected at startup wiring, not mid-run.
func (b *DomainEventBus) Subscribe(kind string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], handler)
}

// Publish assigns evt a monotonic event id and tenant tag, then delivers it
// synchronously to every matching subscriber. Ordering for a given (tenant,
// entity) depends on the caller serializing its own Publish calls — Ledger
// publishes while holding its per-tenant post mutex; TransactionProcessor
// publishes its TRANSACTION_* events without holding any lock.
func (b *DomainEventBus) Publish(tenant TenantID, evt DomainEvent) DomainEvent {
	b.mu.Lock()
	b.nextEventID++
	evt.EventID = b.nextEventID
	evt.Tenant = tenant
	handlers := make([]EventHandler, 0, len(b.subscribers[evt.Kind])+len(b.subscribers[""]))
	handlers = append(handlers, b.subscribers[evt.Kind]...)
	handlers = append(handlers, b.subscribers[""]...)
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(h, evt)
	}
	return evt
}

func (b *DomainEventBus) dispatch(h EventHandler, evt DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.failures[evt.Kind]++
			b.mu.Unlock()
			b.log.Error().
				Interface("panic", r).
				Str("event_kind", evt.Kind).
				Str("entity_id", evt.EntityID).
				Msg("domain event handler panicked")
		}
	}()
	h(evt)
}

// FailureCount reports how many handler panics have been caught for kind.
func (b *DomainEventBus) FailureCount(kind string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[kind]
}
