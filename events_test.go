package corebank

import (
	"testing"

	"github.com/rs/zerolog"
)

func newEventBusFixture() *DomainEventBus {
	return NewDomainEventBus(zerolog.Nop())
}

func TestEventBusDispatchesByKind(t *testing.T) {
	bus := newEventBusFixture()
	var postedCount, reversedCount int
	bus.Subscribe("TRANSACTION_POSTED", func(DomainEvent) { postedCount++ })
	bus.Subscribe("TRANSACTION_REVERSED", func(DomainEvent) { reversedCount++ })

	bus.Publish("tenant-a", DomainEvent{Kind: "TRANSACTION_POSTED", EntityKind: "entry", EntityID: "e-1"})
	bus.Publish("tenant-a", DomainEvent{Kind: "TRANSACTION_POSTED", EntityKind: "entry", EntityID: "e-2"})
	bus.Publish("tenant-a", DomainEvent{Kind: "TRANSACTION_REVERSED", EntityKind: "entry", EntityID: "e-1"})

	if postedCount != 2 {
		t.Fatalf("expected 2 posted deliveries, got %d", postedCount)
	}
	if reversedCount != 1 {
		t.Fatalf("expected 1 reversed delivery, got %d", reversedCount)
	}
}

func TestEventBusWildcardSubscriberSeesEveryKind(t *testing.T) {
	bus := newEventBusFixture()
	var wildcardCount int
	bus.Subscribe("", func(DomainEvent) { wildcardCount++ })
	bus.Subscribe("TRANSACTION_POSTED", func(DomainEvent) {})

	bus.Publish("tenant-a", DomainEvent{Kind: "TRANSACTION_POSTED"})
	bus.Publish("tenant-a", DomainEvent{Kind: "LOAN_DISBURSED"})

	if wildcardCount != 2 {
		t.Fatalf("expected wildcard subscriber to see both events, got %d", wildcardCount)
	}
}

func TestEventBusAssignsMonotonicEventIDsAndTenant(t *testing.T) {
	bus := newEventBusFixture()
	first := bus.Publish("tenant-a", DomainEvent{Kind: "TRANSACTION_POSTED"})
	second := bus.Publish("tenant-b", DomainEvent{Kind: "TRANSACTION_POSTED"})

	if second.EventID <= first.EventID {
		t.Fatalf("expected monotonically increasing event ids, got %d then %d", first.EventID, second.EventID)
	}
	if first.Tenant != "tenant-a" || second.Tenant != "tenant-b" {
		t.Fatalf("expected Publish to stamp the tenant onto the event, got %q and %q", first.Tenant, second.Tenant)
	}
}

func TestEventBusHandlerPanicIsCaughtAndCounted(t *testing.T) {
	bus := newEventBusFixture()
	var ranAfterPanic bool
	bus.Subscribe("TRANSACTION_POSTED", func(DomainEvent) { panic("boom") })
	bus.Subscribe("TRANSACTION_POSTED", func(DomainEvent) { ranAfterPanic = true })

	bus.Publish("tenant-a", DomainEvent{Kind: "TRANSACTION_POSTED"})

	if !ranAfterPanic {
		t.Fatal("expected a panicking handler not to prevent the next subscriber from running")
	}
	if bus.FailureCount("TRANSACTION_POSTED") != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", bus.FailureCount("TRANSACTION_POSTED"))
	}
}
