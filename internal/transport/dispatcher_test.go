package transport_test

import (
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/netice/goice/internal/transport"
)

func mustAddr(t *testing.T, s string, port uint16) transport.TransportAddress {
	t.Helper()
	return transport.NewTransportAddress(netip.AddrPortFrom(netip.MustParseAddr(s), port), transport.UDP)
}

// -------------------------------------------------------------------------
// EventDispatcher — idempotent registration (testable property 7)
// -------------------------------------------------------------------------

func TestEventDispatcher_DuplicateRegistrationFiresOnce(t *testing.T) {
	t.Parallel()

	d := transport.NewEventDispatcher(nil)
	var calls atomic.Int32
	listener := func(transport.StunMessageEvent) { calls.Add(1) }

	d.AddRequestListener(listener)
	d.AddRequestListener(listener) // duplicate, same function value

	d.Dispatch(transport.StunMessageEvent{
		Type: transport.StunMessageType{Class: transport.StunClassRequest},
	})

	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1 (duplicate registration must not double-fire)", got)
	}
}

func TestEventDispatcher_RemoveListenerStopsDelivery(t *testing.T) {
	t.Parallel()

	d := transport.NewEventDispatcher(nil)
	var calls atomic.Int32
	listener := func(transport.StunMessageEvent) { calls.Add(1) }

	d.AddRequestListener(listener)
	d.RemoveRequestListener(listener)

	d.Dispatch(transport.StunMessageEvent{
		Type: transport.StunMessageType{Class: transport.StunClassRequest},
	})

	if got := calls.Load(); got != 0 {
		t.Fatalf("calls = %d, want 0 after RemoveRequestListener", got)
	}
}

// -------------------------------------------------------------------------
// EventDispatcher — dispatch scoping by local address (testable property 8)
// -------------------------------------------------------------------------

func TestEventDispatcher_ScopedListenerOnlyFiresForItsLocalAddr(t *testing.T) {
	t.Parallel()

	d := transport.NewEventDispatcher(nil)
	addrA := mustAddr(t, "192.0.2.1", 5000)
	addrB := mustAddr(t, "192.0.2.2", 5000)

	var calledForA atomic.Int32
	d.AddRequestListenerFor(addrA, func(evt transport.StunMessageEvent) {
		calledForA.Add(1)
		if evt.Local != addrA {
			t.Errorf("listener scoped to A received event for %v", evt.Local)
		}
	})

	d.Dispatch(transport.StunMessageEvent{
		Type:  transport.StunMessageType{Class: transport.StunClassRequest},
		Local: addrB,
	})
	if got := calledForA.Load(); got != 0 {
		t.Fatalf("listener scoped to A fired for event at B: calls = %d, want 0", got)
	}

	d.Dispatch(transport.StunMessageEvent{
		Type:  transport.StunMessageType{Class: transport.StunClassRequest},
		Local: addrA,
	})
	if got := calledForA.Load(); got != 1 {
		t.Fatalf("listener scoped to A did not fire for its own address: calls = %d, want 1", got)
	}
}

// -------------------------------------------------------------------------
// EventDispatcher — request vs indication vs old-indication routing
// (scenario S2, design note OQ1)
// -------------------------------------------------------------------------

func TestEventDispatcher_RequestListenerFiresOnceForRequest(t *testing.T) {
	t.Parallel()

	d := transport.NewEventDispatcher(nil)
	var requestCalls, indicationCalls atomic.Int32
	d.AddRequestListener(func(transport.StunMessageEvent) { requestCalls.Add(1) })

	addr := mustAddr(t, "192.0.2.1", 3478)
	d.AddIndicationListener(addr, func(transport.StunMessageEvent) { indicationCalls.Add(1) })

	d.Dispatch(transport.StunMessageEvent{
		Type:  transport.StunMessageType{Class: transport.StunClassRequest},
		Local: addr,
	})

	if got := requestCalls.Load(); got != 1 {
		t.Fatalf("requestCalls = %d, want 1", got)
	}
	if got := indicationCalls.Load(); got != 0 {
		t.Fatalf("indicationCalls = %d, want 0 for a request event", got)
	}
}

func TestEventDispatcher_RemoveAllListenersClearsBothLevels(t *testing.T) {
	t.Parallel()

	d := transport.NewEventDispatcher(nil)
	addr := mustAddr(t, "192.0.2.1", 3478)
	var calls atomic.Int32
	d.AddRequestListener(func(transport.StunMessageEvent) { calls.Add(1) })
	d.AddIndicationListener(addr, func(transport.StunMessageEvent) { calls.Add(1) })

	d.RemoveAllListeners()

	d.Dispatch(transport.StunMessageEvent{Type: transport.StunMessageType{Class: transport.StunClassRequest}, Local: addr})
	d.Dispatch(transport.StunMessageEvent{Type: transport.StunMessageType{Class: transport.StunClassIndication}, Local: addr})

	if got := calls.Load(); got != 0 {
		t.Fatalf("calls = %d, want 0 after RemoveAllListeners", got)
	}
}
