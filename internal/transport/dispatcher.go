package transport

import (
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
)

// MessageListener receives STUN events routed to it by the EventDispatcher.
type MessageListener func(evt StunMessageEvent)

// The three message types addRequestListener/addIndicationListener/
// addOldIndicationListener register against, each the literal
// `messageType & 0x0110` mask value spec §4.7 computes. Success/error
// response traffic is not routed through the dispatcher: it matches a
// pending transaction and is handled by the StunStack directly.
const (
	messageTypeRequest       uint16 = 0x0000
	messageTypeIndication    uint16 = 0x0010
	messageTypeOldIndication uint16 = 0x0110
)

type registeredListener struct {
	fn  MessageListener
	ptr uintptr
}

func wrapListener(l MessageListener) registeredListener {
	return registeredListener{fn: l, ptr: reflect.ValueOf(l).Pointer()}
}

// EventDispatcher is C7: a two-level fan-out tree. The top level holds
// listeners registered without a localAddr ("generic" listeners); the
// second level is one child EventDispatcher per local address, recursed
// into at most once per fireMessageEvent (spec §4.7 step 3: "depth
// limited to 1"). Listener slices are copy-on-write so Dispatch holds the
// lock only to read the current slices, never while calling listeners,
// matching the spec's
// "EventDispatcher.messageListeners is copy-on-write" invariant and
// generalizing the teacher's rawNotifyCh/publicNotifyCh fan-out idiom
// from channels to a registered-listener tree.
type EventDispatcher struct {
	mu     sync.Mutex
	logger *slog.Logger

	listeners map[uint16][]registeredListener
	children  map[TransportAddress]*EventDispatcher
}

// NewEventDispatcher builds an empty dispatcher.
func NewEventDispatcher(logger *slog.Logger) *EventDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventDispatcher{
		logger:    logger,
		listeners: make(map[uint16][]registeredListener),
		children:  make(map[TransportAddress]*EventDispatcher),
	}
}

func (d *EventDispatcher) childFor(localAddr TransportAddress) *EventDispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.children[localAddr]
	if !ok {
		c = NewEventDispatcher(d.logger)
		d.children[localAddr] = c
	}
	return c
}

// addListener registers l under messageType, deduplicating by (messageType,
// function identity) per spec §4.7's "structural (messageType, delegate)
// equality" rule — the closest Go analogue to comparing delegates is
// comparing their underlying code pointer via reflect.
func (d *EventDispatcher) addListener(messageType uint16, l MessageListener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry := wrapListener(l)
	for _, existing := range d.listeners[messageType] {
		if existing.ptr == entry.ptr {
			return
		}
	}
	next := append(append([]registeredListener{}, d.listeners[messageType]...), entry)
	d.listeners[messageType] = next
}

func (d *EventDispatcher) removeListener(messageType uint16, l MessageListener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ptr := reflect.ValueOf(l).Pointer()
	existing := d.listeners[messageType]
	next := make([]registeredListener, 0, len(existing))
	for _, e := range existing {
		if e.ptr != ptr {
			next = append(next, e)
		}
	}
	d.listeners[messageType] = next
}

// AddRequestListener registers a generic (not localAddr-scoped) listener
// for STUN requests.
func (d *EventDispatcher) AddRequestListener(l MessageListener) {
	d.addListener(messageTypeRequest, l)
}

// AddRequestListenerFor registers l for STUN requests observed on
// localAddr's child dispatcher.
func (d *EventDispatcher) AddRequestListenerFor(localAddr TransportAddress, l MessageListener) {
	d.childFor(localAddr).addListener(messageTypeRequest, l)
}

// AddIndicationListener registers l for STUN indications observed on
// localAddr's child dispatcher.
func (d *EventDispatcher) AddIndicationListener(localAddr TransportAddress, l MessageListener) {
	d.childFor(localAddr).addListener(messageTypeIndication, l)
}

// AddOldIndicationListener registers l for the legacy OLD-INDICATION
// message type (0x0110 — bit-identical to an error response; see
// IsOldIndication) observed on localAddr's child dispatcher.
func (d *EventDispatcher) AddOldIndicationListener(localAddr TransportAddress, l MessageListener) {
	d.childFor(localAddr).addListener(messageTypeOldIndication, l)
}

// RemoveRequestListener removes a generic request listener.
func (d *EventDispatcher) RemoveRequestListener(l MessageListener) {
	d.removeListener(messageTypeRequest, l)
}

// RemoveRequestListenerFor removes a localAddr-scoped request listener.
func (d *EventDispatcher) RemoveRequestListenerFor(localAddr TransportAddress, l MessageListener) {
	d.childFor(localAddr).removeListener(messageTypeRequest, l)
}

// RemoveIndicationListener removes a localAddr-scoped indication listener.
func (d *EventDispatcher) RemoveIndicationListener(localAddr TransportAddress, l MessageListener) {
	d.childFor(localAddr).removeListener(messageTypeIndication, l)
}

// RemoveOldIndicationListener removes a localAddr-scoped old-indication
// listener.
func (d *EventDispatcher) RemoveOldIndicationListener(localAddr TransportAddress, l MessageListener) {
	d.childFor(localAddr).removeListener(messageTypeOldIndication, l)
}

// RemoveAllListeners atomically clears both the top level and every child
// dispatcher.
func (d *EventDispatcher) RemoveAllListeners() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = make(map[uint16][]registeredListener)
	d.children = make(map[TransportAddress]*EventDispatcher)
}

// messageType computes the literal `messageType & 0x0110` mask spec §4.7
// step 1 describes.
func messageType(mt StunMessageType) uint16 {
	var v uint16
	if mt.Class == StunClassIndication || mt.Class == StunClassErrorResponse {
		v |= 0x0010
	}
	if mt.Class == StunClassSuccessResponse || mt.Class == StunClassErrorResponse {
		v |= 0x0100
	}
	return v
}

// dispatchCounts backs DispatchCounts, a polled counter per masked message
// type for the goice_transport_dispatch_total metric.
var (
	dispatchCountRequest       atomic.Uint64
	dispatchCountIndication    atomic.Uint64
	dispatchCountOldIndication atomic.Uint64
)

func recordDispatch(mt uint16) {
	switch mt {
	case messageTypeRequest:
		dispatchCountRequest.Add(1)
	case messageTypeIndication:
		dispatchCountIndication.Add(1)
	case messageTypeOldIndication:
		dispatchCountOldIndication.Add(1)
	}
}

// DispatchCounts returns a snapshot of dispatch counts keyed by message
// type name, for a metrics poller to copy into
// goice_transport_dispatch_total.
func DispatchCounts() map[string]uint64 {
	return map[string]uint64{
		"request":       dispatchCountRequest.Load(),
		"indication":    dispatchCountIndication.Load(),
		"old_indication": dispatchCountOldIndication.Load(),
	}
}

// DispatcherSnapshot describes one level of an EventDispatcher's
// registered-listener tree, for the `icectl dispatcher tree`
// introspection surface (spec A3).
type DispatcherSnapshot struct {
	ListenerCounts map[string]int
	Children       map[TransportAddress]DispatcherSnapshot
}

func messageTypeName(mt uint16) string {
	switch mt {
	case messageTypeRequest:
		return "request"
	case messageTypeIndication:
		return "indication"
	case messageTypeOldIndication:
		return "old_indication"
	default:
		return "unknown"
	}
}

// Snapshot walks the dispatcher tree and reports listener counts per
// message type at each level, recursing into every child dispatcher.
func (d *EventDispatcher) Snapshot() DispatcherSnapshot {
	d.mu.Lock()
	counts := make(map[string]int, len(d.listeners))
	for mt, ls := range d.listeners {
		counts[messageTypeName(mt)] = len(ls)
	}
	childDispatchers := make(map[TransportAddress]*EventDispatcher, len(d.children))
	for addr, c := range d.children {
		childDispatchers[addr] = c
	}
	d.mu.Unlock()

	children := make(map[TransportAddress]DispatcherSnapshot, len(childDispatchers))
	for addr, c := range childDispatchers {
		children[addr] = c.Snapshot()
	}

	return DispatcherSnapshot{ListenerCounts: counts, Children: children}
}

// Dispatch implements fireMessageEvent: invoke every top-level listener
// whose registered type matches evt, then recurse once into the child
// dispatcher for evt.Local, if any.
func (d *EventDispatcher) Dispatch(evt StunMessageEvent) {
	mt := messageType(evt.Type)
	recordDispatch(mt)

	d.mu.Lock()
	top := d.listeners[mt]
	child, hasChild := d.children[evt.Local]
	d.mu.Unlock()

	delivered := 0
	for _, l := range top {
		l.fn(evt)
		delivered++
	}

	if hasChild {
		child.mu.Lock()
		childListeners := child.listeners[mt]
		child.mu.Unlock()
		for _, l := range childListeners {
			l.fn(evt)
			delivered++
		}
	}

	if delivered == 0 {
		d.logger.Debug("stun message had no registered listener",
			slog.String("class", evt.Type.Class.String()),
			slog.Uint64("method", uint64(evt.Type.Method)),
			slog.String("remote", evt.Remote.String()),
			slog.String("local", evt.Local.String()),
		)
	}
}
