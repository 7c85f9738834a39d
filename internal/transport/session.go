package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// SessionState tracks the lifecycle of a logical Session: created on first
// packet, live while traffic flows, stale once idle past its timeout.
type SessionState uint32

const (
	SessionStateNew SessionState = iota
	SessionStateActive
	SessionStateStale
	SessionStateClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateNew:
		return "new"
	case SessionStateActive:
		return "active"
	case SessionStateStale:
		return "stale"
	case SessionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the logical unit of ICE traffic demultiplexed onto a single
// SocketWrapper: for UDP it is a synthesized (local, remote) 5-tuple
// mapping sharing the underlying listening socket; for TCP it is the
// connection itself. State is tracked with atomics so Session can be read
// concurrently by the dispatcher and the stale-session sweep without a
// lock, mirroring the teacher's atomic.Uint32-state Session idiom.
type Session struct {
	ID        uint64
	Remote    TransportAddress
	Local     TransportAddress
	Transport Transport

	state      atomic.Uint32
	lastActive atomic.Int64
	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64

	// Attributes holds per-session, out-of-band values attached by I/O
	// handler glue (C8) — notably SessionAttrStunStack and
	// SessionAttrConnection, installed once on the session's first open.
	Attributes sync.Map
}

// Well-known Attributes keys populated by the C8 I/O handler glue.
const (
	SessionAttrStunStack  = "STUN_STACK"
	SessionAttrConnection = "CONNECTION"
)

// nextSessionID is a process-wide monotonic counter handing out each
// Session's ID. Unlike the teacher's BFD discriminators (RFC 5880 §6.8.1,
// DiscriminatorAllocator), a session ID carries no on-wire uniqueness or
// randomness requirement -- it only needs to distinguish sessions within
// this process for logging and introspection -- so a plain counter serves
// instead of a random-allocate-with-collision-retry scheme.
var nextSessionID atomic.Uint64

// NewSession constructs a Session in the New state, touched at construction
// time.
func NewSession(remote, local TransportAddress, transport Transport) *Session {
	s := &Session{ID: nextSessionID.Add(1), Remote: remote, Local: local, Transport: transport}
	s.state.Store(uint32(SessionStateNew))
	s.touch()
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// touch records the current time as the session's last-activity instant
// and, if the session was New or Stale, promotes it to Active.
func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
	for {
		cur := SessionState(s.state.Load())
		if cur == SessionStateActive || cur == SessionStateClosed {
			return
		}
		if s.state.CompareAndSwap(uint32(cur), uint32(SessionStateActive)) {
			return
		}
	}
}

// RecordInbound marks the session as touched and accounts n bytes received.
func (s *Session) RecordInbound(n int) {
	s.touch()
	s.packetsIn.Add(1)
	s.bytesIn.Add(uint64(n))
}

// RecordOutbound accounts n bytes sent without affecting the staleness
// clock (spec: outbound traffic alone does not keep a session alive).
func (s *Session) RecordOutbound(n int) {
	s.packetsOut.Add(1)
	s.bytesOut.Add(uint64(n))
}

// IdleFor reports how long it has been since the session last received
// traffic.
func (s *Session) IdleFor(now time.Time) time.Duration {
	last := time.Unix(0, s.lastActive.Load())
	return now.Sub(last)
}

// MarkStale transitions an Active session to Stale. A no-op if the session
// is already Closed.
func (s *Session) MarkStale() {
	s.state.CompareAndSwap(uint32(SessionStateActive), uint32(SessionStateStale))
}

// MarkClosed transitions the session to Closed unconditionally.
func (s *Session) MarkClosed() {
	s.state.Store(uint32(SessionStateClosed))
}

// SessionStats is a point-in-time, allocation-free snapshot of session counters.
type SessionStats struct {
	PacketsIn  uint64
	PacketsOut uint64
	BytesIn    uint64
	BytesOut   uint64
}

// Stats returns a snapshot of the session's traffic counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		PacketsIn:  s.packetsIn.Load(),
		PacketsOut: s.packetsOut.Load(),
		BytesIn:    s.bytesIn.Load(),
		BytesOut:   s.bytesOut.Load(),
	}
}
