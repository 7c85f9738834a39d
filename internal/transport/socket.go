package transport

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
)

// connectTimeout bounds how long send() will wait on the connect latch
// before giving up (spec §4.4 step 3, property 10). A var rather than a
// const so SetConnectTimeoutForTest can shrink it instead of a test having
// to wait out the full 3s.
var connectTimeout = 3 * time.Second

// SetConnectTimeoutForTest overrides connectTimeout for the duration of a
// test, returning a restore func. Mutates package-level state, so callers
// must not run in parallel with other tests that send on a socket with no
// active session. Production code must never call this.
func SetConnectTimeoutForTest(d time.Duration) (restore func()) {
	prev := connectTimeout
	connectTimeout = d
	return func() { connectTimeout = prev }
}

// staleSessionCap bounds the staleSessions ring; the oldest entry is
// evicted to make room for a newly-demoted session (spec §4.4 "bounded
// ring; oldest evicted").
const staleSessionCap = 16

// socketConn is the minimal surface SocketWrapper needs from the
// underlying net.PacketConn/net.Conn, narrowed so udp/tcp specializations
// can supply their own implementation without the wrapper caring which.
type socketConn interface {
	Close() error
	LocalAddr() net.Addr
}

// DataFilter gates queue-insertion of a raw, non-STUN payload. A filter
// returning false causes the payload to be dropped before it reaches the
// RawMessageQueue (e.g. a STUN-data filter admitting only STUN-looking
// bytes on a socket that should never see opaque application data).
type DataFilter func(buf []byte, remote TransportAddress) bool

// SocketWrapper is the C4 per-socket handle every harvested candidate and
// every accepted TCP connection owns. At most one Session is "active" at
// any time; when the active remote changes, the previous session is
// demoted into staleSessions, which keeps accepting outbound writes to
// its original remote but never receives new ingress.
//
// Field layout follows the teacher's atomic-state Session: no lock is held
// while a buffer is written or queued; the mutex guards only the session
// list and the filter list, and is held briefly to read or swap them
// (newSession, installSession, sweepStale, AddFilter, admits).
type SocketWrapper struct {
	id xid.ID

	conn      socketConn
	transport Transport
	local     TransportAddress

	dispatcher *EventDispatcher
	queue      *RawMessageQueue
	relayed    RelayedConnection

	// acceptor is the Acceptor this wrapper is registered with, if any.
	// newSession asks it to synthesize outbound sessions per spec §4.4; a
	// wrapper with no attached acceptor cannot synthesize one, which is
	// what lets Send's connect-latch wait actually time out (property 10).
	acceptor *Acceptor

	closed     atomic.Bool
	connecting atomic.Bool

	mu      sync.Mutex
	active  atomic.Pointer[Session]
	stale   []*Session // bounded ring, oldest at index 0
	filters []DataFilter

	// staleSnapshot is a copy-on-write read view of stale, refreshed
	// whenever stale is mutated under mu, so StaleSessions() never takes
	// the lock.
	staleSnapshot atomic.Pointer[[]*Session]

	connectLatch chan struct{}
	latchOnce    sync.Once
	connectErr   error

	// onOpened is invoked by installSession the first time an active
	// session is installed on this wrapper (C8 "opened" callback). It is
	// set through SetOnOpened by Acceptor.AddBinding and is nil for
	// wrappers that no binding was added for (e.g. in unit tests).
	onOpened func(*Session)
}

// NewSocketWrapper constructs a wrapper around an already-bound conn.
func NewSocketWrapper(conn socketConn, transport Transport, local TransportAddress, dispatcher *EventDispatcher, queue *RawMessageQueue) *SocketWrapper {
	w := &SocketWrapper{
		id:           xid.New(),
		conn:         conn,
		transport:    transport,
		local:        local,
		dispatcher:   dispatcher,
		queue:        queue,
		connectLatch: make(chan struct{}),
	}
	empty := make([]*Session, 0)
	w.staleSnapshot.Store(&empty)
	return w
}

// ID is the opaque identifier used in logs and the sessions CLI/metrics
// surface to name this socket.
func (w *SocketWrapper) ID() string { return w.id.String() }

// LocalAddr returns the wrapper's bound local address.
func (w *SocketWrapper) LocalAddr() TransportAddress { return w.local }

// IsClosed reports whether Close has already run.
func (w *SocketWrapper) IsClosed() bool { return w.closed.Load() }

// Transport reports the wrapper's transport, for the
// goice_transport_sessions{transport} metric label.
func (w *SocketWrapper) Transport() Transport { return w.transport }

// Queue exposes the wrapper's RawMessageQueue so a metrics poller can read
// Len()/Dropped() into goice_transport_queue_depth/queue_dropped_total.
func (w *SocketWrapper) Queue() *RawMessageQueue { return w.queue }

// HasActiveSession reports whether the wrapper currently has a live
// (non-demoted) session, for the goice_transport_sessions gauge.
func (w *SocketWrapper) HasActiveSession() bool { return w.active.Load() != nil }

// ActiveSession returns the wrapper's current active session, or nil, for
// the `icectl sessions list` introspection surface.
func (w *SocketWrapper) ActiveSession() *Session { return w.active.Load() }

// SetRelayed installs a TURN-relayed connection to be preferred by send()
// for any buffer that is not a TURN control method (spec §4.4 outbound
// routing).
func (w *SocketWrapper) SetRelayed(r RelayedConnection) {
	w.relayed = r
}

// activeSession returns the current active session, or nil.
func (w *SocketWrapper) activeSession() *Session {
	return w.active.Load()
}

// attachAcceptor records the Acceptor that owns this wrapper's binding, so
// newSession can ask it to synthesize logical sessions per spec §4.4
// ("ask the acceptor to synthesize a session"). Called by
// Acceptor.register/registerConn; a wrapper built directly rather than
// through BindUDP/ListenTCP/AdoptSocket has no acceptor until
// AttachAcceptorForTest attaches one.
func (w *SocketWrapper) attachAcceptor(a *Acceptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.acceptor = a
}

// AttachAcceptorForTest attaches acc to w outside of the normal
// Acceptor.register/registerConn path. Intended only for tests that build
// a SocketWrapper directly via NewUDPSocketWrapper/NewTCPSocketWrapper
// rather than through BindUDP/ListenTCP/AdoptSocket. Production code must
// never call this.
func AttachAcceptorForTest(w *SocketWrapper, acc *Acceptor) {
	w.attachAcceptor(acc)
}

// installSession unconditionally installs sess as this wrapper's active
// session, demoting any previous active session into staleSessions first
// ("Session replacement semantics"), counts down the connect latch, and --
// on first install -- fires the onOpened callback. Returns the (possibly
// already-active) session for remote.
func (w *SocketWrapper) installSession(sess *Session) *Session {
	w.mu.Lock()

	cur := w.active.Load()
	if cur != nil && cur.Remote == sess.Remote {
		w.mu.Unlock()
		return cur
	}
	firstOpen := cur == nil
	if cur != nil {
		w.demote(cur)
	}

	w.active.Store(sess)
	onOpened := w.onOpened
	w.mu.Unlock()

	w.markConnected(nil)
	if firstOpen && onOpened != nil {
		onOpened(sess)
	}
	return sess
}

// ensureSession guarantees an active session exists for remote, building
// one directly if none does. Used on the inbound path (recordInbound),
// where a packet has already arrived on this wrapper's own bound socket
// and session bookkeeping must always succeed -- there is no "ask and
// wait" concern the way there is for an application thread calling Send,
// so no acceptor is required.
func (w *SocketWrapper) ensureSession(remote TransportAddress) *Session {
	if cur := w.activeSession(); cur != nil && cur.Remote == remote {
		return cur
	}
	return w.installSession(NewSession(remote, w.local, w.transport))
}

// newSession implements spec §4.4's newSession(dest): if an active session
// for remote already exists, do nothing; otherwise ask this wrapper's
// acceptor to synthesize one and install it as active, counting down
// connectLatch. A wrapper with no attached acceptor -- built directly
// rather than through BindUDP/ListenTCP/AdoptSocket, or whose acceptor was
// never wired -- cannot synthesize anything; this is logged and left for
// Send's connect-latch wait to time out (spec §4.4 step 3, property 10,
// scenario S5) rather than ever escaping as an error.
func (w *SocketWrapper) newSession(remote TransportAddress) *Session {
	w.mu.Lock()
	if cur := w.active.Load(); cur != nil && cur.Remote == remote {
		w.mu.Unlock()
		return cur
	}
	acc := w.acceptor
	w.mu.Unlock()

	if acc == nil {
		slog.Default().Warn("newSession: no acceptor attached, session cannot be synthesized",
			slog.String("local", w.local.String()),
			slog.String("remote", remote.String()),
		)
		return nil
	}

	return w.installSession(acc.synthesizeSession(remote, w.local, w.transport))
}

// SetOnOpened installs the C8 "opened" callback, invoked the first time
// this wrapper installs an active session.
func (w *SocketWrapper) SetOnOpened(fn func(*Session)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onOpened = fn
}

// demote must be called with mu held. It moves sess into the stale ring,
// evicting the oldest entry if the ring is full.
func (w *SocketWrapper) demote(sess *Session) {
	sess.MarkStale()
	w.stale = append(w.stale, sess)
	if len(w.stale) > staleSessionCap {
		w.stale = w.stale[len(w.stale)-staleSessionCap:]
	}
	snap := make([]*Session, len(w.stale))
	copy(snap, w.stale)
	w.staleSnapshot.Store(&snap)
}

// findStale returns the stale session for remote, if any, without
// promoting it.
func (w *SocketWrapper) findStale(remote TransportAddress) (*Session, bool) {
	for _, s := range *w.staleSnapshot.Load() {
		if s.Remote == remote {
			return s, true
		}
	}
	return nil, false
}

// AddFilter registers a predicate gating queue-insertion of non-STUN
// payloads on this socket.
func (w *SocketWrapper) AddFilter(f DataFilter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.filters = append(w.filters, f)
}

func (w *SocketWrapper) admits(buf []byte, remote TransportAddress) bool {
	w.mu.Lock()
	filters := w.filters
	w.mu.Unlock()
	for _, f := range filters {
		if !f(buf, remote) {
			return false
		}
	}
	return true
}

// markConnected releases any send() calls blocked on the connect latch.
// Safe to call multiple times; only the first call has effect. Called by
// installSession after it releases mu, and by CloseWithSessions with
// ErrClosed.
func (w *SocketWrapper) markConnected(err error) {
	w.latchOnce.Do(func() {
		w.connectErr = err
		close(w.connectLatch)
	})
}

// Send writes buf to dest following the C4 send algorithm: prefer a
// configured relayed connection (unless buf is a TURN control method),
// else an active session matching dest, else a stale session matching
// dest (best-effort, no promotion), else synthesize a new session and
// wait up to the connect timeout for it to come up.
func (w *SocketWrapper) Send(buf []byte, dest TransportAddress) (int, error) {
	if w.IsClosed() {
		return 0, ErrClosed
	}

	if w.relayed != nil && !isTurnControlMethod(buf) {
		return w.relayed.Send(buf, dest)
	}

	if sess := w.activeSession(); sess != nil && sess.Remote == dest {
		return w.writeAndAccount(buf, dest, sess)
	}

	if sess, ok := w.findStale(dest); ok {
		return w.writeAndAccount(buf, dest, sess)
	}

	if !w.connecting.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("%w: session creation already in progress", ErrIllegalArgument)
	}
	defer w.connecting.Store(false)

	w.newSession(dest)

	select {
	case <-w.connectLatch:
		if w.connectErr != nil {
			return 0, w.connectErr
		}
	case <-time.After(connectTimeout):
		return 0, ErrTimeout
	}

	if sess := w.activeSession(); sess != nil && sess.Remote == dest {
		return w.writeAndAccount(buf, dest, sess)
	}
	return 0, ErrSessionNotFound
}

// rawSend dispatches to the UDP or TCP specialization's wire write.
func (w *SocketWrapper) rawSend(buf []byte, dest TransportAddress) (int, error) {
	switch w.transport {
	case UDP:
		return w.rawSendUDP(buf, dest)
	case TCP:
		return w.rawSendTCP(buf, dest)
	default:
		return 0, fmt.Errorf("%w: socket has no recognized transport", ErrIllegalArgument)
	}
}

// writeAndAccount performs the transport-specific write and records it
// against sess.
func (w *SocketWrapper) writeAndAccount(buf []byte, dest TransportAddress, sess *Session) (int, error) {
	n, err := w.rawSend(buf, dest)
	if err != nil {
		return n, err
	}
	sess.RecordOutbound(n)
	return n, nil
}

// isTurnControlMethod reports whether buf looks like a STUN message whose
// method is a TURN allocation/refresh/permission/channel-bind control
// method rather than application data, in which case it must bypass the
// relayed connection and go out directly.
func isTurnControlMethod(buf []byte) bool {
	if !isStunMessage(buf) {
		return false
	}
	mt := DecodeStunMessageType(buf)
	switch mt.Method {
	case turnMethodAllocate, turnMethodRefresh, turnMethodCreatePermission, turnMethodChannelBind:
		return true
	default:
		return false
	}
}

// TURN method constants (RFC 5766 §13), used only to recognize control
// traffic that must bypass a configured relayed connection.
const (
	turnMethodAllocate         = 0x003
	turnMethodRefresh          = 0x004
	turnMethodCreatePermission = 0x008
	turnMethodChannelBind      = 0x009
)

// Receive is a non-blocking poll of the raw-message queue. It reports
// false if the queue was empty.
func (w *SocketWrapper) Receive() (RawMessage, bool) {
	return w.queue.Poll()
}

// Read is an alias for Receive matching the spec's read() naming for
// callers that prefer it.
func (w *SocketWrapper) Read() (RawMessage, bool) {
	return w.Receive()
}

// ReadLoop drives the socket's receive loop until it closes, dispatching
// to the UDP or TCP specialization according to the socket's transport.
func (w *SocketWrapper) ReadLoop() error {
	switch w.transport {
	case UDP:
		return w.readLoopUDP()
	case TCP:
		return w.readLoopTCP()
	default:
		return fmt.Errorf("%w: socket has no recognized transport", ErrIllegalArgument)
	}
}

// recordInbound classifies buf, routes STUN to the dispatcher, and
// enqueues everything else on the raw-message queue (subject to
// registered filters), touching the active session's activity clock in
// both cases.
func (w *SocketWrapper) recordInbound(buf []byte, remote TransportAddress) error {
	if w.closed.Load() {
		return ErrClosed
	}

	kind := Classify(buf)
	recordClassify(kind)
	if kind == KindTooShort {
		return fmt.Errorf("%w: %d bytes", ErrIllegalArgument, len(buf))
	}

	sess := w.ensureSession(remote)
	sess.RecordInbound(len(buf))

	if kind == KindStun {
		mt := DecodeStunMessageType(buf)
		w.dispatcher.Dispatch(StunMessageEvent{
			Message:   buf,
			Type:      mt,
			Remote:    remote,
			Local:     w.local,
			Transport: w.transport,
		})
		return nil
	}

	if !w.admits(buf, remote) {
		return nil
	}

	if kind == KindDTLS {
		return w.enqueueDTLSRecords(buf, remote)
	}

	owned := make([]byte, len(buf))
	copy(owned, buf)
	return w.queue.Offer(RawMessage{Bytes: owned, Remote: remote, Local: w.local})
}

// enqueueDTLSRecords splits buf into its constituent DTLS records (spec
// §4.2, testable properties 3/4) and offers each one as its own
// RawMessage, in on-wire order. The first queue-overflow error
// encountered is returned after every record has been offered, so a full
// queue drops only the records that don't fit rather than the whole
// batch.
func (w *SocketWrapper) enqueueDTLSRecords(buf []byte, remote TransportAddress) error {
	var firstErr error
	for _, rec := range SplitDTLSRecords(buf) {
		owned := make([]byte, len(rec))
		copy(owned, rec)
		if err := w.queue.Offer(RawMessage{Bytes: owned, Remote: remote, Local: w.local}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sweepStale marks the active session Stale (demoting it into the ring)
// if it has been idle past timeout. Design note OQ2: a single check
// against the one active session, not a multi-session scan — with one
// active session per wrapper there is nothing to pick "first" among.
func (w *SocketWrapper) sweepStale(now time.Time, timeout time.Duration) {
	sess := w.activeSession()
	if sess == nil || sess.State() == SessionStateClosed {
		return
	}
	if sess.IdleFor(now) < timeout {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if cur := w.active.Load(); cur == sess {
		w.active.Store(nil)
		w.demote(sess)
	}
}

// StaleSessions returns the most recent stale-session snapshot without
// taking a lock.
func (w *SocketWrapper) StaleSessions() []*Session {
	return *w.staleSnapshot.Load()
}

// Close idempotently closes the underlying connection and marks every
// owned session Closed. Equivalent to CloseWithSessions(true).
func (w *SocketWrapper) Close() error {
	return w.CloseWithSessions(true)
}

// CloseWithSessions idempotently closes the underlying connection and, if
// closeSessions is set, marks every owned session Closed. A caller that
// passes false only releases the socket's OS resources, leaving session
// state as it was — the spec §4.5 "close-on-deactivation" knob, honored
// by Acceptor.Close.
func (w *SocketWrapper) CloseWithSessions(closeSessions bool) error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.markConnected(ErrClosed)

	if closeSessions {
		if s := w.active.Load(); s != nil {
			s.MarkClosed()
		}
		w.mu.Lock()
		for _, s := range w.stale {
			s.MarkClosed()
		}
		w.mu.Unlock()
	}

	return w.conn.Close()
}
