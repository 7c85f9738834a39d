package transport

import (
	"log/slog"
	"sync"
)

// Binding is a (StunStack, SocketWrapper) pair stashed by an Acceptor
// until the wrapper's first session opens, at which point both are
// attached to the session as Attributes (C8 "opened").
type Binding struct {
	Stack   StunStack
	Wrapper *SocketWrapper
}

// pendingAttachRegistry is the acceptor's concurrent map of not-yet-opened
// bindings, keyed by the wrapper's local address. It is intentionally
// separate from Acceptor.sockets (which only ever holds already-bound
// wrappers) because a binding may be registered before a socket exists at
// all (spec §4.5 "addBinding(stack, wrapper)").
type pendingAttachRegistry struct {
	mu      sync.Mutex
	entries map[TransportAddress]Binding
}

func newPendingAttachRegistry() *pendingAttachRegistry {
	return &pendingAttachRegistry{entries: make(map[TransportAddress]Binding)}
}

func (r *pendingAttachRegistry) add(b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[b.Wrapper.LocalAddr()] = b
}

func (r *pendingAttachRegistry) take(local TransportAddress) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.entries[local]
	if ok {
		delete(r.entries, local)
	}
	return b, ok
}

// AddBinding registers a (stack, wrapper) pair with the acceptor and wires
// the wrapper's C8 "opened" callback to attach both as session Attributes
// on first open.
func (a *Acceptor) AddBinding(stack StunStack, w *SocketWrapper) {
	a.bindings.add(Binding{Stack: stack, Wrapper: w})
	w.SetOnOpened(func(sess *Session) {
		a.onSessionOpened(w, sess)
	})
}

// onSessionOpened implements the C8 "opened" callback: attach STUN_STACK
// and CONNECTION attributes from the acceptor's pending-attach map, then
// log the new session at Info per the teacher's lifecycle-event logging
// level.
func (a *Acceptor) onSessionOpened(w *SocketWrapper, sess *Session) {
	if b, ok := a.bindings.take(w.LocalAddr()); ok {
		sess.Attributes.Store(SessionAttrStunStack, b.Stack)
		sess.Attributes.Store(SessionAttrConnection, b.Wrapper)
	}

	a.cfg.Logger.Info("session opened",
		slog.String("transport", a.transport.String()),
		slog.String("local", w.LocalAddr().String()),
		slog.String("remote", sess.Remote.String()),
	)
}

// OnSessionClosed implements the C8 "closed" callback: remove sess from
// w's bookkeeping without closing w itself. An active session becomes
// "none"; a stale session is dropped from the ring outright.
func OnSessionClosed(w *SocketWrapper, sess *Session) {
	sess.MarkClosed()

	w.mu.Lock()
	defer w.mu.Unlock()

	if cur := w.active.Load(); cur == sess {
		w.active.Store(nil)
		return
	}

	kept := w.stale[:0:0]
	for _, s := range w.stale {
		if s != sess {
			kept = append(kept, s)
		}
	}
	w.stale = kept
	snap := make([]*Session, len(kept))
	copy(snap, kept)
	w.staleSnapshot.Store(&snap)
}

// OnExceptionCaught implements the C8 "exceptionCaught" callback: log and
// close the session; the error never propagates to the read loop's caller.
func OnExceptionCaught(logger *slog.Logger, w *SocketWrapper, sess *Session, cause error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("session exception",
		slog.String("local", w.LocalAddr().String()),
		slog.String("remote", sess.Remote.String()),
		slog.Any("error", cause),
	)
	OnSessionClosed(w, sess)
}

// OnIdle implements the C8 "idle" callback: a deliberate no-op. Idle
// sessions are reaped by the acceptor's sweepStale ticker instead.
func OnIdle(*SocketWrapper, *Session) {}
