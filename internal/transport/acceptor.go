package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// AcceptorConfig configures a Transport Acceptor (C5): the process-wide,
// per-protocol singleton owning every bound SocketWrapper of that
// transport and the worker pool that drives their read loops.
type AcceptorConfig struct {
	// IOThreads bounds how many read-loop callbacks may run concurrently
	// across every socket owned by this acceptor.
	IOThreads int

	// StaleSweepInterval controls how often sweepStale runs across every
	// owned socket. Zero disables the sweep.
	StaleSweepInterval time.Duration

	// StaleTimeout is the idle duration after which a session is marked
	// Stale by the sweep.
	StaleTimeout time.Duration

	// SockOpts carries the reuse-address/buffer-size/no-delay/backlog
	// knobs spec §4.5's configuration table lists, applied to every
	// socket this acceptor binds.
	SockOpts SockOpts

	// CloseOnDeactivation, when set, closes every owned session (not just
	// the underlying socket) when Close runs (spec §4.5
	// "close-on-deactivation").
	CloseOnDeactivation bool

	Dispatcher *EventDispatcher
	QueueDepth int
	Logger     *slog.Logger
}

func (c AcceptorConfig) withDefaults() AcceptorConfig {
	if c.IOThreads <= 0 {
		c.IOThreads = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Acceptor is the process-wide owner of every SocketWrapper for one
// transport. There is exactly one UDP acceptor and one TCP acceptor alive
// at a time per process, mirroring the teacher's "global acceptor
// singletons -> process-wide state" design note; construction is guarded
// by sync.Once at the package level (see acceptor_udp.go/acceptor_tcp.go),
// with a test-reset hook.
type Acceptor struct {
	cfg       AcceptorConfig
	transport Transport

	sem *semaphore.Weighted

	mu      sync.RWMutex
	sockets map[TransportAddress]*SocketWrapper

	// connSockets holds per-connection TCP sockets, keyed by (local,
	// remote) rather than local alone: every connection accepted on one
	// listening socket shares that socket's local address, so keying by
	// local alone (as sockets does) would let each new peer overwrite the
	// previous one's entry.
	connSockets map[connKey]*SocketWrapper

	// bindings is the C8/C5 pending-attach registry: (StunStack,
	// SocketWrapper) pairs stashed via AddBinding until the wrapper's
	// first session opens.
	bindings *pendingAttachRegistry

	closed bool
	cancel context.CancelFunc
}

// connKey identifies one accepted TCP connection by its (local, remote)
// address pair.
type connKey struct {
	local  TransportAddress
	remote TransportAddress
}

// NewAcceptorForTest builds a standalone Acceptor for transport with cfg,
// independent of the package-level UDP/TCP singletons so parallel tests
// can each use their own instance without contending on global state.
// Production code must use InitUDPAcceptor/InitTCPAcceptor instead.
func NewAcceptorForTest(transport Transport, cfg AcceptorConfig) *Acceptor {
	return newAcceptor(transport, cfg)
}

// newAcceptor builds an Acceptor for transport with cfg, but does not
// start its background sweep; call Run for that.
func newAcceptor(transport Transport, cfg AcceptorConfig) *Acceptor {
	cfg = cfg.withDefaults()
	return &Acceptor{
		cfg:         cfg,
		transport:   transport,
		sem:         semaphore.NewWeighted(int64(cfg.IOThreads)),
		sockets:     make(map[TransportAddress]*SocketWrapper),
		connSockets: make(map[connKey]*SocketWrapper),
		bindings:    newPendingAttachRegistry(),
	}
}

// Run starts the acceptor's background stale-session sweep. It blocks
// until ctx is cancelled or Close is called.
func (a *Acceptor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	if a.cfg.StaleSweepInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.StaleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				a.sweepAll(now)
			}
		}
	})
	return g.Wait()
}

func (a *Acceptor) sweepAll(now time.Time) {
	sockets := a.allSockets()
	for _, s := range sockets {
		s.sweepStale(now, a.cfg.StaleTimeout)
	}
}

// allSockets returns a snapshot of every socket this acceptor owns, across
// both the single-key registry (UDP candidates, TCP listeners) and the
// per-connection registry (accepted TCP connections).
func (a *Acceptor) allSockets() []*SocketWrapper {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.allSocketsLocked()
}

// allSocketsLocked is allSockets for callers that already hold a.mu.
func (a *Acceptor) allSocketsLocked() []*SocketWrapper {
	out := make([]*SocketWrapper, 0, len(a.sockets)+len(a.connSockets))
	for _, s := range a.sockets {
		out = append(out, s)
	}
	for _, s := range a.connSockets {
		out = append(out, s)
	}
	return out
}

// register adds a newly bound socket to the acceptor's registry, keyed by
// its local address alone. Used for UDP candidates and TCP listeners, each
// of which has a local address unique to that socket.
func (a *Acceptor) register(local TransportAddress, w *SocketWrapper) {
	a.mu.Lock()
	a.sockets[local] = w
	a.mu.Unlock()
	w.attachAcceptor(a)
}

// registerConn adds an accepted or dialed per-connection socket (TCP) to
// the acceptor's connSockets registry, keyed by (local, remote) rather
// than local alone, since every connection accepted on one listening
// socket shares that socket's local address.
func (a *Acceptor) registerConn(local, remote TransportAddress, w *SocketWrapper) {
	a.mu.Lock()
	a.connSockets[connKey{local: local, remote: remote}] = w
	a.mu.Unlock()
	w.attachAcceptor(a)
}

// synthesizeSession builds a new logical Session for (remote, local) on
// transport tr, per spec §4.4 newSession step 3 ("ask the acceptor to
// synthesize a session"). UDP sessions require no handshake, so synthesis
// always succeeds immediately once a caller has an Acceptor to ask.
func (a *Acceptor) synthesizeSession(remote, local TransportAddress, tr Transport) *Session {
	return NewSession(remote, local, tr)
}

// Lookup returns the socket bound to local, if any, from the single-key
// registry (UDP candidates, TCP listeners). It does not search connSockets;
// use Sockets to enumerate accepted TCP connections.
func (a *Acceptor) Lookup(local TransportAddress) (*SocketWrapper, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	w, ok := a.sockets[local]
	return w, ok
}

// IsBound reports whether this acceptor owns a socket bound to port on any
// local address, per spec §4.5's isBound(port) operation. It checks both
// registries: a UDP candidate or TCP listener bound directly to that port,
// or an accepted TCP connection whose local address happens to use it.
func (a *Acceptor) IsBound(port uint16) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for local := range a.sockets {
		if local.AddrPort().Port() == port {
			return true
		}
	}
	for key := range a.connSockets {
		if key.local.AddrPort().Port() == port {
			return true
		}
	}
	return false
}

// Sockets returns a snapshot of every socket currently owned by the
// acceptor -- both single-key-registered sockets and per-connection TCP
// sockets -- for the `icectl sessions list` / dispatcher-tree CLI surface.
func (a *Acceptor) Sockets() []*SocketWrapper {
	return a.allSockets()
}

// runCallback executes fn bounded by the acceptor's worker semaphore,
// logging rather than propagating a panic/error so one misbehaving
// listener never starves or kills the read loop (spec §7, design note on
// C5's worker pool).
func (a *Acceptor) runCallback(ctx context.Context, fn func() error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer a.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			a.cfg.Logger.Error("acceptor callback panicked",
				slog.String("transport", a.transport.String()),
				slog.Any("panic", r),
			)
		}
	}()

	if err := fn(); err != nil {
		a.cfg.Logger.Warn("acceptor callback returned error",
			slog.String("transport", a.transport.String()),
			slog.Any("error", err),
		)
	}
}

// AdoptSocket registers an already-bound socket (typically produced by
// ice.Harvest, which binds sockets without an acceptor in scope) and
// launches its read loop on an acceptor worker, the same way BindUDP does
// for sockets the acceptor binds itself.
func (a *Acceptor) AdoptSocket(ctx context.Context, w *SocketWrapper) {
	a.register(w.LocalAddr(), w)
	go a.runCallback(ctx, w.ReadLoop)
}

// unregister removes local from the registry, used when a socket closes.
func (a *Acceptor) unregister(local TransportAddress) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sockets, local)
}

// unregisterConn removes a (local, remote) entry from connSockets, used
// when an accepted TCP connection closes.
func (a *Acceptor) unregisterConn(local, remote TransportAddress) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.connSockets, connKey{local: local, remote: remote})
}

// Close stops the sweep goroutine and closes every owned socket.
func (a *Acceptor) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel := a.cancel
	sockets := a.allSocketsLocked()
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var firstErr error
	for _, s := range sockets {
		if err := s.CloseWithSessions(a.cfg.CloseOnDeactivation); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close socket %s: %w", s.LocalAddr(), err)
		}
	}
	return firstErr
}
