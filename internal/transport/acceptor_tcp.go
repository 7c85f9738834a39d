package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

var (
	tcpAcceptorOnce sync.Once
	tcpAcceptor     *Acceptor
	tcpAcceptorMu   sync.Mutex
)

// InitTCPAcceptor constructs the process-wide TCP acceptor singleton.
func InitTCPAcceptor(cfg AcceptorConfig) *Acceptor {
	tcpAcceptorOnce.Do(func() {
		tcpAcceptorMu.Lock()
		defer tcpAcceptorMu.Unlock()
		tcpAcceptor = newAcceptor(TCP, cfg)
	})
	return tcpAcceptor
}

// TCPAcceptorForTest returns the singleton, initializing it with zero-value
// defaults if no production code has called InitTCPAcceptor yet.
func TCPAcceptorForTest() *Acceptor {
	return InitTCPAcceptor(AcceptorConfig{})
}

// ResetTCPAcceptorForTest discards the singleton so tests can reinitialize
// it with a fresh configuration. Production code must never call this.
func ResetTCPAcceptorForTest() {
	tcpAcceptorMu.Lock()
	defer tcpAcceptorMu.Unlock()
	tcpAcceptor = nil
	tcpAcceptorOnce = sync.Once{}
}

// listenerConn adapts net.Listener to socketConn so a TCP HostCandidate
// can hold a *SocketWrapper handle for its listening socket, distinct from
// the per-connection SocketWrappers the accept loop creates.
type listenerConn struct {
	net.Listener
}

func (l listenerConn) LocalAddr() net.Addr { return l.Listener.Addr() }

// ListenTCP opens a listening TCP socket at local and starts an accept
// loop in its own goroutine; each accepted connection becomes its own
// SocketWrapper with its own read loop, which runs bounded by the
// acceptor's worker semaphore. The returned SocketWrapper is a placeholder
// representing the listening socket itself (spec §4.6 step 6: TCP
// candidate registration with a StunStack is deferred until a client
// connects, at which point the accepted connection's own SocketWrapper is
// what actually demuxes traffic).
func ListenTCP(ctx context.Context, local TransportAddress, dispatcher *EventDispatcher, queue *RawMessageQueue) (*SocketWrapper, error) {
	tcpAcceptorMu.Lock()
	acc := tcpAcceptor
	tcpAcceptorMu.Unlock()
	if acc == nil {
		return nil, fmt.Errorf("%w: TCP acceptor not initialized", ErrConfigError)
	}

	ln, err := listenTCPWithBacklog(net.TCPAddrFromAddrPort(local.AddrPort()), acc.cfg.SockOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: listen tcp %s: %w", ErrBindFailed, local, err)
	}

	boundLocal := NewTransportAddress(ln.Addr().(*net.TCPAddr).AddrPort(), TCP)
	w := NewSocketWrapper(listenerConn{ln}, TCP, boundLocal, dispatcher, queue)

	go acceptLoop(ctx, acc, ln)

	return w, nil
}

func acceptLoop(ctx context.Context, acc *Acceptor, ln *net.TCPListener) {
	for {
		conn, err := ln.AcceptTCP()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}

		if err := applyTCPConnOpts(conn, acc.cfg.SockOpts); err != nil {
			acc.cfg.Logger.Warn("failed to apply TCP socket options to accepted connection", "error", err)
		}

		remote := NewTransportAddress(conn.RemoteAddr().(*net.TCPAddr).AddrPort(), TCP)
		w := NewTCPSocketWrapper(conn, remote, acc.cfg.Dispatcher, NewRawMessageQueue(acc.cfg.QueueDepth))
		// Keyed by (local, remote), not local alone: every connection
		// accepted on this listener shares the same local address, so
		// registering by local alone would let each new peer overwrite
		// the previous one's entry (see registerConn's doc comment).
		acc.registerConn(w.LocalAddr(), remote, w)

		go acc.runCallback(ctx, w.ReadLoop)
	}
}
