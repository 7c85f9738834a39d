package transport

import (
	"context"
	"fmt"
	"sync"
)

var (
	udpAcceptorOnce sync.Once
	udpAcceptor     *Acceptor
	udpAcceptorMu   sync.Mutex
)

// InitUDPAcceptor constructs the process-wide UDP acceptor singleton. Only
// the first call's cfg takes effect, matching the teacher's "global
// acceptor singletons -> process-wide state" design note.
func InitUDPAcceptor(cfg AcceptorConfig) *Acceptor {
	udpAcceptorOnce.Do(func() {
		udpAcceptorMu.Lock()
		defer udpAcceptorMu.Unlock()
		udpAcceptor = newAcceptor(UDP, cfg)
	})
	return udpAcceptor
}

// UDPAcceptorForTest returns the singleton, initializing it with zero-value
// defaults if no production code has called InitUDPAcceptor yet. Intended
// only for table-driven tests in this package.
func UDPAcceptorForTest() *Acceptor {
	return InitUDPAcceptor(AcceptorConfig{})
}

// ResetUDPAcceptorForTest discards the singleton so tests can reinitialize
// it with a fresh configuration. Production code must never call this.
func ResetUDPAcceptorForTest() {
	udpAcceptorMu.Lock()
	defer udpAcceptorMu.Unlock()
	udpAcceptor = nil
	udpAcceptorOnce = sync.Once{}
}

// BindUDP binds a new UDP socket at local, registers it with the UDP
// acceptor, and launches its read loop on an acceptor worker.
func BindUDP(ctx context.Context, local TransportAddress) (*SocketWrapper, error) {
	udpAcceptorMu.Lock()
	acc := udpAcceptor
	udpAcceptorMu.Unlock()
	if acc == nil {
		return nil, fmt.Errorf("%w: UDP acceptor not initialized", ErrConfigError)
	}

	w, err := NewUDPSocketWrapperWithOpts(local, acc.cfg.Dispatcher, NewRawMessageQueue(acc.cfg.QueueDepth), acc.cfg.SockOpts)
	if err != nil {
		return nil, err
	}
	acc.register(w.LocalAddr(), w)

	go acc.runCallback(ctx, w.ReadLoop)

	return w, nil
}
