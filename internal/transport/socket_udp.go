package transport

import (
	"context"
	"fmt"
	"net"
)

// udpConn adapts *net.UDPConn to the socketConn interface.
type udpConn struct {
	*net.UDPConn
}

// NewUDPSocketWrapper binds a UDP socket at local and wraps it. The
// returned wrapper has no active read loop; callers drive ReadLoop
// themselves (typically from an Acceptor worker).
func NewUDPSocketWrapper(local TransportAddress, dispatcher *EventDispatcher, queue *RawMessageQueue) (*SocketWrapper, error) {
	return NewUDPSocketWrapperWithOpts(local, dispatcher, queue, SockOpts{})
}

// NewUDPSocketWrapperWithOpts is NewUDPSocketWrapper plus the C5
// reuse-address/buffer-size socket options (spec §4.5).
func NewUDPSocketWrapperWithOpts(local TransportAddress, dispatcher *EventDispatcher, queue *RawMessageQueue, opts SockOpts) (*SocketWrapper, error) {
	udpAddr := net.UDPAddrFromAddrPort(local.AddrPort())
	lc := listenConfig(opts)
	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: listen udp %s: %w", ErrBindFailed, local, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("%w: unexpected packet conn type %T", ErrBindFailed, pc)
	}
	if err := applyBufferSizes(conn, opts); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: set buffer sizes on %s: %w", ErrBindFailed, local, err)
	}

	actual := conn.LocalAddr().(*net.UDPAddr)
	boundLocal := NewTransportAddress(actual.AddrPort(), UDP)

	return NewSocketWrapper(udpConn{conn}, UDP, boundLocal, dispatcher, queue), nil
}

// readLoopUDP reads datagrams from the bound UDP socket until it closes,
// classifying and routing each one through recordInbound. Intended to run
// on an acceptor worker goroutine.
func (w *SocketWrapper) readLoopUDP() error {
	conn, ok := w.conn.(udpConn)
	if !ok {
		return fmt.Errorf("%w: readLoopUDP called on non-UDP socket", ErrIllegalArgument)
	}

	buf := make([]byte, 65535)
	for {
		n, addrPort, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if w.IsClosed() {
				return nil
			}
			return err
		}

		remote := NewTransportAddress(addrPort, UDP)
		_ = w.recordInbound(buf[:n], remote)
	}
}

// rawSendUDP writes buf to remote over the bound UDP socket. UDP sends are
// best-effort: a short write or transient kernel error is returned to the
// caller but does not close the socket (spec non-goal: no delivery
// guarantee for UDP).
func (w *SocketWrapper) rawSendUDP(buf []byte, remote TransportAddress) (int, error) {
	conn, ok := w.conn.(udpConn)
	if !ok {
		return 0, fmt.Errorf("%w: rawSendUDP called on non-UDP socket", ErrIllegalArgument)
	}
	return conn.WriteToUDPAddrPort(buf, remote.AddrPort())
}
