package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// tcpConn adapts *net.TCPConn to the socketConn interface.
type tcpConn struct {
	*net.TCPConn
}

// maxRFC4571Frame is the largest payload representable by RFC 4571's
// 16-bit length prefix.
const maxRFC4571Frame = 0xFFFF

// NewTCPSocketWrapper wraps an already-accepted or already-dialed TCP
// connection. remote is the peer address observed at accept/dial time and
// is used to seed the connection's single Session immediately, since a
// TCP socket never demultiplexes by remote address the way UDP does.
func NewTCPSocketWrapper(conn *net.TCPConn, remote TransportAddress, dispatcher *EventDispatcher, queue *RawMessageQueue) *SocketWrapper {
	local := NewTransportAddress(conn.LocalAddr().(*net.TCPAddr).AddrPort(), TCP)
	w := NewSocketWrapper(tcpConn{conn}, TCP, local, dispatcher, queue)
	w.ensureSession(remote)
	return w
}

// readLoopTCP reads RFC 4571 2-byte length-prefixed frames from the TCP
// connection until it closes or errors, classifying and routing each
// frame's payload through recordInbound.
func (w *SocketWrapper) readLoopTCP() error {
	conn, ok := w.conn.(tcpConn)
	if !ok {
		return fmt.Errorf("%w: readLoopTCP called on non-TCP socket", ErrIllegalArgument)
	}

	remote := w.peerAddr()
	header := make([]byte, 2)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if w.IsClosed() || err == io.EOF {
				return nil
			}
			return fmt.Errorf("read rfc4571 length prefix: %w", err)
		}

		frameLen := binary.BigEndian.Uint16(header)
		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(conn, frame); err != nil {
			if w.IsClosed() {
				return nil
			}
			return fmt.Errorf("read rfc4571 frame: %w", err)
		}

		_ = w.recordInbound(frame, remote)
	}
}

// peerAddr returns the single remote address this TCP socket is connected
// to.
func (w *SocketWrapper) peerAddr() TransportAddress {
	if s := w.activeSession(); s != nil {
		return s.Remote
	}
	return TransportAddress{}
}

// rawSendTCP writes buf to the connected peer as one RFC 4571
// length-prefixed frame. remote is validated against the socket's single
// session; a TCP socket cannot send to an address it is not connected to.
func (w *SocketWrapper) rawSendTCP(buf []byte, remote TransportAddress) (int, error) {
	conn, ok := w.conn.(tcpConn)
	if !ok {
		return 0, fmt.Errorf("%w: rawSendTCP called on non-TCP socket", ErrIllegalArgument)
	}
	if peer := w.peerAddr(); peer != remote {
		return 0, fmt.Errorf("%w: remote %s does not match connected peer %s", ErrIllegalArgument, remote, peer)
	}
	if len(buf) > maxRFC4571Frame {
		return 0, fmt.Errorf("%w: frame of %d bytes exceeds RFC 4571 limit", ErrIllegalArgument, len(buf))
	}

	frame := make([]byte, 2+len(buf))
	binary.BigEndian.PutUint16(frame, uint16(len(buf)))
	copy(frame[2:], buf)

	if _, err := conn.Write(frame); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// DialTCP connects to remote over TCP, waits up to the connect timeout for
// the handshake, and returns a ready-to-use wrapper (spec §4.4 step 3,
// property 10).
func DialTCP(remote TransportAddress, dispatcher *EventDispatcher, queue *RawMessageQueue) (*SocketWrapper, error) {
	return DialTCPWithOpts(remote, dispatcher, queue, SockOpts{})
}

// DialTCPWithOpts is DialTCP plus the C5 TCP-no-delay/buffer-size socket
// options (spec §4.5).
func DialTCPWithOpts(remote TransportAddress, dispatcher *EventDispatcher, queue *RawMessageQueue, opts SockOpts) (*SocketWrapper, error) {
	dialer := net.Dialer{Timeout: connectTimeout}
	c, err := dialer.Dial("tcp", net.TCPAddrFromAddrPort(remote.AddrPort()).String())
	if err != nil {
		return nil, fmt.Errorf("%w: dial tcp %s: %w", ErrBindFailed, remote, err)
	}
	conn := c.(*net.TCPConn)
	if err := applyTCPConnOpts(conn, opts); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: set socket options for %s: %w", ErrBindFailed, remote, err)
	}
	return NewTCPSocketWrapper(conn, remote, dispatcher, queue), nil
}
