package transport

import "net"

// applyTCPConnOpts applies TCPNoDelay and buffer sizing to an
// accepted/dialed TCP connection (spec §4.5 "tcp-no-delay: Disable
// Nagle").
func applyTCPConnOpts(conn *net.TCPConn, opts SockOpts) error {
	if err := conn.SetNoDelay(opts.TCPNoDelay); err != nil {
		return err
	}
	return applyBufferSizes(conn, opts)
}

// SockOpts bundles the C5 acceptor-configuration socket options spec §4.5
// lists: SO_REUSEADDR, kernel send/receive buffer sizes, TCP_NODELAY, and
// the listen backlog. Every field is optional; a zero value leaves the OS
// default in place, except Backlog (see below).
type SockOpts struct {
	// ReuseAddress sets SO_REUSEADDR before bind, the same option the
	// teacher's raw-socket listener (`internal/netio/rawsock_linux.go`)
	// sets via golang.org/x/sys/unix on the sockets it opens by hand.
	ReuseAddress bool

	// SendBuffer/ReceiveBuffer request kernel socket buffer sizes in
	// bytes via SO_SNDBUF/SO_RCVBUF. Zero leaves the OS default.
	SendBuffer    int
	ReceiveBuffer int

	// TCPNoDelay disables Nagle's algorithm on accepted/dialed TCP
	// connections. Ignored for UDP sockets.
	TCPNoDelay bool

	// Backlog is the TCP listen backlog. Zero falls back to
	// listenBacklogDefault.
	Backlog int
}

// listenBacklogDefault matches spec §4.5's documented default ("backlog
// (TCP): Listen backlog (default 64)").
const listenBacklogDefault = 64

// applyBufferSizes applies SendBuffer/ReceiveBuffer to any connection that
// exposes the stdlib SetReadBuffer/SetWriteBuffer methods (both
// *net.UDPConn and *net.TCPConn do), returning the first setter error.
// The UDP bind path and DialTCPWithOpts treat that error as a bind
// failure and close the socket; the TCP accept loop only logs it and keeps
// the accepted connection.
func applyBufferSizes(conn net.Conn, opts SockOpts) error {
	type bufSetter interface {
		SetReadBuffer(bytes int) error
		SetWriteBuffer(bytes int) error
	}
	bs, ok := conn.(bufSetter)
	if !ok {
		return nil
	}
	if opts.ReceiveBuffer > 0 {
		if err := bs.SetReadBuffer(opts.ReceiveBuffer); err != nil {
			return err
		}
	}
	if opts.SendBuffer > 0 {
		if err := bs.SetWriteBuffer(opts.SendBuffer); err != nil {
			return err
		}
	}
	return nil
}
