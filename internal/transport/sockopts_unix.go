//go:build unix

package transport

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl returns a net.ListenConfig.Control hook that sets
// SO_REUSEADDR on the socket before bind, the same option the teacher's
// LinuxPacketConn (`internal/netio/rawsock_linux.go`) sets by hand via
// golang.org/x/sys/unix on every raw socket it opens.
func reuseAddrControl() func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		if err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		}); err != nil {
			return err
		}
		return sockErr
	}
}

// listenConfig builds a net.ListenConfig honoring opts.ReuseAddress.
func listenConfig(opts SockOpts) net.ListenConfig {
	lc := net.ListenConfig{}
	if opts.ReuseAddress {
		lc.Control = reuseAddrControl()
	}
	return lc
}

// listenTCPWithBacklog opens a TCP listening socket at addr with the
// given backlog and (optionally) SO_REUSEADDR, bypassing net.ListenTCP
// because the stdlib net package hardcodes its own listen(2) backlog with
// no override point. This mirrors the teacher's own willingness to drop
// to golang.org/x/sys/unix (rawsock_linux.go) whenever the stdlib socket
// API falls short of an RFC-mandated or operator-configured knob.
func listenTCPWithBacklog(addr *net.TCPAddr, opts SockOpts) (*net.TCPListener, error) {
	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = listenBacklogDefault
	}

	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return listenTCPRaw(unix.AF_INET, sa, backlog, opts)
	}

	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return listenTCPRaw(unix.AF_INET6, sa, backlog, opts)
}

func listenTCPRaw(domain int, sa unix.Sockaddr, backlog int, opts SockOpts) (*net.TCPListener, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if opts.ReuseAddress {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	f := os.NewFile(uintptr(fd), "tcp-listener")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("%w: unexpected listener type %T", ErrBindFailed, ln)
	}
	return tcpLn, nil
}
