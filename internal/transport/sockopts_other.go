//go:build !unix

package transport

import "net"

// listenConfig on non-unix platforms never sets SO_REUSEADDR: the
// golang.org/x/sys/unix socket-option path this package otherwise uses is
// unix-only, and there is no portable stdlib equivalent.
func listenConfig(SockOpts) net.ListenConfig {
	return net.ListenConfig{}
}

// listenTCPWithBacklog falls back to the stdlib default backlog on
// non-unix platforms; Backlog/ReuseAddress are accepted but not honored.
func listenTCPWithBacklog(addr *net.TCPAddr, _ SockOpts) (*net.TCPListener, error) {
	return net.ListenTCP("tcp", addr)
}
