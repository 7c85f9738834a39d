package transport

import (
	"fmt"
	"net/netip"
)

// Transport identifies the underlying socket protocol of a TransportAddress
// or SocketWrapper.
type Transport uint8

const (
	// UDP identifies a connectionless datagram transport.
	UDP Transport = iota
	// TCP identifies a stream transport framed per RFC 4571.
	TCP
)

// String returns the lower-case protocol name.
func (t Transport) String() string {
	switch t {
	case UDP:
		return "udp"
	case TCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// TransportAddress is a local or remote endpoint: an IP, a port, and the
// transport it is reachable on. It is comparable (netip.Addr is comparable)
// so values of this type are valid map keys, matching the data model's
// "Equality is structural. Used as a map key."
type TransportAddress struct {
	IP        netip.Addr
	Port      uint16
	Transport Transport
}

// String renders the address as "ip:port/transport".
func (a TransportAddress) String() string {
	return fmt.Sprintf("%s:%d/%s", a.IP, a.Port, a.Transport)
}

// IsValid reports whether the IP half of the address is set.
func (a TransportAddress) IsValid() bool {
	return a.IP.IsValid()
}

// AddrPort returns the netip.AddrPort form of the address, discarding the
// transport tag.
func (a TransportAddress) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(a.IP, a.Port)
}

// NewTransportAddress builds a TransportAddress from an AddrPort and a
// transport kind.
func NewTransportAddress(ap netip.AddrPort, transport Transport) TransportAddress {
	return TransportAddress{IP: ap.Addr(), Port: ap.Port(), Transport: transport}
}

// RawMessage is an immutable-after-construction unit of non-STUN traffic
// handed from the classifier to the owning SocketWrapper's queue.
type RawMessage struct {
	// Bytes holds the owned payload. Callers must not retain Bytes past
	// mutation of the buffer it was copied from; RawMessage always holds
	// its own copy.
	Bytes  []byte
	Remote TransportAddress
	Local  TransportAddress
}
