package ice

import "github.com/netice/goice/internal/transport"

// ComponentRef identifies the ICE component (RFC 8445 §4) a HostCandidate
// belongs to: 1 for RTP, 2 for RTCP, and so on for media with multiple
// components.
type ComponentRef uint16

// HostCandidate is a local transport address offered as an ICE candidate,
// backed by a bound SocketWrapper. Its lifecycle is tied to the component
// that owns it: created during harvest, destroyed when the component
// closes its sockets.
type HostCandidate struct {
	Socket    *transport.SocketWrapper
	Component ComponentRef
	Transport transport.Transport

	// Virtual marks a candidate bound on a virtual interface (bridge,
	// tunnel, VPN adapter) rather than a physical NIC, information some
	// ICE priority policies downweight.
	Virtual bool
}

// LocalAddr is a convenience accessor for the candidate's bound address.
func (c *HostCandidate) LocalAddr() transport.TransportAddress {
	return c.Socket.LocalAddr()
}

// Close releases the candidate's underlying socket.
func (c *HostCandidate) Close() error {
	return c.Socket.Close()
}
