package transport

// StunMessageEvent is the unit of work handed from a SocketWrapper to the
// EventDispatcher once a buffer has classified as KindStun. It carries
// enough of the decoded header for dispatch without requiring the
// transport package to decode STUN attributes.
type StunMessageEvent struct {
	// Message is the raw STUN datagram, owned by the caller for the
	// duration of the listener callback only.
	Message   []byte
	Type      StunMessageType
	Remote    TransportAddress
	Local     TransportAddress
	Transport Transport
}

// StunStack is the external collaborator that understands STUN attribute
// encoding, transaction matching, and authentication. The transport
// package never implements it; it only routes decoded headers to it.
type StunStack interface {
	// HandleMessage is invoked by the EventDispatcher for every inbound
	// STUN message routed to this stack's registered listener.
	HandleMessage(evt StunMessageEvent)
}

// RelayedConnection is the external collaborator representing a TURN
// allocation's relayed transport address, consulted by the outbound send
// path when no direct or server-reflexive route is viable (spec §4
// TURN-fallback routing).
type RelayedConnection interface {
	// Send transmits buf to remote through the TURN relay, returning the
	// number of bytes accepted.
	Send(buf []byte, remote TransportAddress) (int, error)
	// LocalAddr is the relayed transport address allocated by the server.
	LocalAddr() TransportAddress
}
