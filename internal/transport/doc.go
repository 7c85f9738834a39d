// Package transport implements the ICE agent's I/O and demultiplexing core:
// host socket wrapping (C4), a process-wide transport acceptor per protocol
// (C5), first-byte packet classification into STUN/DTLS/opaque (C2), a
// bounded raw-message queue between network I/O and the application (C3),
// and a hierarchical STUN event dispatcher (C7).
//
// The package never implements STUN attribute codecs, DTLS cryptography, or
// TURN allocation; it consumes those as external interfaces (StunStack,
// RelayedConnection) and only decodes the minimum needed to demultiplex.
package transport
