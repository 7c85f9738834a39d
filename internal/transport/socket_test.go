package transport_test

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/netice/goice/internal/transport"
)

func loopbackAddr(t *testing.T, port uint16) transport.TransportAddress {
	t.Helper()
	return transport.NewTransportAddress(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port), transport.UDP)
}

// -------------------------------------------------------------------------
// SocketWrapper.Send — CLOSED after Close (testable property 9)
// -------------------------------------------------------------------------

func TestSocketWrapper_SendAfterCloseReturnsClosed(t *testing.T) {
	t.Parallel()

	w, err := transport.NewUDPSocketWrapper(loopbackAddr(t, 0), transport.NewEventDispatcher(nil), transport.NewRawMessageQueue(8))
	if err != nil {
		t.Fatalf("NewUDPSocketWrapper: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = w.Send([]byte("hello"), loopbackAddr(t, 9999))
	if err != transport.ErrClosed {
		t.Fatalf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestSocketWrapper_DoubleCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	w, err := transport.NewUDPSocketWrapper(loopbackAddr(t, 0), transport.NewEventDispatcher(nil), transport.NewRawMessageQueue(8))
	if err != nil {
		t.Fatalf("NewUDPSocketWrapper: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v, want nil (idempotent)", err)
	}
}

// -------------------------------------------------------------------------
// UDP round trip: classification, dispatch, and the raw-message queue
// (scenario S2/S3/S4 via the full read loop, not just Classify directly)
// -------------------------------------------------------------------------

func TestSocketWrapper_UDPOpaqueDataReachesQueue(t *testing.T) {
	t.Parallel()

	dispatcher := transport.NewEventDispatcher(nil)
	recv, err := transport.NewUDPSocketWrapper(loopbackAddr(t, 0), dispatcher, transport.NewRawMessageQueue(8))
	if err != nil {
		t.Fatalf("NewUDPSocketWrapper(recv): %v", err)
	}
	defer recv.Close()

	send, err := transport.NewUDPSocketWrapper(loopbackAddr(t, 0), dispatcher, transport.NewRawMessageQueue(8))
	if err != nil {
		t.Fatalf("NewUDPSocketWrapper(send): %v", err)
	}
	defer send.Close()
	acc := transport.NewAcceptorForTest(transport.UDP, transport.AcceptorConfig{})
	transport.AttachAcceptorForTest(send, acc)

	go recv.ReadLoop()

	payload := []byte("opaque application media payload!!")
	if _, err := send.Send(payload, recv.LocalAddr()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msg := pollUntil(t, recv)
	if string(msg.Bytes) != string(payload) {
		t.Fatalf("queued payload = %q, want %q", msg.Bytes, payload)
	}
}

func TestSocketWrapper_UDPStunRoutedToDispatcherNotQueue(t *testing.T) {
	t.Parallel()

	dispatcher := transport.NewEventDispatcher(nil)
	delivered := make(chan transport.StunMessageEvent, 1)
	dispatcher.AddRequestListener(func(evt transport.StunMessageEvent) {
		delivered <- evt
	})

	recv, err := transport.NewUDPSocketWrapper(loopbackAddr(t, 0), dispatcher, transport.NewRawMessageQueue(8))
	if err != nil {
		t.Fatalf("NewUDPSocketWrapper(recv): %v", err)
	}
	defer recv.Close()

	send, err := transport.NewUDPSocketWrapper(loopbackAddr(t, 0), transport.NewEventDispatcher(nil), transport.NewRawMessageQueue(8))
	if err != nil {
		t.Fatalf("NewUDPSocketWrapper(send): %v", err)
	}
	defer send.Close()
	acc := transport.NewAcceptorForTest(transport.UDP, transport.AcceptorConfig{})
	transport.AttachAcceptorForTest(send, acc)

	go recv.ReadLoop()

	buf := make([]byte, 20)
	binary.BigEndian.PutUint16(buf[0:2], 0x0001) // BINDING request
	binary.BigEndian.PutUint32(buf[4:8], 0x2112A442)

	if _, err := send.Send(buf, recv.LocalAddr()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case evt := <-delivered:
		if evt.Type.Class != transport.StunClassRequest {
			t.Fatalf("dispatched class = %v, want request", evt.Type.Class)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for STUN dispatch")
	}

	if msg, ok := recv.Receive(); ok {
		t.Fatalf("STUN message unexpectedly reached the raw queue: %v", msg.Bytes)
	}
}

func pollUntil(t *testing.T, w *transport.SocketWrapper) transport.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := w.Receive(); ok {
			return msg
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for queued message")
	return transport.RawMessage{}
}

// -------------------------------------------------------------------------
// AddFilter gates queue insertion
// -------------------------------------------------------------------------

func TestSocketWrapper_FilterRejectsPayload(t *testing.T) {
	t.Parallel()

	dispatcher := transport.NewEventDispatcher(nil)
	recv, err := transport.NewUDPSocketWrapper(loopbackAddr(t, 0), dispatcher, transport.NewRawMessageQueue(8))
	if err != nil {
		t.Fatalf("NewUDPSocketWrapper(recv): %v", err)
	}
	defer recv.Close()
	recv.AddFilter(func(buf []byte, _ transport.TransportAddress) bool { return false })

	send, err := transport.NewUDPSocketWrapper(loopbackAddr(t, 0), transport.NewEventDispatcher(nil), transport.NewRawMessageQueue(8))
	if err != nil {
		t.Fatalf("NewUDPSocketWrapper(send): %v", err)
	}
	defer send.Close()
	acc := transport.NewAcceptorForTest(transport.UDP, transport.AcceptorConfig{})
	transport.AttachAcceptorForTest(send, acc)

	go recv.ReadLoop()

	if _, err := send.Send([]byte("rejected by filter, long enough"), recv.LocalAddr()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if recv.Queue().Len() != 0 {
		t.Fatalf("Queue().Len() = %d, want 0 (filter should have rejected the payload)", recv.Queue().Len())
	}
}

// -------------------------------------------------------------------------
// Send's connect latch actually times out when no acceptor can synthesize
// a session (spec §4.4 step 3, testable property 10, scenario S5). Not
// parallel: SetConnectTimeoutForTest mutates package-level state.
// -------------------------------------------------------------------------

func TestSocketWrapper_SendWithNoAcceptorTimesOut(t *testing.T) {
	restore := transport.SetConnectTimeoutForTest(20 * time.Millisecond)
	defer restore()

	send, err := transport.NewUDPSocketWrapper(loopbackAddr(t, 0), transport.NewEventDispatcher(nil), transport.NewRawMessageQueue(8))
	if err != nil {
		t.Fatalf("NewUDPSocketWrapper(send): %v", err)
	}
	defer send.Close()

	start := time.Now()
	_, err = send.Send([]byte("nobody will ever synthesize a session for this"), loopbackAddr(t, 9999))
	elapsed := time.Since(start)

	if err != transport.ErrTimeout {
		t.Fatalf("Send with no acceptor attached = %v, want ErrTimeout", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("Send blocked for %v, want bounded by the shortened connect timeout", elapsed)
	}
}
