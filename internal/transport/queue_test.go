package transport_test

import (
	"testing"

	"github.com/netice/goice/internal/transport"
)

// -------------------------------------------------------------------------
// RawMessageQueue — FIFO ordering and bounded drop-on-full (testable
// property 11, spec §4.3)
// -------------------------------------------------------------------------

func TestRawMessageQueue_OrderingPreserved(t *testing.T) {
	t.Parallel()

	q := transport.NewRawMessageQueue(4)
	for i := 0; i < 4; i++ {
		msg := transport.RawMessage{Bytes: []byte{byte(i)}}
		if err := q.Offer(msg); err != nil {
			t.Fatalf("Offer(%d) unexpected error: %v", i, err)
		}
	}

	for i := 0; i < 4; i++ {
		msg, ok := q.Poll()
		if !ok {
			t.Fatalf("Poll() %d: queue unexpectedly empty", i)
		}
		if len(msg.Bytes) != 1 || msg.Bytes[0] != byte(i) {
			t.Fatalf("Poll() %d = %v, want [%d]", i, msg.Bytes, i)
		}
	}

	if _, ok := q.Poll(); ok {
		t.Fatalf("Poll() on empty queue should report false")
	}
}

func TestRawMessageQueue_OverflowDropsNewest(t *testing.T) {
	t.Parallel()

	q := transport.NewRawMessageQueue(2)
	_ = q.Offer(transport.RawMessage{Bytes: []byte{1}})
	_ = q.Offer(transport.RawMessage{Bytes: []byte{2}})

	if err := q.Offer(transport.RawMessage{Bytes: []byte{3}}); err != transport.ErrQueueOverflow {
		t.Fatalf("Offer on full queue = %v, want ErrQueueOverflow", err)
	}
	if got := q.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2 (newest dropped, not oldest)", got)
	}

	first, ok := q.Poll()
	if !ok || first.Bytes[0] != 1 {
		t.Fatalf("Poll() after overflow = %v, ok=%v, want [1]", first.Bytes, ok)
	}
}

func TestRawMessageQueue_NonPositiveCapacityTreatedAsOne(t *testing.T) {
	t.Parallel()

	q := transport.NewRawMessageQueue(0)
	if err := q.Offer(transport.RawMessage{Bytes: []byte{1}}); err != nil {
		t.Fatalf("first Offer() unexpected error: %v", err)
	}
	if err := q.Offer(transport.RawMessage{Bytes: []byte{2}}); err != transport.ErrQueueOverflow {
		t.Fatalf("second Offer() = %v, want ErrQueueOverflow", err)
	}
}
