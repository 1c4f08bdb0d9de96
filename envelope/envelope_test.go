package envelope

import (
	"bytes"
	"testing"
)

func sampleHead() Head {
	return Head{
		Version:   3,
		Sender:    100,
		NodeID:    131073,
		Receiver:  200,
		Type:      TypeText,
		Timestamp: 1700000000000,
	}
}

// Invariant 1: encode(decode(m.bytes)) == m.bytes.
func TestRoundTrip(t *testing.T) {
	msg, err := New(sampleHead(), []byte("hi"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw := append([]byte(nil), msg.AsSlice()...)

	decoded, err := FromSlice(raw)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	if !bytes.Equal(decoded.AsSlice(), raw) {
		t.Fatalf("round trip mismatch: got %x want %x", decoded.AsSlice(), raw)
	}
	if string(decoded.Payload()) != "hi" {
		t.Fatalf("payload mismatch: got %q", decoded.Payload())
	}
}

func TestHeadFieldsPreserved(t *testing.T) {
	h := sampleHead()
	msg, err := New(h, []byte("hello"), []byte("ext"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := msg.Head()
	if got.Version != h.Version || got.Sender != h.Sender || got.NodeID != h.NodeID ||
		got.Receiver != h.Receiver || got.Type != h.Type || got.Timestamp != h.Timestamp {
		t.Fatalf("head fields not preserved: got %+v want %+v", got, h)
	}
	if got.PayloadLen != 5 || got.ExtLength != 3 {
		t.Fatalf("lengths not stamped: got payload=%d ext=%d", got.PayloadLen, got.ExtLength)
	}
}

// Boundary: payload_length=0, extension_length=0 round-trips.
func TestEmptyBody(t *testing.T) {
	msg, err := New(sampleHead(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(msg.Payload()) != 0 || len(msg.Extension()) != 0 {
		t.Fatalf("expected empty body")
	}
	if _, err := FromSlice(msg.AsSlice()); err != nil {
		t.Fatalf("FromSlice on empty body: %v", err)
	}
}

// Boundary: maximum payload (16383) and extension (63) is accepted.
func TestMaxBody(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, MaxPayloadLength)
	ext := bytes.Repeat([]byte{0xCD}, MaxExtensionLength)
	if _, err := New(sampleHead(), payload, ext); err != nil {
		t.Fatalf("max body rejected: %v", err)
	}
}

// Boundary: anything larger than the combined 16446-byte limit is rejected.
func TestOverMaxBodyRejected(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, MaxPayloadLength)
	ext := bytes.Repeat([]byte{0xCD}, MaxExtensionLength)
	// MaxPayloadLength + MaxExtensionLength == 16446 == MaxBodyLength exactly,
	// so this case alone should succeed; push extension length check instead.
	if _, err := New(sampleHead(), payload, ext); err != nil {
		t.Fatalf("expected boundary body to round-trip: %v", err)
	}
	over := bytes.Repeat([]byte{0}, MaxExtensionLength+1)
	if _, err := New(sampleHead(), payload, over); err != ErrBodyTooLarge {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestFromSliceRejectsBadLength(t *testing.T) {
	if _, err := FromSlice([]byte{1, 2, 3}); err != ErrReadHead {
		t.Fatalf("expected ErrReadHead, got %v", err)
	}
	msg, _ := New(sampleHead(), []byte("hi"), nil)
	truncated := msg.AsSlice()[:len(msg.AsSlice())-1]
	if _, err := FromSlice(truncated); err != ErrReadBody {
		t.Fatalf("expected ErrReadBody, got %v", err)
	}
}

func TestSetSeqNum(t *testing.T) {
	msg, _ := New(sampleHead(), []byte("hi"), nil)
	msg.SetSeqNum(42)
	if msg.Head().SeqNum != 42 {
		t.Fatalf("seq num not stamped: got %d", msg.Head().SeqNum)
	}
	// Other fields must be unaffected by the seqnum write.
	if msg.Head().Sender != 100 || msg.Head().Receiver != 200 {
		t.Fatalf("unrelated fields mutated by SetSeqNum")
	}
}

func TestIsGroup(t *testing.T) {
	h := sampleHead()
	h.Receiver = GroupThreshold
	if !h.IsGroup() {
		t.Fatalf("expected receiver >= 2^36 to be a group")
	}
	h.Receiver = GroupThreshold - 1
	if h.IsGroup() {
		t.Fatalf("expected receiver < 2^36 to not be a group")
	}
}

func TestCanonicalize(t *testing.T) {
	hi1, lo1 := Canonicalize(100, 200)
	hi2, lo2 := Canonicalize(200, 100)
	if hi1 != hi2 || lo1 != lo2 {
		t.Fatalf("canonicalize not order-independent: (%d,%d) vs (%d,%d)", hi1, lo1, hi2, lo2)
	}
	if hi1 != 100 || lo1 != 200 {
		t.Fatalf("unexpected canonical form: (%d,%d)", hi1, lo1)
	}
}

func TestTypeBandClassification(t *testing.T) {
	cases := []struct {
		typ              Type
		userContent      bool
		business         bool
		internal         bool
	}{
		{TypeText, true, false, false},
		{TypeEdit, true, false, false},
		{TypeAuth, false, false, false},
		{TypeJoinGroup, false, true, false},
		{TypeNoop, false, false, true},
		{TypeMessageNodeRegister, false, false, true},
	}
	for _, c := range cases {
		if got := c.typ.IsUserContent(); got != c.userContent {
			t.Errorf("type %d IsUserContent = %v, want %v", c.typ, got, c.userContent)
		}
		if got := c.typ.IsBusinessRange(); got != c.business {
			t.Errorf("type %d IsBusinessRange = %v, want %v", c.typ, got, c.business)
		}
		if got := c.typ.IsInternalRange(); got != c.internal {
			t.Errorf("type %d IsInternalRange = %v, want %v", c.typ, got, c.internal)
		}
	}
}
