// Package envelope implements the fixed-header/variable-body wire format
// shared by every hop in the cluster: client<->message-node, node<->node,
// and node<->scheduler. The head is exactly 32 bytes packed into four
// 64-bit big-endian words; payload and extension are variable-length
// trailers whose lengths are carried in the head.
package envelope

import (
	"encoding/binary"
	"errors"
)

// Field widths, in bits, within the four packed head words. Each word sums
// to exactly 64 bits so the head is 4*8 = 32 bytes with no padding.
const (
	versionBits = 18
	senderBits  = 46

	nodeIDBits   = 18
	receiverBits = 46

	typeBits      = 12
	extLenBits    = 6
	timestampBits = 46

	payloadLenBits = 14
	seqNumBits     = 50
)

// Maximum values derivable from the field widths.
const (
	MaxPayloadLength   = (1 << payloadLenBits) - 1 // 16383
	MaxExtensionLength = (1 << extLenBits) - 1      // 63
	MaxBodyLength      = 16446                      // payload+extension combined ceiling
	MaxSeqNum          = (1 << seqNumBits) - 1
	MaxSender          = (1 << senderBits) - 1
	MaxReceiver        = (1 << receiverBits) - 1

	// GroupThreshold: receivers at or above this value denote a group,
	// routing expands via fan-out instead of point-to-point delivery.
	GroupThreshold = 1 << 36
)

// HeadLength is the fixed size, in bytes, of the envelope head.
const HeadLength = 32

// Type is the closed message-type enum, partitioned by range so handlers
// can dispatch on the band a value falls into.
type Type uint16

// Type taxonomy, partitioned by range.
const (
	TypeNA  Type = 0
	TypeAck Type = 1

	// 32-63: user content ("pure text" handler range).
	TypeText  Type = 32
	TypeMeme  Type = 33
	TypeFile  Type = 34
	TypeImage Type = 35
	TypeVideo Type = 36
	TypeAudio Type = 37

	// 64-95: control content ("pure text" handler range too).
	TypeEdit     Type = 64
	TypeWithdraw Type = 65

	// 96-127: client<->server logic.
	TypeAuth          Type = 96
	TypePing          Type = 97
	TypePong          Type = 98
	TypeEcho          Type = 99
	TypeError         Type = 100
	TypeBeOffline     Type = 101
	TypeInternalError Type = 102

	// 128-159: business-derived.
	TypeSystemMessage  Type = 128
	TypeAddFriend      Type = 129
	TypeRemoveFriend   Type = 130
	TypeJoinGroup      Type = 131
	TypeLeaveGroup     Type = 132
	TypeSetRelation    Type = 133
	TypeRemoteInvoke   Type = 134

	// 160-191: intra-cluster internal.
	TypeNoop                    Type = 160
	TypeInterrupt               Type = 161
	TypeUserNodeMapChange       Type = 162
	TypeMessageNodeRegister     Type = 163
	TypeMessageNodeUnregister   Type = 164
	TypeSeqnumNodeRegister      Type = 165
	TypeSeqnumNodeUnregister    Type = 166
	TypeRecorderNodeRegister    Type = 167
	TypeRecorderNodeUnregister  Type = 168
	TypeMsgprocessorNodeRegister   Type = 169
	TypeMsgprocessorNodeUnregister Type = 170
)

// IsUserContent reports whether t is in the "pure text" handler range
// (user content or control content, types 32-95).
func (t Type) IsUserContent() bool {
	return t >= 32 && t < 96
}

// IsBusinessRange reports whether t is a business-derived type (128-159).
func (t Type) IsBusinessRange() bool {
	return t >= 128 && t < 160
}

// IsInternalRange reports whether t is an intra-cluster internal type
// (160-191). Messages in this range pass through pre-processing untouched.
func (t Type) IsInternalRange() bool {
	return t >= 160 && t < 192
}

// ErrReadHead is returned when a head byte slice is malformed (wrong
// length).
var ErrReadHead = errors.New("envelope: malformed head")

// ErrReadBody is returned when payload/extension lengths don't match the
// remaining bytes available to decode.
var ErrReadBody = errors.New("envelope: body length mismatch")

// ErrBodyTooLarge is returned when encoding a message whose combined
// payload+extension length exceeds MaxBodyLength.
var ErrBodyTooLarge = errors.New("envelope: payload+extension too large")

// Head is a decoded view of the 32-byte fixed envelope head. The bit
// widths of its fields are the *Bits constants above; packHead/unpackHead
// mask every field so none touches bits outside of its own.
type Head struct {
	Version      uint32
	Sender       uint64
	NodeID       uint32
	Receiver     uint64
	Type         Type
	ExtLength    uint8
	Timestamp    uint64
	PayloadLen   uint16
	SeqNum       uint64
}

// IsGroup reports whether Receiver denotes a group id.
func (h Head) IsGroup() bool {
	return h.Receiver >= GroupThreshold
}

// Message is a contiguous byte sequence Head ‖ Payload ‖ Extension. encode
// produces a view over its own storage; no copy is made on the happy path.
type Message struct {
	raw []byte // len == HeadLength + len(payload) + len(extension)
}

// New builds a Message from a head and the payload/extension bytes,
// validating each field's length invariant.
func New(h Head, payload, extension []byte) (*Message, error) {
	if len(payload) > MaxPayloadLength || len(extension) > MaxExtensionLength {
		return nil, ErrBodyTooLarge
	}
	if len(payload)+len(extension) > MaxBodyLength {
		return nil, ErrBodyTooLarge
	}
	h.PayloadLen = uint16(len(payload))
	h.ExtLength = uint8(len(extension))

	raw := make([]byte, HeadLength+len(payload)+len(extension))
	packHead(raw[:HeadLength], h)
	copy(raw[HeadLength:HeadLength+len(payload)], payload)
	copy(raw[HeadLength+len(payload):], extension)
	return &Message{raw: raw}, nil
}

// AsSlice returns the borrowed view over the message's own storage. This
// is the only encode entry point: callers must not retain the slice past
// the Message's lifetime if they plan to mutate it through SetSeqNum.
func (m *Message) AsSlice() []byte {
	return m.raw
}

// FromSlice decodes a Message from a borrowed byte slice without copying.
// The slice must outlive the returned Message's use, matching the
// "borrowed view" contract of the payload/extension accessors.
func FromSlice(raw []byte) (*Message, error) {
	if len(raw) < HeadLength {
		return nil, ErrReadHead
	}
	h, err := unpackHead(raw[:HeadLength])
	if err != nil {
		return nil, err
	}
	want := HeadLength + int(h.PayloadLen) + int(h.ExtLength)
	if len(raw) != want {
		return nil, ErrReadBody
	}
	return &Message{raw: raw}, nil
}

// Head decodes and returns the message's head fields.
func (m *Message) Head() Head {
	h, _ := unpackHead(m.raw[:HeadLength])
	return h
}

// PeekHead decodes just the fixed head from the first HeadLength bytes
// of raw, without requiring the payload/extension bytes to be present
// yet. Callers reading a message off a stream use this to learn how many
// more bytes to read before the full frame can be assembled.
func PeekHead(raw []byte) (Head, error) {
	if len(raw) < HeadLength {
		return Head{}, ErrReadHead
	}
	return unpackHead(raw[:HeadLength])
}

// Payload returns a borrowed view of the payload bytes.
func (m *Message) Payload() []byte {
	h := m.Head()
	start := HeadLength
	return m.raw[start : start+int(h.PayloadLen)]
}

// Extension returns a borrowed view of the extension bytes.
func (m *Message) Extension() []byte {
	h := m.Head()
	start := HeadLength + int(h.PayloadLen)
	return m.raw[start : start+int(h.ExtLength)]
}

// SetSeqNum stamps the assigned sequence number into the head in place,
// the only head field mutated after initial construction.
func (m *Message) SetSeqNum(seq uint64) {
	h := m.Head()
	h.SeqNum = seq
	packHead(m.raw[:HeadLength], h)
}

func packHead(dst []byte, h Head) {
	w0 := (uint64(h.Version&((1<<versionBits)-1)) << senderBits) | (h.Sender & ((1 << senderBits) - 1))
	w1 := (uint64(h.NodeID&((1<<nodeIDBits)-1)) << receiverBits) | (h.Receiver & ((1 << receiverBits) - 1))
	w2 := (uint64(h.Type&((1<<typeBits)-1)) << (extLenBits + timestampBits)) |
		(uint64(h.ExtLength&((1<<extLenBits)-1)) << timestampBits) |
		(h.Timestamp & ((1 << timestampBits) - 1))
	w3 := (uint64(h.PayloadLen&((1<<payloadLenBits)-1)) << seqNumBits) | (h.SeqNum & ((1 << seqNumBits) - 1))

	binary.BigEndian.PutUint64(dst[0:8], w0)
	binary.BigEndian.PutUint64(dst[8:16], w1)
	binary.BigEndian.PutUint64(dst[16:24], w2)
	binary.BigEndian.PutUint64(dst[24:32], w3)
}

func unpackHead(src []byte) (Head, error) {
	if len(src) != HeadLength {
		return Head{}, ErrReadHead
	}
	w0 := binary.BigEndian.Uint64(src[0:8])
	w1 := binary.BigEndian.Uint64(src[8:16])
	w2 := binary.BigEndian.Uint64(src[16:24])
	w3 := binary.BigEndian.Uint64(src[24:32])

	var h Head
	h.Version = uint32(w0 >> senderBits)
	h.Sender = w0 & ((1 << senderBits) - 1)

	h.NodeID = uint32(w1 >> receiverBits)
	h.Receiver = w1 & ((1 << receiverBits) - 1)

	h.Type = Type(w2 >> (extLenBits + timestampBits))
	h.ExtLength = uint8((w2 >> timestampBits) & ((1 << extLenBits) - 1))
	h.Timestamp = w2 & ((1 << timestampBits) - 1)

	h.PayloadLen = uint16(w3 >> seqNumBits)
	h.SeqNum = w3 & ((1 << seqNumBits) - 1)

	return h, nil
}

// Canonicalize builds the order-independent u128 conversation key shared
// by both directions of a (userA, userB) pair. Represented as two uint64s (hi, lo) since Go has no
// native u128; hi holds min(a,b), lo holds max(a,b).
func Canonicalize(a, b uint64) (hi, lo uint64) {
	if a <= b {
		return a, b
	}
	return b, a
}
