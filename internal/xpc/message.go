package xpc

import (
	"encoding/binary"
	"fmt"
)

// Message is one magic-prefixed XPC envelope: a fixed header followed by an
// encoded object tree body (spec.md §4.6).
type Message struct {
	Flags uint32
	ID    uint64
	Body  Value
}

// Flag bits observed in the RSD handshake sequence (spec.md §4.6).
const (
	FlagAlwaysSet     uint32 = 0x00000001
	FlagDataFlag      uint32 = 0x00000100
	FlagInitHandshake uint32 = 0x00000200
)

// EncodeMessage serializes m as magic ‖ version ‖ {flags,size,id} ‖ body.
func EncodeMessage(m Message) []byte {
	body := Encode(m.Body)

	hdr := make([]byte, 8+4+8+8)
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], Version)
	binary.LittleEndian.PutUint32(hdr[8:12], m.Flags)
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(len(body)))
	binary.LittleEndian.PutUint64(hdr[20:28], m.ID)

	return append(hdr, body...)
}

// DecodeMessage parses one XPC envelope.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) < 28 {
		return Message{}, fmt.Errorf("xpc: truncated message header")
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != Magic {
		return Message{}, fmt.Errorf("xpc: bad magic 0x%08x", magic)
	}
	flags := binary.LittleEndian.Uint32(data[8:12])
	size := binary.LittleEndian.Uint64(data[12:20])
	id := binary.LittleEndian.Uint64(data[20:28])

	body := data[28:]
	if uint64(len(body)) < size {
		return Message{}, fmt.Errorf("xpc: truncated message body: want %d, have %d", size, len(body))
	}

	if size == 0 {
		return Message{Flags: flags, ID: id, Body: Null()}, nil
	}
	val, _, err := Decode(body[:size])
	if err != nil {
		return Message{}, fmt.Errorf("xpc: decode body: %w", err)
	}
	return Message{Flags: flags, ID: id, Body: val}, nil
}

// EmptyBodyMessage returns an encoded envelope whose body is an empty dict,
// used for the anchor message on ROOT_CHANNEL (spec.md §4.6 step 5).
func EmptyBodyMessage(flags uint32, id uint64) []byte {
	return EncodeMessage(Message{Flags: flags, ID: id, Body: *NewDict()})
}

// NullBodyMessage returns an encoded envelope with a null body, used for the
// handshake-advance and reply-channel-init messages (spec.md §4.6 steps 6
// and 8).
func NullBodyMessage(flags uint32, id uint64) []byte {
	return EncodeMessage(Message{Flags: flags, ID: id, Body: Null()})
}
