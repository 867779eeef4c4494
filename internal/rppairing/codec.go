// Package rppairing implements Apple's framed JSON control protocol used for
// Pair-Setup against RemoteXPC-era devices: a 9-byte ASCII magic, a 16-bit
// big-endian length, and a UTF-8 JSON body (spec.md §4.5).
package rppairing

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// Magic is the fixed 9-byte frame preamble.
const Magic = "RPPairing"

// MaxBodyLen is the largest JSON body a frame's 16-bit length can express.
const MaxBodyLen = 65535

// ErrBadMagic is returned when a frame's preamble does not match Magic.
var ErrBadMagic = errors.New("rppairing: invalid protocol magic")

// ErrBodyTooLarge is returned when Send is given a body exceeding MaxBodyLen.
var ErrBodyTooLarge = errors.New("rppairing: body exceeds 65535 bytes")

// Conn frames JSON messages over an underlying stream and tracks the
// monotonic sequence number Pair-Setup event packets carry (spec.md §4.5:
// "seeded at 1 for the first non-handshake packet; handshake uses 0").
type Conn struct {
	rw  io.ReadWriter
	seq atomic.Int64
}

// NewConn wraps rw, starting the sequence counter at 0 for the handshake
// packet.
func NewConn(rw io.ReadWriter) *Conn {
	c := &Conn{rw: rw}
	c.seq.Store(0)
	return c
}

// NextSequenceNumber returns the next sequence number to embed in an event
// packet and advances the counter. Sequence reuse by the device is treated
// as advisory, not an error (spec.md §9 open question 2); this method never
// rejects anything, it only hands out monotonically increasing numbers.
func (c *Conn) NextSequenceNumber() int64 {
	return c.seq.Add(1)
}

// Send marshals body to JSON and writes one frame.
func (c *Conn) Send(body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rppairing: marshal body: %w", err)
	}
	if len(payload) > MaxBodyLen {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(payload))
	}
	var hdr [11]byte
	copy(hdr[:9], Magic)
	binary.BigEndian.PutUint16(hdr[9:], uint16(len(payload)))
	if _, err := c.rw.Write(hdr[:]); err != nil {
		return fmt.Errorf("rppairing: write header: %w", err)
	}
	if _, err := c.rw.Write(payload); err != nil {
		return fmt.Errorf("rppairing: write body: %w", err)
	}
	return nil
}

// Receive reads one frame and unmarshals its JSON body into v.
func (c *Conn) Receive(v interface{}) error {
	raw, err := c.ReceiveRaw()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("rppairing: unmarshal body: %w", err)
	}
	return nil
}

// ReceiveRaw reads one frame and returns its raw JSON body, validating the
// magic preamble.
func (c *Conn) ReceiveRaw() ([]byte, error) {
	var hdr [11]byte
	if _, err := io.ReadFull(c.rw, hdr[:]); err != nil {
		return nil, fmt.Errorf("rppairing: read header: %w", err)
	}
	if !bytes.Equal(hdr[:9], []byte(Magic)) {
		return nil, fmt.Errorf("%w: got %q", ErrBadMagic, hdr[:9])
	}
	length := binary.BigEndian.Uint16(hdr[9:])
	body := make([]byte, length)
	if _, err := io.ReadFull(c.rw, body); err != nil {
		return nil, fmt.Errorf("rppairing: read body: %w", err)
	}
	return body, nil
}

// Envelope wraps a request or event under the nested schema every RPPairing
// body uses: message.plain._0.{request|event}._0.
type Envelope struct {
	Message Plain `json:"message"`
}

type Plain struct {
	Plain PlainInner `json:"plain"`
}

type PlainInner struct {
	Zero Body `json:"_0"`
}

type Body struct {
	Event   *EventBody   `json:"event,omitempty"`
	Request *RequestBody `json:"request,omitempty"`
}

type EventBody struct {
	Zero             interface{} `json:"_0"`
	OriginatedBy     string      `json:"originatedBy"`
	SequenceNumber   int64       `json:"sequenceNumber"`
}

type RequestBody struct {
	Zero interface{} `json:"_0"`
}

// NewEventEnvelope builds the standard event envelope (spec.md §4.5): all
// bodies nest under message.plain._0.event._0, tagged originatedBy "host"
// with the connection's next sequence number.
func (c *Conn) NewEventEnvelope(event interface{}) Envelope {
	return Envelope{
		Message: Plain{
			Plain: PlainInner{
				Zero: Body{
					Event: &EventBody{
						Zero:           event,
						OriginatedBy:   "host",
						SequenceNumber: c.NextSequenceNumber(),
					},
				},
			},
		},
	}
}

// NewRequestEnvelope builds the request envelope used for the initial
// handshake packet (sequence number 0, request instead of event).
func NewRequestEnvelope(request interface{}) Envelope {
	return Envelope{
		Message: Plain{
			Plain: PlainInner{
				Zero: Body{
					Request: &RequestBody{Zero: request},
				},
			},
		},
	}
}
