package plist

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds a single plist frame to guard against a corrupt
// length prefix forcing an unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024

// WriteFramed writes v as an XML plist prefixed by its 4-byte big-endian
// length, the wire shape every lockdown service uses (spec.md §4.9, §6).
func WriteFramed(w io.Writer, v Value) error {
	body, err := EmitXML(v)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("plist: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("plist: write frame body: %w", err)
	}
	return nil
}

// ReadFramed reads one length-prefixed plist frame, returning any recovery
// warnings the tolerant parser applied.
func ReadFramed(r io.Reader) (Value, []Warning, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Value{}, nil, fmt.Errorf("plist: read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > maxFrameSize {
		return Value{}, nil, fmt.Errorf("plist: frame too large: %d bytes", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Value{}, nil, fmt.Errorf("plist: read frame body: %w", err)
	}
	return ParseXML(body)
}
