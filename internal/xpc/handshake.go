package xpc

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/h2c"
)

// preConnectSettle is the empirically-required pause between establishing
// the TCP connection and writing the HTTP/2 preface (spec.md §5).
const preConnectSettle = 100 * time.Millisecond

const (
	streamRoot  uint32 = 1
	streamReply uint32 = 3
)

// Conn is an established RSD XPC session: an HTTP/2 connection carrying one
// ROOT_CHANNEL stream and one REPLY_CHANNEL stream.
type Conn struct {
	nc           net.Conn
	maxFrameSize uint32
	Services     map[string]ServiceEntry
}

// ServiceEntry describes one entry of the handshake reply's Services map
// (spec.md §4.6, consumed by C11's RSD catalog).
type ServiceEntry struct {
	Port       string
	Properties map[string]Value
}

// Handshake performs the nine-step HTTP/2 + XPC bring-up sequence against
// nc and returns a ready Conn (spec.md §4.6).
func Handshake(nc net.Conn) (*Conn, error) {
	time.Sleep(preConnectSettle)

	if _, err := nc.Write([]byte(h2c.Preface)); err != nil {
		return nil, fmt.Errorf("xpc: write preface: %w", err)
	}

	settingsPayload := h2c.EncodeSettings([]h2c.Setting{
		{ID: h2c.SettingMaxConcurrentStreams, Value: 100},
		{ID: h2c.SettingInitialWindowSize, Value: 1048576},
	})
	if err := h2c.WriteFrame(nc, h2c.Frame{Type: h2c.TypeSettings, StreamID: 0, Payload: settingsPayload}); err != nil {
		return nil, fmt.Errorf("xpc: write settings: %w", err)
	}

	wuPayload := h2c.EncodeWindowUpdate(983041)
	if err := h2c.WriteFrame(nc, h2c.Frame{Type: h2c.TypeWindowUpdate, StreamID: 0, Payload: wuPayload}); err != nil {
		return nil, fmt.Errorf("xpc: write window_update: %w", err)
	}

	if err := h2c.WriteFrame(nc, h2c.Frame{Type: h2c.TypeHeaders, Flags: h2c.FlagEndHeaders, StreamID: streamRoot}); err != nil {
		return nil, fmt.Errorf("xpc: write root headers: %w", err)
	}
	anchor := EmptyBodyMessage(FlagAlwaysSet, 0)
	if err := h2c.WriteFrame(nc, h2c.Frame{Type: h2c.TypeData, StreamID: streamRoot, Payload: anchor}); err != nil {
		return nil, fmt.Errorf("xpc: write root anchor: %w", err)
	}
	advance := NullBodyMessage(FlagAlwaysSet|FlagInitHandshake, 0)
	if err := h2c.WriteFrame(nc, h2c.Frame{Type: h2c.TypeData, StreamID: streamRoot, Payload: advance}); err != nil {
		return nil, fmt.Errorf("xpc: write handshake advance: %w", err)
	}

	if err := h2c.WriteFrame(nc, h2c.Frame{Type: h2c.TypeHeaders, Flags: h2c.FlagEndHeaders, StreamID: streamReply}); err != nil {
		return nil, fmt.Errorf("xpc: write reply headers: %w", err)
	}
	replyInit := NullBodyMessage(FlagAlwaysSet|FlagInitHandshake, 0)
	if err := h2c.WriteFrame(nc, h2c.Frame{Type: h2c.TypeData, StreamID: streamReply, Payload: replyInit}); err != nil {
		return nil, fmt.Errorf("xpc: write reply init: %w", err)
	}

	ackPayload := h2c.EncodeSettings(nil)
	if err := h2c.WriteFrame(nc, h2c.Frame{Type: h2c.TypeSettings, Flags: h2c.FlagAck, StreamID: 0, Payload: ackPayload}); err != nil {
		return nil, fmt.Errorf("xpc: write settings ack: %w", err)
	}

	c := &Conn{nc: nc, maxFrameSize: h2c.DefaultMaxFrameSize}
	if err := c.readCatalog(); err != nil {
		return nil, err
	}
	return c, nil
}

// readCatalog drains DATA frames on ROOT_CHANNEL until the device's first
// settings/headers bookkeeping is done and a full XPC dictionary carrying a
// Services map has been decoded (spec.md §4.6, final paragraph).
func (c *Conn) readCatalog() error {
	var body bytes.Buffer
	for {
		f, err := h2c.ReadFrame(c.nc)
		if err != nil {
			return fmt.Errorf("xpc: read catalog frame: %w", err)
		}
		switch f.Type {
		case h2c.TypeData:
			if f.StreamID != streamRoot {
				continue
			}
			body.Write(f.Payload)
			msg, err := DecodeMessage(body.Bytes())
			if err != nil {
				continue // incomplete message; keep accumulating
			}
			services, ok := extractServices(msg.Body)
			if !ok {
				slog.Warn("xpc: handshake reply had no Services map")
			}
			c.Services = services
			return nil
		case h2c.TypeSettings, h2c.TypeWindowUpdate, h2c.TypeHeaders:
			continue
		case h2c.TypeGoAway:
			return fmt.Errorf("xpc: device sent GOAWAY during handshake")
		}
	}
}

func extractServices(root Value) (map[string]ServiceEntry, bool) {
	servicesVal, ok := root.Get("Services")
	if !ok || servicesVal.Kind != KindDict {
		return nil, false
	}
	out := make(map[string]ServiceEntry, len(servicesVal.DictOrder))
	for _, name := range servicesVal.DictOrder {
		entryVal := servicesVal.Dict[name]
		entry := ServiceEntry{Properties: map[string]Value{}}
		if portVal, ok := entryVal.Get("Port"); ok {
			entry.Port = portVal.String
		}
		if propsVal, ok := entryVal.Get("Properties"); ok && propsVal.Kind == KindDict {
			entry.Properties = propsVal.Dict
		}
		out[name] = entry
	}
	return out, true
}

// SendData fragments payload into MAX_FRAME_SIZE DATA frames on streamID.
// It does not track the peer's flow-control window: frames are written
// without waiting for WINDOW_UPDATE.
func (c *Conn) SendData(streamID uint32, payload []byte) error {
	for len(payload) > 0 {
		n := len(payload)
		if uint32(n) > c.maxFrameSize {
			n = int(c.maxFrameSize)
		}
		if err := h2c.WriteFrame(c.nc, h2c.Frame{Type: h2c.TypeData, StreamID: streamID, Payload: payload[:n]}); err != nil {
			return fmt.Errorf("xpc: send data fragment: %w", err)
		}
		payload = payload[n:]
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }
