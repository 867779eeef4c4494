package dtx

import (
	"fmt"
	"sync"

	"github.com/appium/go-ios-remotexpc/internal/plist"
	"github.com/appium/go-ios-remotexpc/internal/xpc"
)

// Message is one decoded DTX payload: an NSKeyedArchiver-wrapped selector
// invocation or a response to one, addressed to a logical channel.
type Message struct {
	ChannelID uint32
	Payload   any
}

// Multiplexer fans DTX messages out to per-channel subscribers over a
// single established XPC session (spec.md §4.10, "DTX channel
// multiplexing over XPC").
type Multiplexer struct {
	conn *xpc.Conn

	mu       sync.Mutex
	channels map[uint32]chan Message
}

// NewMultiplexer wraps an already-handshaken XPC connection.
func NewMultiplexer(conn *xpc.Conn) *Multiplexer {
	return &Multiplexer{conn: conn, channels: make(map[uint32]chan Message)}
}

// OpenChannel registers channelID and returns a buffered delivery channel
// for messages addressed to it.
func (m *Multiplexer) OpenChannel(channelID uint32) <-chan Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Message, 16)
	m.channels[channelID] = ch
	return ch
}

// CloseChannel unregisters channelID and closes its delivery channel.
func (m *Multiplexer) CloseChannel(channelID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		close(ch)
		delete(m.channels, channelID)
	}
}

// Dispatch decodes one incoming XPC DATA payload as an NSKeyedArchiver
// plist and routes it to the channel named by its top-level "channel"
// field, if any subscriber is registered.
func (m *Multiplexer) Dispatch(streamID uint32, raw []byte) error {
	msg, err := xpc.DecodeMessage(raw)
	if err != nil {
		return fmt.Errorf("dtx: decode xpc message: %w", err)
	}
	archiveBytes, ok := msg.Body.Get("archivedPayload")
	if !ok || archiveBytes.Kind != xpc.KindData {
		return fmt.Errorf("dtx: message missing archivedPayload")
	}
	archive, _, err := plist.ParseXML(archiveBytes.Data)
	if err != nil {
		return fmt.Errorf("dtx: parse archived payload: %w", err)
	}
	decoded, err := DecodeArchive(archive)
	if err != nil {
		return fmt.Errorf("dtx: decode archive: %w", err)
	}

	channelID := uint32(streamID)
	if idVal, ok := msg.Body.Get("channel"); ok {
		channelID = uint32(idVal.UInt64)
	}

	m.mu.Lock()
	ch, ok := m.channels[channelID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	ch <- Message{ChannelID: channelID, Payload: decoded}
	return nil
}
