package instruments_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/h2c"
	"github.com/appium/go-ios-remotexpc/internal/rsd"
	"github.com/appium/go-ios-remotexpc/internal/services/instruments"
	"github.com/appium/go-ios-remotexpc/internal/xpc"
	"github.com/stretchr/testify/require"
)

// fakeDVTDevice performs the device side of the XPC handshake, then sends
// one DTX-shaped archived payload addressed to channel 5.
func fakeDVTDevice(t *testing.T, nc net.Conn) {
	t.Helper()
	buf := make([]byte, len(h2c.Preface))
	_, err := nc.Read(buf)
	require.NoError(t, err)
	require.Equal(t, h2c.Preface, string(buf))

	sawAck := false
	for !sawAck {
		f, err := h2c.ReadFrame(nc)
		require.NoError(t, err)
		if f.Type == h2c.TypeSettings && f.Flags&h2c.FlagAck != 0 {
			sawAck = true
		}
	}

	dict := xpc.NewDict()
	dict.Set("Services", xpc.NewDict())
	body := xpc.EncodeMessage(xpc.Message{Flags: xpc.FlagAlwaysSet, Body: *dict})
	require.NoError(t, h2c.WriteFrame(nc, h2c.Frame{Type: h2c.TypeData, StreamID: 1, Payload: body}))

	archivePayload := []byte(`<?xml version="1.0"?><plist><dict><key>$objects</key><array></array></dict></plist>`)
	dtxDict := xpc.NewDict()
	dtxDict.Set("archivedPayload", xpc.Bytesv(archivePayload))
	dtxDict.Set("channel", xpc.UInt64v(5))
	dtxBody := xpc.EncodeMessage(xpc.Message{Flags: xpc.FlagDataFlag, Body: *dtxDict})
	require.NoError(t, h2c.WriteFrame(nc, h2c.Frame{Type: h2c.TypeData, StreamID: 1, Payload: dtxBody}))
}

func TestDial_OpensChannelAndDispatches(t *testing.T) {
	client, device := net.Pipe()
	defer device.Close()

	go fakeDVTDevice(t, device)

	catalog, err := rsd.NewCatalog(map[string]xpc.ServiceEntry{
		instruments.ServiceName: {Port: "54321"},
	})
	require.NoError(t, err)
	defer catalog.Close()

	dialer := func(ctx context.Context, network, address string) (net.Conn, error) {
		return client, nil
	}

	c, err := instruments.Dial(context.Background(), dialer, "127.0.0.1", catalog)
	require.NoError(t, err)
	defer c.Close()

	ch := c.OpenChannel(5)

	raw := make([]byte, 4096)
	n, err := readFrameBody(client, raw)
	require.NoError(t, err)
	require.NoError(t, c.Dispatch(1, raw[:n]))

	select {
	case msg := <-ch:
		require.Equal(t, uint32(5), msg.ChannelID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
}

// readFrameBody reads one DATA frame payload off nc, skipping nothing
// since the handshake already consumed earlier frames server-side.
func readFrameBody(nc net.Conn, buf []byte) (int, error) {
	f, err := h2c.ReadFrame(nc)
	if err != nil {
		return 0, err
	}
	return copy(buf, f.Payload), nil
}
