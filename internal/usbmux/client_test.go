package usbmux_test

import (
	"net"
	"testing"

	"github.com/appium/go-ios-remotexpc/internal/plist"
	"github.com/appium/go-ios-remotexpc/internal/usbmux"
	"github.com/stretchr/testify/require"
)

// newPipeClient builds a usbmux.Client whose dial func hands out one
// pre-connected net.Pipe() end per request, running fn on the other end in
// a goroutine to play the part of usbmuxd.
func newPipeClient(t *testing.T, fn func(device net.Conn)) *usbmux.Client {
	t.Helper()
	return usbmux.NewClientWithDialer(func() (net.Conn, error) {
		client, device := net.Pipe()
		go fn(device)
		return client, nil
	})
}

func TestListDevices_ParsesEntries(t *testing.T) {
	c := newPipeClient(t, func(device net.Conn) {
		defer device.Close()
		_, _, err := plist.ReadFramed(device)
		require.NoError(t, err)

		entry := plist.NewDict()
		props := plist.NewDict()
		props.Set("DeviceID", plist.Int(7))
		props.Set("SerialNumber", plist.String("00001234-0001ABCD"))
		props.Set("ProductID", plist.Int(4776))
		entry.Set("Properties", props)

		reply := plist.NewDict()
		reply.Set("DeviceList", plist.Array(entry))
		require.NoError(t, plist.WriteFramed(device, reply))
	})

	devices, err := c.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, int64(7), devices[0].DeviceID)
	require.Equal(t, "00001234-0001ABCD", devices[0].UDID)
}

func TestReadBUID(t *testing.T) {
	c := newPipeClient(t, func(device net.Conn) {
		defer device.Close()
		_, _, err := plist.ReadFramed(device)
		require.NoError(t, err)

		reply := plist.NewDict()
		reply.Set("BUID", plist.String("host-buid-1234"))
		require.NoError(t, plist.WriteFramed(device, reply))
	})

	buid, err := c.ReadBUID()
	require.NoError(t, err)
	require.Equal(t, "host-buid-1234", buid)
}

func TestConnect_FailureResult(t *testing.T) {
	c := newPipeClient(t, func(device net.Conn) {
		defer device.Close()
		_, _, err := plist.ReadFramed(device)
		require.NoError(t, err)

		reply := plist.NewDict()
		reply.Set("Number", plist.Int(3))
		require.NoError(t, plist.WriteFramed(device, reply))
	})

	_, err := c.Connect(7, 62078)
	require.Error(t, err)
}
