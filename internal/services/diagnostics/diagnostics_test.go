package diagnostics_test

import (
	"net"
	"testing"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/plist"
	"github.com/appium/go-ios-remotexpc/internal/services/diagnostics"
	"github.com/stretchr/testify/require"
)

func TestIORegistry_Success(t *testing.T) {
	client, device := net.Pipe()
	defer device.Close()

	go func() {
		req, _, err := plist.ReadFramed(device)
		require.NoError(t, err)
		entryClass, _ := req.Get("EntryClass")
		require.Equal(t, "IOPMPowerSource", entryClass.String)

		diag := plist.NewDict()
		diag.Set("BatteryCurrentCapacity", plist.Int(87))

		reply := plist.NewDict()
		reply.Set("Status", plist.String("Success"))
		reply.Set("Diagnostics", diag)
		require.NoError(t, plist.WriteFramed(device, reply))
	}()

	c := diagnostics.New(lockdown.NewServiceConnection(client))
	defer c.Close()

	result, err := c.IORegistry("IOPMPowerSource", time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(87), result["BatteryCurrentCapacity"].Int)
}

func TestSleep_StatusFailure(t *testing.T) {
	client, device := net.Pipe()
	defer device.Close()

	go func() {
		_, _, err := plist.ReadFramed(device)
		require.NoError(t, err)
		reply := plist.NewDict()
		reply.Set("Status", plist.String("Failure"))
		require.NoError(t, plist.WriteFramed(device, reply))
	}()

	c := diagnostics.New(lockdown.NewServiceConnection(client))
	defer c.Close()

	err := c.Sleep(time.Second)
	require.Error(t, err)
}
