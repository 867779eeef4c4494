package notificationproxy_test

import (
	"net"
	"testing"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/plist"
	"github.com/appium/go-ios-remotexpc/internal/services/notificationproxy"
	"github.com/stretchr/testify/require"
)

func TestObserveAndWait(t *testing.T) {
	client, device := net.Pipe()
	defer device.Close()

	go func() {
		req, _, err := plist.ReadFramed(device)
		require.NoError(t, err)
		cmd, _ := req.Get("Command")
		require.Equal(t, "ObserveNotification", cmd.String)

		event := plist.NewDict()
		event.Set("Name", plist.String("com.apple.mobile.lockdown.activation_state"))
		require.NoError(t, plist.WriteFramed(device, event))
	}()

	c := notificationproxy.New(lockdown.NewServiceConnection(client))
	defer c.Close()

	require.NoError(t, c.ObserveNotification("com.apple.mobile.lockdown.activation_state"))
	name, err := c.WaitForNotification(time.Second)
	require.NoError(t, err)
	require.Equal(t, "com.apple.mobile.lockdown.activation_state", name)
}
