package installationproxy_test

import (
	"net"
	"testing"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/plist"
	"github.com/appium/go-ios-remotexpc/internal/services/installationproxy"
	"github.com/stretchr/testify/require"
)

func TestBrowse_SinglePage(t *testing.T) {
	client, device := net.Pipe()
	defer device.Close()

	go func() {
		req, _, err := plist.ReadFramed(device)
		require.NoError(t, err)
		require.Equal(t, "Browse", mustString(req, "Command"))

		app := plist.NewDict()
		app.Set("CFBundleIdentifier", plist.String("com.apple.test"))
		app.Set("CFBundleVersion", plist.String("1.0"))

		reply := plist.NewDict()
		reply.Set("CurrentList", plist.Array(app))
		reply.Set("Status", plist.String("Complete"))
		require.NoError(t, plist.WriteFramed(device, reply))
	}()

	c := installationproxy.New(lockdown.NewServiceConnection(client))
	defer c.Close()

	apps, err := c.Browse(nil, time.Second)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	require.Equal(t, "com.apple.test", apps[0].BundleID)
	require.Equal(t, "1.0", apps[0].CFBundleVersion)
}

func TestUninstall_Failure(t *testing.T) {
	client, device := net.Pipe()
	defer device.Close()

	go func() {
		_, _, err := plist.ReadFramed(device)
		require.NoError(t, err)
		reply := plist.NewDict()
		reply.Set("Error", plist.String("ApplicationNotFound"))
		require.NoError(t, plist.WriteFramed(device, reply))
	}()

	c := installationproxy.New(lockdown.NewServiceConnection(client))
	defer c.Close()

	err := c.Uninstall("com.apple.missing", time.Second)
	require.Error(t, err)
}

func mustString(v plist.Value, key string) string {
	val, _ := v.Get(key)
	return val.String
}
