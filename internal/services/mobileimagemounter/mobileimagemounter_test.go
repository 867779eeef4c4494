package mobileimagemounter_test

import (
	"net"
	"testing"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/plist"
	"github.com/appium/go-ios-remotexpc/internal/services/mobileimagemounter"
	"github.com/stretchr/testify/require"
)

func TestLookupImage_NotMounted(t *testing.T) {
	client, device := net.Pipe()
	defer device.Close()

	go func() {
		_, _, err := plist.ReadFramed(device)
		require.NoError(t, err)
		reply := plist.NewDict()
		require.NoError(t, plist.WriteFramed(device, reply))
	}()

	c := mobileimagemounter.New(lockdown.NewServiceConnection(client))
	defer c.Close()

	_, mounted, err := c.LookupImage("Developer", time.Second)
	require.NoError(t, err)
	require.False(t, mounted)
}

func TestMountImage_Complete(t *testing.T) {
	client, device := net.Pipe()
	defer device.Close()

	go func() {
		req, _, err := plist.ReadFramed(device)
		require.NoError(t, err)
		path, _ := req.Get("ImagePath")
		require.Equal(t, "/private/var/mobile/Media/PublicStaging/staging.dimage", path.String)

		reply := plist.NewDict()
		reply.Set("Status", plist.String("Complete"))
		require.NoError(t, plist.WriteFramed(device, reply))
	}()

	c := mobileimagemounter.New(lockdown.NewServiceConnection(client))
	defer c.Close()

	err := c.MountImage("/private/var/mobile/Media/PublicStaging/staging.dimage", []byte{0x01, 0x02}, "Developer", time.Second)
	require.NoError(t, err)
}
