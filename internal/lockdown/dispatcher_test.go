package lockdown_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/plist"
	"github.com/stretchr/testify/require"
)

func pipeDialer(client net.Conn) lockdown.Dialer {
	return func(ctx context.Context, address, port string) (net.Conn, error) {
		return client, nil
	}
}

func TestStartService_NotFound(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()

	_, err := lockdown.StartService(context.Background(), pipeDialer(client), "fdxx::1", lockdown.Catalog{}, "com.apple.missing")
	require.Error(t, err)
	var notFound *lockdown.ErrServiceNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestStartService_HappyPath(t *testing.T) {
	client, device := net.Pipe()
	defer device.Close()

	go func() {
		ack := plist.NewDict()
		ack.Set("Request", plist.String("StartService"))
		_ = plist.WriteFramed(device, ack)

		req, _, err := plist.ReadFramed(device)
		if err != nil {
			return
		}
		v, _ := req.Get("Request")
		reply := plist.NewDict()
		reply.Set("Echo", plist.String(v.String))
		_ = plist.WriteFramed(device, reply)
	}()

	catalog := lockdown.Catalog{"com.apple.syslog_relay": "62078"}
	conn, err := lockdown.StartService(context.Background(), pipeDialer(client), "fdxx::1", catalog, "com.apple.syslog_relay")
	require.NoError(t, err)
	defer conn.Close()

	req := plist.NewDict()
	req.Set("Request", plist.String("ping"))
	reply, err := conn.SendPlistRequest(req, time.Second)
	require.NoError(t, err)
	echo, ok := reply.Get("Echo")
	require.True(t, ok)
	require.Equal(t, "ping", echo.String)
}

func TestStartService_Failed(t *testing.T) {
	client, device := net.Pipe()
	defer client.Close()
	defer device.Close()

	go func() {
		ack := plist.NewDict()
		ack.Set("Error", plist.String("InvalidService"))
		_ = plist.WriteFramed(device, ack)
	}()

	catalog := lockdown.Catalog{"com.apple.unsupported": "1234"}
	_, err := lockdown.StartService(context.Background(), pipeDialer(client), "fdxx::1", catalog, "com.apple.unsupported")
	require.Error(t, err)
	var failed *lockdown.ErrServiceStartFailed
	require.ErrorAs(t, err, &failed)
	require.Equal(t, "InvalidService", failed.Code)
}
