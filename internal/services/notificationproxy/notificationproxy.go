// Package notificationproxy wraps the com.apple.mobile.notification_proxy
// lockdown service: registering interest in device-side notifications and
// posting host-side ones.
package notificationproxy

import (
	"fmt"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/plist"
)

const ServiceName = "com.apple.mobile.notification_proxy"

// Client wraps a started notification_proxy connection.
type Client struct {
	conn *lockdown.ServiceConnection
}

// New wraps an already-started service connection.
func New(conn *lockdown.ServiceConnection) *Client {
	return &Client{conn: conn}
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// ObserveNotification registers interest in a named device-side
// notification; matching events arrive asynchronously via WaitForNotification.
func (c *Client) ObserveNotification(name string) error {
	req := plist.NewDict()
	req.Set("Command", plist.String("ObserveNotification"))
	req.Set("Name", plist.String(name))
	if err := c.conn.SendPlist(req); err != nil {
		return fmt.Errorf("notificationproxy: observe %s: %w", name, err)
	}
	return nil
}

// PostNotification asks the device to post a named notification to its
// own observers.
func (c *Client) PostNotification(name string) error {
	req := plist.NewDict()
	req.Set("Command", plist.String("PostNotification"))
	req.Set("Name", plist.String(name))
	if err := c.conn.SendPlist(req); err != nil {
		return fmt.Errorf("notificationproxy: post %s: %w", name, err)
	}
	return nil
}

// WaitForNotification blocks for the next observed notification name.
func (c *Client) WaitForNotification(timeout time.Duration) (string, error) {
	reply, err := c.conn.Receive(timeout)
	if err != nil {
		return "", fmt.Errorf("notificationproxy: wait: %w", err)
	}
	name, _ := reply.Get("Name")
	return name.String, nil
}
