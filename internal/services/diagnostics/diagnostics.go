// Package diagnostics wraps the com.apple.mobile.diagnostics_relay
// lockdown service: battery/IORegistry queries and device restart/sleep
// control.
package diagnostics

import (
	"fmt"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/plist"
)

const ServiceName = "com.apple.mobile.diagnostics_relay"

// Client wraps a started diagnostics_relay connection.
type Client struct {
	conn *lockdown.ServiceConnection
}

// New wraps an already-started service connection.
func New(conn *lockdown.ServiceConnection) *Client {
	return &Client{conn: conn}
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// IORegistry queries the named IORegistry entry class, returning its
// decoded diagnostics dict.
func (c *Client) IORegistry(entryClass string, timeout time.Duration) (map[string]plist.Value, error) {
	req := plist.NewDict()
	req.Set("Request", plist.String("IORegistry"))
	if entryClass != "" {
		req.Set("EntryClass", plist.String(entryClass))
	}

	reply, err := c.conn.SendPlistRequest(req, timeout)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: ioregistry: %w", err)
	}
	if status, ok := reply.Get("Status"); ok && status.String != "Success" {
		return nil, fmt.Errorf("diagnostics: ioregistry failed: status %s", status.String)
	}
	result, ok := reply.Get("Diagnostics")
	if !ok {
		return nil, fmt.Errorf("diagnostics: reply missing Diagnostics")
	}
	return result.Dict, nil
}

// Restart power-cycles the device; the connection is torn down by the
// device immediately afterward.
func (c *Client) Restart(timeout time.Duration) error {
	return c.simpleRequest("Restart", timeout)
}

// Shutdown powers the device off.
func (c *Client) Shutdown(timeout time.Duration) error {
	return c.simpleRequest("Shutdown", timeout)
}

// Sleep puts the device to sleep.
func (c *Client) Sleep(timeout time.Duration) error {
	return c.simpleRequest("Sleep", timeout)
}

func (c *Client) simpleRequest(request string, timeout time.Duration) error {
	req := plist.NewDict()
	req.Set("Request", plist.String(request))

	reply, err := c.conn.SendPlistRequest(req, timeout)
	if err != nil {
		return fmt.Errorf("diagnostics: %s: %w", request, err)
	}
	if status, ok := reply.Get("Status"); ok && status.String != "Success" {
		return fmt.Errorf("diagnostics: %s failed: status %s", request, status.String)
	}
	return nil
}
