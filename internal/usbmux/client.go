// Package usbmux speaks the local usbmuxd protocol used to enumerate
// USB-attached devices and open a raw TCP-over-USB relay socket to one.
package usbmux

import (
	"fmt"
	"net"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/plist"
)

// DefaultSocket is usbmuxd's well-known Unix domain socket path on Linux and
// macOS.
const DefaultSocket = "/var/run/usbmuxd"

// DeviceAttached describes one entry of a usbmuxd ListDevices reply.
type DeviceAttached struct {
	DeviceID   int64
	UDID       string
	ProductID  int64
	Properties map[string]plist.Value
}

// Client is a usbmuxd control connection. Each call opens and closes its
// own socket, matching usbmuxd's one-request-per-connection protocol.
type Client struct {
	dial func() (net.Conn, error)
}

// NewClient creates a Client dialing the Unix socket at path (DefaultSocket
// if empty).
func NewClient(path string) *Client {
	if path == "" {
		path = DefaultSocket
	}
	return &Client{dial: func() (net.Conn, error) {
		return net.DialTimeout("unix", path, 2*time.Second)
	}}
}

// NewClientWithDialer builds a Client around a custom connection factory,
// used by tests to substitute a net.Pipe() in place of a real usbmuxd
// socket.
func NewClientWithDialer(dial func() (net.Conn, error)) *Client {
	return &Client{dial: dial}
}

func (c *Client) request(payload plist.Value) (plist.Value, error) {
	nc, err := c.dial()
	if err != nil {
		return plist.Value{}, fmt.Errorf("usbmux: dial: %w", err)
	}
	defer nc.Close()

	if err := plist.WriteFramed(nc, payload); err != nil {
		return plist.Value{}, fmt.Errorf("usbmux: write request: %w", err)
	}
	reply, _, err := plist.ReadFramed(nc)
	if err != nil {
		return plist.Value{}, fmt.Errorf("usbmux: read reply: %w", err)
	}
	return reply, nil
}

// ListDevices returns every device usbmuxd currently reports attached.
func (c *Client) ListDevices() ([]DeviceAttached, error) {
	req := plist.NewDict()
	req.Set("MessageType", plist.String("ListDevices"))
	req.Set("ClientVersionString", plist.String("go-ios-remotexpc"))

	reply, err := c.request(req)
	if err != nil {
		return nil, err
	}
	listVal, ok := reply.Get("DeviceList")
	if !ok {
		return nil, nil
	}

	var out []DeviceAttached
	for _, entry := range listVal.Array {
		props, ok := entry.Get("Properties")
		if !ok {
			continue
		}
		d := DeviceAttached{Properties: props.Dict}
		if v, ok := props.Get("DeviceID"); ok {
			d.DeviceID = v.Int
		}
		if v, ok := props.Get("SerialNumber"); ok {
			d.UDID = v.String
		}
		if v, ok := props.Get("ProductID"); ok {
			d.ProductID = v.Int
		}
		out = append(out, d)
	}
	return out, nil
}

// ReadBUID returns usbmuxd's host BUID, used to seed pairing requests that
// need a stable host identifier.
func (c *Client) ReadBUID() (string, error) {
	req := plist.NewDict()
	req.Set("MessageType", plist.String("ReadBUID"))

	reply, err := c.request(req)
	if err != nil {
		return "", err
	}
	v, ok := reply.Get("BUID")
	if !ok {
		return "", fmt.Errorf("usbmux: reply missing BUID")
	}
	return v.String, nil
}

// Connect asks usbmuxd to relay a raw TCP connection to deviceID:port over
// USB, returning the resulting stream on success.
func (c *Client) Connect(deviceID int64, port uint16) (net.Conn, error) {
	nc, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("usbmux: dial: %w", err)
	}

	req := plist.NewDict()
	req.Set("MessageType", plist.String("Connect"))
	req.Set("DeviceID", plist.Int(deviceID))
	req.Set("PortNumber", plist.Int(int64(htons(port))))
	if err := plist.WriteFramed(nc, req); err != nil {
		nc.Close()
		return nil, fmt.Errorf("usbmux: write connect request: %w", err)
	}

	reply, _, err := plist.ReadFramed(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("usbmux: read connect reply: %w", err)
	}
	if v, ok := reply.Get("Number"); ok && v.Int != 0 {
		nc.Close()
		return nil, fmt.Errorf("usbmux: connect failed, result %d", v.Int)
	}
	return nc, nil
}

// htons converts a port number to usbmuxd's big-endian-in-a-uint16 wire
// convention.
func htons(port uint16) uint16 {
	return (port << 8) | (port >> 8)
}
