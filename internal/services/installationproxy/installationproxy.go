// Package installationproxy wraps the com.apple.mobile.installation_proxy
// lockdown service: listing, installing, and uninstalling applications.
package installationproxy

import (
	"fmt"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/plist"
)

const ServiceName = "com.apple.mobile.installation_proxy"

// AppInfo is one entry of a Browse reply.
type AppInfo struct {
	BundleID        string
	CFBundleVersion string
	Raw             map[string]plist.Value
}

// Client wraps a started installation_proxy connection.
type Client struct {
	conn *lockdown.ServiceConnection
}

// New wraps an already-started service connection.
func New(conn *lockdown.ServiceConnection) *Client {
	return &Client{conn: conn}
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Browse lists installed applications, optionally filtered to the given
// application types ("User", "System"); an empty slice requests all.
func (c *Client) Browse(appTypes []string, timeout time.Duration) ([]AppInfo, error) {
	req := plist.NewDict()
	req.Set("Command", plist.String("Browse"))
	if len(appTypes) > 0 {
		opts := plist.NewDict()
		types := make([]plist.Value, 0, len(appTypes))
		for _, t := range appTypes {
			types = append(types, plist.String(t))
		}
		opts.Set("ApplicationType", plist.Array(types...))
		req.Set("ClientOptions", opts)
	}

	reply, err := c.conn.SendPlistRequest(req, timeout)
	if err != nil {
		return nil, fmt.Errorf("installationproxy: browse: %w", err)
	}
	if errVal, ok := reply.Get("Error"); ok {
		return nil, fmt.Errorf("installationproxy: browse failed: %s", errVal.String)
	}

	var apps []AppInfo
	for {
		if listVal, ok := reply.Get("CurrentList"); ok {
			for _, entry := range listVal.Array {
				apps = append(apps, toAppInfo(entry))
			}
		}
		status, hasStatus := reply.Get("Status")
		if !hasStatus || status.String == "Complete" {
			break
		}
		// Further chunks stream unsolicited until the final "Complete"
		// status, without the client resending the request.
		reply, err = c.conn.Receive(timeout)
		if err != nil {
			return nil, fmt.Errorf("installationproxy: browse: receive chunk: %w", err)
		}
	}
	return apps, nil
}

func toAppInfo(v plist.Value) AppInfo {
	info := AppInfo{Raw: v.Dict}
	if bid, ok := v.Get("CFBundleIdentifier"); ok {
		info.BundleID = bid.String
	}
	if ver, ok := v.Get("CFBundleVersion"); ok {
		info.CFBundleVersion = ver.String
	}
	return info
}

// Install installs the application package already staged on
// the device at packagePath (afc staging is out of scope; the caller is
// responsible for placing the package there first).
func (c *Client) Install(packagePath string, timeout time.Duration) error {
	req := plist.NewDict()
	req.Set("Command", plist.String("Install"))
	req.Set("PackagePath", plist.String(packagePath))

	reply, err := c.conn.SendPlistRequest(req, timeout)
	if err != nil {
		return fmt.Errorf("installationproxy: install: %w", err)
	}
	if errVal, ok := reply.Get("Error"); ok {
		return fmt.Errorf("installationproxy: install failed: %s", errVal.String)
	}
	return nil
}

// Uninstall removes the application identified by bundleID.
func (c *Client) Uninstall(bundleID string, timeout time.Duration) error {
	req := plist.NewDict()
	req.Set("Command", plist.String("Uninstall"))
	req.Set("ApplicationIdentifier", plist.String(bundleID))

	reply, err := c.conn.SendPlistRequest(req, timeout)
	if err != nil {
		return fmt.Errorf("installationproxy: uninstall: %w", err)
	}
	if errVal, ok := reply.Get("Error"); ok {
		return fmt.Errorf("installationproxy: uninstall failed: %s", errVal.String)
	}
	return nil
}
