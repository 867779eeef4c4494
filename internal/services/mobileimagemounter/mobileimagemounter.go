// Package mobileimagemounter wraps the com.apple.mobile.mobile_image_mounter
// lockdown service: checking mount status and mounting developer disk
// images (the image bytes themselves are transferred out of band over AFC,
// out of scope here per spec.md §1).
package mobileimagemounter

import (
	"fmt"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/plist"
)

const ServiceName = "com.apple.mobile.mobile_image_mounter"

// Client wraps a started mobile_image_mounter connection.
type Client struct {
	conn *lockdown.ServiceConnection
}

// New wraps an already-started service connection.
func New(conn *lockdown.ServiceConnection) *Client {
	return &Client{conn: conn}
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// LookupImage reports whether an image of imageType is already mounted,
// returning its signature if so.
func (c *Client) LookupImage(imageType string, timeout time.Duration) (signature []byte, mounted bool, err error) {
	req := plist.NewDict()
	req.Set("Command", plist.String("LookupImage"))
	req.Set("ImageType", plist.String(imageType))

	reply, rerr := c.conn.SendPlistRequest(req, timeout)
	if rerr != nil {
		return nil, false, fmt.Errorf("mobileimagemounter: lookup: %w", rerr)
	}
	sigs, ok := reply.Get("ImageSignature")
	if !ok || len(sigs.Array) == 0 {
		return nil, false, nil
	}
	return sigs.Array[0].Data, true, nil
}

// MountImage mounts the device image already transferred to imagePath,
// authenticated by signature.
func (c *Client) MountImage(imagePath string, signature []byte, imageType string, timeout time.Duration) error {
	req := plist.NewDict()
	req.Set("Command", plist.String("MountImage"))
	req.Set("ImagePath", plist.String(imagePath))
	req.Set("ImageSignature", plist.Data(signature))
	req.Set("ImageType", plist.String(imageType))

	reply, err := c.conn.SendPlistRequest(req, timeout)
	if err != nil {
		return fmt.Errorf("mobileimagemounter: mount: %w", err)
	}
	if status, ok := reply.Get("Status"); ok && status.String != "Complete" {
		return fmt.Errorf("mobileimagemounter: mount not complete: status %s", status.String)
	}
	if errVal, ok := reply.Get("Error"); ok {
		return fmt.Errorf("mobileimagemounter: mount failed: %s", errVal.String)
	}
	return nil
}
