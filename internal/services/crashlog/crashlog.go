// Package crashlog wraps the com.apple.crashreportmover and
// com.apple.crashreportcopymobile lockdown services: flushing pending
// crash reports into the mobile directory and listing them. Copying report
// contents off the device is not implemented.
package crashlog

import (
	"fmt"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/plist"
)

const (
	MoverServiceName = "com.apple.crashreportmover"
	CopyServiceName  = "com.apple.crashreportcopymobile"
)

// Mover wraps the crashreportmover service, which does nothing but
// signal "ping" once all pending reports have been moved.
type Mover struct {
	conn *lockdown.ServiceConnection
}

// NewMover wraps an already-started crashreportmover connection.
func NewMover(conn *lockdown.ServiceConnection) *Mover {
	return &Mover{conn: conn}
}

// Close releases the underlying connection.
func (m *Mover) Close() error { return m.conn.Close() }

// WaitUntilMoved blocks until the device signals that report moving is
// complete.
func (m *Mover) WaitUntilMoved(timeout time.Duration) error {
	reply, err := m.conn.Receive(timeout)
	if err != nil {
		return fmt.Errorf("crashlog: wait for ping: %w", err)
	}
	if reply.Kind != plist.KindString || reply.String != "ping" {
		return fmt.Errorf("crashlog: unexpected mover response")
	}
	return nil
}

// Copier wraps the crashreportcopymobile AFC-backed file listing; full
// AFC transfer is out of scope (spec.md §1 names crash-report transfer as
// a service to expose, not an AFC reimplementation), so Copier exposes
// only directory listing over the service's plist control channel.
type Copier struct {
	conn *lockdown.ServiceConnection
}

// NewCopier wraps an already-started crashreportcopymobile connection.
func NewCopier(conn *lockdown.ServiceConnection) *Copier {
	return &Copier{conn: conn}
}

// Close releases the underlying connection.
func (c *Copier) Close() error { return c.conn.Close() }

// List returns the crash report file names currently on the device.
func (c *Copier) List(timeout time.Duration) ([]string, error) {
	req := plist.NewDict()
	req.Set("Command", plist.String("ListFiles"))

	reply, err := c.conn.SendPlistRequest(req, timeout)
	if err != nil {
		return nil, fmt.Errorf("crashlog: list: %w", err)
	}
	filesVal, ok := reply.Get("Files")
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(filesVal.Array))
	for _, f := range filesVal.Array {
		names = append(names, f.String)
	}
	return names, nil
}
