package lockdown

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/plist"
)

// ServiceConnection is a plist-framed TCP stream to one lockdown service.
// sendPlistRequest calls are strictly serialized (spec.md §4.8 step 5,
// §5 ordering guarantees); streaming readers should use Receive directly
// and take care not to race a concurrent SendPlistRequest.
type ServiceConnection struct {
	nc net.Conn
	mu sync.Mutex
}

func newServiceConnection(nc net.Conn) *ServiceConnection {
	return &ServiceConnection{nc: nc}
}

// NewServiceConnection wraps an already-open stream as a ServiceConnection,
// for callers (service wrappers, tests) that dial or obtain the raw
// connection themselves instead of going through StartService.
func NewServiceConnection(nc net.Conn) *ServiceConnection {
	return newServiceConnection(nc)
}

// SendPlist writes v as one framed plist message.
func (c *ServiceConnection) SendPlist(v plist.Value) error {
	return plist.WriteFramed(c.nc, v)
}

// Receive reads one framed plist message, failing if none arrives before
// the deadline.
func (c *ServiceConnection) Receive(timeout time.Duration) (plist.Value, error) {
	if timeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return plist.Value{}, fmt.Errorf("lockdown: set read deadline: %w", err)
		}
		defer c.nc.SetReadDeadline(time.Time{})
	}
	v, _, err := plist.ReadFramed(c.nc)
	return v, err
}

// SendPlistRequest sends req and waits for the single paired response,
// serializing concurrent callers so requests never interleave on the wire.
func (c *ServiceConnection) SendPlistRequest(req plist.Value, timeout time.Duration) (plist.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.SendPlist(req); err != nil {
		return plist.Value{}, fmt.Errorf("lockdown: send request: %w", err)
	}
	return c.Receive(timeout)
}

// Close closes the underlying stream.
func (c *ServiceConnection) Close() error { return c.nc.Close() }

// Raw exposes the underlying stream for services (syslog_relay) whose wire
// format isn't plist-framed.
func (c *ServiceConnection) Raw() net.Conn { return c.nc }
