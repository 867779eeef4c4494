// Package lockdown implements the lockdown service dispatcher: resolving a
// service name against the RSD catalog, opening its dedicated TCP stream,
// and wrapping it in plist framing (spec.md §4.8).
package lockdown

import (
	"context"
	"fmt"
	"net"

	"github.com/appium/go-ios-remotexpc/internal/plist"
)

// Catalog maps a service name to the TCP port RSD advertised for it
// (populated from C11's parsed Services map).
type Catalog map[string]string

// Dialer opens the TCP stream a ServiceConnection runs over; it exists so
// tests can substitute an in-memory pipe instead of a real socket.
type Dialer func(ctx context.Context, address, port string) (net.Conn, error)

// DefaultDialer dials (address, port) over plain TCP.
func DefaultDialer(ctx context.Context, address, port string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", net.JoinHostPort(address, port))
}

// StartService opens a dedicated stream to the named service and completes
// its lockdown StartService handshake (spec.md §4.8 steps 2-4).
func StartService(ctx context.Context, dial Dialer, rsdAddress string, catalog Catalog, name string) (*ServiceConnection, error) {
	port, ok := catalog[name]
	if !ok {
		return nil, &ErrServiceNotFound{Name: name}
	}

	nc, err := dial(ctx, rsdAddress, port)
	if err != nil {
		return nil, fmt.Errorf("lockdown: dial %s (%s:%s): %w", name, rsdAddress, port, err)
	}

	sc := newServiceConnection(nc)

	ack, _, err := plist.ReadFramed(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("lockdown: read StartService ack: %w", err)
	}
	if errVal, ok := ack.Get("Error"); ok {
		nc.Close()
		desc := ""
		if d, ok := ack.Get("ErrorDescription"); ok {
			desc = d.String
		}
		return nil, &ErrServiceStartFailed{Code: errVal.String, Description: desc}
	}

	return sc, nil
}
