// Package remotexpc is the public facade over the RemoteXPC client: pairing
// with a device, bringing up a CoreDeviceProxy tunnel, and opening lockdown
// services against it.
package remotexpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
	"github.com/appium/go-ios-remotexpc/internal/pairing"
	"github.com/appium/go-ios-remotexpc/internal/rppairing"
	"github.com/appium/go-ios-remotexpc/internal/rsd"
	"github.com/appium/go-ios-remotexpc/internal/tunnel"
	"github.com/appium/go-ios-remotexpc/internal/xpc"
)

// PairWithDevice runs Pair-Setup (prompting for a PIN via prompt) followed
// by Pair-Verify over conn, storing the resulting long-term identity in
// store under identifier. It returns the derived session keys from
// Pair-Verify, which callers are not required to use directly — the tunnel
// layer re-derives its own keys during CoreDeviceProxy bring-up — but which
// are useful for diagnostics and tests.
func PairWithDevice(ctx context.Context, conn net.Conn, identifier string, prompt pairing.PINPrompter, store pairing.Store) (pairing.SessionKeys, error) {
	rp := rppairing.NewConn(conn)

	opts := pairing.SetupOptions{
		Identifier: identifier,
		PIN:        prompt,
		Store:      store,
	}
	if _, err := pairing.PairSetup(ctx, rp, opts); err != nil {
		return pairing.SessionKeys{}, fmt.Errorf("remotexpc: pair-setup: %w", err)
	}

	rec, err := store.Load(identifier)
	if err != nil {
		return pairing.SessionKeys{}, fmt.Errorf("remotexpc: load pair record: %w", err)
	}

	hostId, err := pairing.HostID()
	if err != nil {
		return pairing.SessionKeys{}, fmt.Errorf("remotexpc: resolve host id: %w", err)
	}

	keys, err := pairing.PairVerify(rp, hostId, rec)
	if err != nil {
		return pairing.SessionKeys{}, fmt.Errorf("remotexpc: pair-verify: %w", err)
	}
	return keys, nil
}

// Session is a live, tunneled RemoteXPC connection to one paired device:
// the CoreDeviceProxy address/port plus the RSD service catalog resolved
// from it.
type Session struct {
	Address string
	// RsdPort is the tunnel-level Remote Service Discovery listener port
	// negotiated by tunnel.Acquire — not a per-service port — so a caller
	// persisting reconnect state (e.g. a tunnel registry) can redo the XPC
	// handshake against (Address, RsdPort) without resolving a service.
	RsdPort int
	Catalog lockdown.Catalog

	// tunnelConn is the TLS-upgraded carrier connection for the tunnel's
	// virtual network interface; it must stay open for the lifetime of
	// the session even though RSD/lockdown traffic dials fresh
	// connections to (Address, rsdPort) over it.
	tunnelConn net.Conn
	rsd        *rsd.Catalog
	dialer     lockdown.Dialer
}

// CreateTunnel TLS-upgrades plain, negotiates tunnel parameters through
// oracle, performs the XPC handshake against the resulting address, and
// parses its RSD service catalog (spec.md §4.6-§4.7).
func CreateTunnel(ctx context.Context, plain net.Conn, tlsCfg tunnel.TLSConfig, oracle tunnel.ManagerOracle, dial lockdown.Dialer) (*Session, error) {
	desc, tlsConn, err := tunnel.Acquire(ctx, plain, tlsCfg, oracle)
	if err != nil {
		return nil, fmt.Errorf("remotexpc: acquire tunnel: %w", err)
	}

	xconn, err := dialAndHandshake(ctx, dial, desc.Address, desc.RsdPort)
	if err != nil {
		tlsConn.Close()
		return nil, err
	}

	catalog, err := rsd.NewCatalog(xconn.Services)
	if err != nil {
		return nil, fmt.Errorf("remotexpc: build rsd catalog: %w", err)
	}

	portsByName := make(lockdown.Catalog, len(xconn.Services))
	for name, entry := range xconn.Services {
		portsByName[name] = entry.Port
	}

	if dial == nil {
		dial = lockdown.DefaultDialer
	}
	return &Session{Address: desc.Address, RsdPort: desc.RsdPort, Catalog: portsByName, tunnelConn: tlsConn, rsd: catalog, dialer: dial}, nil
}

func dialAndHandshake(ctx context.Context, dial lockdown.Dialer, address string, rsdPort int) (*xpc.Conn, error) {
	if dial == nil {
		dial = lockdown.DefaultDialer
	}
	nc, err := dial(ctx, address, fmt.Sprintf("%d", rsdPort))
	if err != nil {
		return nil, fmt.Errorf("remotexpc: dial rsd port: %w", err)
	}
	xconn, err := xpc.Handshake(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("remotexpc: rsd handshake: %w", err)
	}
	return xconn, nil
}

// OpenService starts the named lockdown service against this session's
// tunnel, returning a ready ServiceConnection.
func (s *Session) OpenService(ctx context.Context, name string) (*lockdown.ServiceConnection, error) {
	return lockdown.StartService(ctx, s.dialer, s.Address, s.Catalog, name)
}

// ServicePort returns the RSD-advertised port for name, if known.
func (s *Session) ServicePort(name string) (string, bool) {
	port, ok := s.rsd.Lookup(name)
	return port.Port, ok
}

// Close releases the RSD catalog cache and tears down the tunnel carrier
// connection.
func (s *Session) Close() {
	s.rsd.Close()
	s.tunnelConn.Close()
}

// DefaultPairTimeout bounds an end-to-end PairWithDevice call for cmd/
// entry points that don't want to thread their own deadline through.
const DefaultPairTimeout = 2 * time.Minute
