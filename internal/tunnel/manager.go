// Package tunnel brings up a CoreDeviceProxy TLS tunnel and tracks the
// resulting {address, rsdPort} descriptors in a cross-process registry
// (spec.md §4.7, §4.11).
package tunnel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
)

// Descriptor is the opaque result of a successful tunnel negotiation
// (spec.md §4.7 step 3).
type Descriptor struct {
	Address string
	RsdPort int
}

// ManagerOracle performs the proprietary post-TLS negotiation that yields a
// tunnel Descriptor. It is modeled as a capability interface because the
// negotiation itself is out of scope for this core (spec.md §4.7 step 3,
// §9).
type ManagerOracle interface {
	Negotiate(ctx context.Context, conn net.Conn) (Descriptor, error)
}

// FakeManagerOracle returns a fixed Descriptor without touching conn, for
// tests that only need the surrounding plumbing exercised.
type FakeManagerOracle struct {
	Descriptor Descriptor
	Err        error
}

func (f FakeManagerOracle) Negotiate(ctx context.Context, conn net.Conn) (Descriptor, error) {
	return f.Descriptor, f.Err
}

// ExternalManagerOracle shells the negotiation out to a helper function
// supplied by the caller — typically a cgo or subprocess bridge into
// Apple's own CoreDeviceProxy negotiation logic, which this core does not
// reimplement (spec.md §4.7 step 3: "out of scope internally").
type ExternalManagerOracle struct {
	Negotiator func(ctx context.Context, conn net.Conn) (Descriptor, error)
}

func (e ExternalManagerOracle) Negotiate(ctx context.Context, conn net.Conn) (Descriptor, error) {
	if e.Negotiator == nil {
		return Descriptor{}, fmt.Errorf("tunnel: no negotiator configured")
	}
	return e.Negotiator(ctx, conn)
}

// TLSConfig configures the upgrade in step 2 of tunnel acquisition. Per
// spec.md §4.7, the device's CoreDeviceProxy certificate is self-signed and
// not meant to be validated against a public trust root; callers may supply
// TrustedCAs for pinned verification instead of disabling it outright.
type TLSConfig struct {
	InsecureSkipVerify bool
	TrustedCAs         *x509.CertPool
}

// Acquire runs spec.md §4.7: upgrades an already-open lockdown-dispatched
// CoreDeviceProxy socket to TLS, then delegates to oracle for the
// proprietary tunnel negotiation.
func Acquire(ctx context.Context, plain net.Conn, cfg TLSConfig, oracle ManagerOracle) (Descriptor, net.Conn, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		RootCAs:            cfg.TrustedCAs,
	}
	tlsConn := tls.Client(plain, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return Descriptor{}, nil, fmt.Errorf("tunnel: tls handshake: %w", err)
	}

	desc, err := oracle.Negotiate(ctx, tlsConn)
	if err != nil {
		tlsConn.Close()
		return Descriptor{}, nil, fmt.Errorf("tunnel: negotiate: %w", err)
	}
	return desc, tlsConn, nil
}
