// Package instruments wraps the DVT Secure Socket Proxy / instruments
// service exposed over RSD: unlike the other lockdown services, DVT speaks
// XPC framing directly on its dedicated stream rather than lockdown's
// plist request/response protocol, so this package dials and handshakes
// it independently of internal/lockdown (spec.md §4.10).
package instruments

import (
	"context"
	"fmt"
	"net"

	"github.com/appium/go-ios-remotexpc/internal/dtx"
	"github.com/appium/go-ios-remotexpc/internal/rsd"
	"github.com/appium/go-ios-remotexpc/internal/xpc"
)

// ServiceName is the RSD catalog entry for the DVT Secure Socket Proxy.
const ServiceName = "com.apple.instruments.dtxproxy"

// RootChannel is the always-open channel instruments messages are
// exchanged on before a named channel is requested.
const RootChannel = 0

// Client is an established DVT session: an XPC connection carrying
// multiplexed DTX channels.
type Client struct {
	xconn *xpc.Conn
	mux   *dtx.Multiplexer
}

// Dial opens and XPC-handshakes a direct connection to the instruments
// service advertised in catalog, then starts its DTX multiplexer.
func Dial(ctx context.Context, dialer func(ctx context.Context, network, address string) (net.Conn, error), rsdAddress string, catalog *rsd.Catalog) (*Client, error) {
	svc, ok := catalog.Lookup(ServiceName)
	if !ok {
		return nil, fmt.Errorf("instruments: %s not present in RSD catalog", ServiceName)
	}

	nc, err := dialer(ctx, "tcp", net.JoinHostPort(rsdAddress, svc.Port))
	if err != nil {
		return nil, fmt.Errorf("instruments: dial: %w", err)
	}

	xconn, err := xpc.Handshake(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("instruments: handshake: %w", err)
	}

	return &Client{xconn: xconn, mux: dtx.NewMultiplexer(xconn)}, nil
}

// Close tears down the underlying XPC connection.
func (c *Client) Close() error { return c.xconn.Close() }

// OpenChannel subscribes to DTX messages on channelID, returning a
// delivery channel of decoded payloads.
func (c *Client) OpenChannel(channelID uint32) <-chan dtx.Message {
	return c.mux.OpenChannel(channelID)
}

// CloseChannel unsubscribes channelID.
func (c *Client) CloseChannel(channelID uint32) {
	c.mux.CloseChannel(channelID)
}

// Dispatch decodes one raw DATA frame payload and routes it to its
// channel's subscriber, if any. Callers pump frames read off the
// underlying stream through this to drive the multiplexer.
func (c *Client) Dispatch(streamID uint32, raw []byte) error {
	return c.mux.Dispatch(streamID, raw)
}
