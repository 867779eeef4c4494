// Package syslog wraps the com.apple.syslog_relay lockdown service,
// streaming the device's unified log as NUL-delimited lines.
package syslog

import (
	"bufio"
	"fmt"

	"github.com/appium/go-ios-remotexpc/internal/lockdown"
)

const ServiceName = "com.apple.syslog_relay"

// Client streams lines from an already-started syslog_relay connection.
type Client struct {
	conn   *lockdown.ServiceConnection
	reader *bufio.Reader
}

// New wraps an already-started service connection. syslog_relay has no
// request framing of its own: once the stream opens, the device writes
// log lines continuously.
func New(conn *lockdown.ServiceConnection) *Client {
	return &Client{conn: conn, reader: bufio.NewReader(conn.Raw())}
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// ReadLine blocks for the next complete log line, stripping its trailing
// NUL delimiter.
func (c *Client) ReadLine() (string, error) {
	line, err := c.reader.ReadString(0x00)
	if err != nil {
		return "", fmt.Errorf("syslog: read line: %w", err)
	}
	if n := len(line); n > 0 && line[n-1] == 0x00 {
		line = line[:n-1]
	}
	return line, nil
}

// Stream calls fn for every line read until the connection closes or fn
// returns false.
func (c *Client) Stream(fn func(line string) bool) error {
	for {
		line, err := c.ReadLine()
		if err != nil {
			return err
		}
		if !fn(line) {
			return nil
		}
	}
}
