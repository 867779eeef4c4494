// Package device holds the descriptor type shared across discovery,
// pairing, and tunnel packages: everything callers need to know about one
// physical device regardless of which transport it was found over.
package device

import "strconv"

// Transport identifies how a Device was reached.
type Transport string

const (
	TransportUSB     Transport = "usb"
	TransportBonjour Transport = "bonjour"
)

// Device is the minimal addressable handle to a physical device: its
// stable identity plus whatever's needed to dial it over one transport.
type Device struct {
	UDID      string
	Name      string
	Transport Transport

	// USB fields, set when Transport == TransportUSB.
	USBDeviceID int64
	ProductID   int64

	// Bonjour fields, set when Transport == TransportBonjour.
	BonjourInstance string
	Addr            string
	Port            int
}

// String returns a short human-readable identifier, preferring the UDID
// and falling back to the advertised name.
func (d Device) String() string {
	if d.UDID != "" {
		return d.UDID
	}
	return d.Name
}

// ID returns the transport-specific identifier distinct from the UDID:
// usbmuxd's per-attach numeric device id over USB, or the advertised
// Bonjour instance name. This is spec.md's device descriptor "deviceId",
// kept separate from "udid" since the same UDID can reattach with a
// different usbmuxd-assigned id across sessions.
func (d Device) ID() string {
	if d.Transport == TransportUSB {
		return strconv.FormatInt(d.USBDeviceID, 10)
	}
	return d.BonjourInstance
}
