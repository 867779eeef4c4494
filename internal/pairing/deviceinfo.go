package pairing

import "fmt"

// DeviceInfoEncoder produces the bytes carried in the TLV type 0x11
// "DEVICE_INFO" item of Pair-Setup M5 (spec.md §4.3, §6). The exact layout
// is implied rather than specified by the protocol; spec.md §9 open
// question 3 calls for it to be injectable so it can be pinned in tests
// rather than hard-coded into the state machine.
type DeviceInfoEncoder func(hostId string) []byte

// DefaultDeviceInfoEncoder renders a small UTF-8 blob naming the host
// identifier and a fixed platform string, matching the shape
// implementations of this protocol are observed to send.
func DefaultDeviceInfoEncoder(hostId string) []byte {
	return []byte(fmt.Sprintf("model=go-ios-remotexpc,hostId=%s,platform=go", hostId))
}
