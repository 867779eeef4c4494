package device

import "testing"

func TestDevice_String_PrefersUDID(t *testing.T) {
	d := Device{UDID: "00008030-TESTUDID", Name: "iPhone"}
	if got := d.String(); got != "00008030-TESTUDID" {
		t.Fatalf("String() = %q, want UDID", got)
	}

	d = Device{Name: "iPhone"}
	if got := d.String(); got != "iPhone" {
		t.Fatalf("String() = %q, want Name fallback", got)
	}
}

func TestDevice_ID_USBUsesNumericDeviceID(t *testing.T) {
	d := Device{UDID: "00008030-TESTUDID", Transport: TransportUSB, USBDeviceID: 42}
	if got, want := d.ID(), "42"; got != want {
		t.Fatalf("ID() = %q, want %q", got, want)
	}
}

func TestDevice_ID_BonjourUsesInstanceName(t *testing.T) {
	d := Device{UDID: "00008030-TESTUDID", Transport: TransportBonjour, BonjourInstance: "Johns-iPhone._remotexpc._tcp.local."}
	if got, want := d.ID(), "Johns-iPhone._remotexpc._tcp.local."; got != want {
		t.Fatalf("ID() = %q, want %q", got, want)
	}
}
