package pairing

import (
	"os"

	"github.com/google/uuid"
)

// HostID derives the controller identifier as uuidv5(hostname, ns=DNS),
// formatted lowercase, per spec.md §4.3 M5.
func HostID() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	return HostIDFor(hostname), nil
}

// HostIDFor computes the uuidv5 host identifier for an explicit hostname,
// exposed separately so tests can pin a deterministic value.
func HostIDFor(hostname string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(hostname)).String()
}
