package pairing_test

import (
	"testing"

	"github.com/appium/go-ios-remotexpc/internal/pairing"
	"github.com/stretchr/testify/require"
)

func TestHostIDFor_Deterministic(t *testing.T) {
	a := pairing.HostIDFor("my-laptop")
	b := pairing.HostIDFor("my-laptop")
	require.Equal(t, a, b)
	require.NotEqual(t, a, pairing.HostIDFor("other-host"))
}
