package rsd_test

import (
	"testing"

	"github.com/appium/go-ios-remotexpc/internal/rsd"
	"github.com/appium/go-ios-remotexpc/internal/xpc"
	"github.com/stretchr/testify/require"
)

func TestCatalog_LookupAndPorts(t *testing.T) {
	services := map[string]xpc.ServiceEntry{
		"com.apple.mobile.lockdown": {Port: "62078"},
		"com.apple.syslog_relay":    {Port: "62079"},
	}
	cat, err := rsd.NewCatalog(services)
	require.NoError(t, err)
	defer cat.Close()

	svc, ok := cat.Lookup("com.apple.mobile.lockdown")
	require.True(t, ok)
	require.Equal(t, "62078", svc.Port)

	_, ok = cat.Lookup("com.apple.missing")
	require.False(t, ok)

	ports := cat.Ports([]string{"com.apple.mobile.lockdown", "com.apple.missing"})
	require.Equal(t, map[string]string{"com.apple.mobile.lockdown": "62078"}, ports)
}
