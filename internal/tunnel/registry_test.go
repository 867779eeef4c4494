package tunnel_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/tunnel"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LoadMissingIsEmpty(t *testing.T) {
	r := tunnel.NewRegistry(filepath.Join(t.TempDir(), "tunnel-registry.json"))
	entries, err := r.Load()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRegistry_UpdatePreservesCreatedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunnel-registry.json")
	r := tunnel.NewRegistry(path)

	require.NoError(t, r.Update(map[string]tunnel.RegistryEntry{
		"udid-1": {Address: "fd00::1", RsdPort: 1234},
	}))
	entries, err := r.Load()
	require.NoError(t, err)
	firstCreated := entries["udid-1"].CreatedAt
	require.False(t, firstCreated.IsZero())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.Update(map[string]tunnel.RegistryEntry{
		"udid-1": {Address: "fd00::2", RsdPort: 5678},
	}))
	entries, err = r.Load()
	require.NoError(t, err)
	require.Equal(t, "fd00::2", entries["udid-1"].Address)
	require.Equal(t, firstCreated, entries["udid-1"].CreatedAt)
}

func TestRegistry_UpdateStampsFullEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunnel-registry.json")
	r := tunnel.NewRegistry(path)

	require.NoError(t, r.Update(map[string]tunnel.RegistryEntry{
		"udid-1": {
			DeviceId:       "udid-1",
			Address:        "fd00::1",
			RsdPort:        1234,
			ConnectionType: "usb",
			ProductId:      4776,
		},
	}))
	entries, err := r.Load()
	require.NoError(t, err)

	e := entries["udid-1"]
	require.Equal(t, "udid-1", e.DeviceId)
	require.Equal(t, "usb", e.ConnectionType)
	require.EqualValues(t, 4776, e.ProductId)
	require.False(t, e.LastUpdated.IsZero())
}

func TestRegistry_ClearResetsToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunnel-registry.json")
	r := tunnel.NewRegistry(path)
	require.NoError(t, r.Update(map[string]tunnel.RegistryEntry{"udid-1": {Address: "fd00::1", RsdPort: 1}}))
	require.NoError(t, r.Clear())

	entries, err := r.Load()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRegistry_MalformedFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunnel-registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	r := tunnel.NewRegistry(path)
	entries, err := r.Load()
	require.NoError(t, err)
	require.Empty(t, entries)
}
