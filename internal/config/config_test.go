package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Save())
	return path
}

func TestLoad_RoundTrip(t *testing.T) {
	path := writeTempConfig(t)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DiscoveryUSBMux, cfg.Mode())
	require.NotEmpty(t, cfg.PairRecordsDir())
}

func TestSave_NotifiesChanged(t *testing.T) {
	path := writeTempConfig(t)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, cfg.Save())
	select {
	case <-cfg.Changed():
	default:
		t.Fatalf("expected a changed notification after Save")
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoad_MalformedJSONErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not-json"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
