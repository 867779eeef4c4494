package dtx_test

import (
	"testing"

	"github.com/appium/go-ios-remotexpc/internal/dtx"
	"github.com/appium/go-ios-remotexpc/internal/plist"
	"github.com/stretchr/testify/require"
)

func uidRef(idx int64) plist.Value {
	d := plist.NewDict()
	d.Set("CF$UID", plist.Int(idx))
	return d
}

func TestDecodeArchive_PlainDict(t *testing.T) {
	objects := plist.Array(
		plist.String("$null"),
		func() plist.Value {
			d := plist.NewDict()
			d.Set("$class", uidRef(2))
			d.Set("name", plist.String("instruments"))
			d.Set("version", plist.Int(19))
			return d
		}(),
		plist.NewDict(),
	)

	archive := plist.NewDict()
	archive.Set("$archiver", plist.String("NSKeyedArchiver"))
	top := plist.NewDict()
	top.Set("root", uidRef(1))
	archive.Set("$top", top)
	archive.Set("$objects", objects)

	decoded, err := dtx.DecodeArchive(archive)
	require.NoError(t, err)
	m, ok := decoded.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "instruments", m["name"])
	require.Equal(t, int64(19), m["version"])
	_, hasClass := m["$class"]
	require.False(t, hasClass)
}

func TestDecodeArchive_MissingTopFallsBackToIndexOne(t *testing.T) {
	objects := plist.Array(
		plist.String("$null"),
		plist.String("fallback-root"),
	)
	archive := plist.NewDict()
	archive.Set("$objects", objects)

	decoded, err := dtx.DecodeArchive(archive)
	require.NoError(t, err)
	require.Equal(t, "fallback-root", decoded)
}

func TestDecodeArchive_CyclicReferenceDoesNotHang(t *testing.T) {
	objects := plist.Array(
		plist.String("$null"),
		uidRef(1), // index 1 points to itself
	)
	archive := plist.NewDict()
	top := plist.NewDict()
	top.Set("root", uidRef(1))
	archive.Set("$top", top)
	archive.Set("$objects", objects)

	decoded, err := dtx.DecodeArchive(archive)
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestDecodeArchive_KeyedCollection(t *testing.T) {
	keys := plist.Array(plist.String("a"), plist.String("b"))
	values := plist.Array(plist.Int(1), plist.Int(2))
	coll := plist.NewDict()
	coll.Set("NS.keys", keys)
	coll.Set("NS.objects", values)

	objects := plist.Array(plist.String("$null"), coll)
	archive := plist.NewDict()
	top := plist.NewDict()
	top.Set("root", uidRef(1))
	archive.Set("$top", top)
	archive.Set("$objects", objects)

	decoded, err := dtx.DecodeArchive(archive)
	require.NoError(t, err)
	m, ok := decoded.(map[string]any)
	require.True(t, ok)
	require.Equal(t, int64(1), m["a"])
	require.Equal(t, int64(2), m["b"])
}
