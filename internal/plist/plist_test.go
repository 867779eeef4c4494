package plist_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/appium/go-ios-remotexpc/internal/plist"
	"github.com/stretchr/testify/require"
)

func sampleDict() plist.Value {
	d := plist.NewDict()
	d.Set("A", plist.Int(1))
	d.Set("Name", plist.String("syslog relay"))
	d.Set("Enabled", plist.Bool(true))
	d.Set("Ratio", plist.Real(3.5))
	d.Set("Blob", plist.Data([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
	d.Set("When", plist.Date(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	d.Set("Tags", plist.Array(plist.String("a"), plist.String("b")))
	return d
}

func TestParseEmit_RoundTrip(t *testing.T) {
	v := sampleDict()
	emitted, err := plist.EmitXML(v)
	require.NoError(t, err)

	parsed, warnings, err := plist.ParseXML(emitted)
	require.NoError(t, err)
	require.Empty(t, warnings)

	for _, key := range []string{"A", "Name", "Enabled", "Ratio", "Blob", "Tags"} {
		want, _ := v.Get(key)
		got, ok := parsed.Get(key)
		require.True(t, ok, "missing key %s", key)
		require.Equal(t, want.Kind, got.Kind)
	}
	a, _ := parsed.Get("A")
	require.Equal(t, int64(1), a.Int)
	name, _ := parsed.Get("Name")
	require.Equal(t, "syslog relay", name.String)
	blob, _ := parsed.Get("Blob")
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, blob.Data)
}

func TestParseXML_RecoversLeadingGarbage(t *testing.T) {
	input := []byte("\x00\x00garbage<?xml version=\"1.0\"?><plist><dict><key>A</key><integer>1</integer></dict></plist>")
	v, warnings, err := plist.ParseXML(input)
	require.NoError(t, err)
	require.NotEmpty(t, warnings)

	a, ok := v.Get("A")
	require.True(t, ok)
	require.Equal(t, int64(1), a.Int)
}

func TestParseXML_CollapsesDuplicateDeclarations(t *testing.T) {
	input := []byte(`<?xml version="1.0"?><?xml version="1.0"?><plist><dict><key>A</key><integer>2</integer></dict></plist>`)
	v, _, err := plist.ParseXML(input)
	require.NoError(t, err)
	a, ok := v.Get("A")
	require.True(t, ok)
	require.Equal(t, int64(2), a.Int)
}

func TestIsBinary(t *testing.T) {
	require.True(t, plist.IsBinary([]byte("bplist00")))
	require.True(t, plist.IsBinary([]byte("Ibplist00")))
	require.False(t, plist.IsBinary([]byte("<?xml version")))
}

func TestFramed_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	v := sampleDict()
	require.NoError(t, plist.WriteFramed(&buf, v))

	parsed, _, err := plist.ReadFramed(&buf)
	require.NoError(t, err)
	a, ok := parsed.Get("A")
	require.True(t, ok)
	require.Equal(t, int64(1), a.Int)
}

func TestEmitXML_EscapesSpecialCharacters(t *testing.T) {
	d := plist.NewDict()
	d.Set("Key", plist.String(`<tag> & "quoted" 'apos'`))
	out, err := plist.EmitXML(d)
	require.NoError(t, err)
	require.Contains(t, string(out), "&lt;tag&gt; &amp; &quot;quoted&quot; &apos;apos&apos;")
}

func TestParseEmit_RoundTrip_PreservesDictOrder(t *testing.T) {
	d := plist.NewDict()
	d.Set("Zeta", plist.Int(1))
	d.Set("Alpha", plist.Int(2))
	d.Set("Middle", plist.String("m"))

	emitted, err := plist.EmitXML(d)
	require.NoError(t, err)

	parsed, warnings, err := plist.ParseXML(emitted)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, []string{"Zeta", "Alpha", "Middle"}, parsed.DictOrder)

	reEmitted, err := plist.EmitXML(parsed)
	require.NoError(t, err)
	require.Equal(t, emitted, reEmitted)
}

func TestEmitXML_PreservesInsertionOrder(t *testing.T) {
	d := plist.NewDict()
	d.Set("Zeta", plist.Int(1))
	d.Set("Alpha", plist.Int(2))
	out, err := plist.EmitXML(d)
	require.NoError(t, err)
	zetaIdx := bytes.Index(out, []byte("<key>Zeta</key>"))
	alphaIdx := bytes.Index(out, []byte("<key>Alpha</key>"))
	require.Less(t, zetaIdx, alphaIdx)
}
