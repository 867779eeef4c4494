package plist

import (
	"encoding/base64"
	"strconv"
	"strings"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// escapeXML escapes the characters spec.md §4.9 calls out: <>&"'.
func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// base64Encode renders data with no line wrapping, per spec.md §4.9.
func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func formatReal(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
