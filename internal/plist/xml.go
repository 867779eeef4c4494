package plist

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	applist "howett.net/plist"
)

// ErrParse wraps a plist structural failure the recovery pass could not fix.
var ErrParse = errors.New("plist: parse error")

// replacementChar is the UTF-8 encoding of U+FFFD.
var replacementChar = []byte{0xEF, 0xBF, 0xBD}

// Warning describes a non-fatal recovery the parser performed.
type Warning struct {
	Message string
}

// IsBinary reports whether data begins with a binary plist marker
// ("bplist", optionally prefixed with "I") within its first nine bytes
// (spec.md §4.9).
func IsBinary(data []byte) bool {
	head := data
	if len(head) > 9 {
		head = head[:9]
	}
	return bytes.Contains(head, []byte("bplist"))
}

// recover applies the best-effort cleanups spec.md §4.9 requires: strip
// leading garbage up to the first '<' or "bplist" marker, collapse repeated
// XML declarations to the first, and drop U+FFFD replacement runs.
func recover(data []byte) ([]byte, []Warning) {
	var warnings []Warning

	if idx := bytes.Index(data, []byte("bplist")); idx > 0 && idx < 9 {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("stripped %d leading bytes before binary plist marker", idx)})
		return data[idx:], warnings
	}
	if IsBinary(data) {
		return data, warnings
	}

	if idx := bytes.IndexByte(data, '<'); idx > 0 {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("stripped %d leading garbage bytes before XML", idx)})
		data = data[idx:]
	}

	data, collapsed := collapseXMLDeclarations(data)
	if collapsed {
		warnings = append(warnings, Warning{Message: "collapsed duplicate XML declarations"})
	}

	if bytes.Contains(data, replacementChar) {
		data = bytes.ReplaceAll(data, replacementChar, nil)
		warnings = append(warnings, Warning{Message: "dropped U+FFFD replacement runs"})
	}

	return data, warnings
}

// collapseXMLDeclarations keeps only the first "<?xml ... ?>" declaration,
// removing any later ones that precede the root element.
func collapseXMLDeclarations(data []byte) ([]byte, bool) {
	const decl = "<?xml"
	first := bytes.Index(data, []byte(decl))
	if first < 0 {
		return data, false
	}
	firstEnd := bytes.Index(data[first:], []byte("?>"))
	if firstEnd < 0 {
		return data, false
	}
	firstEnd += first + len("?>")

	rest := data[firstEnd:]
	collapsed := false
	for {
		next := bytes.Index(rest, []byte(decl))
		if next < 0 {
			break
		}
		nextEnd := bytes.Index(rest[next:], []byte("?>"))
		if nextEnd < 0 {
			break
		}
		nextEnd += next + len("?>")
		rest = append(rest[:next], rest[nextEnd:]...)
		collapsed = true
	}
	if !collapsed {
		return data, false
	}
	out := make([]byte, 0, firstEnd+len(rest))
	out = append(out, data[:firstEnd]...)
	out = append(out, rest...)
	return out, true
}

// ParseXML parses an XML (or binary) plist, applying the recovery pass on
// the first attempt failure. Recovered warnings are logged at debug level
// and also returned for callers that want to surface them.
//
// Binary plists are decoded through howett.net/plist, whose
// map[string]interface{} result cannot preserve dict key order. XML plists
// are decoded with decodeXMLValue instead, which walks the element tree
// directly so DictOrder round-trips through EmitXML/ParseXML.
func ParseXML(data []byte) (Value, []Warning, error) {
	if IsBinary(data) {
		var native interface{}
		if err := applist.Unmarshal(data, &native); err != nil {
			return Value{}, nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return fromNative(native), nil, nil
	}

	if v, err := decodeXMLValue(data); err == nil {
		return v, nil, nil
	}

	cleaned, warnings := recover(data)
	if IsBinary(cleaned) {
		var native interface{}
		if err := applist.Unmarshal(cleaned, &native); err != nil {
			return Value{}, warnings, fmt.Errorf("%w: %v", ErrParse, err)
		}
		for _, w := range warnings {
			slog.Debug("plist: recovered parse", "detail", w.Message)
		}
		return fromNative(native), warnings, nil
	}

	v, err := decodeXMLValue(cleaned)
	if err != nil {
		return Value{}, warnings, fmt.Errorf("%w: %v", ErrParse, err)
	}
	for _, w := range warnings {
		slog.Debug("plist: recovered parse", "detail", w.Message)
	}
	return v, warnings, nil
}

// EmitXML serializes v as an XML plist with stable key order (insertion
// order for dicts) and no line wrapping on base64 data (spec.md §4.9
// "Emission"). howett.net/plist's own Marshal sorts map keys lexically, so
// emission is hand-written here to honor DictOrder. The library's
// Unmarshal is used only by ParseXML for binary plists.
func EmitXML(v Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n")
	buf.WriteString(`<plist version="1.0">` + "\n")
	if err := writeValue(&buf, v, 0); err != nil {
		return nil, fmt.Errorf("plist: emit: %w", err)
	}
	buf.WriteString("\n</plist>\n")
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v Value, depth int) error {
	indent := bytes.Repeat([]byte("\t"), depth)
	buf.Write(indent)
	switch v.Kind {
	case KindNull:
		// plist has no native null; encode as an empty string, matching
		// the recognized element types in spec.md §4.9.
		buf.WriteString("<string></string>")
	case KindBool:
		if v.Bool {
			buf.WriteString("<true/>")
		} else {
			buf.WriteString("<false/>")
		}
	case KindInt:
		fmt.Fprintf(buf, "<integer>%d</integer>", v.Int)
	case KindReal:
		fmt.Fprintf(buf, "<real>%s</real>", formatReal(v.Real))
	case KindString:
		fmt.Fprintf(buf, "<string>%s</string>", escapeXML(v.String))
	case KindData:
		fmt.Fprintf(buf, "<data>%s</data>", base64Encode(v.Data))
	case KindDate:
		fmt.Fprintf(buf, "<date>%s</date>", v.Date.UTC().Format("2006-01-02T15:04:05Z"))
	case KindArray:
		if len(v.Array) == 0 {
			buf.WriteString("<array/>")
			return nil
		}
		buf.WriteString("<array>\n")
		for _, item := range v.Array {
			if err := writeValue(buf, item, depth+1); err != nil {
				return err
			}
			buf.WriteString("\n")
		}
		buf.Write(indent)
		buf.WriteString("</array>")
	case KindDict:
		keys := v.DictOrder
		if len(keys) == 0 && len(v.Dict) > 0 {
			for k := range v.Dict {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			buf.WriteString("<dict/>")
			return nil
		}
		buf.WriteString("<dict>\n")
		childIndent := bytes.Repeat([]byte("\t"), depth+1)
		for _, k := range keys {
			buf.Write(childIndent)
			fmt.Fprintf(buf, "<key>%s</key>\n", escapeXML(k))
			if err := writeValue(buf, v.Dict[k], depth+1); err != nil {
				return err
			}
			buf.WriteString("\n")
		}
		buf.Write(indent)
		buf.WriteString("</dict>")
	default:
		return fmt.Errorf("plist: unsupported value kind %d", v.Kind)
	}
	return nil
}
