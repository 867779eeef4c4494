package plist

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// toNative converts a Value into the plain Go value howett.net/plist expects
// for marshaling (map[string]interface{}, []interface{}, string, int64,
// float64, bool, []byte, time.Time).
func toNative(v Value) interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindReal:
		return v.Real
	case KindString:
		return v.String
	case KindData:
		return v.Data
	case KindDate:
		return v.Date
	case KindArray:
		out := make([]interface{}, len(v.Array))
		for i, item := range v.Array {
			out[i] = toNative(item)
		}
		return out
	case KindDict:
		out := make(map[string]interface{}, len(v.Dict))
		for k, item := range v.Dict {
			out[k] = toNative(item)
		}
		return out
	default:
		return nil
	}
}

// fromNative converts a decoded howett.net/plist tree back into a Value.
// howett.net/plist hands back dicts as plain map[string]interface{}, so Go's
// randomized map iteration means DictOrder cannot be recovered here; this
// path is used only for binary plists (ParseXML decodes XML input itself,
// below, to preserve key order).
func fromNative(n interface{}) Value {
	switch t := n.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case []byte:
		return Data(t)
	case time.Time:
		return Date(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case float32:
		return Real(float64(t))
	case float64:
		return Real(t)
	case []interface{}:
		out := make([]Value, len(t))
		for i, item := range t {
			out[i] = fromNative(item)
		}
		return Value{Kind: KindArray, Array: out}
	case map[string]interface{}:
		dict := NewDict()
		for k, item := range t {
			dict.Set(k, fromNative(item))
		}
		return dict
	default:
		return Null()
	}
}

// decodeXMLValue parses an XML plist document directly, walking the element
// tree with encoding/xml instead of going through howett.net/plist's
// map[string]interface{} representation, so that dict key order survives
// the round trip (mirrors writeValue in xml.go, which emits in DictOrder).
func decodeXMLValue(data []byte) (Value, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	for {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("plist: xml: find root element: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "plist" {
			return Value{}, fmt.Errorf("plist: xml: unexpected root element %q", start.Name.Local)
		}
		break
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("plist: xml: find value element: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return decodeXMLElement(dec, start)
		}
		if _, ok := tok.(xml.EndElement); ok {
			return Null(), nil
		}
	}
}

func decodeXMLElement(dec *xml.Decoder, start xml.StartElement) (Value, error) {
	switch start.Name.Local {
	case "true":
		if err := dec.Skip(); err != nil {
			return Value{}, err
		}
		return Bool(true), nil
	case "false":
		if err := dec.Skip(); err != nil {
			return Value{}, err
		}
		return Bool(false), nil
	case "string", "integer", "real", "date", "data":
		text, err := decodeXMLCharData(dec)
		if err != nil {
			return Value{}, err
		}
		switch start.Name.Local {
		case "string":
			return String(text), nil
		case "integer":
			n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("plist: xml: integer: %w", err)
			}
			return Int(n), nil
		case "real":
			f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
			if err != nil {
				return Value{}, fmt.Errorf("plist: xml: real: %w", err)
			}
			return Real(f), nil
		case "date":
			t, err := time.Parse("2006-01-02T15:04:05Z", strings.TrimSpace(text))
			if err != nil {
				return Value{}, fmt.Errorf("plist: xml: date: %w", err)
			}
			return Date(t), nil
		case "data":
			clean := strings.Map(func(r rune) rune {
				switch r {
				case ' ', '\t', '\n', '\r':
					return -1
				default:
					return r
				}
			}, text)
			b, err := base64.StdEncoding.DecodeString(clean)
			if err != nil {
				return Value{}, fmt.Errorf("plist: xml: data: %w", err)
			}
			return Data(b), nil
		}
	case "array":
		var out []Value
		for {
			tok, err := dec.Token()
			if err != nil {
				return Value{}, fmt.Errorf("plist: xml: array: %w", err)
			}
			switch t := tok.(type) {
			case xml.StartElement:
				item, err := decodeXMLElement(dec, t)
				if err != nil {
					return Value{}, err
				}
				out = append(out, item)
			case xml.EndElement:
				return Value{Kind: KindArray, Array: out}, nil
			}
		}
	case "dict":
		dict := NewDict()
		var pendingKey string
		haveKey := false
		for {
			tok, err := dec.Token()
			if err != nil {
				return Value{}, fmt.Errorf("plist: xml: dict: %w", err)
			}
			switch t := tok.(type) {
			case xml.StartElement:
				if t.Name.Local == "key" {
					key, err := decodeXMLCharData(dec)
					if err != nil {
						return Value{}, err
					}
					pendingKey = key
					haveKey = true
					continue
				}
				if !haveKey {
					return Value{}, fmt.Errorf("plist: xml: dict: value without preceding key")
				}
				val, err := decodeXMLElement(dec, t)
				if err != nil {
					return Value{}, err
				}
				dict.Set(pendingKey, val)
				haveKey = false
			case xml.EndElement:
				return dict, nil
			}
		}
	}
	return Value{}, fmt.Errorf("plist: xml: unsupported element %q", start.Name.Local)
}

// decodeXMLCharData reads character data up to the matching end element,
// concatenating multiple CharData tokens (encoding/xml may split on entity
// boundaries).
func decodeXMLCharData(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return sb.String(), nil
			}
			depth--
		}
	}
}
