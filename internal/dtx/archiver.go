// Package dtx decodes NSKeyedArchiver payloads carried by DVT/instruments
// traffic and multiplexes DTX channels over an XPC session (spec.md §4.10).
package dtx

import (
	"fmt"
	"log/slog"

	"github.com/appium/go-ios-remotexpc/internal/plist"
)

// DecodeArchive walks an NSKeyedArchiver plist value ({$archiver, $top,
// $objects}) and returns the resolved root object as a native Go value
// (spec.md §4.10).
func DecodeArchive(archive plist.Value) (any, error) {
	objects, ok := archive.Get("$objects")
	if !ok || objects.Kind != plist.KindArray {
		return nil, fmt.Errorf("dtx: archive missing $objects array")
	}

	top, ok := archive.Get("$top")
	rootIdx := 1
	if ok {
		if rootRef, ok := top.Get("root"); ok {
			idx, err := uidIndex(rootRef)
			if err == nil {
				rootIdx = idx
			}
		} else {
			slog.Warn("dtx: $top missing root key, falling back to object index 1")
		}
	} else {
		slog.Warn("dtx: archive missing $top, falling back to object index 1")
	}

	d := &decoder{objects: objects.Array, memo: make(map[int]any)}
	return d.resolve(rootIdx), nil
}

// uidIndex extracts the integer index out of a CF$UID reference dict.
func uidIndex(v plist.Value) (int, error) {
	if v.Kind == plist.KindDict {
		if uid, ok := v.Get("CF$UID"); ok {
			return int(uid.Int), nil
		}
	}
	if v.Kind == plist.KindInt {
		return int(v.Int), nil
	}
	return 0, fmt.Errorf("dtx: value is not a CF$UID reference")
}

type decoder struct {
	objects []plist.Value
	memo    map[int]any
	// inflight guards against infinite recursion on cyclic references;
	// a value seen while still being resolved decodes to nil rather than
	// recursing forever.
	inflight map[int]bool
}

// resolve decodes object index idx, memoizing the result so shared
// references and cycles are handled safely (spec.md §4.10).
func (d *decoder) resolve(idx int) any {
	if v, ok := d.memo[idx]; ok {
		return v
	}
	if d.inflight == nil {
		d.inflight = map[int]bool{}
	}
	if d.inflight[idx] {
		slog.Warn("dtx: cyclic reference detected, returning nil", "index", idx)
		return nil
	}
	if idx < 0 || idx >= len(d.objects) {
		slog.Warn("dtx: malformed reference, index out of range", "index", idx)
		return nil
	}
	d.inflight[idx] = true
	defer delete(d.inflight, idx)

	val := d.decodeValue(d.objects[idx])
	d.memo[idx] = val
	return val
}

func (d *decoder) decodeValue(v plist.Value) any {
	switch v.Kind {
	case plist.KindString:
		if v.String == "$null" {
			return nil
		}
		return v.String
	case plist.KindInt:
		return v.Int
	case plist.KindReal:
		return v.Real
	case plist.KindBool:
		return v.Bool
	case plist.KindData:
		return v.Data
	case plist.KindDate:
		return v.Date
	case plist.KindDict:
		if _, ok := v.Get("CF$UID"); ok {
			idx, err := uidIndex(v)
			if err != nil {
				return nil
			}
			return d.resolve(idx)
		}
		if keys, ok := v.Get("NS.keys"); ok {
			objs, _ := v.Get("NS.objects")
			return d.decodeKeyedCollection(keys, objs)
		}
		if objs, ok := v.Get("NS.objects"); ok {
			return d.decodeArrayCollection(objs)
		}
		return d.decodePlainDict(v)
	case plist.KindArray:
		out := make([]any, 0, len(v.Array))
		for _, elem := range v.Array {
			out = append(out, d.decodeValue(elem))
		}
		return out
	default:
		return nil
	}
}

func (d *decoder) decodeKeyedCollection(keys, objs plist.Value) map[string]any {
	out := map[string]any{}
	for i, keyRef := range keys.Array {
		if i >= len(objs.Array) {
			break
		}
		key := fmt.Sprintf("%v", d.decodeValue(keyRef))
		out[key] = d.decodeValue(objs.Array[i])
	}
	return out
}

func (d *decoder) decodeArrayCollection(objs plist.Value) []any {
	out := make([]any, 0, len(objs.Array))
	for _, elem := range objs.Array {
		out = append(out, d.decodeValue(elem))
	}
	return out
}

// decodePlainDict decodes an object dict, stripping $class (spec.md §4.10
// "$class fields are stripped from output").
func (d *decoder) decodePlainDict(v plist.Value) map[string]any {
	out := map[string]any{}
	for _, key := range v.DictOrder {
		if key == "$class" {
			continue
		}
		out[key] = d.decodeValue(v.Dict[key])
	}
	return out
}
