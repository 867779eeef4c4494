// Package plist implements the XML plist codec and the 4-byte length-prefixed
// framing every lockdown service uses on the wire (spec.md §4.9, §6).
//
// Values are modeled as an explicit sum type so callers pattern-match
// instead of type-asserting a bare interface{} (spec.md §9 "dynamic
// typing"). XML parsing (with tolerant recovery) and XML emission are
// implemented here; howett.net/plist is used only to decode binary plists.
package plist

import (
	"time"
)

// Kind identifies which plist type a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindReal
	KindString
	KindData
	KindDate
	KindArray
	KindDict
)

// Value is a decoded plist value. Exactly one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	Kind Kind

	Bool   bool
	Int    int64
	Real   float64
	String string
	Data   []byte
	Date   time.Time
	Array  []Value
	Dict   map[string]Value
	// DictOrder preserves insertion order for stable re-emission
	// (spec.md §4.9 "Emission: stable key order").
	DictOrder []string
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value          { return Value{Kind: KindInt, Int: i} }
func Real(f float64) Value       { return Value{Kind: KindReal, Real: f} }
func String(s string) Value      { return Value{Kind: KindString, String: s} }
func Data(b []byte) Value        { return Value{Kind: KindData, Data: b} }
func Date(t time.Time) Value     { return Value{Kind: KindDate, Date: t} }
func Array(vs ...Value) Value    { return Value{Kind: KindArray, Array: vs} }

// NewDict creates an empty ordered dictionary.
func NewDict() Value {
	return Value{Kind: KindDict, Dict: map[string]Value{}}
}

// Set inserts or overwrites key, recording insertion order for new keys.
func (v *Value) Set(key string, val Value) {
	if v.Dict == nil {
		v.Dict = map[string]Value{}
	}
	if _, exists := v.Dict[key]; !exists {
		v.DictOrder = append(v.DictOrder, key)
	}
	v.Dict[key] = val
}

// Get looks up key in a dict value; ok is false if v is not a dict or the
// key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	val, ok := v.Dict[key]
	return val, ok
}
