// Package xpc implements the little-endian, 4/8-byte-aligned typed object
// tree Apple's XPC wire format carries inside HTTP/2 DATA frames
// (spec.md §4.6), plus the handshake sequence that brings an RSD XPC
// session up over an internal/h2c connection.
package xpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Magic is the fixed little-endian XPC envelope magic.
const Magic uint32 = 0x29B00B92

// Version is the only XPC wire version this package speaks.
const Version uint32 = 0x00000005

// Object type tags. XPC's real tag values are undocumented outside Apple's
// closed-source libxpc; these are internally consistent placeholders this
// codec defines and round-trips against itself.
const (
	TypeNull   uint32 = 0x00001000
	TypeBool   uint32 = 0x00002000
	TypeInt64  uint32 = 0x00003000
	TypeUInt64 uint32 = 0x00004000
	TypeDouble uint32 = 0x00005000
	TypeString uint32 = 0x00009000
	TypeData   uint32 = 0x00008000
	TypeUUID   uint32 = 0x0000a000
	TypeDate   uint32 = 0x00007000
	TypeArray  uint32 = 0x0000e000
	TypeDict   uint32 = 0x0000f000
	TypeFD     uint32 = 0x0000c000
)

// Kind mirrors the Type tags as a Go-side discriminator for Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindUInt64
	KindDouble
	KindString
	KindData
	KindUUID
	KindDate
	KindArray
	KindDict
	KindFD
)

// Value is one node of the decoded XPC object tree.
type Value struct {
	Kind Kind

	Bool   bool
	Int64  int64
	UInt64 uint64
	Double float64
	String string
	Data   []byte
	UUID   [16]byte
	Date   int64 // nanoseconds since epoch

	Array []Value
	Dict  map[string]Value
	// DictOrder preserves insertion order for stable re-encoding.
	DictOrder []string

	FD int32
}

func Null() Value                 { return Value{Kind: KindNull} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func Int64v(i int64) Value        { return Value{Kind: KindInt64, Int64: i} }
func UInt64v(u uint64) Value      { return Value{Kind: KindUInt64, UInt64: u} }
func Doublev(f float64) Value     { return Value{Kind: KindDouble, Double: f} }
func Stringv(s string) Value      { return Value{Kind: KindString, String: s} }
func Bytesv(b []byte) Value       { return Value{Kind: KindData, Data: b} }
func UUIDv(u [16]byte) Value      { return Value{Kind: KindUUID, UUID: u} }

// NewDict creates an empty ordered dictionary.
func NewDict() *Value {
	return &Value{Kind: KindDict, Dict: map[string]Value{}}
}

// Set inserts or overwrites key, recording first-insertion order.
func (v *Value) Set(key string, val Value) {
	if v.Dict == nil {
		v.Dict = map[string]Value{}
	}
	if _, exists := v.Dict[key]; !exists {
		v.DictOrder = append(v.DictOrder, key)
	}
	v.Dict[key] = val
}

// Get looks up key in a dict Value.
func (v *Value) Get(key string) (Value, bool) {
	val, ok := v.Dict[key]
	return val, ok
}

func align(n, to int) int {
	if r := n % to; r != 0 {
		return n + (to - r)
	}
	return n
}

// Encode serializes v as one aligned XPC object, per spec.md §4.6: 4-byte
// alignment between fields, 8-byte alignment at object boundaries.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v)
	pad(&buf, 8)
	return buf.Bytes()
}

func pad(buf *bytes.Buffer, to int) {
	n := align(buf.Len(), to) - buf.Len()
	for i := 0; i < n; i++ {
		buf.WriteByte(0)
	}
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func encodeValue(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindNull:
		writeU32(buf, TypeNull)
	case KindBool:
		writeU32(buf, TypeBool)
		if v.Bool {
			writeU32(buf, 1)
		} else {
			writeU32(buf, 0)
		}
	case KindInt64:
		writeU32(buf, TypeInt64)
		pad(buf, 4)
		writeU64(buf, uint64(v.Int64))
	case KindUInt64:
		writeU32(buf, TypeUInt64)
		pad(buf, 4)
		writeU64(buf, v.UInt64)
	case KindDouble:
		writeU32(buf, TypeDouble)
		pad(buf, 4)
		writeU64(buf, math.Float64bits(v.Double))
	case KindString:
		writeU32(buf, TypeString)
		b := append([]byte(v.String), 0)
		writeU32(buf, uint32(len(b)))
		buf.Write(b)
		pad(buf, 4)
	case KindData:
		writeU32(buf, TypeData)
		writeU32(buf, uint32(len(v.Data)))
		buf.Write(v.Data)
		pad(buf, 4)
	case KindUUID:
		writeU32(buf, TypeUUID)
		buf.Write(v.UUID[:])
	case KindDate:
		writeU32(buf, TypeDate)
		pad(buf, 4)
		writeU64(buf, uint64(v.Date))
	case KindFD:
		writeU32(buf, TypeFD)
		writeU32(buf, uint32(v.FD))
	case KindArray:
		writeU32(buf, TypeArray)
		writeU32(buf, uint32(len(v.Array)))
		for _, elem := range v.Array {
			pad(buf, 8)
			encodeValue(buf, elem)
		}
	case KindDict:
		writeU32(buf, TypeDict)
		writeU32(buf, uint32(len(v.DictOrder)))
		for _, key := range v.DictOrder {
			pad(buf, 4)
			kb := append([]byte(key), 0)
			writeU32(buf, uint32(len(kb)))
			buf.Write(kb)
			pad(buf, 8)
			encodeValue(buf, v.Dict[key])
		}
	default:
		writeU32(buf, TypeNull)
	}
}

// Decode parses one aligned XPC object from data, returning the value and
// the number of bytes consumed (including trailing padding to an 8-byte
// object boundary).
func Decode(data []byte) (Value, int, error) {
	v, n, err := decodeValue(data)
	if err != nil {
		return Value{}, 0, err
	}
	return v, align(n, 8), nil
}

func decodeValue(data []byte) (Value, int, error) {
	if len(data) < 4 {
		return Value{}, 0, fmt.Errorf("xpc: truncated object tag")
	}
	tag := binary.LittleEndian.Uint32(data)
	off := 4
	switch tag {
	case TypeNull:
		return Value{Kind: KindNull}, off, nil
	case TypeBool:
		if len(data) < off+4 {
			return Value{}, 0, fmt.Errorf("xpc: truncated bool")
		}
		b := binary.LittleEndian.Uint32(data[off:]) != 0
		return Value{Kind: KindBool, Bool: b}, off + 4, nil
	case TypeInt64:
		off = align(off, 4)
		if len(data) < off+8 {
			return Value{}, 0, fmt.Errorf("xpc: truncated int64")
		}
		i := int64(binary.LittleEndian.Uint64(data[off:]))
		return Value{Kind: KindInt64, Int64: i}, off + 8, nil
	case TypeUInt64:
		off = align(off, 4)
		if len(data) < off+8 {
			return Value{}, 0, fmt.Errorf("xpc: truncated uint64")
		}
		u := binary.LittleEndian.Uint64(data[off:])
		return Value{Kind: KindUInt64, UInt64: u}, off + 8, nil
	case TypeDouble:
		off = align(off, 4)
		if len(data) < off+8 {
			return Value{}, 0, fmt.Errorf("xpc: truncated double")
		}
		bits := binary.LittleEndian.Uint64(data[off:])
		return Value{Kind: KindDouble, Double: math.Float64frombits(bits)}, off + 8, nil
	case TypeString:
		if len(data) < off+4 {
			return Value{}, 0, fmt.Errorf("xpc: truncated string length")
		}
		l := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if len(data) < off+l {
			return Value{}, 0, fmt.Errorf("xpc: truncated string body")
		}
		s := string(bytes.TrimRight(data[off:off+l], "\x00"))
		off += l
		off = align(off, 4)
		return Value{Kind: KindString, String: s}, off, nil
	case TypeData:
		if len(data) < off+4 {
			return Value{}, 0, fmt.Errorf("xpc: truncated data length")
		}
		l := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if len(data) < off+l {
			return Value{}, 0, fmt.Errorf("xpc: truncated data body")
		}
		d := append([]byte{}, data[off:off+l]...)
		off += l
		off = align(off, 4)
		return Value{Kind: KindData, Data: d}, off, nil
	case TypeUUID:
		if len(data) < off+16 {
			return Value{}, 0, fmt.Errorf("xpc: truncated uuid")
		}
		var u [16]byte
		copy(u[:], data[off:off+16])
		return Value{Kind: KindUUID, UUID: u}, off + 16, nil
	case TypeDate:
		off = align(off, 4)
		if len(data) < off+8 {
			return Value{}, 0, fmt.Errorf("xpc: truncated date")
		}
		d := int64(binary.LittleEndian.Uint64(data[off:]))
		return Value{Kind: KindDate, Date: d}, off + 8, nil
	case TypeFD:
		if len(data) < off+4 {
			return Value{}, 0, fmt.Errorf("xpc: truncated fd")
		}
		fd := int32(binary.LittleEndian.Uint32(data[off:]))
		return Value{Kind: KindFD, FD: fd}, off + 4, nil
	case TypeArray:
		if len(data) < off+4 {
			return Value{}, 0, fmt.Errorf("xpc: truncated array count")
		}
		count := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		arr := make([]Value, 0, count)
		for i := 0; i < count; i++ {
			off = align(off, 8)
			elem, n, err := decodeValue(data[off:])
			if err != nil {
				return Value{}, 0, fmt.Errorf("xpc: array element %d: %w", i, err)
			}
			arr = append(arr, elem)
			off += n
		}
		return Value{Kind: KindArray, Array: arr}, off, nil
	case TypeDict:
		if len(data) < off+4 {
			return Value{}, 0, fmt.Errorf("xpc: truncated dict count")
		}
		count := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		dict := &Value{Kind: KindDict, Dict: map[string]Value{}}
		for i := 0; i < count; i++ {
			off = align(off, 4)
			if len(data) < off+4 {
				return Value{}, 0, fmt.Errorf("xpc: truncated dict key length")
			}
			kl := int(binary.LittleEndian.Uint32(data[off:]))
			off += 4
			if len(data) < off+kl {
				return Value{}, 0, fmt.Errorf("xpc: truncated dict key")
			}
			key := string(bytes.TrimRight(data[off:off+kl], "\x00"))
			off += kl
			off = align(off, 8)
			val, n, err := decodeValue(data[off:])
			if err != nil {
				return Value{}, 0, fmt.Errorf("xpc: dict value %q: %w", key, err)
			}
			dict.Set(key, val)
			off += n
		}
		return *dict, off, nil
	default:
		return Value{}, 0, fmt.Errorf("xpc: unknown object tag 0x%08x", tag)
	}
}
