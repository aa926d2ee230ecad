// Package wire implements the binary envelope format used between
// inferd and its clients: an insertion-ordered mapping of named scalars,
// strings, raw bytes and homogeneous numeric arrays, encoded into one
// contiguous buffer with no per-element transformation.
package wire

import (
	"bytes"
	"fmt"
	"math"
)

// Kind is the type tag of a Value. The numeric values are part of the
// wire format and must not be reordered.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindSeq
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int64"
	case KindFloat:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Dtype identifies the element type of an Array value. The numeric
// values are part of the wire format.
type Dtype uint8

const (
	DtypeInt8 Dtype = iota
	DtypeInt16
	DtypeInt32
	DtypeInt64
	DtypeUint8
	DtypeUint16
	DtypeUint32
	DtypeUint64
	DtypeFloat32
	DtypeFloat64
	DtypeBool
)

// Size returns the element size in bytes, or 0 for an unknown dtype.
func (d Dtype) Size() int {
	switch d {
	case DtypeInt8, DtypeUint8, DtypeBool:
		return 1
	case DtypeInt16, DtypeUint16:
		return 2
	case DtypeInt32, DtypeUint32, DtypeFloat32:
		return 4
	case DtypeInt64, DtypeUint64, DtypeFloat64:
		return 8
	default:
		return 0
	}
}

func (d Dtype) String() string {
	switch d {
	case DtypeInt8:
		return "int8"
	case DtypeInt16:
		return "int16"
	case DtypeInt32:
		return "int32"
	case DtypeInt64:
		return "int64"
	case DtypeUint8:
		return "uint8"
	case DtypeUint16:
		return "uint16"
	case DtypeUint32:
		return "uint32"
	case DtypeUint64:
		return "uint64"
	case DtypeFloat32:
		return "float32"
	case DtypeFloat64:
		return "float64"
	case DtypeBool:
		return "bool"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Value is the tagged union carried in an envelope. Only the fields
// relevant to Kind are meaningful; construct values through the
// package-level constructors so invariants hold.
type Value struct {
	Kind  Kind
	B     bool
	I     int64
	F     float64
	S     string
	Raw   []byte   // KindBytes payload or KindArray row-major data
	Dtype Dtype    // KindArray only
	Shape []uint32 // KindArray only
	Seq   []Value  // KindSeq only
	Map   *Map     // KindMap only
}

func Null() Value            { return Value{Kind: KindNull} }
func Bool(b bool) Value      { return Value{Kind: KindBool, B: b} }
func Int(i int64) Value      { return Value{Kind: KindInt, I: i} }
func Float(f float64) Value  { return Value{Kind: KindFloat, F: f} }
func String(s string) Value  { return Value{Kind: KindString, S: s} }
func Bytes(b []byte) Value   { return Value{Kind: KindBytes, Raw: b} }
func Seq(vs ...Value) Value  { return Value{Kind: KindSeq, Seq: vs} }
func MapValue(m *Map) Value  { return Value{Kind: KindMap, Map: m} }

// NumElems returns the element count implied by shape (product of the
// dimensions; 1 for rank 0).
func NumElems(shape []uint32) uint64 {
	n := uint64(1)
	for _, d := range shape {
		n *= uint64(d)
	}
	return n
}

// Array builds an array value over data, which must be exactly
// NumElems(shape) * dtype.Size() bytes of row-major elements. data is
// aliased, not copied.
func Array(dtype Dtype, shape []uint32, data []byte) (Value, error) {
	sz := dtype.Size()
	if sz == 0 {
		return Value{}, fmt.Errorf("wire: unknown dtype %d", uint8(dtype))
	}
	want := NumElems(shape) * uint64(sz)
	if uint64(len(data)) != want {
		return Value{}, fmt.Errorf("wire: array data is %d bytes, shape %v of %s needs %d",
			len(data), shape, dtype, want)
	}
	return Value{Kind: KindArray, Dtype: dtype, Shape: shape, Raw: data}, nil
}

// Float32Array packs a []float32 into an array value. Shape defaults to
// [len(vals)] when nil.
func Float32Array(shape []uint32, vals []float32) (Value, error) {
	if shape == nil {
		shape = []uint32{uint32(len(vals))}
	}
	buf := make([]byte, 4*len(vals))
	for i, f := range vals {
		putU32(buf[4*i:], math.Float32bits(f))
	}
	return Array(DtypeFloat32, shape, buf)
}

// Float32s unpacks a float32 array value back into a slice.
func (v Value) Float32s() ([]float32, error) {
	if v.Kind != KindArray || v.Dtype != DtypeFloat32 {
		return nil, fmt.Errorf("wire: value is %s, not a float32 array", v.Kind)
	}
	out := make([]float32, len(v.Raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(getU32(v.Raw[4*i:]))
	}
	return out, nil
}

// Equal reports deep equality, including array dtype/shape/data and
// mapping key order.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.B == o.B
	case KindInt:
		return v.I == o.I
	case KindFloat:
		return v.F == o.F
	case KindString:
		return v.S == o.S
	case KindBytes:
		return bytes.Equal(v.Raw, o.Raw)
	case KindArray:
		if v.Dtype != o.Dtype || len(v.Shape) != len(o.Shape) {
			return false
		}
		for i := range v.Shape {
			if v.Shape[i] != o.Shape[i] {
				return false
			}
		}
		return bytes.Equal(v.Raw, o.Raw)
	case KindSeq:
		if len(v.Seq) != len(o.Seq) {
			return false
		}
		for i := range v.Seq {
			if !v.Seq[i].Equal(o.Seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.Map.Equal(o.Map)
	default:
		return false
	}
}

// Map is an insertion-ordered string-keyed mapping of Values; the unit
// of wire transfer (one request or response envelope).
type Map struct {
	keys []string
	vals map[string]Value
}

func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// Set inserts or overwrites k. An overwrite keeps the key's original
// position.
func (m *Map) Set(k string, v Value) *Map {
	if _, ok := m.vals[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.vals[k] = v
	return m
}

func (m *Map) Get(k string) (Value, bool) {
	v, ok := m.vals[k]
	return v, ok
}

// GetString returns the string value at k, or "" when absent or not a
// string.
func (m *Map) GetString(k string) string {
	if v, ok := m.vals[k]; ok && v.Kind == KindString {
		return v.S
	}
	return ""
}

func (m *Map) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order. The slice is shared; do not
// mutate.
func (m *Map) Keys() []string { return m.keys }

func (m *Map) Equal(o *Map) bool {
	if m == nil || o == nil {
		return m.lenSafe() == 0 && o.lenSafe() == 0
	}
	if len(m.keys) != len(o.keys) {
		return false
	}
	for i, k := range m.keys {
		if o.keys[i] != k {
			return false
		}
		if !m.vals[k].Equal(o.vals[k]) {
			return false
		}
	}
	return true
}

// lenSafe treats a nil map as empty so Equal can compare them alike.
func (m *Map) lenSafe() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}
