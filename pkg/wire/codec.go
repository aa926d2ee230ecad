package wire

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

func putU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func getU32(b []byte) uint32   { return binary.LittleEndian.Uint32(b) }

// Encode serializes an envelope into one contiguous buffer. Encoding is
// deterministic: entries are written in insertion order, each as
// (key length, key bytes, tag, payload). Array payloads are the raw
// row-major bytes with no transformation.
func Encode(m *Map) ([]byte, error) {
	return appendMap(nil, m)
}

func appendMap(buf []byte, m *Map) ([]byte, error) {
	n := m.lenSafe()
	if uint64(n) > math.MaxUint32 {
		return nil, &CodecError{Offset: len(buf), Msg: "too many entries"}
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
	if m == nil {
		return buf, nil
	}
	for _, k := range m.keys {
		if !utf8.ValidString(k) {
			return nil, &CodecError{Offset: len(buf), Msg: "key is not valid UTF-8"}
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k)))
		buf = append(buf, k...)
		var err error
		buf, err = appendValue(buf, m.vals[k])
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindNull:
		return buf, nil
	case KindBool:
		if v.B {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case KindInt:
		return binary.LittleEndian.AppendUint64(buf, uint64(v.I)), nil
	case KindFloat:
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.F)), nil
	case KindString:
		if !utf8.ValidString(v.S) {
			return nil, &CodecError{Offset: len(buf), Msg: "string is not valid UTF-8"}
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.S)))
		return append(buf, v.S...), nil
	case KindBytes:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Raw)))
		return append(buf, v.Raw...), nil
	case KindArray:
		sz := v.Dtype.Size()
		if sz == 0 {
			return nil, &CodecError{Offset: len(buf), Msg: "unknown dtype " + v.Dtype.String()}
		}
		if NumElems(v.Shape)*uint64(sz) != uint64(len(v.Raw)) {
			return nil, &CodecError{Offset: len(buf), Msg: "array data does not match shape"}
		}
		buf = append(buf, byte(v.Dtype))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Shape)))
		for _, d := range v.Shape {
			buf = binary.LittleEndian.AppendUint32(buf, d)
		}
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(v.Raw)))
		return append(buf, v.Raw...), nil
	case KindSeq:
		if uint64(len(v.Seq)) > math.MaxUint32 {
			return nil, &CodecError{Offset: len(buf), Msg: "sequence too long"}
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Seq)))
		for _, el := range v.Seq {
			var err error
			buf, err = appendValue(buf, el)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case KindMap:
		return appendMap(buf, v.Map)
	default:
		return nil, &CodecError{Offset: len(buf), Msg: "unrepresentable value " + v.Kind.String()}
	}
}

// Decode parses an envelope. Array and bytes payloads alias the input
// buffer (zero-copy views); callers must not mutate b while the decoded
// envelope is live. Fails with *CodecError on truncated input, unknown
// tags, declared array sizes that disagree with shape and dtype,
// invalid UTF-8, duplicate keys, or trailing bytes.
func Decode(b []byte) (*Map, error) {
	d := &decoder{buf: b}
	m, err := d.readMap()
	if err != nil {
		return nil, err
	}
	if d.off != len(d.buf) {
		return nil, d.fail("trailing bytes after envelope")
	}
	return m, nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) fail(msg string) error {
	return &CodecError{Offset: d.off, Msg: msg}
}

func (d *decoder) u8() (byte, error) {
	if d.off >= len(d.buf) {
		return 0, d.fail("truncated input")
	}
	v := d.buf[d.off]
	d.off++
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if len(d.buf)-d.off < 4 {
		return 0, d.fail("truncated input")
	}
	v := getU32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if len(d.buf)-d.off < 8 {
		return 0, d.fail("truncated input")
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

// take returns n bytes as a capped subslice of the input, not a copy.
func (d *decoder) take(n uint64) ([]byte, error) {
	if n > uint64(len(d.buf)-d.off) {
		return nil, d.fail("truncated input")
	}
	end := d.off + int(n)
	v := d.buf[d.off:end:end]
	d.off = end
	return v, nil
}

func (d *decoder) readMap() (*Map, error) {
	count, err := d.u32()
	if err != nil {
		return nil, err
	}
	m := NewMap()
	for i := uint32(0); i < count; i++ {
		klen, err := d.u32()
		if err != nil {
			return nil, err
		}
		kb, err := d.take(uint64(klen))
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(kb) {
			return nil, d.fail("key is not valid UTF-8")
		}
		key := string(kb)
		if _, dup := m.Get(key); dup {
			return nil, d.fail("duplicate key " + key)
		}
		v, err := d.readValue()
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
	}
	return m, nil
}

func (d *decoder) readValue() (Value, error) {
	tag, err := d.u8()
	if err != nil {
		return Value{}, err
	}
	switch Kind(tag) {
	case KindNull:
		return Null(), nil
	case KindBool:
		b, err := d.u8()
		if err != nil {
			return Value{}, err
		}
		if b > 1 {
			return Value{}, d.fail("bool byte out of range")
		}
		return Bool(b == 1), nil
	case KindInt:
		u, err := d.u64()
		if err != nil {
			return Value{}, err
		}
		return Int(int64(u)), nil
	case KindFloat:
		u, err := d.u64()
		if err != nil {
			return Value{}, err
		}
		return Float(math.Float64frombits(u)), nil
	case KindString:
		n, err := d.u32()
		if err != nil {
			return Value{}, err
		}
		sb, err := d.take(uint64(n))
		if err != nil {
			return Value{}, err
		}
		if !utf8.Valid(sb) {
			return Value{}, d.fail("string is not valid UTF-8")
		}
		return String(string(sb)), nil
	case KindBytes:
		n, err := d.u32()
		if err != nil {
			return Value{}, err
		}
		bb, err := d.take(uint64(n))
		if err != nil {
			return Value{}, err
		}
		return Bytes(bb), nil
	case KindArray:
		return d.readArray()
	case KindSeq:
		count, err := d.u32()
		if err != nil {
			return Value{}, err
		}
		els := make([]Value, 0, minU32(count, 1024))
		for i := uint32(0); i < count; i++ {
			el, err := d.readValue()
			if err != nil {
				return Value{}, err
			}
			els = append(els, el)
		}
		return Value{Kind: KindSeq, Seq: els}, nil
	case KindMap:
		m, err := d.readMap()
		if err != nil {
			return Value{}, err
		}
		return MapValue(m), nil
	default:
		return Value{}, d.fail("unknown tag")
	}
}

func (d *decoder) readArray() (Value, error) {
	dt, err := d.u8()
	if err != nil {
		return Value{}, err
	}
	dtype := Dtype(dt)
	sz := dtype.Size()
	if sz == 0 {
		return Value{}, d.fail("unknown dtype")
	}
	rank, err := d.u32()
	if err != nil {
		return Value{}, err
	}
	// Each dimension takes 4 bytes; an absurd rank is truncation.
	if uint64(rank)*4 > uint64(len(d.buf)-d.off) {
		return Value{}, d.fail("truncated input")
	}
	shape := make([]uint32, rank)
	for i := range shape {
		shape[i], err = d.u32()
		if err != nil {
			return Value{}, err
		}
	}
	elems := uint64(1)
	for _, dim := range shape {
		if dim != 0 && elems > math.MaxUint64/uint64(dim) {
			return Value{}, d.fail("array shape overflows")
		}
		elems *= uint64(dim)
	}
	declared, err := d.u64()
	if err != nil {
		return Value{}, err
	}
	if elems > math.MaxUint64/uint64(sz) || declared != elems*uint64(sz) {
		return Value{}, d.fail("array length does not match shape and dtype")
	}
	data, err := d.take(declared)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindArray, Dtype: dtype, Shape: shape, Raw: data}, nil
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
