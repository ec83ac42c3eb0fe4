// Package codec implements Beehive's binary attribute-tuple encoding.
//
// An encoded buffer is a flat sequence of records, each carrying an integer
// attribute id, a type tag, and a value. The same record shape backs both
// the durable binary form stored at rest and the text form a client emits
// on the wire; both are read with Decode and written with Builder.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Type is the wire/binary type tag of an attribute value.
type Type uint8

const (
	TypeNull Type = iota
	TypeInteger
	TypeReal
	TypeText
	TypeBlob
)

// MaxStringLen is the maximum length, in bytes, of a Text or Blob value.
const MaxStringLen = 32767

// ErrCorruptEncoding is returned by Decode when a buffer cannot be decoded:
// a length field overflows the remaining buffer, an attribute id repeats
// within the same tuple, or a type tag does not map to a known Type.
var ErrCorruptEncoding = errors.New("codec: corrupt encoding")

// Value is a decoded attribute value. Exactly one of the typed fields is
// meaningful, selected by Type.
type Value struct {
	Type Type
	I    int64
	R    float64
	S    []byte // Text or Blob payload
}

// Record is one (id, type, value) entry decoded from a buffer.
type Record struct {
	ID    int
	Value Value
}

// Builder accumulates attribute records and produces an encoded buffer.
// The zero value is ready to use.
type Builder struct {
	buf []byte
}

// NewBuilder returns a Builder with cap pre-reserved.
func NewBuilder(cap int) *Builder {
	return &Builder{buf: make([]byte, 0, cap)}
}

func (b *Builder) putHeader(id int, t Type) {
	var tmp [3]byte
	binary.BigEndian.PutUint16(tmp[0:2], uint16(id))
	tmp[2] = byte(t)
	b.buf = append(b.buf, tmp[:]...)
}

// PutNull appends a Null-typed record.
func (b *Builder) PutNull(id int) *Builder {
	b.putHeader(id, TypeNull)
	return b
}

// PutInteger appends a signed 64-bit integer record.
func (b *Builder) PutInteger(id int, v int64) *Builder {
	b.putHeader(id, TypeInteger)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// PutReal appends an IEEE-754 double record.
func (b *Builder) PutReal(id int, v float64) *Builder {
	b.putHeader(id, TypeReal)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// PutText appends a UTF-8 text record. Panics if len(s) > MaxStringLen —
// callers must validate length against the schema before encoding.
func (b *Builder) PutText(id int, s string) *Builder {
	return b.putString(id, TypeText, []byte(s))
}

// PutBlob appends an opaque byte-string record.
func (b *Builder) PutBlob(id int, s []byte) *Builder {
	return b.putString(id, TypeBlob, s)
}

func (b *Builder) putString(id int, t Type, s []byte) *Builder {
	if len(s) > MaxStringLen {
		panic(fmt.Sprintf("codec: value for attribute %d exceeds MaxStringLen", id))
	}
	b.putHeader(id, t)
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(len(s)))
	b.buf = append(b.buf, tmp[:]...)
	b.buf = append(b.buf, s...)
	return b
}

// PutValue appends a Value under the given attribute id.
func (b *Builder) PutValue(id int, v Value) *Builder {
	switch v.Type {
	case TypeNull:
		return b.PutNull(id)
	case TypeInteger:
		return b.PutInteger(id, v.I)
	case TypeReal:
		return b.PutReal(id, v.R)
	case TypeText:
		return b.putString(id, TypeText, v.S)
	case TypeBlob:
		return b.putString(id, TypeBlob, v.S)
	default:
		panic("codec: unknown value type")
	}
}

// Bytes returns the encoded buffer built so far.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Decode parses buf into a slice of Records in encounter order.
// It fails with ErrCorruptEncoding if a length field would overflow the
// buffer, an attribute id repeats, or a type tag is unknown.
func Decode(buf []byte) ([]Record, error) {
	var out []Record
	seen := make(map[int]bool)

	off := 0
	for off < len(buf) {
		if off+3 > len(buf) {
			return nil, ErrCorruptEncoding
		}
		id := int(binary.BigEndian.Uint16(buf[off : off+2]))
		t := Type(buf[off+2])
		off += 3

		if seen[id] {
			return nil, ErrCorruptEncoding
		}
		seen[id] = true

		var v Value
		switch t {
		case TypeNull:
			v = Value{Type: TypeNull}
		case TypeInteger:
			if off+8 > len(buf) {
				return nil, ErrCorruptEncoding
			}
			v = Value{Type: TypeInteger, I: int64(binary.BigEndian.Uint64(buf[off : off+8]))}
			off += 8
		case TypeReal:
			if off+8 > len(buf) {
				return nil, ErrCorruptEncoding
			}
			v = Value{Type: TypeReal, R: math.Float64frombits(binary.BigEndian.Uint64(buf[off : off+8]))}
			off += 8
		case TypeText, TypeBlob:
			if off+2 > len(buf) {
				return nil, ErrCorruptEncoding
			}
			n := int(binary.BigEndian.Uint16(buf[off : off+2]))
			off += 2
			if n > MaxStringLen || off+n > len(buf) {
				return nil, ErrCorruptEncoding
			}
			s := make([]byte, n)
			copy(s, buf[off:off+n])
			v = Value{Type: t, S: s}
			off += n
		default:
			return nil, ErrCorruptEncoding
		}

		out = append(out, Record{ID: id, Value: v})
	}

	return out, nil
}

// Merge re-encodes stored and incoming tuples so that, per attribute id, the
// incoming value wins whenever present; attributes present in only one side
// are carried through unchanged. This implements the sparse-update rule of
// spec §4.1: the merged tuple is what gets persisted as the new row data.
func Merge(stored, incoming []Record) []byte {
	merged := make(map[int]Value, len(stored)+len(incoming))
	order := make([]int, 0, len(stored)+len(incoming))

	for _, r := range stored {
		if _, ok := merged[r.ID]; !ok {
			order = append(order, r.ID)
		}
		merged[r.ID] = r.Value
	}
	for _, r := range incoming {
		if _, ok := merged[r.ID]; !ok {
			order = append(order, r.ID)
		}
		merged[r.ID] = r.Value
	}

	b := NewBuilder(len(order) * 8)
	for _, id := range order {
		b.PutValue(id, merged[id])
	}
	return b.Bytes()
}
