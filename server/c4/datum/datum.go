// Package datum implements the tagged value union that flows through every
// tuple, operator and wire frame in c4, plus the per-type function tables
// (hash, equal, compare, binary/text codec) that let the rest of the
// runtime stay generic over concrete Go types.
package datum

import (
	"fmt"
	"math"

	"github.com/OneOfOne/xxhash"
)

// Type tags the variant a Datum holds. It doubles as the column type used
// by Schema.
type Type int

const (
	Bool Type = iota
	Char
	Int2
	Int4
	Int8
	Float8
	String
)

func (t Type) String() string {
	switch t {
	case Bool:
		return "bool"
	case Char:
		return "char"
	case Int2:
		return "int2"
	case Int4:
		return "int4"
	case Int8:
		return "int8"
	case Float8:
		return "float8"
	case String:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// TypeByName resolves the schema type names accepted in table definitions.
func TypeByName(name string) (Type, bool) {
	switch name {
	case "bool":
		return Bool, true
	case "char":
		return Char, true
	case "int2":
		return Int2, true
	case "int4":
		return Int4, true
	case "int8":
		return Int8, true
	case "float8", "double":
		return Float8, true
	case "string":
		return String, true
	default:
		return 0, false
	}
}

// IsNumeric reports whether arithmetic operators apply to the type.
func (t Type) IsNumeric() bool {
	switch t {
	case Int2, Int4, Int8, Float8:
		return true
	default:
		return false
	}
}

// str is the refcounted, heap-allocated backing of a String datum. Several
// Datum values sharing the same string share a single *str; the refcount is
// owned by the surrounding Tuple machinery (package tuple), not by str
// itself — str is a plain byte holder with a length, matching the wire
// format (length-prefixed, no NUL).
type str struct {
	data []byte
}

// Datum is a tagged union. Only one of the fields is meaningful, selected by
// the Type carried alongside it in a Schema column; Datum itself does not
// store its own type tag, so it stays a small fixed-size value (an int64,
// a float64 and a pointer), copied by value for every variant except
// String, whose bytes are shared through the pointer.
type Datum struct {
	i int64   // Bool, Char, Int2, Int4, Int8
	f float64 // Float8
	s *str    // String
}

func FromBool(b bool) Datum {
	if b {
		return Datum{i: 1}
	}
	return Datum{i: 0}
}

func FromChar(c byte) Datum   { return Datum{i: int64(c)} }
func FromInt2(v int16) Datum  { return Datum{i: int64(v)} }
func FromInt4(v int32) Datum  { return Datum{i: int64(v)} }
func FromInt8(v int64) Datum  { return Datum{i: v} }
func FromFloat8(v float64) Datum { return Datum{f: v} }
func FromString(v string) Datum {
	return Datum{s: &str{data: []byte(v)}}
}
func FromStringBytes(v []byte) Datum {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Datum{s: &str{data: cp}}
}

func (d Datum) Bool() bool     { return d.i != 0 }
func (d Datum) Char() byte     { return byte(d.i) }
func (d Datum) Int2() int16    { return int16(d.i) }
func (d Datum) Int4() int32    { return int32(d.i) }
func (d Datum) Int8() int64    { return d.i }
func (d Datum) Float8() float64 { return d.f }
func (d Datum) String() string {
	if d.s == nil {
		return ""
	}
	return string(d.s.data)
}
func (d Datum) StringBytes() []byte {
	if d.s == nil {
		return nil
	}
	return d.s.data
}

// HashFunc/EqFunc/CmpFunc/BinEncodeFunc/BinDecodeFunc/TextFunc are the
// per-column function pointers a Schema precomputes once at table-definition
// time, mirroring the source's per-type vtables.
type HashFunc func(Datum) uint64
type EqFunc func(a, b Datum) bool
type CmpFunc func(a, b Datum) int
type BinEncodeFunc func(Datum, []byte) []byte
type BinDecodeFunc func([]byte) (Datum, int)
type TextFunc func(Datum) string

// FuncTable bundles the six function pointers associated with a Type, plus
// its fixed encoded width.
type FuncTable struct {
	Hash     HashFunc
	Eq       EqFunc
	Cmp      CmpFunc
	BinEnc   BinEncodeFunc
	BinDec   BinDecodeFunc
	Text     TextFunc
	Width    int // fixed encoded width, 0 if variable-length
}

var tables = map[Type]FuncTable{
	Bool: {
		Hash:   func(d Datum) uint64 { return boolHash(d.Bool()) },
		Eq:     func(a, b Datum) bool { return a.Bool() == b.Bool() },
		Cmp:    func(a, b Datum) int { return cmpInt64(boolInt(a.Bool()), boolInt(b.Bool())) },
		BinEnc: func(d Datum, buf []byte) []byte { return append(buf, boolByte(d.Bool())) },
		BinDec: func(b []byte) (Datum, int) { return FromBool(b[0] != 0), 1 },
		Text:   func(d Datum) string { return fmt.Sprintf("%t", d.Bool()) },
		Width:  1,
	},
	Char: {
		Hash:   func(d Datum) uint64 { return uint64(d.Char()) },
		Eq:     func(a, b Datum) bool { return a.Char() == b.Char() },
		Cmp:    func(a, b Datum) int { return cmpInt64(int64(a.Char()), int64(b.Char())) },
		BinEnc: func(d Datum, buf []byte) []byte { return append(buf, d.Char()) },
		BinDec: func(b []byte) (Datum, int) { return FromChar(b[0]), 1 },
		Text:   func(d Datum) string { return fmt.Sprintf("%q", d.Char()) },
		Width:  1,
	},
	Int2: intFuncTable(func(d Datum) int64 { return int64(d.Int2()) }, func(i int64) Datum { return FromInt2(int16(i)) }),
	Int4: intFuncTable(func(d Datum) int64 { return int64(d.Int4()) }, func(i int64) Datum { return FromInt4(int32(i)) }),
	Int8: intFuncTable(func(d Datum) int64 { return d.Int8() }, func(i int64) Datum { return FromInt8(i) }),
	Float8: {
		Hash: func(d Datum) uint64 { return xxhash.Checksum64(floatBytes(d.Float8())) },
		Eq:   func(a, b Datum) bool { return a.Float8() == b.Float8() },
		Cmp: func(a, b Datum) int {
			switch {
			case a.Float8() < b.Float8():
				return -1
			case a.Float8() > b.Float8():
				return 1
			default:
				return 0
			}
		},
		BinEnc: func(d Datum, buf []byte) []byte {
			return encodeInt8Halves(int64(math.Float64bits(d.Float8())), buf)
		},
		BinDec: func(b []byte) (Datum, int) {
			bits := decodeInt8Halves(b)
			return FromFloat8(math.Float64frombits(uint64(bits))), 8
		},
		Text:  func(d Datum) string { return fmt.Sprintf("%g", d.Float8()) },
		Width: 8,
	},
	String: {
		Hash: func(d Datum) uint64 { return xxhash.Checksum64(d.StringBytes()) },
		Eq:   func(a, b Datum) bool { return string(a.StringBytes()) == string(b.StringBytes()) },
		Cmp: func(a, b Datum) int {
			as, bs := a.String(), b.String()
			switch {
			case as < bs:
				return -1
			case as > bs:
				return 1
			default:
				return 0
			}
		},
		BinEnc: func(d Datum, buf []byte) []byte {
			s := d.StringBytes()
			buf = appendU32(buf, uint32(len(s)))
			return append(buf, s...)
		},
		BinDec: func(b []byte) (Datum, int) {
			n := int(readU32(b))
			return FromStringBytes(b[4 : 4+n]), 4 + n
		},
		Text:  func(d Datum) string { return fmt.Sprintf("%q", d.String()) },
		Width: 0,
	},
}

// Funcs returns the precomputed function table for t. Called once per
// column when a Schema is built.
func Funcs(t Type) FuncTable { return tables[t] }

func intFuncTable(get func(Datum) int64, mk func(int64) Datum) FuncTable {
	return FuncTable{
		Hash: func(d Datum) uint64 { return uint64(get(d)) * 0x9E3779B185EBCA87 },
		Eq:   func(a, b Datum) bool { return get(a) == get(b) },
		Cmp:  func(a, b Datum) int { return cmpInt64(get(a), get(b)) },
		// The reference encoder dispatches every integer width through the
		// 8-byte int8 encoder; preserved here bit-exact rather than
		// switched to natively-sized encoding (see encodeInt8Halves).
		BinEnc: func(d Datum, buf []byte) []byte { return encodeInt8Halves(get(d), buf) },
		BinDec: func(b []byte) (Datum, int) { return mk(decodeInt8Halves(b)), 8 },
		Text:   func(d Datum) string { return fmt.Sprintf("%d", get(d)) },
		Width:  8,
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
func boolHash(b bool) uint64 { return uint64(boolInt(b)) }

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func floatBytes(f float64) []byte {
	var buf [8]byte
	bits := math.Float64bits(f)
	for i := 0; i < 8; i++ {
		buf[i] = byte(bits >> (56 - 8*i))
	}
	return buf[:]
}

// encodeInt8Halves writes i as two big-endian u32 halves, high half first,
// reproducing the original's int8 wire encoding bit for bit — every other
// integer width routes through this same halves encoding rather than its
// own natural width.
func encodeInt8Halves(i int64, buf []byte) []byte {
	hi := uint32(uint64(i) >> 32)
	lo := uint32(uint64(i))
	buf = appendU32(buf, hi)
	buf = appendU32(buf, lo)
	return buf
}

func decodeInt8Halves(b []byte) int64 {
	hi := readU32(b)
	lo := readU32(b[4:])
	return int64(uint64(hi)<<32 | uint64(lo))
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func readU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
