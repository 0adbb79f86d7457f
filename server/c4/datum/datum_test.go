package datum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeByName(t *testing.T) {
	cases := map[string]Type{
		"bool":   Bool,
		"char":   Char,
		"int2":   Int2,
		"int4":   Int4,
		"int8":   Int8,
		"float8": Float8,
		"double": Float8,
		"string": String,
	}
	for name, want := range cases {
		got, ok := TypeByName(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got)
	}

	_, ok := TypeByName("nope")
	assert.False(t, ok)
}

func TestTypeIsNumeric(t *testing.T) {
	assert.True(t, Int2.IsNumeric())
	assert.True(t, Int4.IsNumeric())
	assert.True(t, Int8.IsNumeric())
	assert.True(t, Float8.IsNumeric())
	assert.False(t, Bool.IsNumeric())
	assert.False(t, String.IsNumeric())
	assert.False(t, Char.IsNumeric())
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "int8", Int8.String())
	assert.Equal(t, "string", String.String())
	assert.Contains(t, Type(99).String(), "type(99)")
}

func TestIntAccessorsRoundTrip(t *testing.T) {
	assert.Equal(t, int16(-7), FromInt2(-7).Int2())
	assert.Equal(t, int32(1234567), FromInt4(1234567).Int4())
	assert.Equal(t, int64(-99999999999), FromInt8(-99999999999).Int8())
	assert.Equal(t, byte('x'), FromChar('x').Char())
	assert.True(t, FromBool(true).Bool())
	assert.False(t, FromBool(false).Bool())
	assert.Equal(t, 3.5, FromFloat8(3.5).Float8())
}

func TestStringAccessors(t *testing.T) {
	d := FromString("hello")
	assert.Equal(t, "hello", d.String())
	assert.Equal(t, []byte("hello"), d.StringBytes())

	b := []byte{'a', 'b', 'c'}
	d2 := FromStringBytes(b)
	b[0] = 'z'
	assert.Equal(t, "abc", d2.String(), "FromStringBytes must copy, not alias")
}

func TestZeroValueStringIsEmpty(t *testing.T) {
	var d Datum
	assert.Equal(t, "", d.String())
	assert.Nil(t, d.StringBytes())
}

func TestInt8FuncTableHashEqCmp(t *testing.T) {
	ft := Funcs(Int8)
	a := FromInt8(5)
	b := FromInt8(5)
	c := FromInt8(6)

	assert.True(t, ft.Eq(a, b))
	assert.False(t, ft.Eq(a, c))
	assert.Equal(t, ft.Hash(a), ft.Hash(b))
	assert.Equal(t, 0, ft.Cmp(a, b))
	assert.Equal(t, -1, ft.Cmp(a, c))
	assert.Equal(t, 1, ft.Cmp(c, a))
}

func TestInt8FuncTableBinCodecRoundTrip(t *testing.T) {
	ft := Funcs(Int8)
	for _, v := range []int64{0, 1, -1, 1 << 40, -(1 << 40), 9223372036854775807, -9223372036854775808} {
		buf := ft.BinEnc(FromInt8(v), nil)
		assert.Len(t, buf, 8)
		got, n := ft.BinDec(buf)
		assert.Equal(t, 8, n)
		assert.Equal(t, v, got.Int8())
	}
}

func TestStringFuncTableBinCodecRoundTrip(t *testing.T) {
	ft := Funcs(String)
	d := FromString("deductive database")
	buf := ft.BinEnc(d, nil)
	got, n := ft.BinDec(buf)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, "deductive database", got.String())
	assert.True(t, ft.Eq(d, got))
}

func TestFloat8FuncTableBinCodecRoundTrip(t *testing.T) {
	ft := Funcs(Float8)
	for _, v := range []float64{0, 1.5, -1.5, 3.14159265, -0.0001} {
		buf := ft.BinEnc(FromFloat8(v), nil)
		got, n := ft.BinDec(buf)
		assert.Equal(t, 8, n)
		assert.Equal(t, v, got.Float8())
	}
}

func TestBoolFuncTableBinCodecRoundTrip(t *testing.T) {
	ft := Funcs(Bool)
	for _, v := range []bool{true, false} {
		buf := ft.BinEnc(FromBool(v), nil)
		got, n := ft.BinDec(buf)
		assert.Equal(t, 1, n)
		assert.Equal(t, v, got.Bool())
	}
}

func TestCharFuncTableBinCodecRoundTrip(t *testing.T) {
	ft := Funcs(Char)
	buf := ft.BinEnc(FromChar('q'), nil)
	got, n := ft.BinDec(buf)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte('q'), got.Char())
}

func TestFuncTableTextRendersReadably(t *testing.T) {
	assert.Equal(t, "5", Funcs(Int8).Text(FromInt8(5)))
	assert.Equal(t, `"hi"`, Funcs(String).Text(FromString("hi")))
	assert.Equal(t, "true", Funcs(Bool).Text(FromBool(true)))
}

func TestInt2CmpOrdering(t *testing.T) {
	ft := Funcs(Int2)
	assert.Equal(t, -1, ft.Cmp(FromInt2(1), FromInt2(2)))
	assert.Equal(t, 1, ft.Cmp(FromInt2(2), FromInt2(1)))
	assert.Equal(t, 0, ft.Cmp(FromInt2(2), FromInt2(2)))
}
