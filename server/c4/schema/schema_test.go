package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bloom-lang/c4/server/c4/datum"
)

func TestNewSchemaBasics(t *testing.T) {
	s := New([]datum.Type{datum.Int8, datum.String}, -1)
	assert.Equal(t, 2, s.Arity())
	assert.False(t, s.HasLocSpec())
	assert.Equal(t, -1, s.LocCol)
}

func TestNewSchemaWithLocSpecColumn(t *testing.T) {
	s := New([]datum.Type{datum.String, datum.Int8}, 0)
	assert.True(t, s.HasLocSpec())
	assert.Equal(t, 0, s.LocCol)
	assert.True(t, s.Columns[0].IsLoc)
	assert.False(t, s.Columns[1].IsLoc)
}

func TestNewSchemaPanicsOnNonStringLocCol(t *testing.T) {
	assert.Panics(t, func() {
		New([]datum.Type{datum.Int8, datum.String}, 0)
	})
}

func TestSchemaFuncsMatchesColumnType(t *testing.T) {
	s := New([]datum.Type{datum.Int8, datum.String}, -1)
	ft := s.Funcs(1)
	assert.True(t, ft.Eq(datum.FromString("a"), datum.FromString("a")))
}

func TestSchemaEqual(t *testing.T) {
	a := New([]datum.Type{datum.Int8, datum.String}, -1)
	b := New([]datum.Type{datum.Int8, datum.String}, -1)
	c := New([]datum.Type{datum.Int8, datum.Int8}, -1)
	d := New([]datum.Type{datum.String, datum.String}, 0)

	assert.True(t, a.Equal(a))
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.False(t, a.Equal(nil))
}

func TestSchemaString(t *testing.T) {
	s := New([]datum.Type{datum.String, datum.Int8}, 0)
	assert.Equal(t, "(@string, int8)", s.String())

	noLoc := New([]datum.Type{datum.Int8, datum.Bool}, -1)
	assert.Equal(t, "(int8, bool)", noLoc.String())
}
