// Package schema defines the immutable, ordered column list shared by every
// tuple of a table, along with the precomputed per-column function tables
// that let tuple/catalog/operator code stay generic over Go types.
package schema

import (
	"fmt"
	"strings"

	"github.com/bloom-lang/c4/server/c4/datum"
)

// Column is one (type, is-location-spec) pair.
type Column struct {
	Type    datum.Type
	IsLoc   bool
	funcs   datum.FuncTable
}

// Schema is an immutable ordered sequence of columns. Two Schemas with the
// same column types are interchangeable but not `==`-comparable; compare
// via Equal.
type Schema struct {
	Columns []Column
	LocCol  int // index of the location-spec column, or -1
}

// New builds a Schema from column types, marking at most one column as the
// location specifier (locCol == -1 for none). Panics if locCol names a
// non-String column — callers (the analyzer) are expected to validate this
// before construction, since by the time a Schema exists the program has
// already been accepted.
func New(types []datum.Type, locCol int) *Schema {
	if locCol >= 0 && types[locCol] != datum.String {
		panic(fmt.Sprintf("schema: location-spec column %d must be string, got %s", locCol, types[locCol]))
	}
	cols := make([]Column, len(types))
	for i, t := range types {
		cols[i] = Column{Type: t, IsLoc: i == locCol, funcs: datum.Funcs(t)}
	}
	return &Schema{Columns: cols, LocCol: locCol}
}

func (s *Schema) Arity() int { return len(s.Columns) }

func (s *Schema) HasLocSpec() bool { return s.LocCol >= 0 }

func (s *Schema) Funcs(col int) datum.FuncTable { return s.Columns[col].funcs }

// Equal checks whether two schemas describe the same row shape (types and
// location column), used to decide whether two tuples can be compared or a
// TuplePool reused.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if o == nil || len(s.Columns) != len(o.Columns) || s.LocCol != o.LocCol {
		return false
	}
	for i, c := range s.Columns {
		if c.Type != o.Columns[i].Type {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	parts := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		if c.IsLoc {
			parts[i] = "@" + c.Type.String()
		} else {
			parts[i] = c.Type.String()
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
