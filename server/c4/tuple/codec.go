package tuple

import (
	"github.com/bloom-lang/c4/server/c4/datum"
	"github.com/bloom-lang/c4/server/c4/schema"
)

// EncodeBinary appends the per-column binary encoding of every datum in t,
// in column order, to buf. This is the tuple *body* format used both for
// wire frames (net/wire.go) and for the SQLite storage backend's row
// payload — §4.7's per-column encoding rules apply identically to both.
func EncodeBinary(t *Tuple, buf []byte) []byte {
	for i, d := range t.vals {
		buf = t.schema.Funcs(i).BinEnc(d, buf)
	}
	return buf
}

// DecodeBinary parses a tuple body written by EncodeBinary back into a
// fresh Tuple of the given schema.
func DecodeBinary(sch *schema.Schema, body []byte) *Tuple {
	vals := make([]datum.Datum, sch.Arity())
	off := 0
	for i := 0; i < sch.Arity(); i++ {
		d, n := sch.Funcs(i).BinDec(body[off:])
		vals[i] = d
		off += n
	}
	return MakeDefault(sch, vals)
}
