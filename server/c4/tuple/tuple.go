// Package tuple implements the refcounted row type that flows through
// catalogs, operator chains and the network transport, plus the slab
// allocator (Pool/Mgr) that recycles row storage across fixpoints.
package tuple

import (
	"fmt"
	"strings"

	"go.uber.org/atomic"

	"github.com/bloom-lang/c4/server/c4/datum"
	"github.com/bloom-lang/c4/server/c4/schema"
)

// Tuple is a refcounted, immutable-after-Make record of schema.Arity()
// datums. "Modification" is always copy-to-new-tuple (see Derive);
// Pin/Unpin adjust the refcount atomically because a tuple may be
// referenced concurrently by the router's buffers (on the runtime
// goroutine) and by an outbound send buffer captured by the network
// goroutine.
type Tuple struct {
	schema *schema.Schema
	vals   []datum.Datum
	rc     atomic.Int32
	pool   *Pool
}

// Make allocates a new Tuple of the given schema with refcount 1 (owned by
// the caller), drawing storage from mgr's pool for this arity.
func Make(mgr *Mgr, sch *schema.Schema, vals []datum.Datum) *Tuple {
	if len(vals) != sch.Arity() {
		panic(fmt.Sprintf("tuple: arity mismatch: schema wants %d, got %d", sch.Arity(), len(vals)))
	}
	p := mgr.poolFor(sch.Arity())
	t := p.Get()
	t.schema = sch
	copy(t.vals, vals)
	t.rc.Store(1)
	return t
}

// MakeDefault is Make against the process-wide default Mgr; used by code
// that doesn't need pool isolation (most of the runtime).
func MakeDefault(sch *schema.Schema, vals []datum.Datum) *Tuple {
	return Make(defaultMgr, sch, vals)
}

func (t *Tuple) Schema() *schema.Schema { return t.schema }
func (t *Tuple) Arity() int             { return len(t.vals) }
func (t *Tuple) Get(col int) datum.Datum { return t.vals[col] }
func (t *Tuple) Vals() []datum.Datum    { return t.vals }

// Pin bumps the refcount. Call once per reference the caller intends to
// hold (a buffer slot, a table entry, a callback argument in flight).
func (t *Tuple) Pin() {
	t.rc.Inc()
}

// Unpin releases one reference; at zero the Tuple returns to its pool's
// freelist. Unpinning below zero is an invariant violation — it indicates
// a double-free and panics rather than silently corrupting the freelist.
func (t *Tuple) Unpin() {
	n := t.rc.Dec()
	switch {
	case n > 0:
		return
	case n == 0:
		t.vals = t.vals[:0]
		t.vals = t.vals[:cap(t.vals)]
		for i := range t.vals {
			t.vals[i] = datum.Datum{}
		}
		pool := t.pool
		t.schema = nil
		pool.release(t)
	default:
		panic("tuple: refcount underflow — unpin called more times than pin")
	}
}

// RefCount reports the current refcount; used only by tests verifying that
// every pin is eventually matched by an unpin.
func (t *Tuple) RefCount() int32 { return t.rc.Load() }

// Equal compares two tuples column-by-column using the schema's per-type Eq
// functions. Tuples of different schemas are never equal.
func Equal(a, b *Tuple) bool {
	if a == b {
		return true
	}
	if !a.schema.Equal(b.schema) {
		return false
	}
	for i := range a.vals {
		if !a.schema.Funcs(i).Eq(a.vals[i], b.vals[i]) {
			return false
		}
	}
	return true
}

// Hash combines the per-column hash functions into a single content hash,
// used as the key for the in-memory table's hash-set and the aggregate
// operator's seen-tuple set (its group table is keyed by a hash of the
// group columns only).
func Hash(t *Tuple) uint64 {
	var h uint64 = 0x9E3779B97F4A7C15
	for i := range t.vals {
		h ^= t.schema.Funcs(i).Hash(t.vals[i]) + 0x9E3779B97F4A7C15 + (h << 6) + (h >> 2)
	}
	return h
}

// Derive builds a fresh Tuple of schema sch from base, exactly as
// MakeDefault does; it takes no per-column overrides.
func Derive(sch *schema.Schema, base []datum.Datum) *Tuple {
	return MakeDefault(sch, base)
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.vals))
	for i, d := range t.vals {
		parts[i] = t.schema.Funcs(i).Text(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
