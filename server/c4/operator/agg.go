package operator

import (
	"fmt"

	"github.com/bloom-lang/c4/server/c4/ast"
	"github.com/bloom-lang/c4/server/c4/datum"
	"github.com/bloom-lang/c4/server/c4/expr"
	"github.com/bloom-lang/c4/server/c4/plan"
	"github.com/bloom-lang/c4/server/c4/schema"
	"github.com/bloom-lang/c4/server/c4/tuple"
)

// seenTuple de-duplicates the exact rows an AggOp has been fed so a
// duplicate insert of the same derived input (the usual case under
// semi-naive re-evaluation) doesn't double-count into the running
// aggregate, mirroring the original's rset/tuple_set.
type seenTuple struct {
	t     *tuple.Tuple
	count int
}

// aggGroup is the running per-group state: how many (deduplicated) input
// rows are currently members, the accumulated aggregate value, and the
// most recently emitted output tuple (so a later change can retract it
// before installing its replacement — tuples are immutable, an update is
// always delete-old-then-insert-new).
type aggGroup struct {
	key       *tuple.Tuple // one representative member tuple, pinned
	count     int
	state     datum.Datum
	values    []datum.Datum // MIN/MAX only: every current member's input value
	outputTup *tuple.Tuple
}

// AggOp is the aggregate terminal node. Unlike InsertOp it never simply
// forwards a projected tuple: every input row changes exactly one group's
// running state, which is then re-emitted as a full delete-and-reinsert of
// that group's single output row.
type AggOp struct {
	TableName   string
	InSchema    *schema.Schema
	OutSchema   *schema.Schema
	GroupAttnos []int
	OutCols     []int
	AggOutCol   int
	Kind        ast.AggKind
	Input       *expr.Node
	DoDelete    bool

	seen   map[uint64][]*seenTuple
	groups map[uint64][]*aggGroup
}

func newAggOp(n *plan.Node) *AggOp {
	return &AggOp{
		TableName:   n.TableName,
		InSchema:    n.InSchema,
		OutSchema:   n.OutSchema,
		GroupAttnos: n.GroupAttnos,
		OutCols:     n.GroupOutCols,
		AggOutCol:   n.AggOutCol,
		Kind:        n.AggKind,
		Input:       n.AggInput,
		DoDelete:    n.DoDelete,
		seen:        make(map[uint64][]*seenTuple),
		groups:      make(map[uint64][]*aggGroup),
	}
}

func (a *AggOp) Invoke(rt Router, t *tuple.Tuple) {
	// Same polarity flip as InsertOp: DoDelete carries this chain's driving
	// join's negated flag, rt.IsDeleting reports whether the seed tuple
	// itself is a removal, and the two XOR into whether this invocation
	// adds or removes a member of its group.
	deleting := a.DoDelete
	if rt.IsDeleting() {
		deleting = !deleting
	}
	if !a.admit(t, deleting) {
		return
	}
	if deleting {
		a.retract(rt, t)
	} else {
		a.accumulate(rt, t)
	}
}

// admit applies tuple_set dedup: on insert, a repeat of an already-seen row
// just bumps its refcount and does no further work; on delete, a row only
// actually leaves the group once its refcount reaches zero.
func (a *AggOp) admit(t *tuple.Tuple, deleting bool) bool {
	h := tuple.Hash(t)
	bucket := a.seen[h]
	if deleting {
		for i, e := range bucket {
			if tuple.Equal(e.t, t) {
				e.count--
				if e.count == 0 {
					e.t.Unpin()
					a.seen[h] = append(bucket[:i], bucket[i+1:]...)
					return true
				}
				return false
			}
		}
		return false
	}
	for _, e := range bucket {
		if tuple.Equal(e.t, t) {
			e.count++
			return false
		}
	}
	t.Pin()
	a.seen[h] = append(bucket, &seenTuple{t: t, count: 1})
	return true
}

func (a *AggOp) groupHash(t *tuple.Tuple) uint64 {
	var h uint64 = 37
	for _, col := range a.GroupAttnos {
		h ^= a.InSchema.Funcs(col).Hash(t.Get(col))
	}
	return h
}

func (a *AggOp) groupEqual(g *aggGroup, t *tuple.Tuple) bool {
	for _, col := range a.GroupAttnos {
		if !a.InSchema.Funcs(col).Eq(g.key.Get(col), t.Get(col)) {
			return false
		}
	}
	return true
}

func (a *AggOp) findGroup(t *tuple.Tuple) (*aggGroup, uint64) {
	h := a.groupHash(t)
	for _, g := range a.groups[h] {
		if a.groupEqual(g, t) {
			return g, h
		}
	}
	return nil, h
}

func (a *AggOp) accumulate(rt Router, t *tuple.Tuple) {
	val := expr.Eval(a.Input, &expr.Context{Inner: t, Outer: t})
	typ := a.Input.ResultType

	g, h := a.findGroup(t)
	if g == nil {
		g = &aggGroup{key: t, count: 1, state: aggInit(a.Kind, val)}
		if a.Kind == ast.AggMin || a.Kind == ast.AggMax {
			g.values = []datum.Datum{val}
		}
		t.Pin()
		a.groups[h] = append(a.groups[h], g)
		a.emit(rt, g)
		return
	}

	g.count++
	switch a.Kind {
	case ast.AggMin, ast.AggMax:
		g.values = append(g.values, val)
		g.state = aggInit(a.Kind, g.values[0])
		for _, v := range g.values[1:] {
			g.state = aggFwd(a.Kind, g.state, v, typ)
		}
	default:
		g.state = aggFwd(a.Kind, g.state, val, typ)
	}
	a.emit(rt, g)
}

func (a *AggOp) retract(rt Router, t *tuple.Tuple) {
	g, h := a.findGroup(t)
	if g == nil {
		return
	}
	val := expr.Eval(a.Input, &expr.Context{Inner: t, Outer: t})
	typ := a.Input.ResultType

	g.count--
	if g.count == 0 {
		if g.outputTup != nil {
			rt.DeleteTuple(a.TableName, g.outputTup)
			g.outputTup.Unpin()
		}
		bucket := a.groups[h]
		for i, cand := range bucket {
			if cand == g {
				a.groups[h] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		g.key.Unpin()
		return
	}

	switch a.Kind {
	case ast.AggMin, ast.AggMax:
		eq := datum.Funcs(typ).Eq
		for i, v := range g.values {
			if eq(v, val) {
				g.values = append(g.values[:i], g.values[i+1:]...)
				break
			}
		}
		g.state = g.values[0]
		for _, v := range g.values[1:] {
			g.state = aggFwd(a.Kind, g.state, v, typ)
		}
	default:
		g.state = aggBwd(a.Kind, g.state, val, typ)
	}
	a.emit(rt, g)
}

func (a *AggOp) emit(rt Router, g *aggGroup) {
	if g.outputTup != nil {
		rt.DeleteTuple(a.TableName, g.outputTup)
		g.outputTup.Unpin()
		g.outputTup = nil
	}

	vals := make([]datum.Datum, len(a.OutSchema.Columns))
	for i, outCol := range a.OutCols {
		vals[outCol] = g.key.Get(a.GroupAttnos[i])
	}
	vals[a.AggOutCol] = finalizeAgg(a.Kind, g.state, g.count, a.Input.ResultType)

	g.outputTup = tuple.MakeDefault(a.OutSchema, vals)
	rt.InsertTuple(a.TableName, g.outputTup, true)
}

func aggInit(kind ast.AggKind, v datum.Datum) datum.Datum {
	if kind == ast.AggCount {
		return datum.FromInt8(1)
	}
	return v
}

func aggFwd(kind ast.AggKind, state, v datum.Datum, t datum.Type) datum.Datum {
	switch kind {
	case ast.AggCount:
		return datum.FromInt8(state.Int8() + 1)
	case ast.AggSum, ast.AggAvg:
		return numAdd(t, state, v)
	case ast.AggMin:
		return numMin(t, state, v)
	case ast.AggMax:
		return numMax(t, state, v)
	default:
		panic(fmt.Sprintf("operator: unrecognized aggregate kind %s", kind))
	}
}

func aggBwd(kind ast.AggKind, state, v datum.Datum, t datum.Type) datum.Datum {
	switch kind {
	case ast.AggCount:
		return datum.FromInt8(state.Int8() - 1)
	case ast.AggSum, ast.AggAvg:
		return numSub(t, state, v)
	default:
		panic(fmt.Sprintf("operator: %s has no incremental retraction path", kind))
	}
}

// finalizeAgg turns running state into the value actually stored in the
// output tuple; only AVG differs from its running state (a sum) at
// emit time, since there's no single running-average that stays correct
// under both forward and backward transitions.
func finalizeAgg(kind ast.AggKind, state datum.Datum, count int, t datum.Type) datum.Datum {
	if kind != ast.AggAvg {
		return state
	}
	return numDivInt(state, int64(count), t)
}

func numAdd(t datum.Type, a, b datum.Datum) datum.Datum {
	if t == datum.Float8 {
		return datum.FromFloat8(a.Float8() + b.Float8())
	}
	return datum.FromInt8(a.Int8() + b.Int8())
}

func numSub(t datum.Type, a, b datum.Datum) datum.Datum {
	if t == datum.Float8 {
		return datum.FromFloat8(a.Float8() - b.Float8())
	}
	return datum.FromInt8(a.Int8() - b.Int8())
}

func numMin(t datum.Type, a, b datum.Datum) datum.Datum {
	if t == datum.Float8 {
		if b.Float8() < a.Float8() {
			return b
		}
		return a
	}
	if b.Int8() < a.Int8() {
		return b
	}
	return a
}

func numMax(t datum.Type, a, b datum.Datum) datum.Datum {
	if t == datum.Float8 {
		if b.Float8() > a.Float8() {
			return b
		}
		return a
	}
	if b.Int8() > a.Int8() {
		return b
	}
	return a
}

func numDivInt(sum datum.Datum, count int64, t datum.Type) datum.Datum {
	if count == 0 {
		return sum
	}
	if t == datum.Float8 {
		return datum.FromFloat8(sum.Float8() / float64(count))
	}
	return datum.FromFloat8(float64(sum.Int8()) / float64(count))
}
