package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloom-lang/c4/server/c4/ast"
	"github.com/bloom-lang/c4/server/c4/datum"
	"github.com/bloom-lang/c4/server/c4/expr"
	"github.com/bloom-lang/c4/server/c4/plan"
	"github.com/bloom-lang/c4/server/c4/schema"
	"github.com/bloom-lang/c4/server/c4/tuple"
)

type recordingRouter struct {
	deleting bool
	inserts  []*tuple.Tuple
	deletes  []*tuple.Tuple
}

func (r *recordingRouter) InsertTuple(tableName string, t *tuple.Tuple, checkRemote bool) {
	t.Pin()
	r.inserts = append(r.inserts, t)
}
func (r *recordingRouter) DeleteTuple(tableName string, t *tuple.Tuple) {
	t.Pin()
	r.deletes = append(r.deletes, t)
}
func (r *recordingRouter) IsDeleting() bool { return r.deleting }

// newTestAggOp builds a single-group-column, single-aggregate-column AggOp
// over a two-column (group, value) input schema, mirroring how the planner
// lays out c(X, count(Y)) :- b(X, Y).
func newTestAggOp(kind ast.AggKind) (*AggOp, *schema.Schema) {
	inSchema := schema.New([]datum.Type{datum.Int8, datum.Int8}, -1)
	outSchema := schema.New([]datum.Type{datum.Int8, datum.Int8}, -1)
	n := &plan.Node{
		Kind:         plan.NodeAgg,
		TableName:    "c",
		InSchema:     inSchema,
		OutSchema:    outSchema,
		GroupAttnos:  []int{0},
		GroupOutCols: []int{0},
		AggOutCol:    1,
		AggKind:      kind,
		AggInput:     &expr.Node{Kind: expr.KindVar, Attno: 1, ResultType: datum.Int8},
	}
	return newAggOp(n), inSchema
}

func row(sch *schema.Schema, group, val int64) *tuple.Tuple {
	return tuple.MakeDefault(sch, []datum.Datum{datum.FromInt8(group), datum.FromInt8(val)})
}

func TestAggOpCountAccumulatesAndEmitsPerGroup(t *testing.T) {
	a, sch := newTestAggOp(ast.AggCount)
	rt := &recordingRouter{}

	r1 := row(sch, 1, 10)
	defer r1.Unpin()
	a.Invoke(rt, r1)
	r2 := row(sch, 1, 20)
	defer r2.Unpin()
	a.Invoke(rt, r2)

	require.Len(t, rt.inserts, 2)
	// first emit: count=1, second emit retracts it and inserts count=2
	require.Len(t, rt.deletes, 1)
	assert.Equal(t, int64(2), rt.inserts[1].Get(1).Int8())
}

func TestAggOpCountRetractsOnDelete(t *testing.T) {
	a, sch := newTestAggOp(ast.AggCount)
	rt := &recordingRouter{}

	r1 := row(sch, 1, 10)
	defer r1.Unpin()
	a.Invoke(rt, r1)

	rt.deleting = true
	a.Invoke(rt, r1)

	require.Len(t, rt.inserts, 1) // only the original count=1 emit
	require.Len(t, rt.deletes, 1) // group emptied: its one output row is retracted, no reinsert
}

func TestAggOpSeenMapSuppressesExactDuplicate(t *testing.T) {
	a, sch := newTestAggOp(ast.AggCount)
	rt := &recordingRouter{}

	r1 := row(sch, 1, 10)
	defer r1.Unpin()
	dup := row(sch, 1, 10)
	defer dup.Unpin()

	a.Invoke(rt, r1)
	a.Invoke(rt, dup) // exact duplicate row: admit() must not re-accumulate

	require.Len(t, rt.inserts, 1)
	assert.Equal(t, int64(1), rt.inserts[0].Get(1).Int8())
}

func TestAggOpSumAccumulateAndRetract(t *testing.T) {
	a, sch := newTestAggOp(ast.AggSum)
	rt := &recordingRouter{}

	r1 := row(sch, 1, 10)
	defer r1.Unpin()
	r2 := row(sch, 1, 20)
	defer r2.Unpin()
	a.Invoke(rt, r1)
	a.Invoke(rt, r2)
	require.Equal(t, int64(30), rt.inserts[len(rt.inserts)-1].Get(1).Int8())

	rt.deleting = true
	a.Invoke(rt, r1)
	require.Equal(t, int64(20), rt.inserts[len(rt.inserts)-1].Get(1).Int8())
}

func TestAggOpMaxRecomputesFromValuesOnRetract(t *testing.T) {
	a, sch := newTestAggOp(ast.AggMax)
	rt := &recordingRouter{}

	r1 := row(sch, 1, 5)
	defer r1.Unpin()
	r2 := row(sch, 1, 9)
	defer r2.Unpin()
	r3 := row(sch, 1, 3)
	defer r3.Unpin()
	a.Invoke(rt, r1)
	a.Invoke(rt, r2)
	a.Invoke(rt, r3)
	assert.Equal(t, int64(9), rt.inserts[len(rt.inserts)-1].Get(1).Int8())

	rt.deleting = true
	a.Invoke(rt, r2) // remove the current max; must recompute from remaining values
	assert.Equal(t, int64(5), rt.inserts[len(rt.inserts)-1].Get(1).Int8())
}

func TestAggOpAvgDividesRunningSumAtEmit(t *testing.T) {
	a, sch := newTestAggOp(ast.AggAvg)
	rt := &recordingRouter{}

	r1 := row(sch, 1, 10)
	defer r1.Unpin()
	r2 := row(sch, 1, 20)
	defer r2.Unpin()
	a.Invoke(rt, r1)
	a.Invoke(rt, r2)

	assert.Equal(t, float64(15), rt.inserts[len(rt.inserts)-1].Get(1).Float8())
}

func TestAggOpDistinctGroupsEmitIndependently(t *testing.T) {
	a, sch := newTestAggOp(ast.AggCount)
	rt := &recordingRouter{}

	g1 := row(sch, 1, 10)
	defer g1.Unpin()
	g2 := row(sch, 2, 10)
	defer g2.Unpin()
	a.Invoke(rt, g1)
	a.Invoke(rt, g2)

	require.Len(t, rt.inserts, 2)
	assert.Equal(t, int64(1), rt.inserts[0].Get(0).Int8())
	assert.Equal(t, int64(2), rt.inserts[1].Get(0).Int8())
}

func TestAggOpPolarityXORFlipsDeletingIntoAccumulate(t *testing.T) {
	a, sch := newTestAggOp(ast.AggCount)
	a.DoDelete = true // negated-join chain: DoDelete XOR IsDeleting(true) = false -> accumulate
	rt := &recordingRouter{deleting: true}

	r1 := row(sch, 1, 10)
	defer r1.Unpin()
	a.Invoke(rt, r1)

	require.Len(t, rt.inserts, 1)
	assert.Empty(t, rt.deletes)
}
