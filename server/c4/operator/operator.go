// Package operator builds and executes the live operator chains the
// router drives on every delta tuple. A Chain mirrors one plan.OpChainPlan:
// a sequence of Filter/Scan nodes followed by a terminal Insert or Agg node,
// each holding a reference to the next so a Scan can fan a single input
// tuple out to many downstream invocations.
package operator

import (
	"github.com/pingcap/errors"

	"github.com/bloom-lang/c4/server/c4/catalog"
	"github.com/bloom-lang/c4/server/c4/datum"
	"github.com/bloom-lang/c4/server/c4/expr"
	"github.com/bloom-lang/c4/server/c4/plan"
	"github.com/bloom-lang/c4/server/c4/schema"
	"github.com/bloom-lang/c4/server/c4/storage"
	"github.com/bloom-lang/c4/server/c4/tuple"
)

// Router is the subset of the router's API an operator chain needs to ship
// its output onward. Defined here (rather than imported from package
// router) so operator and router can depend on each other's behavior
// without an import cycle: router owns the concrete implementation.
type Router interface {
	InsertTuple(tableName string, t *tuple.Tuple, checkRemote bool)
	DeleteTuple(tableName string, t *tuple.Tuple)
	IsDeleting() bool
}

// Op is one node of a compiled chain.
type Op interface {
	Invoke(rt Router, t *tuple.Tuple)
}

// Chain is a fully materialized OpChainPlan, ready to be driven by the
// router once per tuple inserted into or deleted from DrivingTable.
type Chain struct {
	RuleName     string
	DrivingTable string
	DrivingJoin  int
	Head         Op
}

// Invoke runs the chain against a seed tuple freshly inserted into (or
// deleted from, per rt.IsDeleting) DrivingTable.
func (c *Chain) Invoke(rt Router, seed *tuple.Tuple) {
	c.Head.Invoke(rt, seed)
}

// Build compiles a plan.OpChainPlan into a live Chain, resolving every
// Scan node's table name against cat.
func Build(p *plan.OpChainPlan, cat *catalog.Catalog) (*Chain, error) {
	terminal, err := buildTerminal(p.Terminal, cat)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var head Op = terminal
	for i := len(p.Nodes) - 1; i >= 0; i-- {
		n := p.Nodes[i]
		op, err := buildNode(n, head, cat)
		if err != nil {
			return nil, errors.Trace(err)
		}
		head = op
	}

	return &Chain{
		RuleName:     p.RuleName,
		DrivingTable: p.DrivingTable,
		DrivingJoin:  p.DrivingJoin,
		Head:         head,
	}, nil
}

func buildNode(n *plan.Node, next Op, cat *catalog.Catalog) (Op, error) {
	switch n.Kind {
	case plan.NodeFilter:
		return &FilterOp{Quals: n.Quals, Next: next}, nil
	case plan.NodeScan:
		def, ok := cat.Lookup(n.TableName)
		if !ok {
			return nil, errors.Errorf("operator: scan references undefined table %q", n.TableName)
		}
		return &ScanOp{
			TableName: n.TableName,
			Table:     def.Table,
			Quals:     n.Quals,
			Proj:      n.Proj,
			OutSchema: n.OutSchema,
			Negated:   n.Negated,
			Next:      next,
		}, nil
	default:
		return nil, errors.Errorf("operator: unexpected non-terminal node kind %s", n.Kind)
	}
}

func buildTerminal(n *plan.Node, cat *catalog.Catalog) (Op, error) {
	if _, ok := cat.Lookup(n.TableName); !ok {
		return nil, errors.Errorf("operator: rule head references undefined table %q", n.TableName)
	}
	switch n.Kind {
	case plan.NodeInsert:
		return &InsertOp{
			TableName: n.TableName,
			OutSchema: n.OutSchema,
			Proj:      n.Proj,
			SkipProj:  n.SkipProj,
			DoDelete:  n.DoDelete,
		}, nil
	case plan.NodeAgg:
		return newAggOp(n), nil
	default:
		return nil, errors.Errorf("operator: unexpected terminal node kind %s", n.Kind)
	}
}

// FilterOp drops the running tuple unless every qual holds.
type FilterOp struct {
	Quals []*expr.Node
	Next  Op
}

func (f *FilterOp) Invoke(rt Router, t *tuple.Tuple) {
	ctx := &expr.Context{Inner: t, Outer: t}
	if expr.EvalQualSet(f.Quals, ctx) {
		f.Next.Invoke(rt, t)
	}
}

// ScanOp joins the running (outer) tuple against the current contents of
// Table. A non-negated scan emits one combined tuple per matching row; a
// negated scan (anti-join) emits the outer tuple unchanged iff no row
// matches, and nothing at all otherwise.
type ScanOp struct {
	TableName string
	Table     storage.Table
	Quals     []*expr.Node
	Proj      []*expr.Node
	OutSchema *schema.Schema
	Negated   bool
	Next      Op
}

func (s *ScanOp) Invoke(rt Router, outer *tuple.Tuple) {
	cur, err := s.Table.Scan()
	if err != nil {
		return
	}
	defer cur.Close()

	for {
		inner, ok := cur.Next()
		if !ok {
			break
		}
		ctx := &expr.Context{Inner: inner, Outer: outer}
		matched := expr.EvalQualSet(s.Quals, ctx)
		if s.Negated {
			if matched {
				return // a single match kills the whole outer tuple
			}
			continue
		}
		if !matched {
			continue
		}
		vals := make([]datum.Datum, len(s.Proj))
		for i, p := range s.Proj {
			vals[i] = expr.Eval(p, ctx)
		}
		combined := tuple.MakeDefault(s.OutSchema, vals)
		s.Next.Invoke(rt, combined)
		combined.Unpin()
	}

	if s.Negated {
		s.Next.Invoke(rt, outer)
	}
}

// InsertOp is the non-aggregate terminal node: it projects the running
// tuple into the rule head's schema and routes it, as an insert or (for a
// rule driven by a negated join) a delete.
type InsertOp struct {
	TableName string
	OutSchema *schema.Schema
	Proj      []*expr.Node
	SkipProj  bool
	DoDelete  bool
}

func (ins *InsertOp) Invoke(rt Router, t *tuple.Tuple) {
	var vals []datum.Datum
	if ins.SkipProj {
		vals = t.Vals()
	} else {
		ctx := &expr.Context{Inner: t, Outer: t}
		vals = make([]datum.Datum, len(ins.Proj))
		for i, p := range ins.Proj {
			vals[i] = expr.Eval(p, ctx)
		}
	}
	out := tuple.MakeDefault(ins.OutSchema, vals)
	// A rule driven by a negated join runs its polarity backwards: a new
	// row appearing in the negated relation retracts whatever this rule
	// previously derived, and a row disappearing from it re-derives what
	// was wrongly excluded. DoDelete carries the join's negated flag;
	// IsDeleting carries whether the *driving* tuple itself was a
	// removal, so the two XOR together into the actual action taken here.
	doDelete := ins.DoDelete
	if rt.IsDeleting() {
		doDelete = !doDelete
	}
	if doDelete {
		rt.DeleteTuple(ins.TableName, out)
	} else {
		rt.InsertTuple(ins.TableName, out, true)
	}
	out.Unpin()
}
