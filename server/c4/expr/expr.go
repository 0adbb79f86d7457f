// Package expr is the compiled runtime expression tree that operators
// evaluate against the current inner/outer tuple pair. Nodes are produced
// by the planner's "fix up expressions" pass, which resolves every
// VarExpr to a (attno, is_outer) pair before an operator ever sees it.
package expr

import (
	"fmt"

	"github.com/bloom-lang/c4/server/c4/ast"
	"github.com/bloom-lang/c4/server/c4/datum"
	"github.com/bloom-lang/c4/server/c4/tuple"
)

type Kind int

const (
	KindConst Kind = iota
	KindVar
	KindOp
)

// Node is the compiled form of an ast.Expr. ExprVar carries the attno/
// is_outer pair the original C implementation uses to avoid a name lookup
// on every evaluation.
type Node struct {
	Kind Kind

	// KindConst
	Const datum.Datum

	// KindVar
	Attno   int
	IsOuter bool

	// KindOp
	Op          ast.OpKind
	Left, Right *Node
	// OperandType selects the per-type dispatch table entry for binary/
	// unary ops (e.g. "+" on string vs f64 vs i8); ResultType is what the
	// node itself evaluates to (Bool for comparisons, OperandType for
	// arithmetic).
	OperandType datum.Type
	ResultType  datum.Type
}

// Context pairs the current inner and outer tuple a chain of operators is
// evaluating against; Scan sets Inner to the row it is currently iterating
// and Outer to the running tuple that flowed in from upstream. Filter,
// Insert and Agg set both to their input tuple.
type Context struct {
	Inner *tuple.Tuple
	Outer *tuple.Tuple
}

// Eval interprets a compiled Node against ctx. The dispatch on Kind/Op/
// OperandType plays the role of the source's small per-type evaluator
// table.
func Eval(n *Node, ctx *Context) datum.Datum {
	switch n.Kind {
	case KindConst:
		return n.Const
	case KindVar:
		t := ctx.Inner
		if n.IsOuter {
			t = ctx.Outer
		}
		return t.Get(n.Attno)
	case KindOp:
		if n.Op == ast.OpNeg {
			return negate(Eval(n.Left, ctx), n.OperandType)
		}
		l := Eval(n.Left, ctx)
		r := Eval(n.Right, ctx)
		return applyBinary(n.Op, n.OperandType, l, r)
	default:
		panic(fmt.Sprintf("expr: unrecognized node kind %d", n.Kind))
	}
}

// EvalQualSet evaluates a conjunction of boolean Nodes, short-circuiting on
// the first false — the source's "eval_qual_set".
func EvalQualSet(quals []*Node, ctx *Context) bool {
	for _, q := range quals {
		if !Eval(q, ctx).Bool() {
			return false
		}
	}
	return true
}

func negate(d datum.Datum, t datum.Type) datum.Datum {
	switch t {
	case datum.Int2:
		return datum.FromInt2(-d.Int2())
	case datum.Int4:
		return datum.FromInt4(-d.Int4())
	case datum.Int8:
		return datum.FromInt8(-d.Int8())
	case datum.Float8:
		return datum.FromFloat8(-d.Float8())
	default:
		panic(fmt.Sprintf("expr: unary minus not defined for %s", t))
	}
}

func applyBinary(op ast.OpKind, t datum.Type, l, r datum.Datum) datum.Datum {
	funcs := datum.Funcs(t)
	switch op {
	case ast.OpEq:
		return datum.FromBool(funcs.Eq(l, r))
	case ast.OpNe:
		return datum.FromBool(!funcs.Eq(l, r))
	case ast.OpLt:
		return datum.FromBool(funcs.Cmp(l, r) < 0)
	case ast.OpLe:
		return datum.FromBool(funcs.Cmp(l, r) <= 0)
	case ast.OpGt:
		return datum.FromBool(funcs.Cmp(l, r) > 0)
	case ast.OpGe:
		return datum.FromBool(funcs.Cmp(l, r) >= 0)
	case ast.OpAdd:
		if t == datum.String {
			return datum.FromString(l.String() + r.String())
		}
		return arith(t, l, r, func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b })
	case ast.OpSub:
		return arith(t, l, r, func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b })
	case ast.OpMul:
		return arith(t, l, r, func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })
	case ast.OpDiv:
		return arith(t, l, r, func(a, b int64) int64 { return a / b }, func(a, b float64) float64 { return a / b })
	case ast.OpMod:
		return arith(t, l, r, func(a, b int64) int64 { return a % b }, func(a, b float64) float64 {
			panic("expr: modulus is only defined for integer types")
		})
	default:
		panic(fmt.Sprintf("expr: unrecognized operator %d", op))
	}
}

func arith(t datum.Type, l, r datum.Datum, iop func(a, b int64) int64, fop func(a, b float64) float64) datum.Datum {
	switch t {
	case datum.Int2:
		return datum.FromInt2(int16(iop(int64(l.Int2()), int64(r.Int2()))))
	case datum.Int4:
		return datum.FromInt4(int32(iop(int64(l.Int4()), int64(r.Int4()))))
	case datum.Int8:
		return datum.FromInt8(iop(l.Int8(), r.Int8()))
	case datum.Float8:
		return datum.FromFloat8(fop(l.Float8(), r.Float8()))
	default:
		panic(fmt.Sprintf("expr: arithmetic not defined for %s", t))
	}
}
