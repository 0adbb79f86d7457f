package analyzer

import (
	"github.com/pingcap/errors"

	"github.com/bloom-lang/c4/server/c4/ast"
	"github.com/bloom-lang/c4/server/c4/datum"
	"github.com/bloom-lang/c4/server/c4/schema"
)

// inferType computes the result type of a qualifier/head expression.
// allowAgg governs whether an AggExpr may occur at this position — true
// only for the immediate top level of a head column, per the aggregate
// placement rule: an aggregate call may not be nested inside another
// expression.
func inferType(e ast.Expr, ctx *ruleCtx, allowAgg bool) (datum.Type, error) {
	switch n := e.(type) {
	case *ast.ConstExpr:
		switch n.Kind {
		case ast.ConstBool:
			return datum.Bool, nil
		case ast.ConstChar:
			return datum.Char, nil
		case ast.ConstInt:
			return datum.Int8, nil
		case ast.ConstFloat:
			return datum.Float8, nil
		case ast.ConstString:
			return datum.String, nil
		}
		return 0, errors.Errorf("unrecognized constant kind")

	case *ast.VarExpr:
		if n.Name == "_" {
			return 0, errors.Errorf("'_' may not be used outside a join clause")
		}
		t, ok := ctx.varType[n.Name]
		if !ok {
			return 0, errors.Errorf("undefined variable %q", n.Name)
		}
		return t, nil

	case *ast.OpExpr:
		if n.Kind == ast.OpNeg {
			t, err := inferType(n.Left, ctx, false)
			if err != nil {
				return 0, err
			}
			if !t.IsNumeric() {
				return 0, errors.Errorf("unary minus requires a numeric operand, got %s", t)
			}
			return t, nil
		}

		lt, err := inferType(n.Left, ctx, false)
		if err != nil {
			return 0, err
		}
		rt, err := inferType(n.Right, ctx, false)
		if err != nil {
			return 0, err
		}

		switch n.Kind {
		case ast.OpAdd:
			if lt == datum.String && rt == datum.String {
				return datum.String, nil // string "+" is concatenation
			}
			if lt != rt {
				return 0, errors.Errorf("operand types must match exactly, got %s and %s", lt, rt)
			}
			if !lt.IsNumeric() {
				return 0, errors.Errorf("'+' requires numeric (or string) operands, got %s", lt)
			}
			return lt, nil
		case ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod:
			if lt != rt {
				return 0, errors.Errorf("operand types must match exactly, got %s and %s", lt, rt)
			}
			if !lt.IsNumeric() {
				return 0, errors.Errorf("arithmetic requires numeric operands, got %s", lt)
			}
			return lt, nil
		case ast.OpEq, ast.OpNe:
			if lt != rt {
				return 0, errors.Errorf("operand types must match exactly, got %s and %s", lt, rt)
			}
			return datum.Bool, nil
		case ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
			if lt != rt {
				return 0, errors.Errorf("operand types must match exactly, got %s and %s", lt, rt)
			}
			return datum.Bool, nil
		default:
			return 0, errors.Errorf("unrecognized operator")
		}

	case *ast.AggExpr:
		if !allowAgg {
			return 0, errors.Errorf("aggregate expressions may only appear at the top level of a rule-head column")
		}
		inputType, err := inferType(n.Input, ctx, false)
		if err != nil {
			return 0, err
		}
		switch n.Kind {
		case ast.AggCount:
			return datum.Int8, nil
		case ast.AggSum, ast.AggMin, ast.AggMax, ast.AggAvg:
			if !inputType.IsNumeric() {
				return 0, errors.Errorf("%s() requires a numeric input, got %s", n.Kind, inputType)
			}
			return inputType, nil
		default:
			return 0, errors.Errorf("unrecognized aggregate kind")
		}

	default:
		return 0, errors.Errorf("unrecognized expression node")
	}
}

func inferHeadColType(e ast.Expr, ctx *ruleCtx) (datum.Type, error) {
	return inferType(e, ctx, true)
}

func collectHeadVars(e ast.Expr, out map[string]bool) {
	switch n := e.(type) {
	case *ast.VarExpr:
		out[n.Name] = true
	case *ast.OpExpr:
		if n.Left != nil {
			collectHeadVars(n.Left, out)
		}
		if n.Right != nil {
			collectHeadVars(n.Right, out)
		}
	case *ast.AggExpr:
		collectHeadVars(n.Input, out)
	}
}

func usedInQuals(varName string, quals []ast.Expr) bool {
	for _, q := range quals {
		seen := make(map[string]bool)
		collectHeadVars(q, seen)
		if seen[varName] {
			return true
		}
	}
	return false
}

// bodyLocationSpec finds the (at most one) distinct location-specifier
// variable referenced across the rule's body joins, rejecting a rule whose
// body mixes more than one.
func bodyLocationSpec(r *ast.Rule, ctx *ruleCtx, lookup SchemaLookup) (root string, constVal *ast.ConstExpr, err error) {
	root = ""
	haveRoot := false
	for _, j := range r.Joins {
		sch, ok := lookup(j.Ref.Name)
		if !ok || !sch.HasLocSpec() {
			continue
		}
		ve, ok := j.Ref.Cols[sch.LocCol].(*ast.VarExpr)
		if !ok {
			continue
		}
		r2 := ctx.uf.find(ve.Name)
		if !haveRoot {
			root = r2
			haveRoot = true
			continue
		}
		if r2 != root {
			return "", nil, errors.Errorf("analyzer: rule %q: at most one distinct location specifier may appear in a rule body", r.Name)
		}
	}
	if !haveRoot {
		return "", nil, nil
	}
	return root, ctx.constOf[root], nil
}

// classifyNetwork decides whether tuples produced by this rule's head stay
// local or must be shipped over the network: true iff the head's location
// specifier is not transitively equal to the rule body's single location
// specifier.
func classifyNetwork(head *ast.TableRef, headSch *schema.Schema, ctx *ruleCtx, bodyRoot string, bodyConst *ast.ConstExpr) bool {
	if !headSch.HasLocSpec() {
		return false
	}
	headExpr := head.Cols[headSch.LocCol]

	switch h := headExpr.(type) {
	case *ast.VarExpr:
		headRoot := ctx.uf.find(h.Name)
		if bodyRoot == "" {
			return true
		}
		if headRoot == bodyRoot {
			return false
		}
		headConst := ctx.constOf[headRoot]
		if headConst != nil && bodyConst != nil && headConst.Kind == bodyConst.Kind && headConst.S == bodyConst.S {
			return false
		}
		return true
	case *ast.ConstExpr:
		if bodyConst != nil && bodyConst.Kind == h.Kind && bodyConst.S == h.S {
			return false
		}
		return true
	default:
		return true
	}
}
