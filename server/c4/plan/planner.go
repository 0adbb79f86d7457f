package plan

import (
	"github.com/pingcap/errors"

	"github.com/bloom-lang/c4/server/c4/analyzer"
	"github.com/bloom-lang/c4/server/c4/ast"
	"github.com/bloom-lang/c4/server/c4/datum"
	"github.com/bloom-lang/c4/server/c4/expr"
	"github.com/bloom-lang/c4/server/c4/schema"
)

// location is where a variable's value lives while a chain is being built:
// either already part of the accumulated running tuple (outer) or a column
// of the candidate tuple a Scan node just fetched (inner).
type location struct {
	isOuter bool
	attno   int
	typ     datum.Type
}

// varEnv is the ordered set of variables bound into the running tuple so
// far; its column order is the running tuple's schema.
type varEnv struct {
	order []string
	attno map[string]int
	types map[string]datum.Type
}

func newVarEnv() *varEnv {
	return &varEnv{attno: make(map[string]int), types: make(map[string]datum.Type)}
}

func (e *varEnv) add(name string, t datum.Type) int {
	idx := len(e.order)
	e.order = append(e.order, name)
	e.attno[name] = idx
	e.types[name] = t
	return idx
}

func (e *varEnv) has(name string) (int, bool) {
	i, ok := e.attno[name]
	return i, ok
}

func (e *varEnv) schema() *schema.Schema {
	types := make([]datum.Type, len(e.order))
	for i, n := range e.order {
		types[i] = e.types[n]
	}
	return schema.New(types, -1)
}

// Plan compiles an analyzed program into ProgramPlan.
func Plan(res *analyzer.Result) (*ProgramPlan, error) {
	pp := &ProgramPlan{Defines: res.Defines, Facts: res.Facts}

	lookup := make(map[string]*schema.Schema, len(res.Defines))
	for _, d := range res.Defines {
		lookup[d.Name] = schema.New(d.Types, d.LocCol)
	}

	for _, r := range res.Rules {
		rp := &RulePlan{Name: r.Name, HeadTable: r.Head.Name}
		for idx := range r.Joins {
			chain, err := buildChain(r, idx, lookup)
			if err != nil {
				return nil, errors.Trace(err)
			}
			rp.Chains = append(rp.Chains, chain)
		}
		pp.Rules = append(pp.Rules, rp)
	}
	return pp, nil
}

// buildChain compiles the OpChainPlan driven by deltas on r.Joins[drivingIdx].
func buildChain(r *analyzer.AnalyzedRule, drivingIdx int, lookup map[string]*schema.Schema) (*OpChainPlan, error) {
	driving := r.Joins[drivingIdx]
	outer := newVarEnv()
	for _, ce := range driving.Ref.Cols {
		ve := ce.(*ast.VarExpr)
		if _, ok := outer.has(ve.Name); !ok {
			outer.add(ve.Name, r.VarTypes[ve.Name])
		}
	}

	remaining := append([]ast.Expr{}, r.Quals...)
	var nodes []*Node

	satisfied, rest := extractSatisfiable(remaining, outerScope(outer))
	remaining = rest
	if len(satisfied) > 0 {
		nodes = append(nodes, &Node{
			Kind:  NodeFilter,
			Quals: resolveQuals(satisfied, outerScope(outer)),
		})
	}

	for idx, j := range r.Joins {
		if idx == drivingIdx {
			continue
		}
		sch, ok := lookup[j.Ref.Name]
		if !ok {
			return nil, errors.Errorf("plan: rule %q references undefined relation %q", r.Name, j.Ref.Name)
		}

		inner := newVarEnv()
		scope := outerScope(outer)
		var joinQuals []*expr.Node
		for i, ce := range j.Ref.Cols {
			ve := ce.(*ast.VarExpr)
			if loc, ok := scope[ve.Name]; ok {
				joinQuals = append(joinQuals, eqNode(loc, location{isOuter: false, attno: i, typ: sch.Columns[i].Type}))
				continue
			}
			if _, ok := inner.has(ve.Name); ok {
				joinQuals = append(joinQuals, eqNode(location{isOuter: false, attno: inner.attno[ve.Name], typ: sch.Columns[i].Type}, location{isOuter: false, attno: i, typ: sch.Columns[i].Type}))
				continue
			}
			if !j.Negated {
				idxAdded := inner.add(ve.Name, sch.Columns[i].Type)
				scope[ve.Name] = location{isOuter: false, attno: idxAdded, typ: sch.Columns[i].Type}
			} else {
				scope[ve.Name] = location{isOuter: false, attno: i, typ: sch.Columns[i].Type}
			}
			// A negated join's unbound columns are visible only to this
			// scan's own quals (so the anti-join can test them against the
			// running tuple) and are never added to the running tuple (the
			// safety check already guarantees nothing downstream needs them).
		}

		satisfied, rest := extractSatisfiable(remaining, scope)
		remaining = rest
		quals := append(joinQuals, resolveQuals(satisfied, scope)...)

		node := &Node{
			Kind:      NodeScan,
			TableName: j.Ref.Name,
			JoinIndex: idx,
			Negated:   j.Negated,
			Quals:     quals,
			SkipProj:  true,
		}

		if j.Negated {
			node.Proj = nil
			node.OutSchema = outer.schema()
		} else {
			proj := make([]*expr.Node, 0, len(outer.order)+len(inner.order))
			for i, name := range outer.order {
				proj = append(proj, varNode(location{isOuter: true, attno: i, typ: outer.types[name]}))
			}
			for i, name := range inner.order {
				proj = append(proj, varNode(location{isOuter: false, attno: i, typ: inner.types[name]}))
			}
			node.Proj = proj
			combined := newVarEnv()
			for _, name := range outer.order {
				combined.add(name, outer.types[name])
			}
			for _, name := range inner.order {
				combined.add(name, inner.types[name])
			}
			node.OutSchema = combined.schema()
			outer = combined
		}
		nodes = append(nodes, node)
	}

	if len(remaining) > 0 {
		nodes = append(nodes, &Node{Kind: NodeFilter, Quals: resolveQuals(remaining, outerScope(outer))})
	}

	headSch, ok := lookup[r.Head.Name]
	if !ok {
		return nil, errors.Errorf("plan: rule %q: head relation %q not found", r.Name, r.Head.Name)
	}

	terminal, err := buildTerminal(r, outer, headSch, driving.Negated)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &OpChainPlan{
		RuleName:       r.Name,
		DrivingJoin:    drivingIdx,
		DrivingTable:   driving.Ref.Name,
		DrivingNegated: driving.Negated,
		Nodes:          nodes,
		Terminal:       terminal,
	}, nil
}

func buildTerminal(r *analyzer.AnalyzedRule, outer *varEnv, headSch *schema.Schema, drivingNegated bool) (*Node, error) {
	scope := outerScope(outer)

	var aggIdx = -1
	for i, ce := range r.Head.Cols {
		if _, ok := ce.(*ast.AggExpr); ok {
			aggIdx = i
			break
		}
	}

	if aggIdx < 0 {
		proj := make([]*expr.Node, len(r.Head.Cols))
		skip := len(outer.order) == len(r.Head.Cols)
		for i, ce := range r.Head.Cols {
			proj[i] = resolveExpr(ce, scope)
			if v, ok := ce.(*ast.VarExpr); !ok || outer.attno[v.Name] != i {
				skip = false
			}
		}
		return &Node{
			Kind:      NodeInsert,
			TableName: r.Head.Name,
			Proj:      proj,
			OutSchema: headSch,
			DoDelete:  drivingNegated,
			SkipProj:  skip,
		}, nil
	}

	agg := r.Head.Cols[aggIdx].(*ast.AggExpr)
	var groupAttnos, groupOutCols []int
	for i, ce := range r.Head.Cols {
		if i == aggIdx {
			continue
		}
		ve, ok := ce.(*ast.VarExpr)
		if !ok {
			return nil, errors.Errorf("rule %q: aggregate rule head columns other than the aggregate must be plain variables", r.Name)
		}
		loc, ok := scope[ve.Name]
		if !ok {
			return nil, errors.Errorf("rule %q: head variable %q not bound by rule body", r.Name, ve.Name)
		}
		groupAttnos = append(groupAttnos, loc.attno)
		groupOutCols = append(groupOutCols, i)
	}

	return &Node{
		Kind:         NodeAgg,
		TableName:    r.Head.Name,
		InSchema:     outer.schema(),
		GroupAttnos:  groupAttnos,
		GroupOutCols: groupOutCols,
		AggOutCol:    aggIdx,
		AggKind:      agg.Kind,
		AggInput:     resolveExpr(agg.Input, scope),
		OutSchema:    headSch,
		DoDelete:     drivingNegated,
	}, nil
}

func outerScope(env *varEnv) map[string]location {
	m := make(map[string]location, len(env.order))
	for name, i := range env.attno {
		m[name] = location{isOuter: true, attno: i, typ: env.types[name]}
	}
	return m
}

func varNode(loc location) *expr.Node {
	return &expr.Node{Kind: expr.KindVar, Attno: loc.attno, IsOuter: loc.isOuter, ResultType: loc.typ, OperandType: loc.typ}
}

func eqNode(a, b location) *expr.Node {
	return &expr.Node{Kind: expr.KindOp, Op: ast.OpEq, Left: varNode(a), Right: varNode(b), OperandType: a.typ, ResultType: datum.Bool}
}

func constNode(c *ast.ConstExpr) *expr.Node {
	switch c.Kind {
	case ast.ConstBool:
		return leaf(datum.FromBool(c.B), datum.Bool)
	case ast.ConstChar:
		return leaf(datum.FromChar(c.C), datum.Char)
	case ast.ConstInt:
		return leaf(datum.FromInt8(c.I), datum.Int8)
	case ast.ConstFloat:
		return leaf(datum.FromFloat8(c.F), datum.Float8)
	default:
		return leaf(datum.FromString(c.S), datum.String)
	}
}

func leaf(d datum.Datum, t datum.Type) *expr.Node {
	return &expr.Node{Kind: expr.KindConst, Const: d, ResultType: t, OperandType: t}
}

// resolveExpr compiles a qualifier/projection expression against scope. The
// program has already passed the analyzer's type checks, so no error path
// is needed here — every variable in e is guaranteed present in scope and
// every operator's operand types are guaranteed to agree.
func resolveExpr(e ast.Expr, scope map[string]location) *expr.Node {
	switch n := e.(type) {
	case *ast.ConstExpr:
		return constNode(n)
	case *ast.VarExpr:
		loc := scope[n.Name]
		return varNode(loc)
	case *ast.OpExpr:
		left := resolveExpr(n.Left, scope)
		if n.Op == ast.OpNeg {
			return &expr.Node{Kind: expr.KindOp, Op: ast.OpNeg, Left: left, OperandType: left.ResultType, ResultType: left.ResultType}
		}
		right := resolveExpr(n.Right, scope)
		resultType := left.ResultType
		switch n.Op {
		case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
			resultType = datum.Bool
		}
		return &expr.Node{Kind: expr.KindOp, Op: n.Op, Left: left, Right: right, OperandType: left.ResultType, ResultType: resultType}
	default:
		panic("plan: unexpected expression node in resolved program")
	}
}

func resolveQuals(quals []ast.Expr, scope map[string]location) []*expr.Node {
	out := make([]*expr.Node, len(quals))
	for i, q := range quals {
		out[i] = resolveExpr(q, scope)
	}
	return out
}

// extractSatisfiable splits quals into those whose variables are all bound
// in scope and the rest.
func extractSatisfiable(quals []ast.Expr, scope map[string]location) (satisfied, rest []ast.Expr) {
	for _, q := range quals {
		vars := make(map[string]bool)
		collectVars(q, vars)
		ok := true
		for v := range vars {
			if _, bound := scope[v]; !bound {
				ok = false
				break
			}
		}
		if ok {
			satisfied = append(satisfied, q)
		} else {
			rest = append(rest, q)
		}
	}
	return satisfied, rest
}

func collectVars(e ast.Expr, out map[string]bool) {
	switch n := e.(type) {
	case *ast.VarExpr:
		out[n.Name] = true
	case *ast.OpExpr:
		collectVars(n.Left, out)
		if n.Right != nil {
			collectVars(n.Right, out)
		}
	case *ast.AggExpr:
		collectVars(n.Input, out)
	}
}
