// Package analyzer rewrites and validates a parsed ast.Program: it resolves
// schema types, synthesizes rule names, rewrites constants/repeated
// variables in join columns into fresh variables plus equality qualifiers,
// computes the equality closure, classifies rules as network or local, and
// runs the safety/typing checks a program must satisfy before it can be
// planned. It aborts on the first error, naming the offending construct —
// the rest of the program is never partially installed.
package analyzer

import (
	"fmt"

	"github.com/pingcap/errors"

	"github.com/bloom-lang/c4/server/c4/ast"
	"github.com/bloom-lang/c4/server/c4/datum"
	"github.com/bloom-lang/c4/server/c4/schema"
)

// Result is the analyzed, rewritten program ready for planning.
type Result struct {
	Defines  []*ResolvedDefine
	Facts    []*ast.Fact
	Rules    []*AnalyzedRule
	Warnings []string
}

// ResolvedDefine is a Define with its column types resolved to datum.Type,
// synthesized on the fly for a Timer.
type ResolvedDefine struct {
	Name    string
	Storage string
	Types   []datum.Type
	Keys    []int
	LocCol  int
}

// AnalyzedRule is a Rule after constant/repeat rewriting, with a
// synthesized name if the source left it blank, its variable types, and
// its network classification.
type AnalyzedRule struct {
	Name      string
	Head      *ast.TableRef
	Joins     []*ast.JoinClause
	Quals     []ast.Expr
	VarTypes  map[string]datum.Type
	IsNetwork bool
	// DefiningJoin maps a variable name to the index (within Joins) of the
	// join clause that first binds it; the planner uses this to decide
	// which Scan node exposes the variable.
	DefiningJoin map[string]int
}

// SchemaLookup resolves a relation name to its schema, combining tables
// already installed in the catalog with those defined earlier in the same
// program.
type SchemaLookup func(name string) (*schema.Schema, bool)

type ruleCtx struct {
	uf           *unionFind
	varType      map[string]datum.Type
	constOf      map[string]*ast.ConstExpr
	defined      map[string]bool // root name -> bound by a non-negated join
	definingJoin map[string]int
	synthSeq     int
	extraQual    []ast.Expr
}

func newRuleCtx() *ruleCtx {
	return &ruleCtx{
		uf:           newUnionFind(),
		varType:      make(map[string]datum.Type),
		constOf:      make(map[string]*ast.ConstExpr),
		defined:      make(map[string]bool),
		definingJoin: make(map[string]int),
	}
}

func (c *ruleCtx) synth() string {
	c.synthSeq++
	return fmt.Sprintf("$sys_%d", c.synthSeq)
}

func (c *ruleCtx) bindNonNegated(name string, joinIdx int) {
	root := c.uf.find(name)
	c.defined[root] = true
	if _, ok := c.definingJoin[name]; !ok {
		c.definingJoin[name] = joinIdx
	}
}

// Analyze validates prog and returns the rewritten Result, or the first
// error encountered. nextSynthRuleID hands out the `r_<n>_sys` counter used
// for unnamed rules; callers typically pass a closure over a per-Client
// atomic counter so names stay unique across successive Program installs.
func Analyze(prog *ast.Program, lookup SchemaLookup, nextSynthRuleID func() int) (*Result, error) {
	res := &Result{}

	newlyDefined := make(map[string]*schema.Schema)
	for _, d := range prog.Defines {
		rd, err := resolveDefine(d)
		if err != nil {
			return nil, errors.Trace(err)
		}
		res.Defines = append(res.Defines, rd)
		newlyDefined[rd.Name] = schema.New(rd.Types, rd.LocCol)
	}

	for _, t := range prog.Timers {
		if t.PeriodMs <= 0 {
			return nil, errors.Errorf("analyzer: timer %q period must be positive, got %d", t.Name, t.PeriodMs)
		}
		const maxInt63 = int64(1) << 62
		if t.PeriodMs > maxInt63/1000 {
			return nil, errors.Errorf("analyzer: timer %q period %dms overflows 63-bit microsecond range", t.Name, t.PeriodMs)
		}
		rd := &ResolvedDefine{Name: t.Name, Types: []datum.Type{datum.Int8}, LocCol: -1}
		res.Defines = append(res.Defines, rd)
		newlyDefined[rd.Name] = schema.New(rd.Types, rd.LocCol)
	}

	combinedLookup := func(name string) (*schema.Schema, bool) {
		if s, ok := newlyDefined[name]; ok {
			return s, true
		}
		return lookup(name)
	}

	res.Facts = prog.Facts

	usedNames := make(map[string]bool)
	for _, r := range prog.Rules {
		if r.Name != "" {
			usedNames[r.Name] = true
		}
	}

	for _, r := range prog.Rules {
		ar, warnings, err := analyzeRule(r, combinedLookup)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if ar.Name == "" {
			for {
				candidate := fmt.Sprintf("r_%d_sys", nextSynthRuleID())
				if !usedNames[candidate] {
					ar.Name = candidate
					usedNames[candidate] = true
					break
				}
			}
		}
		res.Rules = append(res.Rules, ar)
		res.Warnings = append(res.Warnings, warnings...)
	}

	return res, nil
}

func resolveDefine(d *ast.Define) (*ResolvedDefine, error) {
	rd := &ResolvedDefine{Name: d.Name, Storage: d.Storage, LocCol: d.LocSpecCol}
	for i, col := range d.Columns {
		t, ok := datum.TypeByName(col.TypeName)
		if !ok {
			return nil, errors.Errorf("analyzer: table %q column %d has unknown type %q", d.Name, i, col.TypeName)
		}
		rd.Types = append(rd.Types, t)
	}
	if d.LocSpecCol >= 0 {
		if d.LocSpecCol >= len(rd.Types) {
			return nil, errors.Errorf("analyzer: table %q location-spec column %d out of range", d.Name, d.LocSpecCol)
		}
		if rd.Types[d.LocSpecCol] != datum.String {
			return nil, errors.Errorf("analyzer: table %q location-spec column %d must be string", d.Name, d.LocSpecCol)
		}
	}
	seen := make(map[int]bool)
	for _, k := range d.Keys {
		if k < 0 || k >= len(rd.Types) {
			return nil, errors.Errorf("analyzer: table %q key column %d out of range", d.Name, k)
		}
		if seen[k] {
			return nil, errors.Errorf("analyzer: table %q key column %d listed more than once", d.Name, k)
		}
		seen[k] = true
	}
	rd.Keys = d.Keys
	return rd, nil
}

func analyzeRule(r *ast.Rule, lookup SchemaLookup) (*AnalyzedRule, []string, error) {
	ctx := newRuleCtx()
	var warnings []string

	if len(r.Joins) == 0 {
		return nil, nil, errors.Errorf("analyzer: rule %q body must contain at least one join", r.Name)
	}
	nonNegated := 0
	for _, j := range r.Joins {
		if !j.Negated {
			nonNegated++
		}
	}
	if nonNegated == 0 {
		return nil, nil, errors.Errorf("analyzer: rule %q body must contain at least one non-negated join", r.Name)
	}

	for joinIdx, j := range r.Joins {
		sch, ok := lookup(j.Ref.Name)
		if !ok {
			return nil, nil, errors.Errorf("analyzer: rule %q references unknown relation %q", r.Name, j.Ref.Name)
		}
		if len(j.Ref.Cols) != sch.Arity() {
			return nil, nil, errors.Errorf("analyzer: rule %q: %q expects %d columns, got %d", r.Name, j.Ref.Name, sch.Arity(), len(j.Ref.Cols))
		}
		for i, colExpr := range j.Ref.Cols {
			colType := sch.Columns[i].Type
			switch e := colExpr.(type) {
			case *ast.VarExpr:
				if e.Name == "_" {
					synth := ctx.synth()
					ctx.varType[synth] = colType
					j.Ref.Cols[i] = &ast.VarExpr{Name: synth}
					continue
				}
				if existing, ok := ctx.varType[e.Name]; ok {
					if existing != colType {
						return nil, nil, errors.Errorf("analyzer: rule %q: variable %q used at incompatible types %s and %s", r.Name, e.Name, existing, colType)
					}
					synth := ctx.synth()
					ctx.varType[synth] = colType
					j.Ref.Cols[i] = &ast.VarExpr{Name: synth}
					ctx.uf.union(synth, e.Name)
					ctx.extraQual = append(ctx.extraQual, &ast.OpExpr{Kind: ast.OpEq, Left: &ast.VarExpr{Name: synth}, Right: &ast.VarExpr{Name: e.Name}})
					if !j.Negated {
						ctx.bindNonNegated(synth, joinIdx)
					}
				} else {
					ctx.varType[e.Name] = colType
					if !j.Negated {
						ctx.bindNonNegated(e.Name, joinIdx)
					}
				}
			case *ast.ConstExpr:
				synth := ctx.synth()
				ctx.varType[synth] = colType
				ctx.constOf[synth] = e
				j.Ref.Cols[i] = &ast.VarExpr{Name: synth}
				ctx.extraQual = append(ctx.extraQual, &ast.OpExpr{Kind: ast.OpEq, Left: &ast.VarExpr{Name: synth}, Right: e})
				if !j.Negated {
					ctx.bindNonNegated(synth, joinIdx)
				}
			default:
				synth := ctx.synth()
				ctx.varType[synth] = colType
				j.Ref.Cols[i] = &ast.VarExpr{Name: synth}
				ctx.extraQual = append(ctx.extraQual, &ast.OpExpr{Kind: ast.OpEq, Left: &ast.VarExpr{Name: synth}, Right: colExpr})
				if !j.Negated {
					ctx.bindNonNegated(synth, joinIdx)
				}
			}
		}
	}

	allQuals := append(append([]ast.Expr{}, ctx.extraQual...), r.Quals...)
	for _, q := range allQuals {
		if op, ok := q.(*ast.OpExpr); ok && op.Kind == ast.OpEq {
			lv, lIsVar := op.Left.(*ast.VarExpr)
			rv, rIsVar := op.Right.(*ast.VarExpr)
			switch {
			case lIsVar && rIsVar:
				wasDefined := ctx.defined[ctx.uf.find(lv.Name)] || ctx.defined[ctx.uf.find(rv.Name)]
				ctx.uf.union(lv.Name, rv.Name)
				if wasDefined {
					ctx.defined[ctx.uf.find(lv.Name)] = true
				}
			case lIsVar:
				if c, ok := op.Right.(*ast.ConstExpr); ok {
					ctx.constOf[ctx.uf.find(lv.Name)] = c
				}
			case rIsVar:
				if c, ok := op.Left.(*ast.ConstExpr); ok {
					ctx.constOf[ctx.uf.find(rv.Name)] = c
				}
			}
		}
		t, err := inferType(q, ctx, false)
		if err != nil {
			return nil, nil, errors.Annotatef(err, "rule %q qualifier", r.Name)
		}
		if t != datum.Bool {
			return nil, nil, errors.Errorf("analyzer: rule %q: qualifier must be boolean, got %s", r.Name, t)
		}
	}

	headSch, ok := lookup(r.Head.Name)
	if !ok {
		return nil, nil, errors.Errorf("analyzer: rule %q head references unknown relation %q", r.Name, r.Head.Name)
	}
	if len(r.Head.Cols) != headSch.Arity() {
		return nil, nil, errors.Errorf("analyzer: rule %q head %q expects %d columns, got %d", r.Name, r.Head.Name, headSch.Arity(), len(r.Head.Cols))
	}

	seenVars := make(map[string]bool)
	for i, colExpr := range r.Head.Cols {
		if _, err := inferHeadColType(colExpr, ctx); err != nil {
			return nil, nil, errors.Annotatef(err, "rule %q head column %d", r.Name, i)
		}
		collectHeadVars(colExpr, seenVars)
	}
	for v := range seenVars {
		if v == "_" {
			return nil, nil, errors.Errorf("analyzer: rule %q: '_' is not legal in a rule head", r.Name)
		}
		root := ctx.uf.find(v)
		if !ctx.defined[root] {
			return nil, nil, errors.Errorf("analyzer: rule %q: head variable %q appears only in negated body terms", r.Name, v)
		}
	}

	for v := range ctx.varType {
		if len(v) > 0 && v[0] == '$' {
			continue // synthetic, never "unused" in the user-facing sense
		}
		if !seenVars[v] && !usedInQuals(v, r.Quals) {
			warnings = append(warnings, fmt.Sprintf("rule %q: variable %q is defined but never used", r.Name, v))
		}
	}

	bodyLocRoot, bodyLocConst, err := bodyLocationSpec(r, ctx, lookup)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	isNetwork := classifyNetwork(r.Head, headSch, ctx, bodyLocRoot, bodyLocConst)

	return &AnalyzedRule{
		Name:         r.Name,
		Head:         r.Head,
		Joins:        r.Joins,
		Quals:        allQuals,
		VarTypes:     ctx.varType,
		IsNetwork:    isNetwork,
		DefiningJoin: ctx.definingJoin,
	}, warnings, nil
}
