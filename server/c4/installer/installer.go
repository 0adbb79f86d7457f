// Package installer turns Dedalus-style program source into live state: it
// parses, analyzes and plans the text, then defines every new table in the
// catalog, builds and registers one operator.Chain per compiled
// plan.OpChainPlan, and finally routes every fact as a seed insert. This is
// install_plan/route_program from the original's router.c, split out into
// its own package so router (which an Installer is injected into) never
// needs to import the parser/analyzer/plan chain directly.
package installer

import (
	"database/sql"
	"sync/atomic"

	"github.com/pingcap/errors"

	"github.com/bloom-lang/c4/server/c4/analyzer"
	"github.com/bloom-lang/c4/server/c4/ast"
	"github.com/bloom-lang/c4/server/c4/catalog"
	"github.com/bloom-lang/c4/server/c4/datum"
	"github.com/bloom-lang/c4/server/c4/operator"
	"github.com/bloom-lang/c4/server/c4/parser"
	"github.com/bloom-lang/c4/server/c4/plan"
	"github.com/bloom-lang/c4/server/c4/router"
	"github.com/bloom-lang/c4/server/c4/schema"
	"github.com/bloom-lang/c4/server/c4/storage"
	"github.com/bloom-lang/c4/server/c4/tuple"
)

// Installer is the router.Installer implementation for live Dedalus source.
// One Installer is shared across every InstallSource call a Client makes,
// so its synth-rule-name counter stays monotonic program over program.
type Installer struct {
	db       *sql.DB // shared SQLite handle; nil if the Client never persists a table
	synthSeq int64
}

// New builds an Installer. db may be nil; it is only dereferenced the first
// time a program defines a `sqlite` table.
func New(db *sql.DB) *Installer {
	return &Installer{db: db}
}

// InstallSource implements router.Installer.
func (ins *Installer) InstallSource(rt *router.Router, src string) error {
	prog, err := parser.Parse(src)
	if err != nil {
		return errors.Annotate(err, "installer: parse")
	}

	lookup := func(name string) (*schema.Schema, bool) {
		def, ok := rt.Cat.Lookup(name)
		if !ok {
			return nil, false
		}
		return def.Schema, true
	}
	nextID := func() int { return int(atomic.AddInt64(&ins.synthSeq, 1)) }

	res, err := analyzer.Analyze(prog, lookup, nextID)
	if err != nil {
		return errors.Annotate(err, "installer: analyze")
	}

	pp, err := plan.Plan(res)
	if err != nil {
		return errors.Annotate(err, "installer: plan")
	}

	if err := ins.defineTables(rt, pp.Defines); err != nil {
		return errors.Trace(err)
	}
	if err := ins.registerChains(rt, pp.Rules); err != nil {
		return errors.Trace(err)
	}
	return ins.routeFacts(rt, pp.Facts)
}

func (ins *Installer) defineTables(rt *router.Router, defines []*analyzer.ResolvedDefine) error {
	for _, d := range defines {
		sch := schema.New(d.Types, d.LocCol)
		tbl, err := ins.openTable(d, sch)
		if err != nil {
			return errors.Annotatef(err, "installer: table %q", d.Name)
		}
		if _, err := rt.Cat.Define(d.Name, storageKind(d.Storage), sch, d.Keys, tbl); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func storageKind(s string) catalog.StorageKind {
	if s == "sqlite" {
		return catalog.SQLite
	}
	return catalog.Memory
}

func (ins *Installer) openTable(d *analyzer.ResolvedDefine, sch *schema.Schema) (storage.Table, error) {
	if d.Storage != "sqlite" {
		return storage.NewMemory(), nil
	}
	if ins.db == nil {
		return nil, errors.Errorf("table %q requests sqlite storage but the Client has no database configured", d.Name)
	}
	return storage.OpenSQLite(ins.db, d.Name, sch)
}

func (ins *Installer) registerChains(rt *router.Router, rules []*plan.RulePlan) error {
	for _, rp := range rules {
		for _, cp := range rp.Chains {
			chain, err := operator.Build(cp, rt.Cat)
			if err != nil {
				return errors.Annotatef(err, "installer: rule %q", rp.Name)
			}
			drivingDef, ok := rt.Cat.Lookup(cp.DrivingTable)
			if !ok {
				return errors.Errorf("installer: rule %q drives off undefined table %q", rp.Name, cp.DrivingTable)
			}
			rt.AddOpChain(drivingDef, chain)
		}
	}
	return nil
}

func (ins *Installer) routeFacts(rt *router.Router, facts []*ast.Fact) error {
	for _, f := range facts {
		def, ok := rt.Cat.Lookup(f.Head.Name)
		if !ok {
			return errors.Errorf("installer: fact references undefined table %q", f.Head.Name)
		}
		if len(f.Head.Cols) != def.Schema.Arity() {
			return errors.Errorf("installer: fact for %q supplies %d columns, table has %d", f.Head.Name, len(f.Head.Cols), def.Schema.Arity())
		}
		vals := make([]datum.Datum, len(f.Head.Cols))
		for i, col := range f.Head.Cols {
			c, ok := col.(*ast.ConstExpr)
			if !ok {
				return errors.Errorf("installer: fact for %q: column %d is not a constant", f.Head.Name, i)
			}
			d, err := constToDatum(c, def.Schema.Columns[i].Type)
			if err != nil {
				return errors.Annotatef(err, "installer: fact for %q column %d", f.Head.Name, i)
			}
			vals[i] = d
		}
		t := tuple.MakeDefault(def.Schema, vals)
		rt.InsertTuple(def.Name, t, true)
		t.Unpin()
	}
	return nil
}

func constToDatum(c *ast.ConstExpr, t datum.Type) (datum.Datum, error) {
	switch c.Kind {
	case ast.ConstBool:
		if t != datum.Bool {
			return datum.Datum{}, errors.Errorf("bool literal against %s column", t)
		}
		return datum.FromBool(c.B), nil
	case ast.ConstChar:
		if t != datum.Char {
			return datum.Datum{}, errors.Errorf("char literal against %s column", t)
		}
		return datum.FromChar(c.C), nil
	case ast.ConstInt:
		switch t {
		case datum.Int2:
			return datum.FromInt2(int16(c.I)), nil
		case datum.Int4:
			return datum.FromInt4(int32(c.I)), nil
		case datum.Int8:
			return datum.FromInt8(c.I), nil
		case datum.Float8:
			return datum.FromFloat8(float64(c.I)), nil
		default:
			return datum.Datum{}, errors.Errorf("integer literal against %s column", t)
		}
	case ast.ConstFloat:
		if t != datum.Float8 {
			return datum.Datum{}, errors.Errorf("float literal against %s column", t)
		}
		return datum.FromFloat8(c.F), nil
	case ast.ConstString:
		if t != datum.String {
			return datum.Datum{}, errors.Errorf("string literal against %s column", t)
		}
		return datum.FromString(c.S), nil
	default:
		return datum.Datum{}, errors.Errorf("unrecognized constant kind %d", c.Kind)
	}
}
