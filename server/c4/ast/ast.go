// Package ast defines the node kinds produced by the parser front end.
// Only the shapes below are load-bearing for the rest of the pipeline;
// the grammar that produces them is an implementation detail of package
// parser.
package ast

// Program is the root of a parsed source file.
type Program struct {
	Defines []*Define
	Timers  []*Timer
	Facts   []*Fact
	Rules   []*Rule
}

// Define is a table-definition statement: `define name [sqlite] (type[@], type, ...) [keys(i,j)];`.
type Define struct {
	Name     string
	Storage  string // "" (memory, default) or "sqlite"
	Columns  []SchemaElt
	Keys     []int
	LocSpecCol int // -1 if none
}

// SchemaElt is one column of a Define.
type SchemaElt struct {
	TypeName string
}

// Timer declares a periodic synthetic-table source: `timer(name, period_ms)`.
type Timer struct {
	Name     string
	PeriodMs int64
}

// Fact is a fully-constant head tuple installed once at program-install
// time: `name(const, const, ...);`.
type Fact struct {
	Head *TableRef
}

// Rule is `head :- join, join, ..., qual, qual, ...;` with an optional
// explicit name (`name : head :- ...`) assigned by the user, or left blank for the
// analyzer to synthesize.
type Rule struct {
	Name  string
	Head  *TableRef
	Joins []*JoinClause
	Quals []Expr
}

// TableRef names a relation along with the column expressions projected
// into (rule head) or matched against (join clause) it.
type TableRef struct {
	Name string
	Cols []Expr
}

// ColumnRef is a positional reference into a TableRef. The parser never
// produces one, and the analyzer, planner and expr packages do not use it
// either.
type ColumnRef struct {
	Table string
	Col   int
}

// JoinClause is one body relation reference, optionally negated (anti-join).
type JoinClause struct {
	Ref     *TableRef
	Negated bool
}

// Qualifier is a body-level boolean expression (a qual); kept as a
// type alias over Expr since the analyzer treats all body booleans
// uniformly.
type Qualifier = Expr

// Expr is the sum type for rule expressions: OpExpr | VarExpr | ConstExpr | AggExpr.
type Expr interface{ exprNode() }

// OpKind enumerates the arithmetic/relational/unary operators OpExpr supports.
type OpKind int

const (
	OpAdd OpKind = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg // unary minus
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// OpExpr is a binary (or, for OpNeg, unary) operator expression.
type OpExpr struct {
	Kind  OpKind
	Left  Expr
	Right Expr // nil for OpNeg
}

func (*OpExpr) exprNode() {}

// VarExpr references a rule variable by name. The analyzer may replace a
// join-column occurrence with a synthetic `$sys_N` variable, and the
// planner resolves each name to an expr.Node variable reference
// (Attno/IsOuter); in raw parsed AST it is purely name-based. Name "_" marks the don't-care variable (join clauses only).
type VarExpr struct {
	Name string
}

func (*VarExpr) exprNode() {}

// ConstKind enumerates ConstExpr's possible literal types.
type ConstKind int

const (
	ConstBool ConstKind = iota
	ConstChar
	ConstInt
	ConstFloat
	ConstString
)

// ConstExpr is a literal value occurring in source text.
type ConstExpr struct {
	Kind ConstKind
	B    bool
	C    byte
	I    int64
	F    float64
	S    string
}

func (*ConstExpr) exprNode() {}

// AggKind enumerates the supported aggregate functions.
type AggKind int

const (
	AggCount AggKind = iota
	AggSum
	AggMin
	AggMax
	AggAvg
)

func (k AggKind) String() string {
	switch k {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggAvg:
		return "avg"
	default:
		return "agg?"
	}
}

// AggExpr is only legal at the top level of a rule-head column (enforced
// by the analyzer, never nested, never in the body).
type AggExpr struct {
	Kind  AggKind
	Input Expr
}

func (*AggExpr) exprNode() {}
