// Package plan turns an analyzer.Result into the operator chains the
// installer will build and the router will drive. One AnalyzedRule
// becomes one OpChainPlan per body join clause: semi-naive
// evaluation triggers a rule's chain once per relation it reads, seeded
// with the tuple that just changed in that relation, and the chain joins
// outward against the *current* (non-delta) contents of the rule's other
// relations.
package plan

import (
	"github.com/bloom-lang/c4/server/c4/analyzer"
	"github.com/bloom-lang/c4/server/c4/ast"
	"github.com/bloom-lang/c4/server/c4/expr"
	"github.com/bloom-lang/c4/server/c4/schema"
)

// NodeKind distinguishes the handful of operator shapes an OpChainPlan can
// contain.
type NodeKind int

const (
	NodeFilter NodeKind = iota
	NodeScan
	NodeInsert
	NodeAgg
)

func (k NodeKind) String() string {
	switch k {
	case NodeFilter:
		return "filter"
	case NodeScan:
		return "scan"
	case NodeInsert:
		return "insert"
	case NodeAgg:
		return "agg"
	default:
		return "node?"
	}
}

// Node is one step of a compiled OpChain. Which fields are meaningful
// depends on Kind; see the installer for how each is turned into a live
// operator.
type Node struct {
	Kind NodeKind

	// NodeScan
	TableName string
	JoinIndex int  // index into the owning rule's Joins, for diagnostics
	Negated   bool // anti-join: suppress the running tuple on any match

	// NodeFilter / NodeScan
	// Quals are evaluated with Inner bound to the node's own candidate
	// tuple (for Scan) or the running tuple (for Filter), Outer bound to
	// the running tuple accumulated so far.
	Quals []*expr.Node

	// Proj rebuilds the running tuple after a successful Scan match, or
	// (on the terminal node) builds the head tuple. nil means "pass the
	// input tuple through unchanged" (skip_proj: true in the source).
	Proj      []*expr.Node
	OutSchema *schema.Schema
	SkipProj  bool

	// NodeInsert / NodeAgg
	DoDelete bool

	// NodeAgg. InSchema is the running tuple's schema just before this
	// terminal node (distinct from OutSchema, the rule head's schema).
	// GroupAttnos indexes InSchema; GroupOutCols is the matching index
	// into OutSchema (the head columns that aren't the aggregate).
	InSchema     *schema.Schema
	GroupAttnos  []int
	GroupOutCols []int
	AggOutCol    int
	AggKind      ast.AggKind
	AggInput     *expr.Node
}

// OpChainPlan is one semi-naive evaluation path through a rule's body,
// driven by inserts/deletes to a single relation (DrivingJoin).
type OpChainPlan struct {
	RuleName       string
	DrivingJoin    int
	DrivingTable   string
	DrivingNegated bool
	Nodes          []*Node // zero or more Filter/Scan nodes
	Terminal       *Node   // NodeInsert or NodeAgg
}

// RulePlan is every OpChainPlan derived from one AnalyzedRule — one per
// join clause in its body.
type RulePlan struct {
	Name      string
	HeadTable string
	Chains    []*OpChainPlan
}

// ProgramPlan is the fully compiled form of an analyzer.Result, ready for
// the installer to materialize into the router.
type ProgramPlan struct {
	Defines []*analyzer.ResolvedDefine
	Facts   []*ast.Fact
	Rules   []*RulePlan
}
