package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggKindString(t *testing.T) {
	assert.Equal(t, "count", AggCount.String())
	assert.Equal(t, "sum", AggSum.String())
	assert.Equal(t, "min", AggMin.String())
	assert.Equal(t, "max", AggMax.String())
	assert.Equal(t, "avg", AggAvg.String())
	assert.Equal(t, "agg?", AggKind(99).String())
}

func TestExprNodeImplementations(t *testing.T) {
	var exprs = []Expr{
		&OpExpr{Kind: OpAdd},
		&VarExpr{Name: "X"},
		&ConstExpr{Kind: ConstInt, I: 1},
		&AggExpr{Kind: AggCount},
	}
	for _, e := range exprs {
		assert.NotNil(t, e)
	}
}
