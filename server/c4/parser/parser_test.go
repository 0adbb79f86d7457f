package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloom-lang/c4/server/c4/ast"
)

func TestParseDefineBasic(t *testing.T) {
	prog, err := Parse(`define widgets(int8, string) keys(0);`)
	require.NoError(t, err)
	require.Len(t, prog.Defines, 1)
	def := prog.Defines[0]
	assert.Equal(t, "widgets", def.Name)
	assert.Equal(t, "", def.Storage)
	assert.Equal(t, -1, def.LocSpecCol)
	assert.Equal(t, []int{0}, def.Keys)
	require.Len(t, def.Columns, 2)
	assert.Equal(t, "int8", def.Columns[0].TypeName)
	assert.Equal(t, "string", def.Columns[1].TypeName)
}

func TestParseDefineWithoutKeys(t *testing.T) {
	prog, err := Parse(`define t(int8);`)
	require.NoError(t, err)
	assert.Nil(t, prog.Defines[0].Keys)
}

func TestParseDefineSqliteStorage(t *testing.T) {
	prog, err := Parse(`define persisted sqlite (int8) keys(0);`)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", prog.Defines[0].Storage)
}

func TestParseDefineLocSpecColumn(t *testing.T) {
	prog, err := Parse(`define ping(string@, string, int8) keys(0);`)
	require.NoError(t, err)
	assert.Equal(t, 0, prog.Defines[0].LocSpecCol)
}

func TestParseDefineMultipleLocSpecColumnsFails(t *testing.T) {
	_, err := Parse(`define bad(string@, string@) keys(0);`)
	assert.Error(t, err)
}

func TestParseTimer(t *testing.T) {
	prog, err := Parse(`timer(tick, 1000);`)
	require.NoError(t, err)
	require.Len(t, prog.Timers, 1)
	assert.Equal(t, "tick", prog.Timers[0].Name)
	assert.Equal(t, int64(1000), prog.Timers[0].PeriodMs)
}

func TestParseFact(t *testing.T) {
	prog, err := Parse(`widgets(1, "gizmo");`)
	require.NoError(t, err)
	require.Len(t, prog.Facts, 1)
	head := prog.Facts[0].Head
	assert.Equal(t, "widgets", head.Name)
	require.Len(t, head.Cols, 2)
	assert.Equal(t, int64(1), head.Cols[0].(*ast.ConstExpr).I)
	assert.Equal(t, "gizmo", head.Cols[1].(*ast.ConstExpr).S)
}

func TestParseSimpleRule(t *testing.T) {
	prog, err := Parse(`t(A + 1) :- t(A), A < 5;`)
	require.NoError(t, err)
	require.Len(t, prog.Rules, 1)
	rule := prog.Rules[0]
	assert.Equal(t, "t", rule.Head.Name)
	require.Len(t, rule.Joins, 1)
	assert.Equal(t, "t", rule.Joins[0].Ref.Name)
	assert.False(t, rule.Joins[0].Negated)
	require.Len(t, rule.Quals, 1)
}

func TestParseNamedRule(t *testing.T) {
	prog, err := Parse(`myrule : r(X) :- a(X);`)
	require.NoError(t, err)
	assert.Equal(t, "myrule", prog.Rules[0].Name)
}

func TestParseNegatedJoin(t *testing.T) {
	prog, err := Parse(`r(X) :- a(X), notin excl(X);`)
	require.NoError(t, err)
	rule := prog.Rules[0]
	require.Len(t, rule.Joins, 2)
	assert.False(t, rule.Joins[0].Negated)
	assert.True(t, rule.Joins[1].Negated)
	assert.Equal(t, "excl", rule.Joins[1].Ref.Name)
}

func TestParseAggregateCallInHead(t *testing.T) {
	prog, err := Parse(`c(X, count(Y)) :- b(X, Y);`)
	require.NoError(t, err)
	agg, ok := prog.Rules[0].Head.Cols[1].(*ast.AggExpr)
	require.True(t, ok)
	assert.Equal(t, ast.AggCount, agg.Kind)
}

func TestParseAllAggregateKinds(t *testing.T) {
	cases := map[string]ast.AggKind{
		"count": ast.AggCount,
		"sum":   ast.AggSum,
		"min":   ast.AggMin,
		"max":   ast.AggMax,
		"avg":   ast.AggAvg,
	}
	for name, kind := range cases {
		src := `c(X, ` + name + `(Y)) :- b(X, Y);`
		prog, err := Parse(src)
		require.NoError(t, err, src)
		agg := prog.Rules[0].Head.Cols[1].(*ast.AggExpr)
		assert.Equal(t, kind, agg.Kind, name)
	}
}

func TestParseArithmeticPrecedence(t *testing.T) {
	prog, err := Parse(`t(A) :- t(A), A = 1 + 2 * 3;`)
	require.NoError(t, err)
	qual := prog.Rules[0].Quals[0].(*ast.OpExpr)
	assert.Equal(t, ast.OpEq, qual.Kind)
	rhs := qual.Right.(*ast.OpExpr)
	assert.Equal(t, ast.OpAdd, rhs.Kind)
	mul := rhs.Right.(*ast.OpExpr)
	assert.Equal(t, ast.OpMul, mul.Kind)
}

func TestParseParenthesizedExpr(t *testing.T) {
	prog, err := Parse(`t(A) :- t(A), A = (1 + 2) * 3;`)
	require.NoError(t, err)
	qual := prog.Rules[0].Quals[0].(*ast.OpExpr)
	rhs := qual.Right.(*ast.OpExpr)
	assert.Equal(t, ast.OpMul, rhs.Kind)
	lhs := rhs.Left.(*ast.OpExpr)
	assert.Equal(t, ast.OpAdd, lhs.Kind)
}

func TestParseUnaryMinus(t *testing.T) {
	prog, err := Parse(`t(A) :- t(A), A = -5;`)
	require.NoError(t, err)
	qual := prog.Rules[0].Quals[0].(*ast.OpExpr)
	neg := qual.Right.(*ast.OpExpr)
	assert.Equal(t, ast.OpNeg, neg.Kind)
	assert.Nil(t, neg.Right)
}

func TestParseBoolAndCharLiterals(t *testing.T) {
	prog, err := Parse(`t(true, 'x');`)
	require.NoError(t, err)
	head := prog.Facts[0].Head
	assert.True(t, head.Cols[0].(*ast.ConstExpr).B)
	assert.Equal(t, byte('x'), head.Cols[1].(*ast.ConstExpr).C)
}

func TestParseFloatLiteral(t *testing.T) {
	prog, err := Parse(`t(3.14);`)
	require.NoError(t, err)
	assert.Equal(t, 3.14, prog.Facts[0].Head.Cols[0].(*ast.ConstExpr).F)
}

func TestParseCommentsAreIgnored(t *testing.T) {
	src := `
-- a dash comment
define t(int8) keys(0); // a slash comment
t(1);
`
	prog, err := Parse(src)
	require.NoError(t, err)
	assert.Len(t, prog.Defines, 1)
	assert.Len(t, prog.Facts, 1)
}

func TestParseUnexpectedTokenFails(t *testing.T) {
	_, err := Parse(`+++;`)
	assert.Error(t, err)
}

func TestParseMissingSemicolonFails(t *testing.T) {
	_, err := Parse(`define t(int8) keys(0)`)
	assert.Error(t, err)
}

func TestParseUnterminatedStringFails(t *testing.T) {
	_, err := Parse(`t("unterminated);`)
	assert.Error(t, err)
}

func TestParseDontCareVariable(t *testing.T) {
	prog, err := Parse(`done(C) :- ping(_, _, C), C >= 100000;`)
	require.NoError(t, err)
	rule := prog.Rules[0]
	col0 := rule.Joins[0].Ref.Cols[0].(*ast.VarExpr)
	assert.Equal(t, "_", col0.Name)
}

func TestParseFullProgram(t *testing.T) {
	src := `
define t(int8) keys(0);
define s(int8) keys(0);
s(0);
t(A + 1) :- t(A), s(B), A >= B, A < 5;
t(0);
`
	prog, err := Parse(src)
	require.NoError(t, err)
	assert.Len(t, prog.Defines, 2)
	assert.Len(t, prog.Facts, 2)
	assert.Len(t, prog.Rules, 1)
}
