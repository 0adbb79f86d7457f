package parser

import (
	"fmt"

	"github.com/bloom-lang/c4/server/c4/ast"
)

type parser struct {
	lx   *lexer
	cur  token
	peek token
}

// Parse lexes and parses src into an ast.Program. Errors name the
// offending construct and line, matching the UsageError surface expected
// from installation failures.
func Parse(src string) (*ast.Program, error) {
	p := &parser{lx: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p.parseProgram()
}

func (p *parser) advance() error {
	p.cur = p.peek
	tok, err := p.lx.next()
	if err != nil {
		return err
	}
	p.peek = tok
	return nil
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if p.cur.kind != k {
		return token{}, fmt.Errorf("parser: expected %s at line %d, got %q", what, p.cur.line, p.cur.text)
	}
	t := p.cur
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return t, nil
}

func (p *parser) parseProgram() (*ast.Program, error) {
	prog := &ast.Program{}
	for p.cur.kind != tEOF {
		switch p.cur.kind {
		case tKwDefine:
			def, err := p.parseDefine()
			if err != nil {
				return nil, err
			}
			prog.Defines = append(prog.Defines, def)
		case tKwTimer:
			tm, err := p.parseTimer()
			if err != nil {
				return nil, err
			}
			prog.Timers = append(prog.Timers, tm)
		case tIdent:
			stmt, isFact, name, err := p.parseClause()
			if err != nil {
				return nil, err
			}
			if isFact {
				prog.Facts = append(prog.Facts, &ast.Fact{Head: stmt.Head})
			} else {
				stmt.Name = name
				prog.Rules = append(prog.Rules, stmt)
			}
		default:
			return nil, fmt.Errorf("parser: unexpected token at line %d: %q", p.cur.line, p.cur.text)
		}
	}
	return prog, nil
}

// parseDefine: `define name [sqlite] (type[@], type, ...) keys(i, j);`
func (p *parser) parseDefine() (*ast.Define, error) {
	if _, err := p.expect(tKwDefine, "'define'"); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(tIdent, "table name")
	if err != nil {
		return nil, err
	}

	storage := ""
	if p.cur.kind == tIdent && p.cur.text == "sqlite" {
		storage = "sqlite"
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(tLParen, "'('"); err != nil {
		return nil, err
	}

	def := &ast.Define{Name: nameTok.text, Storage: storage, LocSpecCol: -1}
	col := 0
	for p.cur.kind != tRParen {
		typeTok, err := p.expect(tIdent, "column type")
		if err != nil {
			return nil, err
		}
		def.Columns = append(def.Columns, ast.SchemaElt{TypeName: typeTok.text})
		if p.cur.kind == tAt {
			if def.LocSpecCol != -1 {
				return nil, fmt.Errorf("parser: table %s has more than one location-spec column (line %d)", def.Name, p.cur.line)
			}
			def.LocSpecCol = col
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		col++
		if p.cur.kind == tComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(tRParen, "')'"); err != nil {
		return nil, err
	}

	if p.cur.kind == tKwKeys {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expect(tLParen, "'('"); err != nil {
			return nil, err
		}
		for p.cur.kind != tRParen {
			kTok, err := p.expect(tInt, "key column index")
			if err != nil {
				return nil, err
			}
			def.Keys = append(def.Keys, int(kTok.i))
			if p.cur.kind == tComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
		}
		if _, err := p.expect(tRParen, "')'"); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tSemi, "';'"); err != nil {
		return nil, err
	}
	return def, nil
}

func (p *parser) parseTimer() (*ast.Timer, error) {
	if _, err := p.expect(tKwTimer, "'timer'"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tLParen, "'('"); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(tIdent, "timer name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tComma, "','"); err != nil {
		return nil, err
	}
	periodTok, err := p.expect(tInt, "period in milliseconds")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tRParen, "')'"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tSemi, "';'"); err != nil {
		return nil, err
	}
	return &ast.Timer{Name: nameTok.text, PeriodMs: periodTok.i}, nil
}

// parseClause parses `[name :] head [:- join|notin join|qual, ...];` and
// reports whether it turned out to be a fact (no ":-" at all).
func (p *parser) parseClause() (*ast.Rule, bool, string, error) {
	name := ""
	if p.cur.kind == tIdent && p.peek.kind == tColon {
		name = p.cur.text
		if err := p.advance(); err != nil {
			return nil, false, "", err
		}
		if err := p.advance(); err != nil {
			return nil, false, "", err
		}
	}

	head, err := p.parseTableRef()
	if err != nil {
		return nil, false, "", err
	}

	if p.cur.kind == tSemi {
		if err := p.advance(); err != nil {
			return nil, false, "", err
		}
		return &ast.Rule{Head: head}, true, name, nil
	}

	if _, err := p.expect(tArrow, "':-'"); err != nil {
		return nil, false, "", err
	}

	rule := &ast.Rule{Head: head}
	for {
		negated := false
		if p.cur.kind == tKwNotin {
			negated = true
			if err := p.advance(); err != nil {
				return nil, false, "", err
			}
		}
		if negated || (p.cur.kind == tIdent && p.peek.kind == tLParen) {
			ref, err := p.parseTableRef()
			if err != nil {
				return nil, false, "", err
			}
			rule.Joins = append(rule.Joins, &ast.JoinClause{Ref: ref, Negated: negated})
		} else {
			qual, err := p.parseExpr()
			if err != nil {
				return nil, false, "", err
			}
			rule.Quals = append(rule.Quals, qual)
		}
		if p.cur.kind == tComma {
			if err := p.advance(); err != nil {
				return nil, false, "", err
			}
			continue
		}
		break
	}
	if _, err := p.expect(tSemi, "';'"); err != nil {
		return nil, false, "", err
	}
	return rule, false, name, nil
}

func (p *parser) parseTableRef() (*ast.TableRef, error) {
	nameTok, err := p.expect(tIdent, "relation name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tLParen, "'('"); err != nil {
		return nil, err
	}
	ref := &ast.TableRef{Name: nameTok.text}
	for p.cur.kind != tRParen {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ref.Cols = append(ref.Cols, e)
		if p.cur.kind == tComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(tRParen, "')'"); err != nil {
		return nil, err
	}
	return ref, nil
}

// Expression grammar, lowest to highest precedence:
//   qual     := cmp
//   cmp      := add (('<'|'<='|'>'|'>='|'='|'!=') add)?
//   add      := mul (('+'|'-') mul)*
//   mul      := unary (('*'|'/'|'%') unary)*
//   unary    := '-' unary | primary
//   primary  := IDENT '(' ... ')' [agg call] | IDENT | literal | '(' cmp ')'

func (p *parser) parseExpr() (ast.Expr, error) {
	return p.parseCmp()
}

func (p *parser) parseCmp() (ast.Expr, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	var kind ast.OpKind
	switch p.cur.kind {
	case tLt:
		kind = ast.OpLt
	case tLe:
		kind = ast.OpLe
	case tGt:
		kind = ast.OpGt
	case tGe:
		kind = ast.OpGe
	case tEq:
		kind = ast.OpEq
	case tNe:
		kind = ast.OpNe
	default:
		return left, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	return &ast.OpExpr{Kind: kind, Left: left, Right: right}, nil
}

func (p *parser) parseAdd() (ast.Expr, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tPlus || p.cur.kind == tMinus {
		kind := ast.OpAdd
		if p.cur.kind == tMinus {
			kind = ast.OpSub
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = &ast.OpExpr{Kind: kind, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMul() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tStar || p.cur.kind == tSlash || p.cur.kind == tPercent {
		var kind ast.OpKind
		switch p.cur.kind {
		case tStar:
			kind = ast.OpMul
		case tSlash:
			kind = ast.OpDiv
		case tPercent:
			kind = ast.OpMod
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.OpExpr{Kind: kind, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (ast.Expr, error) {
	if p.cur.kind == tMinus {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.OpExpr{Kind: ast.OpNeg, Left: inner}, nil
	}
	return p.parsePrimary()
}

var aggKeywords = map[string]ast.AggKind{
	"count": ast.AggCount,
	"sum":   ast.AggSum,
	"min":   ast.AggMin,
	"max":   ast.AggMax,
	"avg":   ast.AggAvg,
}

func (p *parser) parsePrimary() (ast.Expr, error) {
	switch p.cur.kind {
	case tInt:
		v := p.cur.i
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.ConstExpr{Kind: ast.ConstInt, I: v}, nil
	case tFloat:
		v := p.cur.f
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.ConstExpr{Kind: ast.ConstFloat, F: v}, nil
	case tString:
		v := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.ConstExpr{Kind: ast.ConstString, S: v}, nil
	case tChar:
		v := byte(p.cur.i)
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.ConstExpr{Kind: ast.ConstChar, C: v}, nil
	case tKwTrue:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.ConstExpr{Kind: ast.ConstBool, B: true}, nil
	case tKwFalse:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.ConstExpr{Kind: ast.ConstBool, B: false}, nil
	case tLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tIdent:
		name := p.cur.text
		if kind, ok := aggKeywords[name]; ok && p.peek.kind == tLParen {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			input, err := p.parseCmp()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tRParen, "')'"); err != nil {
				return nil, err
			}
			return &ast.AggExpr{Kind: kind, Input: input}, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.VarExpr{Name: name}, nil
	default:
		return nil, fmt.Errorf("parser: unexpected token at line %d: %q", p.cur.line, p.cur.text)
	}
}
