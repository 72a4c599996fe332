package exprlang

import (
	"fmt"
	"strconv"
)

// Parse tokenizes and parses src into an Expr. It does not by itself check
// the restricted-function or operand-membership rules; callers needing the
// full safe-subset guarantee should use Validate instead.
func Parse(src string) (Expr, error) {
	toks, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.peek().Kind != TokEOF {
		return nil, fmt.Errorf("exprlang: unexpected token %q at position %d", p.peek().Text, p.peek().Pos)
	}
	return expr, nil
}

type parser struct {
	toks []Token
	pos  int
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// precedence ranks the binary operators, loosest first:
// or(|) < and(&) < comparisons < additive < multiplicative < power.
// Unlike Python, | and & bind looser than comparisons, so a > 0 & b < 1
// groups as (a > 0) & (b < 1).
func precedence(k TokenKind) int {
	switch k {
	case TokPipe:
		return 1
	case TokAmp:
		return 2
	case TokLT, TokLE, TokGT, TokGE, TokEQ, TokNE:
		return 3
	case TokPlus, TokMinus:
		return 4
	case TokStar, TokSlash, TokPercent:
		return 5
	case TokDoubleStar:
		return 6
	default:
		return -1
	}
}

// rightAssoc reports whether an operator binds tighter on its right side
// (only ** does, matching Python's a ** b ** c == a ** (b ** c)).
func rightAssoc(k TokenKind) bool { return k == TokDoubleStar }

func (p *parser) parseExpr(minPrec int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().Kind
		prec := precedence(op)
		if prec < minPrec || prec < 0 {
			break
		}
		p.next()
		nextMin := prec + 1
		if rightAssoc(op) {
			nextMin = prec
		}
		right, err := p.parseExpr(nextMin)
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.peek().Kind {
	case TokMinus, TokBang:
		op := p.next().Kind
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: op, X: x}, nil
	default:
		return p.parsePrimary()
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokNumber:
		p.next()
		v, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, fmt.Errorf("exprlang: invalid number %q at position %d", tok.Text, tok.Pos)
		}
		return NumberLit{Value: v}, nil
	case TokIdent:
		p.next()
		if p.peek().Kind == TokLParen {
			return p.parseCall(tok.Text)
		}
		return OperandRef{Name: tok.Text}, nil
	case TokLParen:
		p.next()
		expr, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.peek().Kind != TokRParen {
			return nil, fmt.Errorf("exprlang: expected ')' at position %d", p.peek().Pos)
		}
		p.next()
		return expr, nil
	default:
		return nil, fmt.Errorf("exprlang: unexpected token %q at position %d", tok.Text, tok.Pos)
	}
}

func (p *parser) parseCall(name string) (Expr, error) {
	p.next() // consume '('
	var args []Expr
	if p.peek().Kind != TokRParen {
		for {
			arg, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().Kind == TokComma {
				p.next()
				continue
			}
			break
		}
	}
	if p.peek().Kind != TokRParen {
		return nil, fmt.Errorf("exprlang: expected ')' closing call to %q at position %d", name, p.peek().Pos)
	}
	p.next()
	return CallExpr{Func: name, Args: args}, nil
}
