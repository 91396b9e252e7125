package parser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax wraps every lexer and parser error.
var ErrSyntax = errors.New("syntax error")

// Parse parses a path expression into an AST.
func Parse(input string) (Node, error) {
	p := &parser{lexer: NewLexer(input), input: []rune(input)}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	// Ensure we consumed everything.
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokEOF {
		return nil, p.errorf(tok.Pos, "unexpected %s, expected end of expression", tok.Kind)
	}
	return node, nil
}

type parser struct {
	lexer   *Lexer
	input   []rune
	lastEnd int
}

// binaryLevel is one precedence tier, loosest first. The type tier holds
// the is/as operators, whose right side is a type specifier.
type binaryLevel struct {
	ops        map[TokenKind]string
	membership bool
	typeOp     bool
}

var binaryLevels = []binaryLevel{
	{ops: map[TokenKind]string{TokImplies: "implies"}},
	{ops: map[TokenKind]string{TokOr: "or", TokXor: "xor"}},
	{ops: map[TokenKind]string{TokAnd: "and"}},
	{ops: map[TokenKind]string{TokIn: "in", TokContains: "contains"}, membership: true},
	{ops: map[TokenKind]string{TokEq: "=", TokEquiv: "~", TokNeq: "!=", TokNotEquiv: "!~"}},
	{ops: map[TokenKind]string{TokLt: "<", TokGt: ">", TokLte: "<=", TokGte: ">="}},
	{ops: map[TokenKind]string{TokPipe: "|"}},
	{ops: map[TokenKind]string{TokIs: "is", TokAs: "as"}, typeOp: true},
	{ops: map[TokenKind]string{TokPlus: "+", TokMinus: "-", TokAmp: "&"}},
	{ops: map[TokenKind]string{TokStar: "*", TokSlash: "/", TokDiv: "div", TokMod: "mod"}},
}

func (p *parser) parseExpr() (Node, error) {
	return p.parseLevel(0)
}

// parseLevel: operand { op operand } for binaryLevels[level], left-associative.
func (p *parser) parseLevel(level int) (Node, error) {
	if level == len(binaryLevels) {
		return p.parsePolarity()
	}
	lvl := binaryLevels[level]

	start, err := p.startPos()
	if err != nil {
		return nil, err
	}
	left, err := p.parseLevel(level + 1)
	if err != nil {
		return nil, err
	}

	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		op, ok := lvl.ops[tok.Kind]
		if !ok {
			return left, nil
		}
		p.advance()

		if lvl.typeOp {
			typeName, err := p.parseTypeSpecifier(op)
			if err != nil {
				return nil, err
			}
			left = &TypeOp{Source: p.source(start), Op: op, Operand: left, TypeName: typeName}
			continue
		}

		right, err := p.parseLevel(level + 1)
		if err != nil {
			return nil, err
		}
		if lvl.membership {
			left = &Membership{Source: p.source(start), Op: op, Left: left, Right: right}
		} else {
			left = &BinaryOp{Source: p.source(start), Op: op, Left: left, Right: right}
		}
	}
}

// parseTypeSpecifier: ident { "." ident }
func (p *parser) parseTypeSpecifier(op string) (string, error) {
	var parts []string
	for {
		tok, err := p.next()
		if err != nil {
			return "", err
		}
		if tok.Kind != TokIdent {
			return "", p.errorf(tok.Pos, "expected type name after '%s', got %s", op, tok.Kind)
		}
		parts = append(parts, tok.Lit)

		tok, err = p.peek()
		if err != nil {
			return "", err
		}
		if tok.Kind != TokDot {
			return strings.Join(parts, "."), nil
		}
		p.advance()
	}
}

// parsePolarity: [ "+" | "-" ] postfix
func (p *parser) parsePolarity() (Node, error) {
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokPlus && tok.Kind != TokMinus {
		return p.parsePostfix()
	}
	p.advance()

	operand, err := p.parsePolarity()
	if err != nil {
		return nil, err
	}
	// Fold signs into numeric literals so take(-1) and friends see a constant.
	if lit, ok := operand.(*Literal); ok && (lit.Kind == LitInteger || lit.Kind == LitDecimal) {
		value := lit.Value
		if tok.Kind == TokMinus {
			if strings.HasPrefix(value, "-") {
				value = value[1:]
			} else {
				value = "-" + value
			}
		}
		return &Literal{Source: p.source(tok.Pos), Kind: lit.Kind, Value: value}, nil
	}
	return &Polarity{Source: p.source(tok.Pos), Op: tok.Lit, Operand: operand}, nil
}

// parsePostfix: term { "." invocation | "[" expr "]" }
func (p *parser) parsePostfix() (Node, error) {
	start, err := p.startPos()
	if err != nil {
		return nil, err
	}
	node, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}

		switch tok.Kind {
		case TokDot:
			p.advance()
			name, err := p.next()
			if err != nil {
				return nil, err
			}
			if name.Kind != TokIdent && !isKeyword(name.Kind) {
				return nil, p.errorf(name.Pos, "expected identifier after '.', got %s", name.Kind)
			}
			next, err := p.peek()
			if err != nil {
				return nil, err
			}
			if next.Kind == TokLParen {
				args, err := p.parseArgs(name)
				if err != nil {
					return nil, err
				}
				node = &FunctionCall{Source: p.source(start), Target: node, Name: name.Lit, Args: args}
			} else {
				node = &Member{Source: p.source(start), Target: node, Name: name.Lit}
			}

		case TokLBracket:
			p.advance()
			index, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokRBracket); err != nil {
				return nil, err
			}
			node = &Indexer{Source: p.source(start), Target: node, Index: index}

		default:
			return node, nil
		}
	}
}

// parseTerm handles literals, identifiers, variables, calls and parentheses.
func (p *parser) parseTerm() (Node, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}

	switch tok.Kind {
	case TokNumber:
		kind := LitInteger
		if strings.Contains(tok.Lit, ".") {
			kind = LitDecimal
		}
		next, err := p.peek()
		if err != nil {
			return nil, err
		}
		if next.Kind == TokString {
			return nil, p.errorf(tok.Pos, "quantity literals are not supported")
		}
		return &Literal{Source: p.source(tok.Pos), Kind: kind, Value: tok.Lit}, nil

	case TokString:
		return &Literal{Source: p.source(tok.Pos), Kind: LitString, Value: tok.Lit}, nil

	case TokTrue, TokFalse:
		return &Literal{Source: p.source(tok.Pos), Kind: LitBoolean, Value: tok.Lit}, nil

	case TokDate:
		return &Literal{Source: p.source(tok.Pos), Kind: LitDate, Value: tok.Lit}, nil

	case TokDateTime:
		return &Literal{Source: p.source(tok.Pos), Kind: LitDateTime, Value: tok.Lit}, nil

	case TokTime:
		return &Literal{Source: p.source(tok.Pos), Kind: LitTime, Value: tok.Lit}, nil

	case TokLBrace:
		if err := p.expect(TokRBrace); err != nil {
			return nil, err
		}
		return &Literal{Source: p.source(tok.Pos), Kind: LitEmpty}, nil

	case TokVariable:
		return &Variable{Source: p.source(tok.Pos), Name: tok.Lit}, nil

	case TokExternal:
		return &External{Source: p.source(tok.Pos), Name: tok.Lit}, nil

	case TokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return inner, nil

	case TokIdent:
		next, err := p.peek()
		if err != nil {
			return nil, err
		}
		if next.Kind == TokLParen {
			args, err := p.parseArgs(tok)
			if err != nil {
				return nil, err
			}
			return &FunctionCall{Source: p.source(tok.Pos), Name: tok.Lit, Args: args}, nil
		}
		return &Identifier{Source: p.source(tok.Pos), Name: tok.Lit}, nil

	default:
		return nil, p.errorf(tok.Pos, "unexpected %s, expected expression", tok.Kind)
	}
}

// parseArgs: "(" [ expr { "," expr } ] ")" and checks arity of known functions.
func (p *parser) parseArgs(name Token) ([]Node, error) {
	if err := p.expect(TokLParen); err != nil {
		return nil, err
	}

	var args []Node
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)

			tok, err = p.peek()
			if err != nil {
				return nil, err
			}
			if tok.Kind != TokComma {
				break
			}
			p.advance()
		}
	}
	if err := p.expect(TokRParen); err != nil {
		return nil, err
	}

	if def, ok := GetFunction(name.Lit); ok {
		if err := def.CheckArity(len(args)); err != nil {
			return nil, p.errorf(name.Pos, "%v", err)
		}
	}
	return args, nil
}

// --- Helpers ---

func (p *parser) peek() (Token, error) {
	return p.lexer.Peek()
}

func (p *parser) next() (Token, error) {
	tok, err := p.lexer.Next()
	if err != nil {
		return Token{}, err
	}
	p.lastEnd = tok.End
	return tok, nil
}

func (p *parser) advance() {
	p.next() //nolint:errcheck
}

func (p *parser) expect(kind TokenKind) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if tok.Kind != kind {
		return p.errorf(tok.Pos, "expected %s, got %s", kind, tok.Kind)
	}
	return nil
}

func (p *parser) startPos() (int, error) {
	tok, err := p.peek()
	if err != nil {
		return 0, err
	}
	return tok.Pos, nil
}

// source spans from start to the end of the last consumed token.
func (p *parser) source(start int) Source {
	end := max(p.lastEnd, start)
	return Source{Pos: start, Text: string(p.input[start:end])}
}

func (p *parser) errorf(pos int, format string, args ...any) error {
	return fmt.Errorf("%w: parse error at position %d: %s", ErrSyntax, pos, fmt.Sprintf(format, args...))
}
