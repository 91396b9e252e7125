package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	datePattern     = regexp.MustCompile(`^\d{4}(-\d{2}(-\d{2})?)?$`)
	dateTimePattern = regexp.MustCompile(`^\d{4}(-\d{2}(-\d{2})?)?T(\d{2}(:\d{2}(:\d{2}(\.\d+)?)?)?)?(Z|[+-]\d{2}:\d{2})?$`)
	timePattern     = regexp.MustCompile(`^\d{2}(:\d{2}(:\d{2}(\.\d+)?)?)?$`)
)

// Lexer tokenizes a path expression.
type Lexer struct {
	input  []rune
	pos    int
	peeked *Token
}

// NewLexer creates a lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: []rune(input)}
}

// Peek returns the next token without consuming it.
func (l *Lexer) Peek() (Token, error) {
	if l.peeked != nil {
		return *l.peeked, nil
	}
	tok, err := l.next()
	if err != nil {
		return Token{}, err
	}
	l.peeked = &tok
	return tok, nil
}

// Next consumes and returns the next token.
func (l *Lexer) Next() (Token, error) {
	if l.peeked != nil {
		tok := *l.peeked
		l.peeked = nil
		return tok, nil
	}
	return l.next()
}

func (l *Lexer) next() (Token, error) {
	if err := l.skipTrivia(); err != nil {
		return Token{}, err
	}
	if l.pos >= len(l.input) {
		return Token{Kind: TokEOF, Pos: l.pos, End: l.pos}, nil
	}

	ch := l.input[l.pos]
	pos := l.pos

	if kind, ok := singleRune[ch]; ok {
		l.pos++
		return Token{Kind: kind, Lit: string(ch), Pos: pos, End: l.pos}, nil
	}

	switch ch {
	case '!':
		if l.at(1) == '=' {
			return l.emit(TokNeq, "!=", pos, 2), nil
		}
		if l.at(1) == '~' {
			return l.emit(TokNotEquiv, "!~", pos, 2), nil
		}
		return Token{}, l.errorf(pos, "unexpected '!', did you mean '!=' or '!~'?")
	case '>':
		if l.at(1) == '=' {
			return l.emit(TokGte, ">=", pos, 2), nil
		}
		return l.emit(TokGt, ">", pos, 1), nil
	case '<':
		if l.at(1) == '=' {
			return l.emit(TokLte, "<=", pos, 2), nil
		}
		return l.emit(TokLt, "<", pos, 1), nil
	case '\'':
		return l.readString(pos)
	case '`':
		return l.readDelimitedIdent(pos)
	case '@':
		return l.readTemporal(pos)
	case '$':
		l.pos++
		if l.pos >= len(l.input) || !isIdentStart(l.input[l.pos]) {
			return Token{}, l.errorf(pos, "expected variable name after '$'")
		}
		tok, _ := l.readIdent(l.pos)
		return Token{Kind: TokVariable, Lit: tok.Lit, Pos: pos, End: l.pos}, nil
	case '%':
		l.pos++
		if l.pos < len(l.input) && l.input[l.pos] == '`' {
			tok, err := l.readDelimitedIdent(l.pos)
			if err != nil {
				return Token{}, err
			}
			return Token{Kind: TokExternal, Lit: tok.Lit, Pos: pos, End: l.pos}, nil
		}
		if l.pos >= len(l.input) || !isIdentStart(l.input[l.pos]) {
			return Token{}, l.errorf(pos, "expected constant name after '%%'")
		}
		tok, _ := l.readIdent(l.pos)
		return Token{Kind: TokExternal, Lit: tok.Lit, Pos: pos, End: l.pos}, nil
	default:
		if unicode.IsDigit(ch) {
			return l.readNumber(pos)
		}
		if isIdentStart(ch) {
			return l.readIdent(pos)
		}
		return Token{}, l.errorf(pos, "unexpected character %q", ch)
	}
}

var singleRune = map[rune]TokenKind{
	'.': TokDot,
	'(': TokLParen,
	')': TokRParen,
	'[': TokLBracket,
	']': TokRBracket,
	'{': TokLBrace,
	'}': TokRBrace,
	',': TokComma,
	'=': TokEq,
	'~': TokEquiv,
	'+': TokPlus,
	'-': TokMinus,
	'*': TokStar,
	'/': TokSlash,
	'&': TokAmp,
	'|': TokPipe,
}

func (l *Lexer) emit(kind TokenKind, lit string, pos, width int) Token {
	l.pos += width
	return Token{Kind: kind, Lit: lit, Pos: pos, End: l.pos}
}

func (l *Lexer) at(offset int) rune {
	if l.pos+offset < len(l.input) {
		return l.input[l.pos+offset]
	}
	return 0
}

func (l *Lexer) readString(pos int) (Token, error) {
	l.pos++ // skip opening '
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch ch {
		case '\\':
			r, err := l.readEscape()
			if err != nil {
				return Token{}, err
			}
			sb.WriteRune(r)
			continue
		case '\'':
			l.pos++
			return Token{Kind: TokString, Lit: sb.String(), Pos: pos, End: l.pos}, nil
		}
		sb.WriteRune(ch)
		l.pos++
	}
	return Token{}, l.errorf(pos, "unterminated string literal")
}

func (l *Lexer) readDelimitedIdent(pos int) (Token, error) {
	l.pos++ // skip opening `
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch ch {
		case '\\':
			r, err := l.readEscape()
			if err != nil {
				return Token{}, err
			}
			sb.WriteRune(r)
			continue
		case '`':
			l.pos++
			if sb.Len() == 0 {
				return Token{}, l.errorf(pos, "empty delimited identifier")
			}
			return Token{Kind: TokIdent, Lit: sb.String(), Pos: pos, End: l.pos}, nil
		}
		sb.WriteRune(ch)
		l.pos++
	}
	return Token{}, l.errorf(pos, "unterminated delimited identifier")
}

// readEscape decodes the escape sequence starting at the backslash.
func (l *Lexer) readEscape() (rune, error) {
	start := l.pos
	l.pos++ // skip backslash
	if l.pos >= len(l.input) {
		return 0, l.errorf(start, "unterminated escape sequence")
	}
	ch := l.input[l.pos]
	l.pos++
	switch ch {
	case '\'', '"', '`', '\\', '/':
		return ch, nil
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case 'f':
		return '\f', nil
	case 'u':
		if l.pos+4 > len(l.input) {
			return 0, l.errorf(start, "incomplete unicode escape")
		}
		code, err := strconv.ParseUint(string(l.input[l.pos:l.pos+4]), 16, 32)
		if err != nil {
			return 0, l.errorf(start, "invalid unicode escape %q", string(l.input[l.pos:l.pos+4]))
		}
		l.pos += 4
		return rune(code), nil
	default:
		return 0, l.errorf(start, "unknown escape sequence \\%c", ch)
	}
}

func (l *Lexer) readNumber(pos int) (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && unicode.IsDigit(l.input[l.pos]) {
		l.pos++
	}
	// A dot only belongs to the number when digits follow; `1.toString()` is an invocation.
	if l.at(0) == '.' && unicode.IsDigit(l.at(1)) {
		l.pos++
		for l.pos < len(l.input) && unicode.IsDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	return Token{Kind: TokNumber, Lit: string(l.input[start:l.pos]), Pos: pos, End: l.pos}, nil
}

// readTemporal reads @date, @datetime or @Ttime literals.
func (l *Lexer) readTemporal(pos int) (Token, error) {
	l.pos++ // skip @
	start := l.pos
	for l.pos < len(l.input) && isTemporalRune(l.input[l.pos]) {
		l.pos++
	}
	lit := string(l.input[start:l.pos])
	switch {
	case lit == "":
		return Token{}, l.errorf(pos, "expected date or time after '@'")
	case strings.HasPrefix(lit, "T"):
		if !timePattern.MatchString(lit[1:]) {
			return Token{}, l.errorf(pos, "invalid time literal @%s", lit)
		}
		return Token{Kind: TokTime, Lit: lit[1:], Pos: pos, End: l.pos}, nil
	case strings.Contains(lit, "T"):
		if !dateTimePattern.MatchString(lit) {
			return Token{}, l.errorf(pos, "invalid datetime literal @%s", lit)
		}
		return Token{Kind: TokDateTime, Lit: lit, Pos: pos, End: l.pos}, nil
	default:
		if !datePattern.MatchString(lit) {
			return Token{}, l.errorf(pos, "invalid date literal @%s", lit)
		}
		return Token{Kind: TokDate, Lit: lit, Pos: pos, End: l.pos}, nil
	}
}

func (l *Lexer) readIdent(pos int) (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && isIdentCont(l.input[l.pos]) {
		l.pos++
	}
	lit := string(l.input[start:l.pos])
	kind := TokIdent
	if kw, ok := keywords[lit]; ok {
		kind = kw
	}
	return Token{Kind: kind, Lit: lit, Pos: pos, End: l.pos}, nil
}

// skipTrivia skips whitespace, // line comments and /* block */ comments.
func (l *Lexer) skipTrivia() error {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case unicode.IsSpace(ch):
			l.pos++
		case ch == '/' && l.at(1) == '/':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}
		case ch == '/' && l.at(1) == '*':
			start := l.pos
			l.pos += 2
			for l.pos < len(l.input) && (l.input[l.pos] != '*' || l.at(1) != '/') {
				l.pos++
			}
			if l.pos >= len(l.input) {
				return l.errorf(start, "unterminated block comment")
			}
			l.pos += 2
		default:
			return nil
		}
	}
	return nil
}

func (l *Lexer) errorf(pos int, format string, args ...any) error {
	return fmt.Errorf("%w: lexer error at position %d: %s", ErrSyntax, pos, fmt.Sprintf(format, args...))
}

func isIdentStart(ch rune) bool {
	return unicode.IsLetter(ch) || ch == '_'
}

func isIdentCont(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func isTemporalRune(ch rune) bool {
	return unicode.IsDigit(ch) || strings.ContainsRune("-:T.+Z", ch)
}
