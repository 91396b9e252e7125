package parser

import "fmt"

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokEOF       TokenKind = iota
	TokDot                 // .
	TokLParen              // (
	TokRParen              // )
	TokLBracket            // [
	TokRBracket            // ]
	TokLBrace              // {
	TokRBrace              // }
	TokComma               // ,
	TokEq                  // =
	TokEquiv               // ~
	TokNeq                 // !=
	TokNotEquiv            // !~
	TokGt                  // >
	TokGte                 // >=
	TokLt                  // <
	TokLte                 // <=
	TokPlus                // +
	TokMinus               // -
	TokStar                // *
	TokSlash               // /
	TokAmp                 // &
	TokPipe                // |
	TokIdent               // identifier or `delimited identifier`
	TokString              // 'string literal'
	TokNumber              // 42, 3.14
	TokDate                // @2024-01-31
	TokDateTime            // @2024-01-31T10:00:00Z
	TokTime                // @T10:00
	TokVariable            // $this, $index, $total
	TokExternal            // %resource
	TokTrue                // true
	TokFalse               // false
	TokAnd                 // and
	TokOr                  // or
	TokXor                 // xor
	TokImplies             // implies
	TokIs                  // is
	TokAs                  // as
	TokIn                  // in
	TokContains            // contains
	TokDiv                 // div
	TokMod                 // mod
)

// Token is a single lexical token produced by the lexer.
type Token struct {
	Kind TokenKind
	Lit  string // decoded text of the token
	Pos  int    // rune offset in input
	End  int    // rune offset just past the token
}

func (t Token) String() string {
	if t.Lit != "" {
		return fmt.Sprintf("%s(%q)", t.Kind, t.Lit)
	}
	return t.Kind.String()
}

var kindNames = map[TokenKind]string{
	TokEOF:       "EOF",
	TokDot:       ".",
	TokLParen:    "(",
	TokRParen:    ")",
	TokLBracket:  "[",
	TokRBracket:  "]",
	TokLBrace:    "{",
	TokRBrace:    "}",
	TokComma:     ",",
	TokEq:        "=",
	TokEquiv:     "~",
	TokNeq:       "!=",
	TokNotEquiv:  "!~",
	TokGt:        ">",
	TokGte:       ">=",
	TokLt:        "<",
	TokLte:       "<=",
	TokPlus:      "+",
	TokMinus:     "-",
	TokStar:      "*",
	TokSlash:     "/",
	TokAmp:       "&",
	TokPipe:      "|",
	TokIdent:     "identifier",
	TokString:    "string",
	TokNumber:    "number",
	TokDate:      "date",
	TokDateTime:  "datetime",
	TokTime:      "time",
	TokVariable:  "variable",
	TokExternal:  "external constant",
	TokTrue:      "true",
	TokFalse:     "false",
	TokAnd:       "and",
	TokOr:        "or",
	TokXor:       "xor",
	TokImplies:   "implies",
	TokIs:        "is",
	TokAs:        "as",
	TokIn:        "in",
	TokContains:  "contains",
	TokDiv:       "div",
	TokMod:       "mod",
}

func (k TokenKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

var keywords = map[string]TokenKind{
	"true":     TokTrue,
	"false":    TokFalse,
	"and":      TokAnd,
	"or":       TokOr,
	"xor":      TokXor,
	"implies":  TokImplies,
	"is":       TokIs,
	"as":       TokAs,
	"in":       TokIn,
	"contains": TokContains,
	"div":      TokDiv,
	"mod":      TokMod,
}

// isKeyword reports whether k is a reserved word that may still appear as a
// member or function name after a dot.
func isKeyword(k TokenKind) bool {
	return k >= TokTrue && k <= TokMod
}
