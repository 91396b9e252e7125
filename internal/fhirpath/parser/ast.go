package parser

// Node is the interface all AST nodes implement.
type Node interface {
	node() // marker method
	Src() Source
}

// Source locates a node in the expression text.
type Source struct {
	Pos  int    // rune offset of the first token
	Text string // source text covered by the node
}

func (s Source) Src() Source { return s }

// LiteralKind classifies a literal value.
type LiteralKind int

const (
	LitEmpty LiteralKind = iota // {}
	LitString
	LitInteger
	LitDecimal
	LitBoolean
	LitDate
	LitDateTime
	LitTime
)

var literalNames = map[LiteralKind]string{
	LitEmpty:    "empty",
	LitString:   "string",
	LitInteger:  "integer",
	LitDecimal:  "decimal",
	LitBoolean:  "boolean",
	LitDate:     "date",
	LitDateTime: "datetime",
	LitTime:     "time",
}

func (k LiteralKind) String() string { return literalNames[k] }

// Literal is a constant: 'text', 42, 3.14, true, @2024-01-01, {}.
type Literal struct {
	Source
	Kind  LiteralKind
	Value string
}

// Identifier is a bare name at the start of a path: Patient, name.
type Identifier struct {
	Source
	Name string
}

// Variable is a lambda variable reference; Name excludes the '$'.
type Variable struct {
	Source
	Name string
}

// External is an environment constant such as %resource; Name excludes the '%'.
type External struct {
	Source
	Name string
}

// Member is a path step: Target.Name.
type Member struct {
	Source
	Target Node
	Name   string
}

// FunctionCall is Target.Name(Args...). Target is nil for a call that
// applies to the current context, such as where(...) inside a lambda or iif(...).
type FunctionCall struct {
	Source
	Target Node
	Name   string
	Args   []Node
}

// Indexer is Target[Index].
type Indexer struct {
	Source
	Target Node
	Index  Node
}

// BinaryOp covers arithmetic, comparison, equality, logical, union and concatenation.
type BinaryOp struct {
	Source
	Op    string // "+", "-", "*", "/", "div", "mod", "&", "|", "=", "!=", "~", "!~", "<", "<=", ">", ">=", "and", "or", "xor", "implies"
	Left  Node
	Right Node
}

// Membership is Left in Right, or Left contains Right.
type Membership struct {
	Source
	Op    string // "in", "contains"
	Left  Node
	Right Node
}

// TypeOp is Operand is TypeName, or Operand as TypeName. The type is
// metadata of the node, never an operand to evaluate.
type TypeOp struct {
	Source
	Op       string // "is", "as"
	Operand  Node
	TypeName string
}

// Polarity is a unary sign: -Operand or +Operand.
type Polarity struct {
	Source
	Op      string
	Operand Node
}

func (*Literal) node()      {}
func (*Identifier) node()   {}
func (*Variable) node()     {}
func (*External) node()     {}
func (*Member) node()       {}
func (*FunctionCall) node() {}
func (*Indexer) node()      {}
func (*BinaryOp) node()     {}
func (*Membership) node()   {}
func (*TypeOp) node()       {}
func (*Polarity) node()     {}

// Walk calls fn for n and every node below it, depth first. Type names of
// TypeOp nodes are not visited.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch v := n.(type) {
	case *Member:
		Walk(v.Target, fn)
	case *FunctionCall:
		Walk(v.Target, fn)
		for _, a := range v.Args {
			Walk(a, fn)
		}
	case *Indexer:
		Walk(v.Target, fn)
		Walk(v.Index, fn)
	case *BinaryOp:
		Walk(v.Left, fn)
		Walk(v.Right, fn)
	case *Membership:
		Walk(v.Left, fn)
		Walk(v.Right, fn)
	case *TypeOp:
		Walk(v.Operand, fn)
	case *Polarity:
		Walk(v.Operand, fn)
	}
}
