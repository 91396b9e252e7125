package fhirpath

import (
	"fmt"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
)

func modeFor(op string) perRow {
	switch op {
	case "and", "or", "xor", "implies", "&":
		return perRowNever
	default:
		return perRowSingleton
	}
}

func (t *Translator) binary(n *parser.BinaryOp) (*Fragment, error) {
	if n.Op == "|" {
		return t.union(n)
	}
	l, err := t.visit(n.Left)
	if err != nil {
		return nil, err
	}
	r, err := t.visit(n.Right)
	if err != nil {
		return nil, err
	}
	return t.lift([]*Fragment{l, r}, modeFor(n.Op), func(ops []*Fragment) (*Fragment, error) {
		return t.binaryInline(n.Op, ops[0], ops[1])
	})
}

func (t *Translator) binaryInline(op string, l, r *Fragment) (*Fragment, error) {
	switch op {
	case "=", "!=", "<", "<=", ">", ">=":
		return t.compare(op, l, r), nil
	case "~", "!~":
		return t.equivalent(op, l, r), nil
	case "and", "or", "xor", "implies":
		return t.logical(op, l, r), nil
	case "+", "-", "*", "/", "div", "mod":
		return t.arithmetic(op, l, r), nil
	case "&":
		expr := fmt.Sprintf("(COALESCE(%s, '') || COALESCE(%s, ''))", t.text(l), t.text(r))
		return newInline(expr, dialect.KindString, l.Dependencies, r.Dependencies), nil
	default:
		return nil, fmt.Errorf("%w: operator %s", ErrUnsupported, op)
	}
}

// --- comparison ---

func (t *Translator) compare(op string, l, r *Fragment) *Fragment {
	l, r = t.singleton(l), t.singleton(r)
	sqlOp := op
	if op == "!=" {
		sqlOp = "<>"
	}
	expr := fmt.Sprintf("(%s %s %s)", t.comparable(l, r), sqlOp, t.comparable(r, l))
	return newInline(expr, dialect.KindBoolean, l.Dependencies, r.Dependencies)
}

// equivalent is ~ and !~: equality where two empties match and strings
// compare case-insensitively. The result is never empty.
func (t *Translator) equivalent(op string, l, r *Fragment) *Fragment {
	l, r = t.singleton(l), t.singleton(r)
	le, re := t.comparable(l, r), t.comparable(r, l)
	if l.Kind() == dialect.KindString || r.Kind() == dialect.KindString {
		le, re = "lower("+le+")", "lower("+re+")"
	}
	expr := fmt.Sprintf("(%[1]s = %[2]s OR (%[1]s IS NULL AND %[2]s IS NULL))", le, re)
	if op == "!~" {
		expr = "(NOT " + expr + ")"
	}
	return newInline(expr, dialect.KindBoolean, l.Dependencies, r.Dependencies)
}

// comparable renders f so that it compares against other. Document values
// are read as text, and extracted text is safely cast to the other side's
// kind; two documents compare in their dialect-comparable form.
func (t *Translator) comparable(f, other *Fragment) string {
	if f.Kind() == dialect.KindJSON {
		if other.Kind() == dialect.KindJSON {
			return t.d().ComparableJSON(f.Expression)
		}
		f = t.extracted(f)
	}
	switch {
	case f.MetaBool(MetaJSONExtractedString):
		return t.safeCast(f, other)
	case f.Kind() == dialect.KindString && other.Kind() != dialect.KindJSON:
		return t.safeCast(f, other)
	default:
		return f.Expression
	}
}

// safeCast converts a text value to the kind of target, yielding NULL when
// the text does not parse.
func (t *Translator) safeCast(f, target *Fragment) string {
	switch target.Kind() {
	case dialect.KindInteger:
		if isIntegerType(f.MetaString(MetaElementType)) {
			return t.d().SafeCastToInteger(f.Expression)
		}
		return t.d().SafeCastToDecimal(f.Expression)
	case dialect.KindDecimal:
		return t.d().SafeCastToDecimal(f.Expression)
	case dialect.KindBoolean:
		return t.d().SafeCastToBoolean(f.Expression)
	case dialect.KindDate:
		return t.d().SafeCastToDate(f.Expression)
	case dialect.KindDateTime:
		return t.d().SafeCastToTimestamp(f.Expression)
	default:
		return f.Expression
	}
}

// --- logic ---

func (t *Translator) logical(op string, l, r *Fragment) *Fragment {
	a, b := t.boolean(l), t.boolean(r)
	var expr string
	switch op {
	case "and":
		expr = fmt.Sprintf("(%s AND %s)", a, b)
	case "or":
		expr = fmt.Sprintf("(%s OR %s)", a, b)
	case "xor":
		expr = fmt.Sprintf("(%s <> %s)", a, b)
	default: // implies
		expr = fmt.Sprintf("((NOT %s) OR %s)", a, b)
	}
	return newInline(expr, dialect.KindBoolean, l.Dependencies, r.Dependencies)
}

// --- arithmetic ---

func (t *Translator) arithmetic(op string, l, r *Fragment) *Fragment {
	if op == "+" && (l.Kind() == dialect.KindString || r.Kind() == dialect.KindString) {
		return newInline(fmt.Sprintf("(%s || %s)", t.text(l), t.text(r)), dialect.KindString, l.Dependencies, r.Dependencies)
	}

	le, lk := t.numeric(l)
	re, rk := t.numeric(r)
	kind := dialect.KindDecimal
	if lk == dialect.KindInteger && rk == dialect.KindInteger {
		kind = dialect.KindInteger
	}

	var expr string
	switch op {
	case "/":
		expr = fmt.Sprintf("((%s) * 1.0 / NULLIF((%s), 0))", le, re)
		kind = dialect.KindDecimal
	case "div":
		expr = t.d().IntegerDivide(le, re)
		kind = dialect.KindInteger
	case "mod":
		expr = t.d().Modulo(le, re)
	default:
		expr = fmt.Sprintf("(%s %s %s)", le, op, re)
	}
	return newInline(expr, kind, l.Dependencies, r.Dependencies)
}

func (t *Translator) polarity(n *parser.Polarity) (*Fragment, error) {
	operand, err := t.visit(n.Operand)
	if err != nil {
		return nil, err
	}
	return t.lift([]*Fragment{operand}, perRowAlways, func(ops []*Fragment) (*Fragment, error) {
		expr, kind := t.numeric(ops[0])
		if n.Op == "-" {
			expr = "(-(" + expr + "))"
		}
		return newInline(expr, kind, ops[0].Dependencies), nil
	})
}

// --- membership ---

// membership is x in coll, or coll contains x. An empty x gives empty; an
// empty collection gives false.
func (t *Translator) membership(n *parser.Membership) (*Fragment, error) {
	l, err := t.visit(n.Left)
	if err != nil {
		return nil, err
	}
	r, err := t.visit(n.Right)
	if err != nil {
		return nil, err
	}
	if n.Op == "contains" {
		l, r = r, l
	}
	return t.lift([]*Fragment{l, r}, perRowNever, func(ops []*Fragment) (*Fragment, error) {
		return t.memberOf(ops[0], ops[1]), nil
	})
}

func (t *Translator) memberOf(x, coll *Fragment) *Fragment {
	x = t.singleton(x)
	e := t.d().EnumerateArray(t.asJSON(coll), "$", t.nextAlias("e"))
	elem := newInline(e.Value, dialect.KindJSON)
	elem.set(MetaElementType, coll.MetaString(MetaElementType))
	match := t.compare("=", elem, x)
	expr := fmt.Sprintf("(CASE WHEN %s IS NULL THEN NULL ELSE EXISTS (SELECT 1 FROM %s WHERE %s) END)",
		x.Expression, e.From, match.Expression)
	return newInline(expr, dialect.KindBoolean, x.Dependencies, coll.Dependencies)
}
