package fhirpath

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
)

// perRow says when an operator may be applied row by row to a single CTE
// operand instead of joining every operand to the root rows.
type perRow int

const (
	// perRowNever: the result depends on operands being empty, so every
	// root row must be visited (and, or, &, iif, in).
	perRowNever perRow = iota
	// perRowSingleton: only when the CTE holds at most one row per root row.
	perRowSingleton
	// perRowAlways: the operator maps element to element.
	perRowAlways
)

// lift applies fn, which combines inline operands, to operands that may
// be CTEs. Inside a lambda every operand is already inline.
//
// At the root scope constants fold directly; a single CTE operand is
// projected row by row when mode allows it; anything else is evaluated
// once per root row with singleton CTEs joined in and collection CTEs
// folded into arrays.
func (t *Translator) lift(ops []*Fragment, mode perRow, fn func(ops []*Fragment) (*Fragment, error)) (*Fragment, error) {
	if t.inLambda() {
		return fn(ops)
	}

	var ctes []int
	for i, op := range ops {
		if op.IsCTE() {
			ctes = append(ctes, i)
		}
	}
	if len(ctes) == 0 {
		return fn(ops)
	}

	if len(ctes) == 1 {
		src := ops[ctes[0]]
		if mode == perRowAlways || mode == perRowSingleton && src.isSingleton() {
			args := make([]*Fragment, len(ops))
			copy(args, ops)
			args[ctes[0]] = t.rowValue(src, "")
			v, err := fn(args)
			if err != nil {
				return nil, err
			}
			return t.project(src, v, src.isSingleton()), nil
		}
	}

	return t.liftJoined(ops, fn)
}

func (t *Translator) liftJoined(ops []*Fragment, fn func(ops []*Fragment) (*Fragment, error)) (*Fragment, error) {
	args := make([]*Fragment, len(ops))
	deps := []string{BaseName}
	q := sq.Select("ctx.id AS id", "0 AS ord")
	var joins []string
	for i, op := range ops {
		switch {
		case !op.IsCTE():
			args[i] = op
		case op.isSingleton():
			alias := t.nextAlias("j")
			joins = append(joins, fmt.Sprintf("%[1]s AS %[2]s ON %[2]s.id = ctx.id", op.Name, alias))
			args[i] = t.rowValue(op, alias)
			deps = append(deps, op.Name)
		default:
			args[i] = t.correlated(op)
		}
	}

	v, err := fn(args)
	if err != nil {
		return nil, err
	}
	value := t.asJSON(v)
	q = q.Column(value + " AS value").From(BaseName + " AS ctx")
	for _, j := range joins {
		q = q.LeftJoin(j)
	}
	body, _, err := q.Where(value + " IS NOT NULL").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build joined expression: %w", err)
	}

	f := &Fragment{
		Expression:   body,
		Shape:        ShapeQuery,
		Dependencies: mergeDeps(deps, v.Dependencies),
		Metadata:     map[string]any{},
	}
	f.set(MetaElementType, v.MetaString(MetaElementType))
	if v.isCollection() {
		collected := t.emit(f)
		out := &Fragment{Expression: "value", SourceTable: collected.Name, Shape: ShapeUnnest, RequiresUnnest: true, Metadata: map[string]any{}}
		out.set(MetaElementType, v.MetaString(MetaElementType))
		return t.emit(out), nil
	}
	f.set(MetaSingleton, true)
	if k := v.Kind(); k != dialect.KindJSON {
		f.Metadata[MetaScalarType] = k
	}
	return t.emit(f), nil
}

// correlated folds the rows of a CTE that belong to the current root row
// into one inline array.
func (t *Translator) correlated(src *Fragment) *Fragment {
	alias := t.nextAlias("c")
	expr := fmt.Sprintf("(SELECT %[1]s FROM %[2]s AS %[3]s WHERE %[3]s.id = ctx.id)",
		t.d().AggregateToArray(alias+".value", alias+".ord"), src.Name, alias)
	f := newCollection(expr, []string{src.Name})
	f.set(MetaElementType, t.elementType(src))
	return f
}
