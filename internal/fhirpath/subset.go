package fhirpath

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
)

// subsetSpec is one positional subset. root filters on rn (1-based row
// number) and cnt (collection size); inline formats a condition on the
// 0-based element index.
type subsetSpec struct {
	root      string
	inline    string
	edge      bool // first or last
	last      bool
	singleton bool
}

func subsetFor(name, n string) subsetSpec {
	switch name {
	case "first":
		return subsetSpec{root: "s.rn = 1", inline: "%s = 0", edge: true, singleton: true}
	case "last":
		return subsetSpec{root: "s.rn = s.cnt", edge: true, last: true, singleton: true}
	case "tail":
		return subsetSpec{root: "s.rn > 1", inline: "%s >= 1"}
	case "take":
		return subsetSpec{root: fmt.Sprintf("s.rn <= %s", n), inline: "%s < " + n}
	case "skip":
		return subsetSpec{root: fmt.Sprintf("s.rn > %s", n), inline: "%s >= " + n}
	default: // index
		return subsetSpec{root: fmt.Sprintf("s.rn = %s + 1", n), inline: "%s = " + n, singleton: true}
	}
}

// subset handles first(), last(), tail(), take(n), skip(n) and [n].
func (t *Translator) subset(name string, recv *Fragment, arg parser.Node) (*Fragment, error) {
	n := ""
	if arg != nil {
		a, err := t.visit(arg)
		if err != nil {
			return nil, err
		}
		if a.IsCTE() {
			return nil, fmt.Errorf("%w: %s() needs a constant argument", ErrUnsupported, name)
		}
		n, _ = t.numeric(a)
	}
	spec := subsetFor(name, n)

	if t.inLambda() || !recv.IsCTE() {
		return t.subsetInline(spec, recv)
	}
	return t.subsetRoot(spec, recv)
}

func (t *Translator) subsetRoot(spec subsetSpec, src *Fragment) (*Fragment, error) {
	inner := sq.Select(
		src.Name+".id",
		src.Name+".ord",
		src.Name+".value",
		fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %[1]s.id ORDER BY %[1]s.ord) AS rn", src.Name),
		fmt.Sprintf("COUNT(*) OVER (PARTITION BY %s.id) AS cnt", src.Name),
	).From(src.Name)
	body, _, err := sq.Select("s.id AS id", "s.ord AS ord", "s.value AS value").
		FromSelect(inner, "s").
		Where(spec.root).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build subset: %w", err)
	}

	f := &Fragment{
		Expression:   body,
		Shape:        ShapeQuery,
		Dependencies: []string{src.Name},
		Metadata:     carry(src),
	}
	f.set(MetaCurrentElement, "value")
	f.set(MetaOrderingColumns, []string{"ord"})
	f.set(MetaSingleton, spec.singleton || src.isSingleton())
	// Subsets keep the element type; recover it from the schema path when
	// the source no longer carries it.
	f.set(MetaElementType, t.elementType(src))
	return t.emit(f), nil
}

func (t *Translator) subsetInline(spec subsetSpec, recv *Fragment) (*Fragment, error) {
	// A single value is its own first and last element.
	if spec.edge && !recv.isCollection() {
		return recv, nil
	}

	e := t.d().EnumerateArray(t.asJSON(recv), "$", t.nextAlias("e"))
	switch {
	case spec.last:
		return t.elementAt(recv, e, "", e.Index+" DESC"), nil
	case spec.singleton:
		return t.elementAt(recv, e, fmt.Sprintf(spec.inline, e.Index), e.Index), nil
	}
	expr := fmt.Sprintf("(SELECT %s FROM %s WHERE %s)",
		t.d().AggregateToArray(e.Value, e.Index), e.From, fmt.Sprintf(spec.inline, e.Index))
	f := newCollection(expr, recv.Dependencies)
	f.set(MetaElementType, recv.MetaString(MetaElementType))
	return f, nil
}

// elementAt selects one element of an enumeration.
func (t *Translator) elementAt(recv *Fragment, e dialect.Enumeration, where, orderBy string) *Fragment {
	expr := "(SELECT " + e.Value + " FROM " + e.From
	if where != "" {
		expr += " WHERE " + where
	}
	expr += " ORDER BY " + orderBy + " LIMIT 1)"
	f := newInline(expr, dialect.KindJSON, recv.Dependencies)
	f.set(MetaElementType, recv.MetaString(MetaElementType))
	return f
}

// single returns its input when it is provably single-valued and fails
// translation otherwise.
func (t *Translator) single(recv *Fragment) (*Fragment, error) {
	if recv.IsCTE() && recv.isSingleton() || !recv.IsCTE() && !recv.isCollection() {
		return recv, nil
	}
	return nil, fmt.Errorf("%w: single() on a collection that may hold more than one item", ErrCardinality)
}

func (t *Translator) indexer(n *parser.Indexer) (*Fragment, error) {
	target, err := t.visit(n.Target)
	if err != nil {
		return nil, err
	}
	return t.subset("index", target, n.Index)
}
