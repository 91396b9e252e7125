package fhirpath

import (
	"fmt"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
)

// usesIndex reports whether expr reads $index.
func usesIndex(expr parser.Node) bool {
	found := false
	parser.Walk(expr, func(n parser.Node) {
		if v, ok := n.(*parser.Variable); ok && v.Name == "index" {
			found = true
		}
	})
	return found
}

// rootSource prepares a collection for a lambda at the root scope:
// constants become CTEs, and rows are renumbered when $index is read.
func (t *Translator) rootSource(src *Fragment, body parser.Node) (*Fragment, error) {
	var err error
	if !src.IsCTE() {
		if src, err = t.materialize(src); err != nil {
			return nil, err
		}
	}
	if body != nil && usesIndex(body) {
		return t.rank(src)
	}
	return src, nil
}

// rank renumbers the rows of src 1..n per root row, in order.
func (t *Translator) rank(src *Fragment) (*Fragment, error) {
	body := fmt.Sprintf(
		"SELECT %[1]s.id AS id, ROW_NUMBER() OVER (PARTITION BY %[1]s.id ORDER BY %[1]s.ord) AS ord, %[1]s.value AS value FROM %[1]s",
		src.Name)
	f := &Fragment{Expression: body, Shape: ShapeQuery, Dependencies: []string{src.Name}, Metadata: carry(src)}
	f.set(MetaOrderingColumns, []string{"ord"})
	return t.emit(f), nil
}

// --- where ---

func (t *Translator) where(recv *Fragment, cond parser.Node) (*Fragment, error) {
	if t.inLambda() {
		return t.whereInline(recv, cond)
	}
	src, err := t.rootSource(recv, cond)
	if err != nil {
		return nil, err
	}
	c, err := t.within(t.rootFrame(src), src.Name, "id", func() (*Fragment, error) {
		return t.visit(cond)
	})
	if err != nil {
		return nil, err
	}
	f := &Fragment{
		Expression:   "value",
		SourceTable:  src.Name,
		Shape:        ShapeProjection,
		Dependencies: c.Dependencies,
		Metadata:     carry(src),
	}
	f.set(MetaFilter, t.boolean(c))
	return t.emit(f), nil
}

func (t *Translator) whereInline(recv *Fragment, cond parser.Node) (*Fragment, error) {
	e := t.d().EnumerateArray(t.asJSON(recv), "$", t.nextAlias("e"))
	this := newInline(e.Value, dialect.KindJSON)
	this.set(MetaElementType, recv.MetaString(MetaElementType))
	vars := map[string]*Fragment{"this": this, "index": newInline(e.Index, dialect.KindInteger)}

	c, err := t.within(vars, "", "", func() (*Fragment, error) { return t.visit(cond) })
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf("(SELECT %s FROM %s WHERE %s)",
		t.d().AggregateToArray(e.Value, e.Index), e.From, t.boolean(c))
	f := newCollection(expr, recv.Dependencies, c.Dependencies)
	f.set(MetaElementType, recv.MetaString(MetaElementType))
	return f, nil
}

// --- select ---

func (t *Translator) selectFn(recv *Fragment, body parser.Node) (*Fragment, error) {
	if t.inLambda() {
		return t.selectInline(recv, body)
	}
	src, err := t.rootSource(recv, body)
	if err != nil {
		return nil, err
	}
	b, err := t.within(t.rootFrame(src), src.Name, "id", func() (*Fragment, error) {
		return t.visit(body)
	})
	if err != nil {
		return nil, err
	}
	return t.project(src, b, src.isSingleton()), nil
}

// project emits the per-row value e of src: unnested when e is a
// collection, projected and filtered on non-empty otherwise.
func (t *Translator) project(src *Fragment, e *Fragment, singleton bool) *Fragment {
	value := t.asJSON(e)
	f := &Fragment{
		Expression:   value,
		SourceTable:  src.Name,
		Dependencies: e.Dependencies,
		Metadata:     map[string]any{},
	}
	if e.isCollection() {
		f.Shape = ShapeUnnest
		f.RequiresUnnest = true
	} else {
		f.Shape = ShapeProjection
		f.set(MetaFilter, value+" IS NOT NULL")
		f.set(MetaSingleton, singleton)
		if k := e.Kind(); k != dialect.KindJSON {
			f.Metadata[MetaScalarType] = k
		}
	}
	f.set(MetaElementType, e.MetaString(MetaElementType))
	return t.emit(f)
}

func (t *Translator) selectInline(recv *Fragment, body parser.Node) (*Fragment, error) {
	outer := t.d().EnumerateArray(t.asJSON(recv), "$", t.nextAlias("e"))
	this := newInline(outer.Value, dialect.KindJSON)
	this.set(MetaElementType, recv.MetaString(MetaElementType))
	vars := map[string]*Fragment{"this": this, "index": newInline(outer.Index, dialect.KindInteger)}

	b, err := t.within(vars, "", "", func() (*Fragment, error) { return t.visit(body) })
	if err != nil {
		return nil, err
	}

	var expr string
	if b.isCollection() {
		inner := t.d().EnumerateArray(b.Expression, "$", t.nextAlias("e"))
		expr = fmt.Sprintf("(SELECT %s FROM %s, %s)",
			t.d().AggregateToArray(inner.Value, outer.Index+", "+inner.Index), outer.From, inner.From)
	} else {
		value := t.asJSON(b)
		expr = fmt.Sprintf("(SELECT %s FROM %s WHERE %s IS NOT NULL)",
			t.d().AggregateToArray(value, outer.Index), outer.From, value)
	}
	f := newCollection(expr, recv.Dependencies, b.Dependencies)
	f.set(MetaElementType, b.MetaString(MetaElementType))
	return f, nil
}

// --- existence and counting ---

// aggregateRows emits one value per root row computed over all rows of src
// that share its id. expr may use the bare columns of src.
func (t *Translator) aggregateRows(src *Fragment, expr string, kind dialect.ValueKind, deps []string) *Fragment {
	f := &Fragment{
		Expression:   t.d().ToJSON(expr, kind),
		SourceTable:  src.Name,
		IsAggregate:  true,
		Shape:        ShapeAggregate,
		Dependencies: mergeDeps(deps, []string{BaseName}),
		Metadata: map[string]any{
			MetaSingleton:    true,
			MetaContextTable: BaseName,
		},
	}
	if kind != dialect.KindJSON {
		f.Metadata[MetaScalarType] = kind
	}
	return t.emit(f)
}

// existence covers exists([crit]), empty(), count(), all(crit) and hasValue().
func (t *Translator) existence(name string, recv *Fragment, crit parser.Node) (*Fragment, error) {
	if t.inLambda() || !recv.IsCTE() && crit == nil {
		return t.existenceInline(name, recv, crit)
	}
	src, err := t.rootSource(recv, crit)
	if err != nil {
		return nil, err
	}

	var c *Fragment
	if crit != nil {
		c, err = t.within(t.rootFrame(src), src.Name, "id", func() (*Fragment, error) {
			return t.visit(crit)
		})
		if err != nil {
			return nil, err
		}
	}

	switch name {
	case "exists":
		if c != nil {
			return t.aggregateRows(src, fmt.Sprintf("COUNT(CASE WHEN %s THEN 1 END) > 0", t.boolean(c)), dialect.KindBoolean, c.Dependencies), nil
		}
		return t.aggregateRows(src, "COUNT(ord) > 0", dialect.KindBoolean, nil), nil
	case "all":
		return t.aggregateRows(src, fmt.Sprintf("COUNT(CASE WHEN (%s) IS NOT TRUE THEN 1 END) = 0", t.boolean(c)), dialect.KindBoolean, c.Dependencies), nil
	case "empty":
		return t.aggregateRows(src, "COUNT(ord) = 0", dialect.KindBoolean, nil), nil
	case "count":
		return t.aggregateRows(src, "COUNT(ord)", dialect.KindInteger, nil), nil
	case "hasValue":
		return t.aggregateRows(src, "COUNT(ord) = 1", dialect.KindBoolean, nil), nil
	default:
		return nil, fmt.Errorf("%w: %s()", ErrUnsupported, name)
	}
}

func (t *Translator) existenceInline(name string, recv *Fragment, crit parser.Node) (*Fragment, error) {
	if !recv.isCollection() && crit == nil {
		switch name {
		case "exists", "hasValue":
			return newInline(fmt.Sprintf("(%s IS NOT NULL)", recv.Expression), dialect.KindBoolean, recv.Dependencies), nil
		case "empty":
			return newInline(fmt.Sprintf("(%s IS NULL)", recv.Expression), dialect.KindBoolean, recv.Dependencies), nil
		case "count":
			return newInline(fmt.Sprintf("(CASE WHEN %s IS NULL THEN 0 ELSE 1 END)", recv.Expression), dialect.KindInteger, recv.Dependencies), nil
		}
	}

	e := t.d().EnumerateArray(t.asJSON(recv), "$", t.nextAlias("e"))
	var c *Fragment
	if crit != nil {
		this := newInline(e.Value, dialect.KindJSON)
		this.set(MetaElementType, recv.MetaString(MetaElementType))
		vars := map[string]*Fragment{"this": this, "index": newInline(e.Index, dialect.KindInteger)}
		var err error
		c, err = t.within(vars, "", "", func() (*Fragment, error) { return t.visit(crit) })
		if err != nil {
			return nil, err
		}
	}
	deps := recv.Dependencies
	if c != nil {
		deps = mergeDeps(deps, c.Dependencies)
	}

	switch name {
	case "exists":
		where := ""
		if c != nil {
			where = " WHERE " + t.boolean(c)
		}
		return newInline(fmt.Sprintf("EXISTS (SELECT 1 FROM %s%s)", e.From, where), dialect.KindBoolean, deps), nil
	case "all":
		return newInline(fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s WHERE (%s) IS NOT TRUE)", e.From, t.boolean(c)), dialect.KindBoolean, deps), nil
	case "empty":
		return newInline(fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s)", e.From), dialect.KindBoolean, deps), nil
	case "count":
		return newInline(fmt.Sprintf("(SELECT COUNT(*) FROM %s)", e.From), dialect.KindInteger, deps), nil
	case "hasValue":
		return newInline(fmt.Sprintf("((SELECT COUNT(*) FROM %s) = 1)", e.From), dialect.KindBoolean, deps), nil
	default:
		return nil, fmt.Errorf("%w: %s()", ErrUnsupported, name)
	}
}
