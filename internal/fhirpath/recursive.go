package fhirpath

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
)

// --- repeat ---

// repeat emits one recursive CTE walking expr from every element of recv.
// Each row carries its depth and the path of elements that led to it; the
// step stops at MaxDepth and never revisits an element already on its path.
// The traversal is collected into one array per root row, then unnested.
func (t *Translator) repeat(recv *Fragment, expr parser.Node) (*Fragment, error) {
	if t.inLambda() {
		return t.repeatInline(recv, expr)
	}
	src, err := t.rootSource(recv, nil)
	if err != nil {
		return nil, err
	}

	name := t.nextName()
	this := newInline("w.elem", dialect.KindJSON)
	this.set(MetaElementType, t.elementType(src))
	step, err := t.isolated(func() (*Fragment, error) {
		return t.within(map[string]*Fragment{"this": this}, name, "w.id", func() (*Fragment, error) {
			return t.visit(expr)
		})
	})
	if err != nil {
		return nil, err
	}

	d := t.d()
	baseSQL, _, err := sq.Select(
		src.Name+".id AS id",
		d.SortKey("''", src.Name+".ord")+" AS seq",
		src.Name+".value AS elem",
		"0 AS depth",
		d.ArrayOf(src.Name+".value")+" AS path",
	).From(src.Name).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build repeat base: %w", err)
	}

	e := d.EnumerateArray(t.asJSON(step), "$", t.nextAlias("e"))
	stepSQL, _, err := sq.Select(
		"w.id",
		d.SortKey("w.seq", e.Index),
		e.Value,
		"w.depth + 1",
		d.ArrayAppend("w.path", e.Value),
	).From(name + " AS w, " + e.From).
		Where(fmt.Sprintf("w.depth < %d", t.opts.MaxDepth)).
		Where("NOT " + d.ArrayContains("w.path", e.Value)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build repeat step: %w", err)
	}

	rec := &Fragment{
		Name:         name,
		Expression:   baseSQL + " UNION ALL " + stepSQL,
		Shape:        ShapeRecursive,
		Dependencies: mergeDeps([]string{src.Name}, step.Dependencies),
		Metadata: map[string]any{
			MetaRecursive:       true,
			MetaColumns:         []string{"id", "seq", "elem", "depth", "path"},
			MetaOrderingColumns: []string{"seq"},
		},
	}
	t.emit(rec)
	t.opts.Logger.Debug("bounded recursive traversal",
		"cte", name, "max_depth", t.opts.MaxDepth)

	collectSQL, _, err := sq.Select(
		"r.id AS id",
		"0 AS ord",
		d.AggregateToArray("r.elem", "r.seq")+" AS value",
	).From(name + " AS r").Where("r.depth > 0").GroupBy("r.id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build repeat collect: %w", err)
	}
	collected := t.emit(&Fragment{
		Expression:   collectSQL,
		Shape:        ShapeQuery,
		Dependencies: []string{name},
		Metadata:     map[string]any{MetaSingleton: true},
	})

	out := &Fragment{
		Expression:     "value",
		SourceTable:    collected.Name,
		Shape:          ShapeUnnest,
		RequiresUnnest: true,
		Metadata:       map[string]any{},
	}
	out.set(MetaElementType, step.MetaString(MetaElementType))
	return t.emit(out), nil
}

func (t *Translator) repeatInline(recv *Fragment, expr parser.Node) (*Fragment, error) {
	d := t.d()
	r := t.nextAlias("r")
	this := newInline("w.elem", dialect.KindJSON)
	this.set(MetaElementType, recv.MetaString(MetaElementType))
	step, err := t.within(map[string]*Fragment{"this": this}, r, "", func() (*Fragment, error) {
		return t.visit(expr)
	})
	if err != nil {
		return nil, err
	}

	start := d.EnumerateArray(t.asJSON(recv), "$", t.nextAlias("e"))
	next := d.EnumerateArray(t.asJSON(step), "$", t.nextAlias("e"))
	sql := fmt.Sprintf(
		"(WITH RECURSIVE %[1]s(seq, elem, depth, path) AS ("+
			"SELECT %[2]s, %[3]s, 0, %[4]s FROM %[5]s"+
			" UNION ALL "+
			"SELECT %[6]s, %[7]s, w.depth + 1, %[8]s FROM %[1]s AS w, %[9]s WHERE w.depth < %[10]d AND NOT %[11]s"+
			") SELECT %[12]s FROM %[1]s WHERE %[1]s.depth > 0)",
		r,
		d.SortKey("''", start.Index), start.Value, d.ArrayOf(start.Value), start.From,
		d.SortKey("w.seq", next.Index), next.Value, d.ArrayAppend("w.path", next.Value), next.From,
		t.opts.MaxDepth, d.ArrayContains("w.path", next.Value),
		d.AggregateToArray(r+".elem", r+".seq"),
	)
	f := newCollection(sql, recv.Dependencies, step.Dependencies)
	f.set(MetaElementType, step.MetaString(MetaElementType))
	return f, nil
}

// --- aggregate ---

// aggregate folds the collection with expr. $this is the element, $index
// its position and $total the running value, which starts as init or, when
// init is omitted, as empty. Fragments produced while translating expr are
// discarded: they would reference the recursion's own aliases.
func (t *Translator) aggregate(recv *Fragment, expr, init parser.Node) (*Fragment, error) {
	if t.inLambda() {
		return t.aggregateInline(recv, expr, init)
	}
	src, err := t.rootSource(recv, nil)
	if err != nil {
		return nil, err
	}
	ranked, err := t.rank(src)
	if err != nil {
		return nil, err
	}

	d := t.d()
	start := d.NullJSON()
	var startDeps []string
	if init != nil {
		ctxThis := t.rowValue(t.base, "ctx")
		v, err := t.isolated(func() (*Fragment, error) {
			return t.within(map[string]*Fragment{"this": ctxThis}, BaseName, "ctx.id", func() (*Fragment, error) {
				return t.visit(init)
			})
		})
		if err != nil {
			return nil, err
		}
		start = t.scalarJSON(v)
		startDeps = v.Dependencies
	}

	name := t.nextName()
	this := t.rowValue(ranked, "r")
	vars := map[string]*Fragment{
		"this":  this,
		"index": newInline("a.step", dialect.KindInteger),
		"total": newInline("a.total", dialect.KindJSON),
	}
	step, err := t.isolated(func() (*Fragment, error) {
		return t.within(vars, name, "a.id", func() (*Fragment, error) {
			return t.visit(expr)
		})
	})
	if err != nil {
		return nil, err
	}

	baseSQL, _, err := sq.Select("ctx.id AS id", "0 AS step", start+" AS total").
		From(BaseName + " AS ctx").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build aggregate base: %w", err)
	}
	stepSQL, _, err := sq.Select("a.id", "a.step + 1", t.stepJSON(step)).
		From(name + " AS a").
		Join(ranked.Name + " AS r ON r.id = a.id AND r.ord = a.step + 1").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build aggregate step: %w", err)
	}

	t.emit(&Fragment{
		Name:         name,
		Expression:   baseSQL + " UNION ALL " + stepSQL,
		Shape:        ShapeRecursive,
		Dependencies: mergeDeps([]string{BaseName, ranked.Name}, startDeps, step.Dependencies),
		Metadata: map[string]any{
			MetaRecursive:       true,
			MetaColumns:         []string{"id", "step", "total"},
			MetaOrderingColumns: []string{"step"},
		},
	})

	finalSQL, _, err := sq.Select("a.id AS id", "0 AS ord", "a.total AS value").
		From(name + " AS a").
		Where("a.total IS NOT NULL").
		Where(fmt.Sprintf("a.step = (SELECT MAX(m.step) FROM %s AS m WHERE m.id = a.id)", name)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build aggregate result: %w", err)
	}
	result := &Fragment{
		Expression:   finalSQL,
		Shape:        ShapeQuery,
		Dependencies: []string{name},
		Metadata:     map[string]any{},
	}
	if step.isCollection() {
		collected := t.emit(result)
		out := &Fragment{Expression: "value", SourceTable: collected.Name, Shape: ShapeUnnest, RequiresUnnest: true, Metadata: map[string]any{}}
		out.set(MetaElementType, step.MetaString(MetaElementType))
		return t.emit(out), nil
	}
	result.set(MetaSingleton, true)
	result.set(MetaElementType, step.MetaString(MetaElementType))
	if k := step.Kind(); k != dialect.KindJSON {
		result.Metadata[MetaScalarType] = k
	}
	return t.emit(result), nil
}

// stepJSON is the accumulator value after one step.
func (t *Translator) stepJSON(step *Fragment) string {
	if step.isCollection() {
		return t.asJSON(step)
	}
	return t.scalarJSON(step)
}

func (t *Translator) aggregateInline(recv *Fragment, expr, init parser.Node) (*Fragment, error) {
	d := t.d()
	start := d.NullJSON()
	var startDeps []string
	if init != nil {
		v, err := t.visit(init)
		if err != nil {
			return nil, err
		}
		start = t.scalarJSON(v)
		startDeps = v.Dependencies
	}

	acc := t.nextAlias("acc")
	elems := t.nextAlias("el")
	this := newInline(elems+".elem", dialect.KindJSON)
	this.set(MetaElementType, recv.MetaString(MetaElementType))
	vars := map[string]*Fragment{
		"this":  this,
		"index": newInline("a.step", dialect.KindInteger),
		"total": newInline("a.total", dialect.KindJSON),
	}
	step, err := t.isolated(func() (*Fragment, error) {
		return t.within(vars, acc, "", func() (*Fragment, error) { return t.visit(expr) })
	})
	if err != nil {
		return nil, err
	}

	e := d.EnumerateArray(t.asJSON(recv), "$", t.nextAlias("e"))
	sql := fmt.Sprintf(
		"(WITH RECURSIVE %[1]s(step, total) AS ("+
			"SELECT 0, %[2]s"+
			" UNION ALL "+
			"SELECT a.step + 1, %[3]s FROM %[1]s AS a JOIN (SELECT %[4]s AS idx, %[5]s AS elem FROM %[6]s) AS %[7]s ON %[7]s.idx = a.step"+
			") SELECT %[1]s.total FROM %[1]s WHERE %[1]s.step = (SELECT MAX(m.step) FROM %[1]s AS m))",
		acc, start, t.stepJSON(step), e.Index, e.Value, e.From, elems,
	)
	f := newInline(sql, dialect.KindJSON, recv.Dependencies, startDeps, step.Dependencies)
	f.set(MetaCollection, step.isCollection())
	f.set(MetaElementType, step.MetaString(MetaElementType))
	return f, nil
}
