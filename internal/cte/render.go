package cte

import (
	"fmt"
	"slices"

	sq "github.com/Masterminds/squirrel"

	"github.com/atlekbai/fhirpath_sql/internal/fhirpath"
)

var rowColumnList = []string{"id", "ord", "value"}

// render builds the body of one CTE from its fragment.
func (a *Assembler) render(f *fhirpath.Fragment) (CTE, error) {
	c := CTE{
		Name:            f.Name,
		DependsOn:       slices.Clone(f.Dependencies),
		OrderingColumns: []string{"ord"},
	}

	var (
		q   sq.SelectBuilder
		err error
	)
	switch f.Shape {
	case fhirpath.ShapeProjection:
		q, err = a.projection(f)
	case fhirpath.ShapeUnnest:
		q, err = a.unnest(f)
	case fhirpath.ShapeAggregate:
		q, err = a.aggregate(f)
	case fhirpath.ShapeQuery:
		c.Query = f.Expression
		return c, nil
	case fhirpath.ShapeRecursive:
		c.Query = f.Expression
		c.Recursive = true
		c.Columns = f.MetaStrings(fhirpath.MetaColumns)
		if len(c.Columns) == 0 {
			c.Columns = rowColumnList
		}
		if oc := f.MetaStrings(fhirpath.MetaOrderingColumns); len(oc) > 0 {
			c.OrderingColumns = oc
		}
		return c, nil
	default:
		return c, fmt.Errorf("unknown shape %d", f.Shape)
	}
	if err != nil {
		return c, err
	}

	sql, _, err := q.ToSql()
	if err != nil {
		return c, err
	}
	c.Query = sql
	return c, nil
}

func (a *Assembler) source(f *fhirpath.Fragment) (string, error) {
	if f.SourceTable == "" {
		return "", fmt.Errorf("%s fragment without a source", f.Shape)
	}
	return f.SourceTable, nil
}

// projection: one row per source row, filtered.
func (a *Assembler) projection(f *fhirpath.Fragment) (sq.SelectBuilder, error) {
	src, err := a.source(f)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	q := sq.Select(
		src+".id AS id",
		src+".ord AS ord",
		Qualify(f.Expression, src)+" AS value",
	).From(src)
	if filter := f.MetaString(fhirpath.MetaFilter); filter != "" {
		q = q.Where(Qualify(filter, src))
	}
	return q, nil
}

// unnest: one row per element of the array each source row evaluates to,
// numbered by source order then element order.
func (a *Assembler) unnest(f *fhirpath.Fragment) (sq.SelectBuilder, error) {
	src, err := a.source(f)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	e := a.dialect.EnumerateArray(Qualify(f.Expression, src), "$", "x")
	return sq.Select(
		src+".id AS id",
		fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s.id ORDER BY %s.ord, %s) AS ord", src, src, e.Index),
		e.Value+" AS value",
	).From(src + ", " + e.From), nil
}

// aggregate: one row per context row, computed over the source rows that
// share its id.
func (a *Assembler) aggregate(f *fhirpath.Fragment) (sq.SelectBuilder, error) {
	src, err := a.source(f)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	ctx := f.MetaString(fhirpath.MetaContextTable)
	if ctx == "" {
		ctx = fhirpath.BaseName
	}
	inner, _, err := sq.Select(Qualify(f.Expression, src)).
		From(src).
		Where(src + ".id = ctx.id").
		ToSql()
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	return sq.Select("ctx.id AS id", "0 AS ord", "("+inner+") AS value").
		From(ctx + " AS ctx"), nil
}
