package cte

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath"
)

func query(name, body string, deps ...string) *fhirpath.Fragment {
	return &fhirpath.Fragment{Name: name, Expression: body, Shape: fhirpath.ShapeQuery, Dependencies: deps}
}

func names(fs []*fhirpath.Fragment) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

func newAssembler(t *testing.T, external ...string) *Assembler {
	t.Helper()
	a, err := New(dialect.SQLite{}, external...)
	require.NoError(t, err)
	return a
}

// --- order ---

func TestOrderKeepsEmissionOrderWhenSorted(t *testing.T) {
	bag := []*fhirpath.Fragment{
		query("base", "SELECT 1", "resources"),
		query("cte_1", "SELECT 1", "base"),
		query("cte_2", "SELECT 1", "cte_1"),
		query("cte_3", "SELECT 1", "base"),
	}
	got, err := order(bag, map[string]bool{"resources": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "cte_1", "cte_2", "cte_3"}, names(got))
}

func TestOrderMovesDependenciesFirst(t *testing.T) {
	bag := []*fhirpath.Fragment{
		query("c", "SELECT 1", "b"),
		query("a", "SELECT 1"),
		query("b", "SELECT 1", "a"),
		query("d", "SELECT 1"),
	}
	got, err := order(bag, nil)
	require.NoError(t, err)
	// Ties go to the fragment emitted first.
	assert.Equal(t, []string{"a", "b", "c", "d"}, names(got))
}

func TestOrderIgnoresSelfReference(t *testing.T) {
	bag := []*fhirpath.Fragment{query("r", "SELECT 1", "r")}
	got, err := order(bag, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, names(got))
}

func TestOrderUnresolvedDependency(t *testing.T) {
	bag := []*fhirpath.Fragment{
		query("base", "SELECT 1", "resources"),
		query("cte_1", "SELECT 1", "base", "missing_b", "missing_a"),
	}
	_, err := order(bag, map[string]bool{"resources": true})
	require.ErrorIs(t, err, ErrUnresolvedDependency)
	assert.Contains(t, err.Error(), "missing_a, missing_b")

	_, err = order(bag, nil)
	require.ErrorIs(t, err, ErrUnresolvedDependency)
	assert.Contains(t, err.Error(), "resources")
}

func TestOrderCycle(t *testing.T) {
	bag := []*fhirpath.Fragment{
		query("a", "SELECT 1", "b"),
		query("b", "SELECT 1", "a"),
		query("c", "SELECT 1"),
	}
	_, err := order(bag, nil)
	require.ErrorIs(t, err, ErrDependencyCycle)
	assert.Contains(t, err.Error(), "a, b")
}

func TestOrderRejectsDuplicates(t *testing.T) {
	_, err := order([]*fhirpath.Fragment{query("a", "SELECT 1"), query("a", "SELECT 2")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

// --- Qualify ---

func TestQualify(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"value", "src.value"},
		{"(value -> '$.name')", "(src.value -> '$.name')"},
		{"COUNT(ord) > 0", "COUNT(src.ord) > 0"},
		{"rb1.id = id", "rb1.id = src.id"},
		{"x.value AS value", "x.value AS value"},
		{"'value' || \"id\"", "'value' || \"id\""},
		{"'it''s value' = value", "'it''s value' = src.value"},
		{"valueString = identifier", "valueString = identifier"},
		{"e1 . value", "e1 . value"},
		{"value.x", "value.x"},
		{"1.5 * ord", "1.5 * src.ord"},
		{"(ord - 1)", "(src.ord - 1)"},
		{"SELECT 1 AS  id", "SELECT 1 AS  id"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Qualify(tt.expr, "src"), tt.expr)
	}
}

// --- Plan and Assemble ---

func TestPlanRendersShapes(t *testing.T) {
	a := newAssembler(t, "resources")
	bag := []*fhirpath.Fragment{
		query("base", "SELECT 1 AS id, 0 AS ord, '{}' AS value", "resources"),
		{
			Name:         "cte_1",
			Expression:   "(value -> '$.name')",
			SourceTable:  "base",
			Shape:        fhirpath.ShapeUnnest,
			Dependencies: []string{"base"},
		},
		{
			Name:         "cte_2",
			Expression:   "(value -> '$.family')",
			SourceTable:  "cte_1",
			Shape:        fhirpath.ShapeProjection,
			Dependencies: []string{"cte_1"},
			Metadata:     map[string]any{fhirpath.MetaFilter: "(value -> '$.family') IS NOT NULL"},
		},
		{
			Name:         "cte_3",
			Expression:   "COUNT(ord)",
			SourceTable:  "cte_2",
			Shape:        fhirpath.ShapeAggregate,
			IsAggregate:  true,
			Dependencies: []string{"base", "cte_2"},
			Metadata:     map[string]any{fhirpath.MetaContextTable: "base"},
		},
		{
			Name:         "cte_4",
			Expression:   "SELECT 1, 0, NULL UNION ALL SELECT r.id, r.step + 1, NULL FROM cte_4 AS r WHERE r.step < 3",
			Shape:        fhirpath.ShapeRecursive,
			Dependencies: []string{"base"},
			Metadata: map[string]any{
				fhirpath.MetaRecursive:       true,
				fhirpath.MetaColumns:         []string{"id", "step", "total"},
				fhirpath.MetaOrderingColumns: []string{"step"},
			},
		},
	}

	ctes, err := a.Plan(bag)
	require.NoError(t, err)
	require.Len(t, ctes, 5)

	assert.Contains(t, ctes[1].Query, "FROM base, json_each(")
	assert.Contains(t, ctes[1].Query, "base.value -> '$.name'")
	assert.Contains(t, ctes[1].Query, "ROW_NUMBER() OVER (PARTITION BY base.id ORDER BY base.ord, x.key) AS ord")

	assert.Equal(t,
		"SELECT cte_1.id AS id, cte_1.ord AS ord, (cte_1.value -> '$.family') AS value FROM cte_1 WHERE (cte_1.value -> '$.family') IS NOT NULL",
		ctes[2].Query)

	assert.Equal(t,
		"SELECT ctx.id AS id, 0 AS ord, (SELECT COUNT(cte_2.ord) FROM cte_2 WHERE cte_2.id = ctx.id) AS value FROM base AS ctx",
		ctes[3].Query)

	assert.True(t, ctes[4].Recursive)
	assert.Equal(t, []string{"id", "step", "total"}, ctes[4].Columns)
	assert.Equal(t, []string{"step"}, ctes[4].OrderingColumns)
	assert.Equal(t, []string{"ord"}, ctes[2].OrderingColumns)
}

func TestPlanRejectsSourcelessProjection(t *testing.T) {
	a := newAssembler(t)
	_, err := a.Plan([]*fhirpath.Fragment{{Name: "cte_1", Expression: "value", Shape: fhirpath.ShapeProjection}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render cte_1")
}

func TestAssembleFinalSelect(t *testing.T) {
	a := newAssembler(t, "resources")
	bag := []*fhirpath.Fragment{
		query("base", "SELECT 1 AS id, 0 AS ord, '{}' AS value", "resources"),
		query("cte_1", "SELECT id, ord, value FROM base", "base"),
	}
	sql, err := a.Assemble(bag, bag[1])
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sql, "WITH base AS (SELECT 1 AS id"), sql)
	assert.NotContains(t, sql, "RECURSIVE")
	assert.Contains(t, sql, "cte_1 AS (SELECT id, ord, value FROM base)")
	assert.Contains(t, sql, "COALESCE((SELECT json_group_array(json(f.value) ORDER BY f.ord) FROM cte_1 AS f WHERE f.id = ctx.id AND f.value IS NOT NULL), '[]') AS result")
	assert.True(t, strings.HasSuffix(sql, "FROM base AS ctx ORDER BY ctx.id"), sql)
}

func TestAssembleRecursiveKeyword(t *testing.T) {
	a := newAssembler(t, "resources")
	bag := []*fhirpath.Fragment{
		query("base", "SELECT 1 AS id, 0 AS ord, '{}' AS value", "resources"),
		{
			Name:         "cte_1",
			Expression:   "SELECT id, 0, value FROM base",
			Shape:        fhirpath.ShapeRecursive,
			Dependencies: []string{"base"},
			Metadata:     map[string]any{fhirpath.MetaColumns: []string{"id", "ord", "value"}},
		},
	}
	sql, err := a.Assemble(bag, bag[1])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sql, "WITH RECURSIVE "), sql)
	assert.Contains(t, sql, "cte_1(id, ord, value) AS (")
}

func TestAssembleRequiresBase(t *testing.T) {
	a := newAssembler(t)
	bag := []*fhirpath.Fragment{query("cte_1", "SELECT 1")}
	_, err := a.Assemble(bag, bag[0])
	require.ErrorIs(t, err, ErrUnresolvedDependency)

	_, err = a.Assemble(bag, &fhirpath.Fragment{Expression: "1"})
	require.Error(t, err)
}

func TestNewRequiresDialect(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
