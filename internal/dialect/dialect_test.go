package dialect

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAliases(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"postgres", "postgres"},
		{"PostgreSQL", "postgres"},
		{"pg", "postgres"},
		{"sqlite3", "sqlite"},
		{" sqlite ", "sqlite"},
		{"duck", "duckdb"},
	}
	for _, tt := range tests {
		d, err := Get(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, d.Name())
	}
}

func TestGetUnknown(t *testing.T) {
	_, err := Get("oracle")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownDialect))
	assert.Contains(t, err.Error(), "duckdb, postgres, sqlite")
}

func TestPathSegments(t *testing.T) {
	assert.Nil(t, pathSegments("$"))
	assert.Nil(t, pathSegments(""))
	assert.Equal(t, []string{"name"}, pathSegments("$.name"))
	assert.Equal(t, []string{"name", "given"}, pathSegments("$.name.given"))
}

func TestPostgresExtract(t *testing.T) {
	d := Postgres{}
	assert.Equal(t, "(value -> 'name')", d.ExtractJSON("value", "$.name"))
	assert.Equal(t, `(value #> '{"code","text"}')`, d.ExtractJSON("value", "$.code.text"))
	assert.Equal(t, "value", d.ExtractJSON("value", "$"))
	assert.Equal(t, "(value ->> 'use')", d.ExtractString("value", "$.use"))
	assert.Equal(t, "(value #>> '{}')", d.ExtractString("value", "$"))
	assert.Equal(t, "(value #>> '{}')::bigint", d.ExtractInt("value", "$"))
	assert.Equal(t, "(value ->> 'n')::numeric", d.ExtractDecimal("value", "$.n"))
}

func TestPostgresEnumerate(t *testing.T) {
	e := Postgres{}.EnumerateArray("src.value", "$.given", "g1")
	assert.Contains(t, e.From, "jsonb_array_elements(CASE WHEN (src.value -> 'given') IS NULL")
	assert.Contains(t, e.From, "WITH ORDINALITY AS g1(elem, idx)")
	assert.Equal(t, "(g1.idx - 1)", e.Index)
	assert.Equal(t, "g1.elem", e.Value)
}

func TestPostgresSafeCasts(t *testing.T) {
	d := Postgres{}
	got := d.SafeCastToDecimal("x")
	assert.Contains(t, got, "CASE WHEN (x) ~ ")
	assert.Contains(t, got, "THEN (x)::numeric END")
	assert.Contains(t, d.SafeCastToDate("x"), "(x)::date")
	assert.Contains(t, d.SafeCastToTimestamp("x"), "(x)::timestamptz")
	assert.Contains(t, d.SafeCastToInteger("x"), "(x)::bigint")
	assert.Contains(t, d.SafeCastToBoolean("x"), "lower(x) IN ('true', 't', '1')")
}

func TestToJSONKeepsDocuments(t *testing.T) {
	for _, name := range Names() {
		d, err := Get(name)
		require.NoError(t, err)
		assert.Equal(t, "doc", d.ToJSON("doc", KindJSON), name)
	}
}

func TestStringLiteralEscapes(t *testing.T) {
	for _, name := range Names() {
		d, err := Get(name)
		require.NoError(t, err)
		assert.Equal(t, "'O''Brien'", d.StringLiteral("O'Brien"), name)
	}
}

func TestAggregateOrder(t *testing.T) {
	assert.Equal(t, "jsonb_agg(v ORDER BY o)", Postgres{}.AggregateToArray("v", "o"))
	assert.Equal(t, "jsonb_agg(v)", Postgres{}.AggregateToArray("v", ""))
	assert.Equal(t, "json_group_array(json(v) ORDER BY o)", SQLite{}.AggregateToArray("v", "o"))
	assert.Equal(t, "json_group_array(v ORDER BY o)", DuckDB{}.AggregateToArray("v", "o"))
}

func TestDuckDBSafeCastsUseTryCast(t *testing.T) {
	d := DuckDB{}
	assert.Equal(t, "TRY_CAST(x AS DECIMAL(38, 10))", d.SafeCastToDecimal("x"))
	assert.Equal(t, "TRY_CAST(x AS DATE)", d.SafeCastToDate("x"))
	assert.Equal(t, "json_extract_string(v, '$.a.b')", d.ExtractString("v", "$.a.b"))
}

func TestDuckDBExtract(t *testing.T) {
	d := DuckDB{}
	assert.Equal(t, "json_extract(v, '$.name')", d.ExtractJSON("v", "$.name"))
	assert.Equal(t, "v", d.ExtractJSON("v", "$"))
	assert.Equal(t, "json_extract_string(v, '$')", d.ExtractString("v", "$"))
	assert.Equal(t, "TRY_CAST(json_extract_string(v, '$.n') AS BIGINT)", d.ExtractInt("v", "$.n"))
	assert.Equal(t,
		"(CASE WHEN json_type(json_extract(v, '$.active')) = 'BOOLEAN' THEN TRY_CAST(json_extract_string(v, '$.active') AS BOOLEAN) END)",
		d.ExtractBool("v", "$.active"))
}

func TestDuckDBEnumerate(t *testing.T) {
	e := DuckDB{}.EnumerateArray("src.value", "$.given", "g1")
	assert.Contains(t, e.From, "WHEN json_extract(src.value, '$.given') IS NULL THEN '[]'::JSON")
	assert.Contains(t, e.From, "WHEN json_type(json_extract(src.value, '$.given')) = 'ARRAY'")
	assert.Contains(t, e.From, "ELSE json_array(json_extract(src.value, '$.given')) END AS JSON[])")
	assert.Contains(t, e.From, "unnest(CAST(")
	assert.Contains(t, e.From, "generate_subscripts(CAST(")
	assert.True(t, strings.HasSuffix(e.From, ") AS g1"), e.From)
	assert.Equal(t, "(g1.idx - 1)", e.Index)
	assert.Equal(t, "g1.elem", e.Value)
}

func TestDuckDBRecursionColumns(t *testing.T) {
	d := DuckDB{}
	// path starts as JSON[] and grows with JSON elements
	assert.Equal(t, "[w.elem]", d.ArrayOf("w.elem"))
	assert.Equal(t, "list_append(w.path, e.elem)", d.ArrayAppend("w.path", "e.elem"))
	assert.Equal(t, "list_contains(w.path, e.elem)", d.ArrayContains("w.path", "e.elem"))
	assert.Equal(t, "NULL::JSON", d.NullJSON())
	assert.Equal(t, "('' || lpad(CAST(s.ord AS VARCHAR), 10, '0'))", d.SortKey("''", "s.ord"))
}

func TestDuckDBValues(t *testing.T) {
	d := DuckDB{}
	assert.Equal(t, "x", d.ToJSON("x", KindJSON))
	assert.Equal(t, "to_json(x)", d.ToJSON("x", KindString))
	assert.Equal(t, "CAST(x AS VARCHAR)", d.ComparableJSON("x"))
	assert.Equal(t, "(json_type(x) = 'VARCHAR')", d.JSONKindCheck("x", JSONString))
	assert.Equal(t, "(json_type(x) IN ('BIGINT', 'UBIGINT'))", d.JSONKindCheck("x", JSONInteger))
	assert.Equal(t, "(json_type(x) = 'OBJECT')", d.JSONKindCheck("x", JSONObject))
	assert.Equal(t, "((a) // NULLIF((b), 0))", d.IntegerDivide("a", "b"))
	assert.Equal(t, "((a) % NULLIF((b), 0))", d.Modulo("a", "b"))
	assert.Equal(t, "TRY_CAST(x AS BIGINT)", d.SafeCastToInteger("x"))
	assert.Equal(t, "TRY_CAST(x AS BOOLEAN)", d.SafeCastToBoolean("x"))
	assert.Equal(t, "TRY_CAST(x AS TIMESTAMP)", d.SafeCastToTimestamp("x"))
	assert.Equal(t, "'[]'::JSON", d.EmptyArrayLiteral())
}
