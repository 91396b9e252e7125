package service

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/schema"
)

func newSQLiteCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler(Options{
		Dialect:  dialect.SQLite{},
		Registry: schema.NewDefaultCache(),
		Logger:   slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	return c
}

func TestNewCompilerRequiresCollaborators(t *testing.T) {
	_, err := NewCompiler(Options{Registry: schema.NewDefaultCache()})
	assert.Error(t, err)
	_, err = NewCompiler(Options{Dialect: dialect.SQLite{}})
	assert.Error(t, err)
}

func TestCompile(t *testing.T) {
	c := newSQLiteCompiler(t)
	got, err := c.Compile("Patient.name.where(use = 'official').given.first()", "")
	require.NoError(t, err)
	assert.Equal(t, "Patient.name.where(use = 'official').given.first()", got.Expression)
	assert.True(t, strings.HasPrefix(got.SQL, "WITH base AS ("), got.SQL)
	assert.Contains(t, got.SQL, `FROM "resources" AS t`)
	assert.Greater(t, got.Fragments, 1)
}

func TestCompileCustomTable(t *testing.T) {
	c, err := NewCompiler(Options{
		Dialect:        dialect.SQLite{},
		Registry:       schema.NewDefaultCache(),
		Table:          "docs",
		IDColumn:       "doc_id",
		ResourceColumn: "body",
		Logger:         slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	got, err := c.Compile("gender", "Patient")
	require.NoError(t, err)
	assert.Contains(t, got.SQL, `SELECT t."doc_id" AS id, 0 AS ord, t."body" AS value FROM "docs" AS t`)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE docs (doc_id TEXT, body TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO docs VALUES ('a', '{"resourceType":"Patient","gender":"female"}'), ('b', '{"resourceType":"Patient"}')`)
	require.NoError(t, err)

	rows, err := db.Query(got.SQL)
	require.NoError(t, err)
	defer rows.Close()
	results := map[string]string{}
	for rows.Next() {
		var id, result string
		require.NoError(t, rows.Scan(&id, &result))
		results[id] = result
	}
	require.NoError(t, rows.Err())
	assert.JSONEq(t, `["female"]`, results["a"])
	assert.JSONEq(t, `[]`, results["b"])
}

func TestCompileErrorCodes(t *testing.T) {
	c := newSQLiteCompiler(t)
	tests := []struct {
		expr string
		code string
	}{
		{"Patient.name.", "SYNTAX_ERROR"},
		{"$total", "UNBOUND_VARIABLE"},
		{"Patient.name is Nope", "MISSING_METADATA"},
		{"Patient.name.single()", "CARDINALITY_VIOLATION"},
		{"Patient.name.distinct()", "UNSUPPORTED"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := c.Compile(tt.expr, "")
			require.Error(t, err)
			assert.Equal(t, tt.code, ErrorCode(err))
		})
	}
	assert.Equal(t, "INTERNAL_ERROR", ErrorCode(context.Canceled))
}

func TestCompileBatchKeepsOrder(t *testing.T) {
	c := newSQLiteCompiler(t)
	exprs := []string{
		"Patient.name.given",
		"Patient.name.single()",
		"(1 | 2 | 3)",
		"Patient.name.",
		"Patient.birthDate",
	}
	items, err := c.CompileBatch(context.Background(), exprs, "")
	require.NoError(t, err)
	require.Len(t, items, len(exprs))

	for i, item := range items {
		assert.Equal(t, exprs[i], item.Expression)
	}
	assert.NotEmpty(t, items[0].SQL)
	assert.Empty(t, items[0].Error)
	assert.Equal(t, "CARDINALITY_VIOLATION", items[1].Code)
	assert.Empty(t, items[1].SQL)
	assert.NotEmpty(t, items[2].SQL)
	assert.Equal(t, "SYNTAX_ERROR", items[3].Code)
	assert.NotEmpty(t, items[4].SQL)

	// Batch output matches one-by-one compilation.
	single, err := c.Compile(exprs[4], "")
	require.NoError(t, err)
	assert.Equal(t, single.SQL, items[4].SQL)
}

func TestCompileBatchCancelled(t *testing.T) {
	c := newSQLiteCompiler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CompileBatch(ctx, []string{"Patient.name"}, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEvaluatorNeedsPostgres(t *testing.T) {
	_, err := NewEvaluator(newSQLiteCompiler(t), nil)
	assert.Error(t, err)
}
