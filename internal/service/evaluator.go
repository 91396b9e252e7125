package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the part of a pgx pool or connection the evaluator uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Row is the value of an expression for one input document.
type Row struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// Evaluator compiles expressions and runs them against Postgres.
type Evaluator struct {
	compiler *Compiler
	db       Querier
}

func NewEvaluator(compiler *Compiler, db Querier) (*Evaluator, error) {
	if name := compiler.Dialect().Name(); name != "postgres" {
		return nil, fmt.Errorf("evaluator needs the postgres dialect, compiler targets %s", name)
	}
	return &Evaluator{compiler: compiler, db: db}, nil
}

// Evaluate returns, for every input document, the expression's value as a
// JSON array. Documents are ordered by id.
func (e *Evaluator) Evaluate(ctx context.Context, expr, resourceType string) (*Compiled, []Row, error) {
	compiled, err := e.compiler.Compile(expr, resourceType)
	if err != nil {
		return nil, nil, err
	}

	rows, err := e.db.Query(ctx, compiled.SQL)
	if err != nil {
		return compiled, nil, fmt.Errorf("execute: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Row])
	if err != nil {
		return compiled, nil, fmt.Errorf("scan results: %w", err)
	}
	return compiled, out, nil
}
