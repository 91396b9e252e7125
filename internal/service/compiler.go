package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atlekbai/fhirpath_sql/internal/cte"
	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
)

// Options configures a Compiler. Zero values take the translator defaults.
type Options struct {
	Dialect  dialect.Dialect
	Registry fhirpath.Registry

	Table          string
	IDColumn       string
	ResourceColumn string
	MaxDepth       int
	Logger         *slog.Logger
}

// Compiler runs the whole pipeline for one expression: parse, translate,
// assemble. It is safe for concurrent use; every call gets its own
// translator.
type Compiler struct {
	opts      Options
	assembler *cte.Assembler
}

// Compiled is the result of compiling one expression.
type Compiled struct {
	Expression string `json:"expression"`
	SQL        string `json:"sql"`
	Fragments  int    `json:"fragments"`
}

// BatchItem is one entry of a batch compilation. Exactly one of SQL and
// Error is set.
type BatchItem struct {
	Expression string `json:"expression"`
	SQL        string `json:"sql,omitempty"`
	Error      string `json:"error,omitempty"`
	Code       string `json:"code,omitempty"`
}

func NewCompiler(opts Options) (*Compiler, error) {
	if opts.Dialect == nil {
		return nil, errors.New("compiler: dialect is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("compiler: registry is required")
	}
	if opts.Table == "" {
		opts.Table = "resources"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	a, err := cte.New(opts.Dialect, opts.Table)
	if err != nil {
		return nil, err
	}
	return &Compiler{opts: opts, assembler: a}, nil
}

// Dialect is the SQL dialect compiled statements target.
func (c *Compiler) Dialect() dialect.Dialect { return c.opts.Dialect }

// Compile translates expr into one executable statement. resourceType is
// the type of the input documents; it may be empty when expr starts with a
// type name.
func (c *Compiler) Compile(expr, resourceType string) (*Compiled, error) {
	start := time.Now()

	ast, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}

	tr, err := fhirpath.New(fhirpath.Options{
		Dialect:        c.opts.Dialect,
		Registry:       c.opts.Registry,
		Table:          c.opts.Table,
		IDColumn:       c.opts.IDColumn,
		ResourceColumn: c.opts.ResourceColumn,
		ResourceType:   resourceType,
		MaxDepth:       c.opts.MaxDepth,
		Logger:         c.opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	res, err := tr.Translate(ast)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}

	sql, err := c.assembler.Assemble(res.Bag, res.Final)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	c.opts.Logger.Debug("compiled expression",
		"expression", expr,
		"dialect", c.opts.Dialect.Name(),
		"fragments", len(res.Bag),
		"duration", time.Since(start),
	)
	return &Compiled{Expression: expr, SQL: sql, Fragments: len(res.Bag)}, nil
}

// CompileBatch compiles every expression concurrently. A failing
// expression is reported in its own item and does not stop the others;
// the returned error is only set when ctx is done first.
func (c *Compiler) CompileBatch(ctx context.Context, exprs []string, resourceType string) ([]BatchItem, error) {
	items := make([]BatchItem, len(exprs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, expr := range exprs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i].Expression = expr
			compiled, err := c.Compile(expr, resourceType)
			if err != nil {
				items[i].Error = err.Error()
				items[i].Code = ErrorCode(err)
				return nil
			}
			items[i].SQL = compiled.SQL
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// ErrorCode names the class of a compilation error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, parser.ErrSyntax):
		return "SYNTAX_ERROR"
	case errors.Is(err, fhirpath.ErrUnboundVariable):
		return "UNBOUND_VARIABLE"
	case errors.Is(err, fhirpath.ErrParseMetadata):
		return "MISSING_METADATA"
	case errors.Is(err, fhirpath.ErrCardinality):
		return "CARDINALITY_VIOLATION"
	case errors.Is(err, fhirpath.ErrUnsupported):
		return "UNSUPPORTED"
	case errors.Is(err, cte.ErrUnresolvedDependency), errors.Is(err, cte.ErrDependencyCycle):
		return "ASSEMBLY_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
