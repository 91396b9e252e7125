package fhirpath

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
	"github.com/atlekbai/fhirpath_sql/internal/schema"
)

// DefaultMaxDepth bounds repeat() traversals when Options.MaxDepth is unset.
const DefaultMaxDepth = 100

// BaseName is the CTE holding one row per input resource.
const BaseName = "base"

// Registry answers schema questions about document types.
type Registry interface {
	IsArrayField(typeName, field string) bool
	ElementType(typeName, field string) (string, bool)
	ElementTypeForPath(path string) (string, bool)
	IsResourceType(name string) bool
	HasType(name string) bool
}

// Options configures a Translator.
type Options struct {
	Dialect  dialect.Dialect
	Registry Registry

	Table          string // input table, default "resources"
	IDColumn       string // default "id"
	ResourceColumn string // document column, default "resource"

	// ResourceType is the type of the context resource; it resolves
	// expressions that start with a field name instead of a type name.
	ResourceType string
	MaxDepth     int
	Logger       *slog.Logger
}

// Result is the output of a translation: the fragment holding the
// expression's value plus every fragment it depends on, in emission order.
type Result struct {
	Final *Fragment
	Bag   []*Fragment
}

// Translator turns an AST into fragments. One instance translates one
// expression at a time and must not be shared between goroutines.
type Translator struct {
	opts  Options
	bag   []*Fragment
	scope scope
	names int
	alias int
	base  *Fragment
}

// New creates a translator, filling in defaults.
func New(opts Options) (*Translator, error) {
	if opts.Dialect == nil {
		return nil, errors.New("translator: dialect is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("translator: registry is required")
	}
	if opts.Table == "" {
		opts.Table = "resources"
	}
	if opts.IDColumn == "" {
		opts.IDColumn = "id"
	}
	if opts.ResourceColumn == "" {
		opts.ResourceColumn = "resource"
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Translator{opts: opts}, nil
}

// Translate translates node into a final fragment and its fragment bag.
func (t *Translator) Translate(node parser.Node) (*Result, error) {
	t.bag = nil
	t.scope = scope{}
	t.names = 0
	t.alias = 0

	base, err := t.emitBase()
	if err != nil {
		return nil, err
	}
	t.base = base

	final, err := t.visit(node)
	if err != nil {
		return nil, err
	}
	if !final.IsCTE() {
		if final, err = t.materialize(final); err != nil {
			return nil, err
		}
	}
	return &Result{Final: final, Bag: slices.Clone(t.bag)}, nil
}

// visit dispatches on the node kind.
func (t *Translator) visit(node parser.Node) (*Fragment, error) {
	switch n := node.(type) {
	case *parser.Literal:
		return t.literal(n)
	case *parser.Identifier:
		return t.identifier(n)
	case *parser.Variable:
		return t.variable(n)
	case *parser.External:
		return t.external(n)
	case *parser.Member:
		return t.member(n)
	case *parser.FunctionCall:
		return t.call(n)
	case *parser.Indexer:
		return t.indexer(n)
	case *parser.BinaryOp:
		return t.binary(n)
	case *parser.Membership:
		return t.membership(n)
	case *parser.TypeOp:
		return t.typeOp(n)
	case *parser.Polarity:
		return t.polarity(n)
	default:
		return nil, fmt.Errorf("%w: node %T", ErrUnsupported, node)
	}
}

func (t *Translator) d() dialect.Dialect { return t.opts.Dialect }

func (t *Translator) inLambda() bool { return t.scope.depth() > 0 }

// --- Bag management ---

func (t *Translator) nextName() string {
	t.names++
	return fmt.Sprintf("cte_%d", t.names)
}

func (t *Translator) nextAlias(prefix string) string {
	t.alias++
	return fmt.Sprintf("%s%d", prefix, t.alias)
}

// emit names f, records its source as a dependency and appends it to the bag.
func (t *Translator) emit(f *Fragment) *Fragment {
	if f.Name == "" {
		f.Name = t.nextName()
	}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	if f.SourceTable != "" {
		f.Dependencies = mergeDeps(f.Dependencies, []string{f.SourceTable})
	}
	t.bag = append(t.bag, f)
	return f
}

// isolated runs fn with the bag saved and restores it afterwards, dropping
// anything fn emitted.
func (t *Translator) isolated(fn func() (*Fragment, error)) (*Fragment, error) {
	saved := slices.Clone(t.bag)
	defer func() { t.bag = saved }()
	return fn()
}

// within runs fn with an extra scope frame.
func (t *Translator) within(vars map[string]*Fragment, source, rowID string, fn func() (*Fragment, error)) (*Fragment, error) {
	pop := t.scope.push(frame{vars: bind(vars, source), rowID: rowID})
	defer pop()
	return fn()
}

func (t *Translator) emitBase() (*Fragment, error) {
	body, _, err := sq.Select(
		"t."+schema.QuoteIdent(t.opts.IDColumn)+" AS id",
		"0 AS ord",
		"t."+schema.QuoteIdent(t.opts.ResourceColumn)+" AS value",
	).From(quoteTable(t.opts.Table) + " AS t").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build base: %w", err)
	}
	f := &Fragment{
		Name:         BaseName,
		Expression:   body,
		Shape:        ShapeQuery,
		Dependencies: []string{t.opts.Table},
		Metadata: map[string]any{
			MetaRoot:         true,
			MetaSingleton:    true,
			MetaContextTable: t.opts.Table,
		},
	}
	f.set(MetaElementType, t.opts.ResourceType)
	f.set(MetaSchemaPath, t.opts.ResourceType)
	t.bag = append(t.bag, f)
	return f, nil
}

// materialize turns a constant into a CTE with one row per root row.
func (t *Translator) materialize(f *Fragment) (*Fragment, error) {
	if f.isCollection() {
		e := t.d().EnumerateArray(f.Expression, "$", t.nextAlias("e"))
		body, _, err := sq.Select(
			"ctx.id AS id",
			e.Index+" AS ord",
			e.Value+" AS value",
		).From(BaseName + " AS ctx, " + e.From).ToSql()
		if err != nil {
			return nil, err
		}
		out := &Fragment{Expression: body, Shape: ShapeQuery, Dependencies: mergeDeps(f.Dependencies, []string{BaseName}), Metadata: map[string]any{}}
		out.set(MetaElementType, f.MetaString(MetaElementType))
		out.set(MetaLiteralType, f.MetaString(MetaLiteralType))
		return t.emit(out), nil
	}

	value := t.asJSON(f)
	body, _, err := sq.Select("ctx.id AS id", "0 AS ord", value+" AS value").
		From(BaseName + " AS ctx").
		Where(value + " IS NOT NULL").
		ToSql()
	if err != nil {
		return nil, err
	}
	out := &Fragment{Expression: body, Shape: ShapeQuery, Dependencies: mergeDeps(f.Dependencies, []string{BaseName}), Metadata: map[string]any{MetaSingleton: true}}
	if k := f.Kind(); k != dialect.KindJSON {
		out.Metadata[MetaScalarType] = k
	}
	out.set(MetaElementType, f.MetaString(MetaElementType))
	out.set(MetaLiteralType, f.MetaString(MetaLiteralType))
	return t.emit(out), nil
}

// elementType is the declared type of a fragment's elements, recovered
// from its schema path when the type was not carried forward.
func (t *Translator) elementType(f *Fragment) string {
	if et := f.MetaString(MetaElementType); et != "" {
		return et
	}
	if path := f.MetaString(MetaSchemaPath); path != "" {
		if et, ok := t.opts.Registry.ElementTypeForPath(path); ok {
			return et
		}
	}
	return ""
}

// rowValue reads the value column of a CTE row as an inline singleton.
// alias "" leaves the column bare for the assembler to qualify.
func (t *Translator) rowValue(f *Fragment, alias string) *Fragment {
	col := "value"
	if alias != "" {
		col = alias + ".value"
	}
	var v *Fragment
	switch kind := f.ScalarType(); kind {
	case dialect.KindJSON:
		v = newInline(col, dialect.KindJSON)
	case dialect.KindInteger:
		v = newInline(t.d().ExtractInt(col, "$"), kind)
	case dialect.KindDecimal:
		v = newInline(t.d().ExtractDecimal(col, "$"), kind)
	case dialect.KindBoolean:
		v = newInline(t.d().ExtractBool(col, "$"), kind)
	case dialect.KindDate:
		v = newInline(t.d().SafeCastToDate(t.d().ExtractString(col, "$")), kind)
	case dialect.KindDateTime:
		v = newInline(t.d().SafeCastToTimestamp(t.d().ExtractString(col, "$")), kind)
	default:
		v = newInline(t.d().ExtractString(col, "$"), kind)
	}
	v.set(MetaElementType, t.elementType(f))
	return v
}

// rootFrame binds $this and $index to the current row of src.
func (t *Translator) rootFrame(src *Fragment) map[string]*Fragment {
	return map[string]*Fragment{
		"this":  t.rowValue(src, ""),
		"index": newInline("(ord - 1)", dialect.KindInteger),
	}
}

// rootDocument is the document of the root row the current lambda runs for.
func (t *Translator) rootDocument() *Fragment {
	alias := t.nextAlias("rb")
	expr := fmt.Sprintf("(SELECT %[1]s.value FROM %[2]s AS %[1]s WHERE %[1]s.id = %[3]s)", alias, BaseName, t.scope.rowID())
	f := newInline(expr, dialect.KindJSON, []string{BaseName})
	f.set(MetaElementType, t.opts.ResourceType)
	return f
}

// quoteTable quotes each part of a possibly schema-qualified table name.
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = schema.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}
