package fhirpath

import (
	"maps"
	"slices"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
)

// Shape tells the assembler how to render a fragment as a CTE body.
type Shape int

const (
	// ShapeProjection: SELECT id, ord, <expr> AS value FROM <source> [WHERE <filter>].
	ShapeProjection Shape = iota
	// ShapeUnnest: one row per element of the array-valued expression.
	ShapeUnnest
	// ShapeAggregate: one row per context row, value computed over all source
	// rows that share its id.
	ShapeAggregate
	// ShapeQuery: the expression is a complete row-producing body.
	ShapeQuery
	// ShapeRecursive: a complete recursive body with explicit columns.
	ShapeRecursive
)

var shapeNames = map[Shape]string{
	ShapeProjection: "projection",
	ShapeUnnest:     "unnest",
	ShapeAggregate:  "aggregate",
	ShapeQuery:      "query",
	ShapeRecursive:  "recursive",
}

func (s Shape) String() string { return shapeNames[s] }

// Metadata keys.
const (
	MetaLiteralType         = "literal_type"
	MetaJSONExtractedString = "json_extracted_string"
	MetaValueType           = "value_type"
	MetaCollection          = "collection"
	MetaElementType         = "element_type"
	MetaSchemaPath          = "schema_path"
	MetaCurrentElement      = "current_element_column"
	MetaOrderingColumns     = "ordering_columns"
	MetaFilter              = "filter"
	MetaSingleton           = "singleton"
	MetaScalarType          = "scalar_type"
	MetaRoot                = "root"
	MetaRecursive           = "recursive"
	MetaColumns             = "columns"
	MetaContextTable        = "context_table"
)

// Fragment is one unit of translated SQL.
//
// A fragment with a Name lives in the bag and becomes a CTE exposing the
// columns id, ord and value (JSON). A fragment without a Name is an inline
// SQL expression: a constant at the root scope, or a value correlated to the
// current element inside a lambda. Bag fragments are never mutated.
type Fragment struct {
	Name           string
	Expression     string
	SourceTable    string
	RequiresUnnest bool
	IsAggregate    bool
	Shape          Shape
	Dependencies   []string // sorted, unique
	Metadata       map[string]any
}

// IsCTE reports whether the fragment is a named bag entry.
func (f *Fragment) IsCTE() bool { return f.Name != "" }

// MetaString returns a string metadata value or "".
func (f *Fragment) MetaString(key string) string {
	s, _ := f.Metadata[key].(string)
	return s
}

// MetaBool returns a boolean metadata value or false.
func (f *Fragment) MetaBool(key string) bool {
	b, _ := f.Metadata[key].(bool)
	return b
}

// MetaStrings returns a string list metadata value or nil.
func (f *Fragment) MetaStrings(key string) []string {
	s, _ := f.Metadata[key].([]string)
	return s
}

// Kind is the SQL kind of an inline expression; CTE values are JSON.
func (f *Fragment) Kind() dialect.ValueKind {
	if k, ok := f.Metadata[MetaValueType].(dialect.ValueKind); ok {
		return k
	}
	return dialect.KindJSON
}

// ScalarType is the kind the JSON value column of a CTE was built from.
func (f *Fragment) ScalarType() dialect.ValueKind {
	if k, ok := f.Metadata[MetaScalarType].(dialect.ValueKind); ok {
		return k
	}
	return dialect.KindJSON
}

func (f *Fragment) isCollection() bool { return f.MetaBool(MetaCollection) }
func (f *Fragment) isSingleton() bool  { return f.MetaBool(MetaSingleton) }

func (f *Fragment) clone() *Fragment {
	c := *f
	c.Dependencies = slices.Clone(f.Dependencies)
	c.Metadata = maps.Clone(f.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return &c
}

// set assigns metadata on a fragment under construction.
func (f *Fragment) set(key string, value any) *Fragment {
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			delete(f.Metadata, key)
			return f
		}
	case bool:
		if !v {
			delete(f.Metadata, key)
			return f
		}
	}
	f.Metadata[key] = value
	return f
}

func newInline(expr string, kind dialect.ValueKind, deps ...[]string) *Fragment {
	f := &Fragment{Expression: expr, Dependencies: mergeDeps(deps...), Metadata: map[string]any{}}
	if kind != dialect.KindJSON {
		f.Metadata[MetaValueType] = kind
	}
	return f
}

func newCollection(expr string, deps ...[]string) *Fragment {
	return newInline(expr, dialect.KindJSON, deps...).set(MetaCollection, true)
}

// mergeDeps unions dependency sets into one sorted list.
func mergeDeps(sets ...[]string) []string {
	var out []string
	for _, s := range sets {
		out = append(out, s...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// carry copies the navigation metadata of a source collection.
func carry(src *Fragment) map[string]any {
	m := map[string]any{}
	for _, key := range []string{MetaElementType, MetaSchemaPath, MetaSingleton, MetaScalarType} {
		if v, ok := src.Metadata[key]; ok {
			m[key] = v
		}
	}
	return m
}
