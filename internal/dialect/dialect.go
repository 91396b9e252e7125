package dialect

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownDialect is returned by Get when no dialect is registered under a name.
var ErrUnknownDialect = errors.New("unknown dialect")

// ValueKind is the SQL-level kind of an expression.
type ValueKind string

const (
	KindJSON     ValueKind = "json"
	KindString   ValueKind = "string"
	KindInteger  ValueKind = "integer"
	KindDecimal  ValueKind = "decimal"
	KindBoolean  ValueKind = "boolean"
	KindDate     ValueKind = "date"
	KindDateTime ValueKind = "datetime"
	KindTime     ValueKind = "time"
)

// JSONKind names a JSON value category for kind checks.
type JSONKind string

const (
	JSONString  JSONKind = "string"
	JSONNumber  JSONKind = "number"
	JSONInteger JSONKind = "integer"
	JSONBoolean JSONKind = "boolean"
	JSONObject  JSONKind = "object"
	JSONArray   JSONKind = "array"
)

// Enumeration is a row source produced by EnumerateArray. From is legal in a
// FROM clause after the relation that supplies the array; Index is the
// zero-based element position and Value the element as a JSON document.
type Enumeration struct {
	From  string
	Index string
	Value string
}

// Dialect generates backend syntax. Implementations carry no semantic rules:
// the translator decides what to cast and when, a dialect only spells it.
//
// Paths use the "$.a.b" form; "$" addresses the document itself. Document
// values are JSON (jsonb, JSON text); a NULL document means "no value".
type Dialect interface {
	Name() string

	ExtractString(expr, path string) string
	ExtractInt(expr, path string) string
	ExtractDecimal(expr, path string) string
	ExtractBool(expr, path string) string
	ExtractJSON(expr, path string) string

	// EnumerateArray yields one row per element of the array at path. A
	// non-array value enumerates as a single element; NULL enumerates nothing.
	EnumerateArray(expr, path, alias string) Enumeration
	// AggregateToArray folds JSON values into one array. orderBy may be empty.
	AggregateToArray(expr, orderBy string) string
	EmptyArrayLiteral() string

	// Safe casts return NULL for malformed input instead of raising.
	SafeCastToDecimal(expr string) string
	SafeCastToInteger(expr string) string
	SafeCastToDate(expr string) string
	SafeCastToTimestamp(expr string) string
	SafeCastToBoolean(expr string) string

	CurrentDate() string
	CurrentTimestamp() string

	StringLiteral(s string) string
	// ToJSON converts a typed SQL value into a JSON document, keeping NULL.
	ToJSON(expr string, kind ValueKind) string
	NullJSON() string
	// ComparableJSON renders a JSON document in a form that supports
	// equality and ordering against another ComparableJSON.
	ComparableJSON(expr string) string
	JSONKindCheck(expr string, kind JSONKind) string

	// Arrays of JSON documents, used for recursion paths.
	ArrayOf(expr string) string
	ArrayAppend(array, expr string) string
	ArrayContains(array, expr string) string

	// SortKey appends a fixed-width rendering of index to a text key.
	SortKey(prefix, index string) string
	IntegerDivide(left, right string) string
	Modulo(left, right string) string
}

var registry = map[string]func() Dialect{
	"postgres": func() Dialect { return Postgres{} },
	"sqlite":   func() Dialect { return SQLite{} },
	"duckdb":   func() Dialect { return DuckDB{} },
}

var aliases = map[string]string{
	"pg":         "postgres",
	"postgresql": "postgres",
	"sqlite3":    "sqlite",
	"duck":       "duckdb",
}

// Get returns the dialect registered under name or one of its aliases.
func Get(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	ctor, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownDialect, name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names lists the canonical dialect names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// pathSegments splits "$.a.b" into ["a", "b"]. "$" yields nil.
func pathSegments(path string) []string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func orderClause(orderBy string) string {
	if orderBy == "" {
		return ""
	}
	return " ORDER BY " + orderBy
}
