package fhirpath

import (
	"fmt"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
)

// asJSON renders an inline value as a JSON document. Collections stay
// collections: a JSON array, a lone element, or NULL for empty.
func (t *Translator) asJSON(f *Fragment) string {
	return t.d().ToJSON(f.Expression, f.Kind())
}

// singleton reduces an inline collection to its first element.
func (t *Translator) singleton(f *Fragment) *Fragment {
	if !f.isCollection() {
		return f
	}
	e := t.d().EnumerateArray(f.Expression, "$", t.nextAlias("e"))
	expr := fmt.Sprintf("(SELECT %s FROM %s ORDER BY %s LIMIT 1)", e.Value, e.From, e.Index)
	out := newInline(expr, dialect.KindJSON, f.Dependencies)
	out.set(MetaElementType, f.MetaString(MetaElementType))
	return out
}

// scalarJSON is the JSON document of a single value.
func (t *Translator) scalarJSON(f *Fragment) string {
	return t.asJSON(t.singleton(f))
}

// extracted reads a JSON singleton as text and tags it as document-extracted.
func (t *Translator) extracted(f *Fragment) *Fragment {
	out := newInline(t.d().ExtractString(f.Expression, "$"), dialect.KindString, f.Dependencies)
	out.set(MetaJSONExtractedString, true)
	out.set(MetaElementType, f.MetaString(MetaElementType))
	return out
}

// text renders a value as SQL text.
func (t *Translator) text(f *Fragment) string {
	f = t.singleton(f)
	switch f.Kind() {
	case dialect.KindJSON:
		return t.extracted(f).Expression
	case dialect.KindString, dialect.KindTime:
		return f.Expression
	default:
		return fmt.Sprintf("CAST(%s AS TEXT)", f.Expression)
	}
}

// numeric renders a value as a SQL number and reports its kind.
func (t *Translator) numeric(f *Fragment) (string, dialect.ValueKind) {
	f = t.singleton(f)
	switch k := f.Kind(); k {
	case dialect.KindInteger, dialect.KindDecimal:
		return f.Expression, k
	case dialect.KindJSON:
		if isIntegerType(f.MetaString(MetaElementType)) {
			return t.d().SafeCastToInteger(t.extracted(f).Expression), dialect.KindInteger
		}
		return t.d().SafeCastToDecimal(t.extracted(f).Expression), dialect.KindDecimal
	default:
		return t.d().SafeCastToDecimal(t.text(f)), dialect.KindDecimal
	}
}

// boolean renders a value as a SQL boolean. A single non-boolean value
// counts as true; empty stays NULL.
func (t *Translator) boolean(f *Fragment) string {
	f = t.singleton(f)
	switch f.Kind() {
	case dialect.KindBoolean:
		return f.Expression
	case dialect.KindJSON:
		return fmt.Sprintf("COALESCE(%s, CASE WHEN %s IS NOT NULL THEN TRUE END)", t.d().ExtractBool(f.Expression, "$"), f.Expression)
	default:
		return fmt.Sprintf("(CASE WHEN %s IS NOT NULL THEN TRUE END)", f.Expression)
	}
}

func isIntegerType(name string) bool {
	switch name {
	case "integer", "positiveInt", "unsignedInt", "integer64", "Integer":
		return true
	}
	return false
}
