package dialect

import (
	"fmt"
	"strings"
)

const (
	pgDecimalPattern   = `'^\s*[-+]?([0-9]+(\.[0-9]*)?|\.[0-9]+)([eE][-+]?[0-9]+)?\s*$'`
	pgIntegerPattern   = `'^\s*[-+]?[0-9]{1,18}\s*$'`
	pgDatePattern      = `'^[0-9]{4}-(0[1-9]|1[0-2])-(0[1-9]|[12][0-9]|3[01])$'`
	pgTimestampPattern = `'^[0-9]{4}-(0[1-9]|1[0-2])-(0[1-9]|[12][0-9]|3[01])([T ]([01][0-9]|2[0-3]):[0-5][0-9](:[0-5][0-9](\.[0-9]+)?)?(Z|[+-][0-9]{2}:[0-9]{2})?)?$'`
)

// Postgres targets jsonb document columns.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) textPath(path string) string {
	segs := pathSegments(path)
	quoted := make([]string, len(segs))
	for i, s := range segs {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return quoteString("{" + strings.Join(quoted, ",") + "}")
}

func (d Postgres) ExtractJSON(expr, path string) string {
	segs := pathSegments(path)
	switch len(segs) {
	case 0:
		return expr
	case 1:
		return fmt.Sprintf("(%s -> %s)", expr, quoteString(segs[0]))
	default:
		return fmt.Sprintf("(%s #> %s)", expr, d.textPath(path))
	}
}

func (d Postgres) ExtractString(expr, path string) string {
	segs := pathSegments(path)
	if len(segs) == 1 {
		return fmt.Sprintf("(%s ->> %s)", expr, quoteString(segs[0]))
	}
	return fmt.Sprintf("(%s #>> %s)", expr, d.textPath(path))
}

func (d Postgres) ExtractInt(expr, path string) string {
	return d.ExtractString(expr, path) + "::bigint"
}

func (d Postgres) ExtractDecimal(expr, path string) string {
	return d.ExtractString(expr, path) + "::numeric"
}

func (d Postgres) ExtractBool(expr, path string) string {
	v := d.ExtractJSON(expr, path)
	return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s) = 'boolean' THEN (%s)::boolean END)", v, v)
}

func (d Postgres) EnumerateArray(expr, path, alias string) Enumeration {
	v := d.ExtractJSON(expr, path)
	return Enumeration{
		From: fmt.Sprintf(
			"jsonb_array_elements(CASE WHEN %s IS NULL THEN '[]'::jsonb WHEN jsonb_typeof(%s) = 'array' THEN %s ELSE jsonb_build_array(%s) END) WITH ORDINALITY AS %s(elem, idx)",
			v, v, v, v, alias),
		Index: fmt.Sprintf("(%s.idx - 1)", alias),
		Value: alias + ".elem",
	}
}

func (Postgres) AggregateToArray(expr, orderBy string) string {
	return fmt.Sprintf("jsonb_agg(%s%s)", expr, orderClause(orderBy))
}

func (Postgres) EmptyArrayLiteral() string { return "'[]'::jsonb" }

func (Postgres) SafeCastToDecimal(expr string) string {
	return fmt.Sprintf("(CASE WHEN (%s) ~ %s THEN (%s)::numeric END)", expr, pgDecimalPattern, expr)
}

func (Postgres) SafeCastToInteger(expr string) string {
	return fmt.Sprintf("(CASE WHEN (%s) ~ %s THEN (%s)::bigint END)", expr, pgIntegerPattern, expr)
}

func (Postgres) SafeCastToDate(expr string) string {
	return fmt.Sprintf("(CASE WHEN (%s) ~ %s THEN (%s)::date END)", expr, pgDatePattern, expr)
}

func (Postgres) SafeCastToTimestamp(expr string) string {
	return fmt.Sprintf("(CASE WHEN (%s) ~ %s THEN (%s)::timestamptz END)", expr, pgTimestampPattern, expr)
}

func (Postgres) SafeCastToBoolean(expr string) string {
	return fmt.Sprintf("(CASE WHEN lower(%s) IN ('true', 't', '1') THEN TRUE WHEN lower(%s) IN ('false', 'f', '0') THEN FALSE END)", expr, expr)
}

func (Postgres) CurrentDate() string      { return "CURRENT_DATE" }
func (Postgres) CurrentTimestamp() string { return "CURRENT_TIMESTAMP" }

func (Postgres) StringLiteral(s string) string { return quoteString(s) }

func (Postgres) ToJSON(expr string, kind ValueKind) string {
	switch kind {
	case KindJSON:
		return expr
	case KindInteger:
		return fmt.Sprintf("to_jsonb((%s)::bigint)", expr)
	case KindDecimal:
		return fmt.Sprintf("to_jsonb((%s)::numeric)", expr)
	case KindBoolean:
		return fmt.Sprintf("to_jsonb((%s)::boolean)", expr)
	default:
		return fmt.Sprintf("to_jsonb((%s)::text)", expr)
	}
}

func (Postgres) NullJSON() string { return "NULL::jsonb" }

func (Postgres) ComparableJSON(expr string) string { return expr }

func (Postgres) JSONKindCheck(expr string, kind JSONKind) string {
	switch kind {
	case JSONInteger:
		return fmt.Sprintf("(jsonb_typeof(%s) = 'number' AND (%s #>> '{}') ~ '^-?[0-9]+$')", expr, expr)
	default:
		return fmt.Sprintf("(jsonb_typeof(%s) = '%s')", expr, string(kind))
	}
}

func (Postgres) ArrayOf(expr string) string { return fmt.Sprintf("ARRAY[%s]", expr) }

func (Postgres) ArrayAppend(array, expr string) string {
	return fmt.Sprintf("array_append(%s, %s)", array, expr)
}

func (Postgres) ArrayContains(array, expr string) string {
	return fmt.Sprintf("(%s = ANY(%s))", expr, array)
}

func (Postgres) SortKey(prefix, index string) string {
	return fmt.Sprintf("(%s || lpad((%s)::text, 10, '0'))", prefix, index)
}

func (Postgres) IntegerDivide(left, right string) string {
	return fmt.Sprintf("div((%s)::numeric, NULLIF((%s)::numeric, 0))", left, right)
}

func (Postgres) Modulo(left, right string) string {
	return fmt.Sprintf("mod((%s)::numeric, NULLIF((%s)::numeric, 0))", left, right)
}
