package dialect

import (
	"fmt"
	"strings"
)

// SQLite targets JSON text columns through the json1 functions and the
// -> / ->> operators (SQLite 3.38 and later).
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) path(path string) string {
	segs := pathSegments(path)
	if len(segs) == 0 {
		return "'$'"
	}
	return quoteString("$." + strings.Join(segs, "."))
}

func (d SQLite) ExtractJSON(expr, path string) string {
	if len(pathSegments(path)) == 0 {
		return expr
	}
	return fmt.Sprintf("(%s -> %s)", expr, d.path(path))
}

func (d SQLite) ExtractString(expr, path string) string {
	return fmt.Sprintf("(%s ->> %s)", expr, d.path(path))
}

func (d SQLite) ExtractInt(expr, path string) string {
	return fmt.Sprintf("CAST(%s AS INTEGER)", d.ExtractString(expr, path))
}

func (d SQLite) ExtractDecimal(expr, path string) string {
	return fmt.Sprintf("CAST(%s AS REAL)", d.ExtractString(expr, path))
}

func (d SQLite) ExtractBool(expr, path string) string {
	return fmt.Sprintf("(CASE json_type(%s, %s) WHEN 'true' THEN 1 WHEN 'false' THEN 0 END)", expr, d.path(path))
}

func (d SQLite) EnumerateArray(expr, path, alias string) Enumeration {
	v := d.ExtractJSON(expr, path)
	return Enumeration{
		From: fmt.Sprintf(
			"json_each(CASE WHEN %s IS NULL THEN '[]' WHEN json_type(%s) = 'array' THEN %s ELSE json_array(json(%s)) END) AS %s",
			v, v, v, v, alias),
		Index: alias + ".key",
		Value: fmt.Sprintf(
			"(CASE %[1]s.type WHEN 'object' THEN %[1]s.value WHEN 'array' THEN %[1]s.value WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' WHEN 'null' THEN 'null' ELSE json_quote(%[1]s.value) END)",
			alias),
	}
}

func (SQLite) AggregateToArray(expr, orderBy string) string {
	return fmt.Sprintf("json_group_array(json(%s)%s)", expr, orderClause(orderBy))
}

func (SQLite) EmptyArrayLiteral() string { return "'[]'" }

func (SQLite) SafeCastToDecimal(expr string) string {
	return fmt.Sprintf(
		"(CASE WHEN typeof(%[1]s) IN ('integer', 'real') THEN %[1]s WHEN typeof(%[1]s) = 'text' AND %[2]s THEN CAST(trim(%[1]s) AS REAL) END)",
		expr, decimalText(fmt.Sprintf("lower(trim(%s))", expr)))
}

func (SQLite) SafeCastToInteger(expr string) string {
	return fmt.Sprintf(
		"(CASE WHEN typeof(%[1]s) = 'integer' THEN %[1]s WHEN typeof(%[1]s) = 'text' AND %[2]s THEN CAST(trim(%[1]s) AS INTEGER) END)",
		expr, integerText(fmt.Sprintf("trim(%s)", expr)))
}

// decimalText matches [+-] digits [. digits] [e [+-] digits] on the
// lowercased text t, with the same leniency as pgDecimalPattern around
// leading and trailing dots. GLOB has no repetition, so the grammar is
// checked as a conjunction of character-class and counting rules.
func decimalText(t string) string {
	return "(" + strings.Join([]string{
		t + " NOT GLOB '*[^0-9.e+-]*'",
		fmt.Sprintf("length(%[1]s) - length(replace(%[1]s, '.', '')) <= 1", t),
		fmt.Sprintf("length(%[1]s) - length(replace(%[1]s, 'e', '')) <= 1", t),
		// signs only in front or directly after the exponent marker
		fmt.Sprintf("replace(replace(substr(%s, 2), 'e+', 'e'), 'e-', 'e') NOT GLOB '*[+-]*'", t),
		t + " NOT GLOB '*e*.*'",
		fmt.Sprintf("((%[1]s NOT GLOB '*e*' AND %[1]s GLOB '*[0-9]*') OR (%[1]s GLOB '*[0-9]*e*' AND %[1]s GLOB '*e*[0-9]'))", t),
	}, " AND ") + ")"
}

// integerText matches [+-] digits with at most 18 digits, as pgIntegerPattern.
func integerText(t string) string {
	return "(" + strings.Join([]string{
		t + " NOT GLOB '*[^0-9+-]*'",
		fmt.Sprintf("substr(%s, 2) NOT GLOB '*[+-]*'", t),
		t + " GLOB '*[0-9]*'",
		fmt.Sprintf("length(ltrim(%s, '+-')) <= 18", t),
	}, " AND ") + ")"
}

func (SQLite) SafeCastToDate(expr string) string {
	return fmt.Sprintf("(CASE WHEN typeof(%[1]s) = 'text' THEN date(%[1]s) END)", expr)
}

func (SQLite) SafeCastToTimestamp(expr string) string {
	return fmt.Sprintf("(CASE WHEN typeof(%[1]s) = 'text' THEN datetime(%[1]s) END)", expr)
}

func (SQLite) SafeCastToBoolean(expr string) string {
	return fmt.Sprintf("(CASE WHEN lower(%[1]s) IN ('true', '1') THEN 1 WHEN lower(%[1]s) IN ('false', '0') THEN 0 END)", expr)
}

func (SQLite) CurrentDate() string      { return "date('now')" }
func (SQLite) CurrentTimestamp() string { return "datetime('now')" }

func (SQLite) StringLiteral(s string) string { return quoteString(s) }

func (SQLite) ToJSON(expr string, kind ValueKind) string {
	switch kind {
	case KindJSON:
		return expr
	case KindBoolean:
		return fmt.Sprintf("(CASE WHEN (%[1]s) THEN 'true' WHEN NOT (%[1]s) THEN 'false' END)", expr)
	default:
		return fmt.Sprintf("nullif(json_quote(%s), 'null')", expr)
	}
}

func (SQLite) NullJSON() string { return "NULL" }

func (SQLite) ComparableJSON(expr string) string {
	return fmt.Sprintf("(%s ->> '$')", expr)
}

func (SQLite) JSONKindCheck(expr string, kind JSONKind) string {
	switch kind {
	case JSONString:
		return fmt.Sprintf("(json_type(%s) = 'text')", expr)
	case JSONNumber:
		return fmt.Sprintf("(json_type(%s) IN ('integer', 'real'))", expr)
	case JSONInteger:
		return fmt.Sprintf("(json_type(%s) = 'integer')", expr)
	case JSONBoolean:
		return fmt.Sprintf("(json_type(%s) IN ('true', 'false'))", expr)
	default:
		return fmt.Sprintf("(json_type(%s) = '%s')", expr, string(kind))
	}
}

func (SQLite) ArrayOf(expr string) string { return fmt.Sprintf("json_array(json(%s))", expr) }

func (SQLite) ArrayAppend(array, expr string) string {
	return fmt.Sprintf("json_insert(%s, '$[#]', json(%s))", array, expr)
}

func (SQLite) ArrayContains(array, expr string) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%[1]s) AS path_elem WHERE (%[1]s -> path_elem.fullkey) = json(%[2]s))", array, expr)
}

func (SQLite) SortKey(prefix, index string) string {
	return fmt.Sprintf("(%s || printf('%%010d', %s))", prefix, index)
}

func (SQLite) IntegerDivide(left, right string) string {
	return fmt.Sprintf("CAST((%s) / NULLIF((%s), 0) AS INTEGER)", left, right)
}

func (SQLite) Modulo(left, right string) string {
	return fmt.Sprintf("((%s) %% NULLIF((%s), 0))", left, right)
}
