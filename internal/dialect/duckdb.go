package dialect

import (
	"fmt"
	"strings"
)

// DuckDB targets JSON columns through the json extension.
type DuckDB struct{}

func (DuckDB) Name() string { return "duckdb" }

func (DuckDB) path(path string) string {
	segs := pathSegments(path)
	if len(segs) == 0 {
		return "'$'"
	}
	return quoteString("$." + strings.Join(segs, "."))
}

func (d DuckDB) ExtractJSON(expr, path string) string {
	if len(pathSegments(path)) == 0 {
		return expr
	}
	return fmt.Sprintf("json_extract(%s, %s)", expr, d.path(path))
}

func (d DuckDB) ExtractString(expr, path string) string {
	return fmt.Sprintf("json_extract_string(%s, %s)", expr, d.path(path))
}

func (d DuckDB) ExtractInt(expr, path string) string {
	return fmt.Sprintf("TRY_CAST(%s AS BIGINT)", d.ExtractString(expr, path))
}

func (d DuckDB) ExtractDecimal(expr, path string) string {
	return fmt.Sprintf("TRY_CAST(%s AS DECIMAL(38, 10))", d.ExtractString(expr, path))
}

func (d DuckDB) ExtractBool(expr, path string) string {
	v := d.ExtractJSON(expr, path)
	return fmt.Sprintf("(CASE WHEN json_type(%s) = 'BOOLEAN' THEN TRY_CAST(%s AS BOOLEAN) END)", v, d.ExtractString(expr, path))
}

func (d DuckDB) EnumerateArray(expr, path, alias string) Enumeration {
	v := d.ExtractJSON(expr, path)
	arr := fmt.Sprintf("CAST(CASE WHEN %s IS NULL THEN '[]'::JSON WHEN json_type(%s) = 'ARRAY' THEN %s ELSE json_array(%s) END AS JSON[])", v, v, v, v)
	return Enumeration{
		From:  fmt.Sprintf("(SELECT unnest(%s) AS elem, generate_subscripts(%s, 1) AS idx) AS %s", arr, arr, alias),
		Index: fmt.Sprintf("(%s.idx - 1)", alias),
		Value: alias + ".elem",
	}
}

func (DuckDB) AggregateToArray(expr, orderBy string) string {
	return fmt.Sprintf("json_group_array(%s%s)", expr, orderClause(orderBy))
}

func (DuckDB) EmptyArrayLiteral() string { return "'[]'::JSON" }

func (DuckDB) SafeCastToDecimal(expr string) string {
	return fmt.Sprintf("TRY_CAST(%s AS DECIMAL(38, 10))", expr)
}

func (DuckDB) SafeCastToInteger(expr string) string {
	return fmt.Sprintf("TRY_CAST(%s AS BIGINT)", expr)
}

func (DuckDB) SafeCastToDate(expr string) string {
	return fmt.Sprintf("TRY_CAST(%s AS DATE)", expr)
}

func (DuckDB) SafeCastToTimestamp(expr string) string {
	return fmt.Sprintf("TRY_CAST(%s AS TIMESTAMP)", expr)
}

func (DuckDB) SafeCastToBoolean(expr string) string {
	return fmt.Sprintf("TRY_CAST(%s AS BOOLEAN)", expr)
}

func (DuckDB) CurrentDate() string      { return "current_date" }
func (DuckDB) CurrentTimestamp() string { return "current_timestamp" }

func (DuckDB) StringLiteral(s string) string { return quoteString(s) }

func (DuckDB) ToJSON(expr string, kind ValueKind) string {
	if kind == KindJSON {
		return expr
	}
	return fmt.Sprintf("to_json(%s)", expr)
}

func (DuckDB) NullJSON() string { return "NULL::JSON" }

func (DuckDB) ComparableJSON(expr string) string {
	return fmt.Sprintf("CAST(%s AS VARCHAR)", expr)
}

func (DuckDB) JSONKindCheck(expr string, kind JSONKind) string {
	switch kind {
	case JSONString:
		return fmt.Sprintf("(json_type(%s) = 'VARCHAR')", expr)
	case JSONNumber:
		return fmt.Sprintf("(json_type(%s) IN ('BIGINT', 'UBIGINT', 'DOUBLE'))", expr)
	case JSONInteger:
		return fmt.Sprintf("(json_type(%s) IN ('BIGINT', 'UBIGINT'))", expr)
	default:
		return fmt.Sprintf("(json_type(%s) = '%s')", expr, strings.ToUpper(string(kind)))
	}
}

func (DuckDB) ArrayOf(expr string) string { return fmt.Sprintf("[%s]", expr) }

func (DuckDB) ArrayAppend(array, expr string) string {
	return fmt.Sprintf("list_append(%s, %s)", array, expr)
}

func (DuckDB) ArrayContains(array, expr string) string {
	return fmt.Sprintf("list_contains(%s, %s)", array, expr)
}

func (DuckDB) SortKey(prefix, index string) string {
	return fmt.Sprintf("(%s || lpad(CAST(%s AS VARCHAR), 10, '0'))", prefix, index)
}

func (DuckDB) IntegerDivide(left, right string) string {
	return fmt.Sprintf("((%s) // NULLIF((%s), 0))", left, right)
}

func (DuckDB) Modulo(left, right string) string {
	return fmt.Sprintf("((%s) %% NULLIF((%s), 0))", left, right)
}
