package fhirpath

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
)

// literal renders a constant. Its literal_type tag drives comparison casts.
func (t *Translator) literal(n *parser.Literal) (*Fragment, error) {
	var f *Fragment
	switch n.Kind {
	case parser.LitEmpty:
		f = newCollection(t.d().NullJSON())
	case parser.LitString:
		f = newInline(t.d().StringLiteral(n.Value), dialect.KindString)
	case parser.LitInteger:
		d, err := decimal.NewFromString(n.Value)
		if err != nil || !d.IsInteger() {
			return nil, fmt.Errorf("%w: invalid integer literal %q", ErrParseMetadata, n.Value)
		}
		f = newInline(d.String(), dialect.KindInteger)
	case parser.LitDecimal:
		d, err := decimal.NewFromString(n.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid decimal literal %q", ErrParseMetadata, n.Value)
		}
		f = newInline(d.StringFixed(max(0, -d.Exponent())), dialect.KindDecimal)
	case parser.LitBoolean:
		if n.Value == "true" {
			f = newInline("TRUE", dialect.KindBoolean)
		} else {
			f = newInline("FALSE", dialect.KindBoolean)
		}
	case parser.LitDate:
		f = newInline(t.d().SafeCastToDate(t.d().StringLiteral(n.Value)), dialect.KindDate)
	case parser.LitDateTime:
		f = newInline(t.d().SafeCastToTimestamp(t.d().StringLiteral(n.Value)), dialect.KindDateTime)
	case parser.LitTime:
		f = newInline(t.d().StringLiteral(n.Value), dialect.KindTime)
	default:
		return nil, fmt.Errorf("%w: literal kind %v", ErrParseMetadata, n.Kind)
	}
	return f.set(MetaLiteralType, n.Kind.String()), nil
}
