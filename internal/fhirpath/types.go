package fhirpath

import (
	"fmt"
	"strings"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
)

type primitive struct {
	json dialect.JSONKind
	kind dialect.ValueKind
}

// primitives maps primitive type names to the JSON kind a document value
// has and the SQL kind a typed value has.
var primitives = map[string]primitive{
	"string":       {dialect.JSONString, dialect.KindString},
	"code":         {dialect.JSONString, dialect.KindString},
	"id":           {dialect.JSONString, dialect.KindString},
	"uri":          {dialect.JSONString, dialect.KindString},
	"url":          {dialect.JSONString, dialect.KindString},
	"canonical":    {dialect.JSONString, dialect.KindString},
	"markdown":     {dialect.JSONString, dialect.KindString},
	"oid":          {dialect.JSONString, dialect.KindString},
	"uuid":         {dialect.JSONString, dialect.KindString},
	"base64Binary": {dialect.JSONString, dialect.KindString},
	"String":       {dialect.JSONString, dialect.KindString},
	"date":         {dialect.JSONString, dialect.KindDate},
	"Date":         {dialect.JSONString, dialect.KindDate},
	"dateTime":     {dialect.JSONString, dialect.KindDateTime},
	"instant":      {dialect.JSONString, dialect.KindDateTime},
	"DateTime":     {dialect.JSONString, dialect.KindDateTime},
	"time":         {dialect.JSONString, dialect.KindTime},
	"Time":         {dialect.JSONString, dialect.KindTime},
	"boolean":      {dialect.JSONBoolean, dialect.KindBoolean},
	"Boolean":      {dialect.JSONBoolean, dialect.KindBoolean},
	"integer":      {dialect.JSONInteger, dialect.KindInteger},
	"positiveInt":  {dialect.JSONInteger, dialect.KindInteger},
	"unsignedInt":  {dialect.JSONInteger, dialect.KindInteger},
	"integer64":    {dialect.JSONInteger, dialect.KindInteger},
	"Integer":      {dialect.JSONInteger, dialect.KindInteger},
	"decimal":      {dialect.JSONNumber, dialect.KindDecimal},
	"Decimal":      {dialect.JSONNumber, dialect.KindDecimal},
}

// typeNameOf reads a type specifier argument: Quantity, FHIR.string.
func typeNameOf(n parser.Node) (string, error) {
	switch v := n.(type) {
	case *parser.Identifier:
		return v.Name, nil
	case *parser.Member:
		prefix, err := typeNameOf(v.Target)
		if err != nil {
			return "", err
		}
		return prefix + "." + v.Name, nil
	default:
		return "", fmt.Errorf("%w: expected a type name, got %q", ErrParseMetadata, n.Src().Text)
	}
}

func (t *Translator) typeOp(n *parser.TypeOp) (*Fragment, error) {
	operand, err := t.visit(n.Operand)
	if err != nil {
		return nil, err
	}
	return t.typed(n.Op, operand, n.TypeName)
}

// typed applies is or as to operand.
func (t *Translator) typed(op string, operand *Fragment, typeName string) (*Fragment, error) {
	return t.lift([]*Fragment{operand}, perRowAlways, func(ops []*Fragment) (*Fragment, error) {
		x := t.singleton(ops[0])
		check, name, err := t.typeCheck(x, typeName)
		if err != nil {
			return nil, err
		}
		if op == "is" {
			expr := fmt.Sprintf("(CASE WHEN %s IS NOT NULL THEN %s END)", x.Expression, check)
			return newInline(expr, dialect.KindBoolean, x.Dependencies), nil
		}
		if x.Kind() != dialect.KindJSON {
			if check == "TRUE" {
				return x, nil
			}
			return newCollection(t.d().NullJSON()), nil
		}
		out := newInline(fmt.Sprintf("(CASE WHEN %s THEN %s END)", check, x.Expression), dialect.KindJSON, x.Dependencies)
		out.set(MetaElementType, name)
		return out, nil
	})
}

// typeCheck renders the condition "x is typeName" and returns the type
// name without its namespace.
func (t *Translator) typeCheck(x *Fragment, typeName string) (string, string, error) {
	name := strings.TrimPrefix(strings.TrimPrefix(typeName, "FHIR."), "System.")
	if name == "" {
		return "", "", fmt.Errorf("%w: type operation without a type name", ErrParseMetadata)
	}

	p, isPrimitive := primitives[name]
	if x.Kind() != dialect.KindJSON {
		if isPrimitive && p.kind == x.Kind() {
			return "TRUE", name, nil
		}
		if !isPrimitive && !t.opts.Registry.HasType(name) {
			return "", "", fmt.Errorf("%w: unknown type %q", ErrParseMetadata, typeName)
		}
		return "FALSE", name, nil
	}

	var check string
	switch {
	case isPrimitive:
		check = t.d().JSONKindCheck(x.Expression, p.json)
	case t.opts.Registry.IsResourceType(name):
		check = fmt.Sprintf("(%s = %s)", t.d().ExtractString(x.Expression, "$.resourceType"), t.d().StringLiteral(name))
	case t.opts.Registry.HasType(name):
		if et := x.MetaString(MetaElementType); et != "" {
			if et == name {
				check = "TRUE"
			} else {
				check = "FALSE"
			}
		} else {
			check = t.d().JSONKindCheck(x.Expression, dialect.JSONObject)
		}
	default:
		return "", "", fmt.Errorf("%w: unknown type %q", ErrParseMetadata, typeName)
	}
	return check, name, nil
}

// ofType keeps the elements of recv that have the given type.
func (t *Translator) ofType(recv *Fragment, typeName string) (*Fragment, error) {
	if t.inLambda() {
		e := t.d().EnumerateArray(t.asJSON(recv), "$", t.nextAlias("e"))
		elem := newInline(e.Value, dialect.KindJSON)
		elem.set(MetaElementType, recv.MetaString(MetaElementType))
		check, name, err := t.typeCheck(elem, typeName)
		if err != nil {
			return nil, err
		}
		expr := fmt.Sprintf("(SELECT %s FROM %s WHERE %s)", t.d().AggregateToArray(e.Value, e.Index), e.From, check)
		f := newCollection(expr, recv.Dependencies)
		f.set(MetaElementType, name)
		return f, nil
	}

	src, err := t.rootSource(recv, nil)
	if err != nil {
		return nil, err
	}
	row := t.rowValue(src, "")
	check, name, err := t.typeCheck(row, typeName)
	if err != nil {
		return nil, err
	}
	f := &Fragment{
		Expression:  "value",
		SourceTable: src.Name,
		Shape:       ShapeProjection,
		Metadata:    carry(src),
	}
	f.set(MetaFilter, check)
	f.set(MetaElementType, name)
	f.set(MetaSchemaPath, "")
	return t.emit(f), nil
}
