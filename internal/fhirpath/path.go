package fhirpath

import (
	"fmt"

	"github.com/atlekbai/fhirpath_sql/internal/dialect"
	"github.com/atlekbai/fhirpath_sql/internal/fhirpath/parser"
)

// identifier resolves a leading name: a resource type, or a field of the
// context ($this inside a lambda, the input resource at the root).
func (t *Translator) identifier(n *parser.Identifier) (*Fragment, error) {
	if t.inLambda() {
		if t.opts.Registry.IsResourceType(n.Name) {
			return t.resourceInline(n.Name), nil
		}
		this, err := t.lookup("this")
		if err != nil {
			return nil, err
		}
		return t.memberInline(this, n.Name)
	}

	if t.opts.Registry.IsResourceType(n.Name) {
		f := &Fragment{
			Expression:  "value",
			SourceTable: BaseName,
			Shape:       ShapeProjection,
			Metadata: map[string]any{
				MetaSingleton:   true,
				MetaElementType: n.Name,
				MetaSchemaPath:  n.Name,
				MetaFilter: fmt.Sprintf("%s = %s",
					t.d().ExtractString("value", "$.resourceType"), t.d().StringLiteral(n.Name)),
			},
		}
		return t.emit(f), nil
	}
	return t.memberRoot(t.base, n.Name), nil
}

// resourceInline is the root document, when it has the given type.
func (t *Translator) resourceInline(typeName string) *Fragment {
	doc := t.rootDocument()
	expr := fmt.Sprintf("(CASE WHEN %s = %s THEN %s END)",
		t.d().ExtractString(doc.Expression, "$.resourceType"), t.d().StringLiteral(typeName), doc.Expression)
	f := newInline(expr, dialect.KindJSON, doc.Dependencies)
	f.set(MetaElementType, typeName)
	return f
}

func (t *Translator) member(n *parser.Member) (*Fragment, error) {
	target, err := t.visit(n.Target)
	if err != nil {
		return nil, err
	}
	if target.IsCTE() {
		return t.memberRoot(target, n.Name), nil
	}
	return t.memberInline(target, n.Name)
}

// memberRoot steps into a field of every row of src. Repeating and
// undeclared fields unnest; declared scalar fields project.
func (t *Translator) memberRoot(src *Fragment, name string) *Fragment {
	parent := t.elementType(src)
	fieldType, known := t.opts.Registry.ElementType(parent, name)
	path := joinPath(src.MetaString(MetaSchemaPath), name)
	expr := t.d().ExtractJSON("value", "$."+name)

	f := &Fragment{Expression: expr, SourceTable: src.Name, Metadata: map[string]any{}}
	if known && !t.opts.Registry.IsArrayField(parent, name) {
		f.Shape = ShapeProjection
		f.set(MetaFilter, expr+" IS NOT NULL")
		f.set(MetaSingleton, src.isSingleton())
	} else {
		f.Shape = ShapeUnnest
		f.RequiresUnnest = true
	}
	f.set(MetaElementType, fieldType)
	f.set(MetaSchemaPath, path)
	return t.emit(f)
}

// memberInline steps into a field of an inline value.
func (t *Translator) memberInline(recv *Fragment, name string) (*Fragment, error) {
	if recv.Kind() != dialect.KindJSON {
		return nil, fmt.Errorf("%w: field %q of a %s value", ErrUnsupported, name, recv.Kind())
	}
	parent := recv.MetaString(MetaElementType)
	fieldType, known := t.opts.Registry.ElementType(parent, name)
	array := !known || t.opts.Registry.IsArrayField(parent, name)

	var f *Fragment
	if !recv.isCollection() {
		f = newInline(t.d().ExtractJSON(recv.Expression, "$."+name), dialect.KindJSON, recv.Dependencies)
		f.set(MetaCollection, array)
	} else {
		outer := t.d().EnumerateArray(recv.Expression, "$", t.nextAlias("e"))
		inner := t.d().EnumerateArray(outer.Value, "$."+name, t.nextAlias("e"))
		expr := fmt.Sprintf("(SELECT %s FROM %s, %s)",
			t.d().AggregateToArray(inner.Value, outer.Index+", "+inner.Index), outer.From, inner.From)
		f = newCollection(expr, recv.Dependencies)
	}
	f.set(MetaElementType, fieldType)
	return f, nil
}

func (t *Translator) lookup(name string) (*Fragment, error) {
	b, ok := t.scope.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: $%s", ErrUnboundVariable, name)
	}
	return b.Fragment.clone(), nil
}

func (t *Translator) variable(n *parser.Variable) (*Fragment, error) {
	return t.lookup(n.Name)
}

// Well-known environment constants.
var externalConstants = map[string]string{
	"ucum":  "http://unitsofmeasure.org",
	"sct":   "http://snomed.info/sct",
	"loinc": "http://loinc.org",
}

func (t *Translator) external(n *parser.External) (*Fragment, error) {
	switch n.Name {
	case "resource", "context", "rootResource":
		if t.inLambda() {
			return t.rootDocument(), nil
		}
		return t.base, nil
	}
	if v, ok := externalConstants[n.Name]; ok {
		return newInline(t.d().StringLiteral(v), dialect.KindString), nil
	}
	return nil, fmt.Errorf("%w: %%%s", ErrUnboundVariable, n.Name)
}

func joinPath(path, name string) string {
	if path == "" {
		return ""
	}
	return path + "." + name
}
