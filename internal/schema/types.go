package schema

import (
	"strings"

	"github.com/google/uuid"
)

// QuoteIdent quotes a SQL identifier, escaping embedded double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type TypeKind string

const (
	KindResource  TypeKind = "resource"
	KindComplex   TypeKind = "complex"
	KindPrimitive TypeKind = "primitive"
)

// typeNamespace seeds deterministic ids for definitions that do not come
// from the database.
var typeNamespace = uuid.MustParse("6f1c9a3e-2b7d-4c1e-9a55-0d3f1e2a7b10")

// typeID returns the deterministic id used for a type loaded from code or YAML.
func typeID(name string) uuid.UUID {
	return uuid.NewSHA1(typeNamespace, []byte("type:"+name))
}

// elementID returns the deterministic id of a type's element.
func elementID(typeName, element string) uuid.UUID {
	return uuid.NewSHA1(typeNamespace, []byte("element:"+typeName+"."+element))
}

type ElementDef struct {
	ID          uuid.UUID
	TypeID      uuid.UUID
	Name        string
	ElementType string
	IsArray     bool
}

type TypeDef struct {
	ID             uuid.UUID
	Name           string
	Kind           TypeKind
	Elements       []ElementDef
	ElementsByName map[string]*ElementDef
}

// NewTypeDef builds a type with its element index populated.
func NewTypeDef(name string, kind TypeKind, elements ...ElementDef) *TypeDef {
	t := &TypeDef{
		ID:             typeID(name),
		Name:           name,
		Kind:           kind,
		ElementsByName: make(map[string]*ElementDef, len(elements)),
	}
	for _, e := range elements {
		t.AddElement(e)
	}
	return t
}

// AddElement appends an element, filling ids that were left zero.
func (t *TypeDef) AddElement(e ElementDef) {
	if e.ID == uuid.Nil {
		e.ID = elementID(t.Name, e.Name)
	}
	e.TypeID = t.ID
	t.Elements = append(t.Elements, e)
	t.reindex()
}

// Element returns the named element or nil.
func (t *TypeDef) Element(name string) *ElementDef {
	return t.ElementsByName[name]
}

func (t *TypeDef) reindex() {
	t.ElementsByName = make(map[string]*ElementDef, len(t.Elements))
	for i := range t.Elements {
		t.ElementsByName[t.Elements[i].Name] = &t.Elements[i]
	}
}

// el is shorthand for a scalar element in built-in definitions.
func el(name, typ string) ElementDef {
	return ElementDef{Name: name, ElementType: typ}
}

// arr is shorthand for an array element in built-in definitions.
func arr(name, typ string) ElementDef {
	return ElementDef{Name: name, ElementType: typ, IsArray: true}
}
