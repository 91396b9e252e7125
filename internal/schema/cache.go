package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const loadQuery = `
SELECT
	t.id, t.name, t.kind,
	e.id, e.name, e.element_type, e.is_array
FROM fhirpath.type_definitions t
LEFT JOIN fhirpath.element_definitions e ON e.type_id = t.id
ORDER BY t.name, e.position
`

// Cache holds type definitions and answers the translator's registry
// questions: which elements are arrays and what type an element has.
type Cache struct {
	mu    sync.RWMutex
	types map[string]*TypeDef
}

func NewCache() *Cache {
	return &Cache{types: make(map[string]*TypeDef)}
}

// NewCacheFromTypes builds a cache from in-memory definitions.
func NewCacheFromTypes(types ...*TypeDef) *Cache {
	c := NewCache()
	c.replace(types)
	return c
}

// NewDefaultCache returns a cache seeded with the built-in FHIR definitions.
func NewDefaultCache() *Cache {
	return NewCacheFromTypes(DefaultTypes()...)
}

// Load replaces the cache contents with the definitions stored in Postgres.
func (c *Cache) Load(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, loadQuery)
	if err != nil {
		return fmt.Errorf("schema cache load: %w", err)
	}
	defer rows.Close()

	types := make(map[string]*TypeDef)
	var order []string

	for rows.Next() {
		var (
			tID      uuid.UUID
			tName    string
			tKind    string
			eID      *uuid.UUID
			eName    *string
			eType    *string
			eIsArray *bool
		)

		if err := rows.Scan(&tID, &tName, &tKind, &eID, &eName, &eType, &eIsArray); err != nil {
			return fmt.Errorf("schema cache scan: %w", err)
		}

		def, exists := types[tName]
		if !exists {
			def = &TypeDef{
				ID:             tID,
				Name:           tName,
				Kind:           TypeKind(tKind),
				ElementsByName: make(map[string]*ElementDef),
			}
			types[tName] = def
			order = append(order, tName)
		}

		if eID != nil {
			def.AddElement(ElementDef{
				ID:          *eID,
				Name:        *eName,
				ElementType: *eType,
				IsArray:     *eIsArray,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("schema cache rows: %w", err)
	}

	defs := make([]*TypeDef, 0, len(order))
	for _, name := range order {
		defs = append(defs, types[name])
	}
	c.replace(defs)
	return nil
}

// Merge adds definitions, replacing types that share a name.
func (c *Cache) Merge(types ...*TypeDef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := make([]*TypeDef, 0, len(c.types)+len(types))
	for _, t := range c.types {
		merged = append(merged, t)
	}
	c.install(append(merged, types...))
}

func (c *Cache) replace(defs []*TypeDef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.install(defs)
}

// install swaps in defs; later definitions win on name. Callers hold c.mu.
func (c *Cache) install(defs []*TypeDef) {
	types := make(map[string]*TypeDef, len(defs))
	for _, t := range defs {
		types[t.Name] = t
	}
	c.types = types
}

func (c *Cache) Get(name string) *TypeDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.types[name]
}

// TypeCount returns the number of loaded types.
func (c *Cache) TypeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}

func (c *Cache) element(typeName, field string) *ElementDef {
	t := c.Get(typeName)
	if t == nil {
		return nil
	}
	return t.Element(field)
}

// IsArrayField reports whether typeName.field is declared as repeating.
// Unknown types and fields report false.
func (c *Cache) IsArrayField(typeName, field string) bool {
	e := c.element(typeName, field)
	return e != nil && e.IsArray
}

// ElementType returns the declared type of typeName.field.
func (c *Cache) ElementType(typeName, field string) (string, bool) {
	e := c.element(typeName, field)
	if e == nil {
		return "", false
	}
	return e.ElementType, true
}

// ElementTypeForPath resolves a dotted path such as "Patient.name.given"
// to the type of its last element. A bare type name resolves to itself.
func (c *Cache) ElementTypeForPath(path string) (string, bool) {
	segs := strings.Split(path, ".")
	if len(segs) == 0 || c.Get(segs[0]) == nil {
		return "", false
	}
	current := segs[0]
	for _, seg := range segs[1:] {
		next, ok := c.ElementType(current, seg)
		if !ok {
			return "", false
		}
		current = next
	}
	return current, true
}

// IsResourceType reports whether name is a registered resource type.
func (c *Cache) IsResourceType(name string) bool {
	t := c.Get(name)
	return t != nil && t.Kind == KindResource
}

// HasType reports whether name is registered with any kind.
func (c *Cache) HasType(name string) bool {
	return c.Get(name) != nil
}
