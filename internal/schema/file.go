package schema

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// fileSchema is the YAML layout accepted by LoadFile:
//
//	types:
//	  - name: Patient
//	    kind: resource
//	    elements:
//	      - {name: name, type: HumanName, array: true}
type fileSchema struct {
	Types []fileType `yaml:"types"`
}

type fileType struct {
	Name     string        `yaml:"name"`
	Kind     string        `yaml:"kind"`
	Elements []fileElement `yaml:"elements"`
}

type fileElement struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Array bool   `yaml:"array"`
}

// ParseDefinitions decodes YAML type definitions.
func ParseDefinitions(data []byte) ([]*TypeDef, error) {
	var doc fileSchema
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema definitions: %w", err)
	}

	defs := make([]*TypeDef, 0, len(doc.Types))
	for i, ft := range doc.Types {
		if ft.Name == "" {
			return nil, fmt.Errorf("schema definitions: type %d has no name", i)
		}
		kind := TypeKind(ft.Kind)
		switch kind {
		case "":
			kind = KindComplex
		case KindResource, KindComplex, KindPrimitive:
		default:
			return nil, fmt.Errorf("schema definitions: type %q has unknown kind %q", ft.Name, ft.Kind)
		}

		def := NewTypeDef(ft.Name, kind)
		for _, fe := range ft.Elements {
			if fe.Name == "" || fe.Type == "" {
				return nil, fmt.Errorf("schema definitions: type %q has an element without name or type", ft.Name)
			}
			def.AddElement(ElementDef{Name: fe.Name, ElementType: fe.Type, IsArray: fe.Array})
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFile merges the YAML definitions at path into the cache.
func (c *Cache) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return err
	}
	c.Merge(defs...)
	return nil
}
