package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// fieldSpec is the YAML shape of one EntitySchema field, parsed into a
// FieldKind by Load. Entity schema definition language is not specified by
// spec.md §4's abstract Schema type, so this is an original file format
// analogous to pkg/manifest's.
type fieldSpec struct {
	Kind          string  `yaml:"kind"`
	Relation      *string `yaml:"relation"`
	ListInnerKind *string `yaml:"list_inner_kind"`
}

type schemaFile struct {
	Entities map[string]map[string]fieldSpec `yaml:"entities"`
}

// Load reads a schema definition file and builds a Lookup from it.
func Load(path string) (*Lookup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: reading %q: %w", path, err)
	}

	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("schema: parsing %q: %w", path, err)
	}

	schemas := make(map[string]EntitySchema, len(file.Entities))
	for entityType, fields := range file.Entities {
		es := make(EntitySchema, len(fields))
		for fieldName, spec := range fields {
			fk, err := spec.toFieldKind(entityType, fieldName)
			if err != nil {
				return nil, err
			}
			es[fieldName] = fk
		}
		schemas[entityType] = es
	}

	return NewLookup(schemas), nil
}

func (s fieldSpec) toFieldKind(entityType, fieldName string) (FieldKind, error) {
	kind, err := value.ParseKind(s.Kind)
	if err != nil {
		return FieldKind{}, fmt.Errorf("schema: %s.%s: %w", entityType, fieldName, err)
	}

	fk := FieldKind{Kind: kind}

	if s.Relation != nil {
		targetEntity, targetField, err := splitRelation(*s.Relation)
		if err != nil {
			return FieldKind{}, fmt.Errorf("schema: %s.%s: %w", entityType, fieldName, err)
		}
		fk.Relation = &Relation{TargetEntity: targetEntity, TargetField: targetField}
	}

	if s.ListInnerKind != nil {
		innerKind, err := value.ParseKind(*s.ListInnerKind)
		if err != nil {
			return FieldKind{}, fmt.Errorf("schema: %s.%s: list_inner_kind: %w", entityType, fieldName, err)
		}
		fk.ListInnerKind = &innerKind
	}

	return fk, nil
}

// splitRelation parses a "TargetEntity.target_field" relation reference.
func splitRelation(ref string) (string, string, error) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("relation %q must be \"TargetEntity.field\"", ref)
}
