// Package schema describes entity field types and relation metadata, and
// resolves relation fields for Store Facade's LoadRelated requests.
package schema

import (
	"fmt"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// Relation points a field at a (target entity type, target field) pair.
type Relation struct {
	TargetEntity string
	TargetField  string
}

// FieldKind describes one field of an entity type.
type FieldKind struct {
	Kind          value.Kind
	Relation      *Relation
	ListInnerKind *value.Kind
}

// EntitySchema maps field name to FieldKind for one entity type.
type EntitySchema map[string]FieldKind

// Lookup indexes schemas by entity type and resolves relation fields,
// mirroring the teacher's metadata-provider pattern
// (internal/indexer/base_indexer.go's MetadataProvider) generalized from a
// fixed event-table map to an arbitrary entity schema map.
type Lookup struct {
	schemas map[string]EntitySchema
}

// NewLookup builds a Lookup from the given entity-type -> schema map.
func NewLookup(schemas map[string]EntitySchema) *Lookup {
	return &Lookup{schemas: schemas}
}

// Schema returns the schema for an entity type.
func (l *Lookup) Schema(entityType string) (EntitySchema, error) {
	s, ok := l.schemas[entityType]
	if !ok {
		return nil, fmt.Errorf("schema: unknown entity type %q", entityType)
	}
	return s, nil
}

// ResolveRelation returns the Relation metadata for a field of an entity
// type, used by Store Facade's LoadRelated (spec.md §4.5).
func (l *Lookup) ResolveRelation(entityType, field string) (Relation, error) {
	s, err := l.Schema(entityType)
	if err != nil {
		return Relation{}, err
	}
	fk, ok := s[field]
	if !ok {
		return Relation{}, fmt.Errorf("schema: entity %q has no field %q", entityType, field)
	}
	if fk.Relation == nil {
		return Relation{}, fmt.Errorf("schema: field %q of entity %q is not a relation", field, entityType)
	}
	return *fk.Relation, nil
}

// EntityTypes returns all registered entity type names.
func (l *Lookup) EntityTypes() []string {
	types := make([]string, 0, len(l.schemas))
	for t := range l.schemas {
		types = append(types, t)
	}
	return types
}
