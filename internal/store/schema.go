package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goran-ethernal/subgraphd/pkg/schema"
	"github.com/goran-ethernal/subgraphd/pkg/value"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateIdentifier guards table/column name interpolation against
// injection: entity type and field names come from the subgraph manifest,
// not end users, but the mapping from FieldKind to DDL still builds SQL by
// string concatenation, so every identifier is checked before use.
func validateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("store: invalid identifier %q", name)
	}
	return nil
}

func tableName(entityType string) string {
	return "entity_" + entityType
}

// columnType maps a FieldKind to the SQLite column type used to emulate
// the wide-column backend's typing (spec.md §4.4 "Schema generation").
func columnType(fk schema.FieldKind) (string, error) {
	switch fk.Kind {
	case value.KindInt:
		return "INTEGER", nil
	case value.KindInt8:
		return "INTEGER", nil
	case value.KindString, value.KindBigInt, value.KindBigDecimal:
		return "TEXT", nil
	case value.KindBool:
		return "INTEGER", nil
	case value.KindBytes:
		return "BLOB", nil
	case value.KindList:
		return "TEXT", nil
	default:
		return "", fmt.Errorf("store: field kind %s has no column mapping", fk.Kind)
	}
}

// createTableSQL generates the DDL for one entity type's table: a composite
// primary key (id, block_ptr_number) with the two reserved housekeeping
// columns always present (spec.md §4.4).
func createTableSQL(entityType string, es schema.EntitySchema) (string, error) {
	if err := validateIdentifier(entityType); err != nil {
		return "", err
	}

	var cols []string
	hasID := false
	for field, fk := range es {
		if err := validateIdentifier(field); err != nil {
			return "", err
		}
		colType, err := columnType(fk)
		if err != nil {
			return "", fmt.Errorf("store: entity %q field %q: %w", entityType, field, err)
		}
		if field == value.IDField {
			hasID = true
		}
		cols = append(cols, fmt.Sprintf("%s %s", field, colType))
	}
	if !hasID {
		return "", fmt.Errorf("store: entity %q schema is missing required field %q", entityType, value.IDField)
	}

	cols = append(cols,
		fmt.Sprintf("%s INTEGER NOT NULL", value.FieldBlockPtrNumber),
		fmt.Sprintf("%s INTEGER NOT NULL", value.FieldIsDeleted),
	)

	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (%s, %s))",
		tableName(entityType),
		strings.Join(cols, ", "),
		value.IDField,
		value.FieldBlockPtrNumber,
	)
	return stmt, nil
}

const createBlockPtrTableSQL = `CREATE TABLE IF NOT EXISTS block_ptr (
	sgd TEXT NOT NULL,
	block_number INTEGER NOT NULL,
	block_hash TEXT NOT NULL,
	parent_hash TEXT NOT NULL,
	PRIMARY KEY (sgd, block_number)
)`

// EnsureSchema creates the block_ptr table and one table per registered
// entity type, idempotently.
func (s *Store) EnsureSchema() error {
	if _, err := s.db.Exec(createBlockPtrTableSQL); err != nil {
		return fmt.Errorf("store: creating block_ptr table: %w", err)
	}

	for _, entityType := range s.schemas.EntityTypes() {
		es, err := s.schemas.Schema(entityType)
		if err != nil {
			return err
		}
		ddl, err := createTableSQL(entityType, es)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("store: creating table for entity %q: %w", entityType, err)
		}
	}
	return nil
}
