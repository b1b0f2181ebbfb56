package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goran-ethernal/subgraphd/pkg/value"
)

func TestLookupSchemaAndEntityTypes(t *testing.T) {
	lookup := NewLookup(map[string]EntitySchema{
		"Account": {"id": FieldKind{Kind: value.KindString}},
		"Transfer": {
			"id":   FieldKind{Kind: value.KindString},
			"from": FieldKind{Kind: value.KindString, Relation: &Relation{TargetEntity: "Account", TargetField: "id"}},
		},
	})

	es, err := lookup.Schema("Account")
	require.NoError(t, err)
	require.Contains(t, es, "id")

	_, err = lookup.Schema("Missing")
	require.Error(t, err)

	types := lookup.EntityTypes()
	require.ElementsMatch(t, []string{"Account", "Transfer"}, types)
}

func TestResolveRelation(t *testing.T) {
	lookup := NewLookup(map[string]EntitySchema{
		"Transfer": {
			"id":   FieldKind{Kind: value.KindString},
			"from": FieldKind{Kind: value.KindString, Relation: &Relation{TargetEntity: "Account", TargetField: "id"}},
		},
	})

	rel, err := lookup.ResolveRelation("Transfer", "from")
	require.NoError(t, err)
	require.Equal(t, Relation{TargetEntity: "Account", TargetField: "id"}, rel)

	_, err = lookup.ResolveRelation("Transfer", "id")
	require.Error(t, err, "id is not a relation field")

	_, err = lookup.ResolveRelation("Transfer", "nosuchfield")
	require.Error(t, err)

	_, err = lookup.ResolveRelation("NoSuchEntity", "from")
	require.Error(t, err)
}

func TestLoadParsesYAMLSchemaFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")

	content := `
entities:
  Account:
    id:
      kind: String
    balance:
      kind: Int
  Transfer:
    id:
      kind: String
    from:
      kind: String
      relation: "Account.id"
    amounts:
      kind: List
      list_inner_kind: BigInt
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	lookup, err := Load(path)
	require.NoError(t, err)

	accountSchema, err := lookup.Schema("Account")
	require.NoError(t, err)
	require.Equal(t, value.KindInt, accountSchema["balance"].Kind)

	rel, err := lookup.ResolveRelation("Transfer", "from")
	require.NoError(t, err)
	require.Equal(t, Relation{TargetEntity: "Account", TargetField: "id"}, rel)

	transferSchema, err := lookup.Schema("Transfer")
	require.NoError(t, err)
	require.NotNil(t, transferSchema["amounts"].ListInnerKind)
	require.Equal(t, value.KindBigInt, *transferSchema["amounts"].ListInnerKind)
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad_schema.yaml")

	content := `
entities:
  Account:
    id:
      kind: NotARealKind
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMalformedRelation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad_relation.yaml")

	content := `
entities:
  Transfer:
    id:
      kind: String
    from:
      kind: String
      relation: "NoDotHere"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/schema.yaml")
	require.Error(t, err)
}
