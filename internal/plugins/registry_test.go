package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-feed/odyssey-feed/internal/content"
	"github.com/odyssey-feed/odyssey-feed/internal/rules"
)

func writePlugin(t *testing.T, root, name, file, body string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
}

func newRegistry(schemas *content.Registry, ruleSvc *rules.Service) *Registry {
	reg := NewRegistry(nil)
	reg.Register("content", ContentImporter{Schemas: schemas})
	reg.Register("acl", ACLImporter{Rules: ruleSvc})
	return reg
}

func TestLoadDirImportsContentAndACL(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "polls", "manifest.json", `{
		"name": "polls",
		"type": "content",
		"version": "1.0.0",
		"spec": {"type_name": "poll", "schema": {"question": "required,max=200"}}
	}`)
	writePlugin(t, root, "public-read", "manifest.yaml", `
name: public-read
type: acl
spec:
  rules:
    - topic_pattern: 'chan\.public'
      target_role_id: guest
      actions: r
`)

	schemas := content.NewRegistry()
	ruleRepo := rules.NewMemoryRepository()
	reg := newRegistry(schemas, rules.NewService(ruleRepo, nil))

	loaded, err := reg.LoadDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"polls", "public-read"}, loaded)

	_, ok := schemas.ContentSchema("poll")
	assert.True(t, ok)

	stored, err := ruleRepo.ListRules(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "public-read-1", stored[0].ID)
	assert.Equal(t, `chan\.public`, stored[0].TopicPattern)
}

func TestImportUnknownType(t *testing.T) {
	reg := NewRegistry(nil)

	err := reg.Import(context.Background(), Manifest{Name: "calendar", Type: "ical"})
	var unknown *UnknownTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ical", unknown.Type)
}

func TestLoadDirContinuesPastBrokenPlugin(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "a-broken", "manifest.json", `{"name": "a-broken", "type": "theme"}`)
	writePlugin(t, root, "b-notes", "manifest.json",
		`{"name": "b-notes", "type": "content", "spec": {"type_name": "memo", "schema": {"body": "required"}}}`)

	schemas := content.NewRegistry()
	reg := newRegistry(schemas, rules.NewService(rules.NewMemoryRepository(), nil))

	loaded, err := reg.LoadDir(context.Background(), root)
	var unknown *UnknownTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []string{"b-notes"}, loaded)
	assert.Contains(t, schemas.Types(), "memo")
}

func TestLoadDirMissingRoot(t *testing.T) {
	loaded, err := NewRegistry(nil).LoadDir(context.Background(), filepath.Join(t.TempDir(), "none"))
	assert.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestACLImporterRejectsInvalidRule(t *testing.T) {
	imp := ACLImporter{Rules: rules.NewService(rules.NewMemoryRepository(), nil)}
	err := imp.Import(context.Background(), Manifest{
		Name: "bad",
		Spec: []byte(`{"rules": [{"topic_pattern": "(", "target_role_id": "guest"}]}`),
	})
	assert.Error(t, err)
}

func TestLoadFSFromMemory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/plugins/recipes/manifest.yml", []byte(`
name: recipes
type: content
version: 0.2.0
spec:
  type_name: recipe
  schema:
    title: required,max=120
    servings: omitempty
`), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/plugins/README", []byte("not a plugin"), 0o644))

	schemas := content.NewRegistry()
	reg := newRegistry(schemas, rules.NewService(rules.NewMemoryRepository(), nil))

	loaded, err := reg.LoadFS(context.Background(), fsys, "/plugins")
	require.NoError(t, err)
	assert.Equal(t, []string{"recipes"}, loaded)
	assert.NoError(t, schemas.Validate(context.Background(), "recipe", map[string]any{"title": "Soto ayam"}))
}
