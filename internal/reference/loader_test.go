package reference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	assert.Equal(t, []string{"restaurant", "hotel", "attraction", "event", "other"}, c.Codes(EntityTypes))
	assert.True(t, c.Has(EntityStatuses, "draft"))
	assert.False(t, c.Has(EntityStatuses, "archived"))
	assert.True(t, c.Has(SyncStatuses, "conflict"))
	assert.False(t, c.Has("nope", "x"))
}

func TestLoadEnumCatalogOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	body := "items:\n  - code: restaurant\n  - code: bar\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entity_types.yml"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o644))

	c, err := LoadEnumCatalog(dir)
	require.NoError(t, err)

	assert.True(t, c.Has(EntityTypes, "bar"))
	assert.False(t, c.Has(EntityTypes, "hotel"))
	assert.True(t, c.Has(EntityStatuses, "active"), "untouched defaults stay")
}

func TestLoadEnumCatalogBadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("items: [:"), 0o644))

	_, err := LoadEnumCatalog(dir)
	assert.Error(t, err)
}

func TestLoadEnumCatalogEmptyDir(t *testing.T) {
	c, err := LoadEnumCatalog("")
	require.NoError(t, err)
	assert.Len(t, c, 3)
}
