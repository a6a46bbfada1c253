package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "recipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefinitionFileParsesRecipes(t *testing.T) {
	path := writeManifest(t, `
recipes:
  - id: daily-feed
    description: pulls the daily CSV drop
    locator_type: single_http
    loader_type: http
    params:
      url: https://example.com/feed.csv
`)

	defs, err := LoadDefinitionFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "daily-feed", defs[0].ID)
	assert.Equal(t, "single_http", defs[0].LocatorType)
	assert.Equal(t, "http", defs[0].LoaderType)
	assert.Equal(t, "https://example.com/feed.csv", defs[0].Params["url"])
}

func TestLoadDefinitionFileRejectsMissingRequiredFields(t *testing.T) {
	path := writeManifest(t, `
recipes:
  - description: missing an id and types
`)

	_, err := LoadDefinitionFile(path)
	assert.Error(t, err)
}

func TestLoadDefinitionFileRejectsUnreadableFile(t *testing.T) {
	_, err := LoadDefinitionFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
