// File: internal/scenario/scenario_test.go
package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadEmbeddedCatalogue(t *testing.T) {
	store, err := Load("", zap.NewNop())
	require.NoError(t, err)

	all := store.All()
	require.NotEmpty(t, all)

	seen := map[string]bool{}
	for _, sc := range all {
		assert.False(t, seen[sc.ID], "duplicate id %s", sc.ID)
		seen[sc.ID] = true
		if sc.Inputs() == nil {
			assert.Contains(t, []string{KindWidgetLoad, KindEmptyMessage, KindLanguageDir}, sc.Kind,
				"scenario %s has no inputs", sc.ID)
		}
	}

	// Every category must have at least one case.
	for _, cat := range []string{CategoryUI, CategoryAI, CategorySecurity} {
		assert.NotEmpty(t, store.Filter([]string{cat}, ""), "no scenarios for %s", cat)
	}
}

func TestEmbeddedPayloadsAreVerbatim(t *testing.T) {
	store, err := Load("", zap.NewNop())
	require.NoError(t, err)

	sc, ok := store.Get("sec-xss-script-en")
	require.True(t, ok)
	assert.Equal(t, []string{"<script>alert('XSS')</script>"}, sc.Inputs())

	sc, ok = store.Get("sec-sql-injection-en")
	require.True(t, ok)
	assert.Contains(t, sc.Inputs(), "'; DROP TABLE users; --")
}

func TestLongInputExpansion(t *testing.T) {
	store, err := Load("", zap.NewNop())
	require.NoError(t, err)

	sc, ok := store.Get("sec-long-input-en")
	require.True(t, ok)
	inputs := sc.Inputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, strings.Repeat("A", 10000), inputs[0])
}

func TestFilter(t *testing.T) {
	store, err := Load("", zap.NewNop())
	require.NoError(t, err)

	security := store.Filter([]string{CategorySecurity}, "")
	for _, sc := range security {
		assert.Equal(t, CategorySecurity, sc.Category)
	}

	arabic := store.Filter(nil, "ar")
	require.NotEmpty(t, arabic)
	for _, sc := range arabic {
		assert.Equal(t, "ar", sc.Language)
	}

	assert.Len(t, store.Filter(nil, ""), len(store.All()))
}

func TestLoadExternalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.json")
	content := `{
		"version": 1,
		"scenarios": [
			{
				"id": "custom-query",
				"category": "ai-response",
				"kind": "query",
				"language": "en",
				"description": "custom",
				"query": "How do I pay a traffic fine?"
			}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, store.All(), 1)

	sc, ok := store.Get("custom-query")
	require.True(t, ok)
	assert.Equal(t, []string{"How do I pay a traffic fine?"}, sc.Inputs())
}

func TestLoadRejectsInvalidCatalogues(t *testing.T) {
	write := func(t *testing.T, content string) string {
		path := filepath.Join(t.TempDir(), "scenarios.json")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("unknown kind", func(t *testing.T) {
		path := write(t, `{"version":1,"scenarios":[
			{"id":"x","category":"ui","kind":"teleport","language":"en","description":"d"}]}`)
		_, err := Load(path, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown kind")
	})

	t.Run("query without text", func(t *testing.T) {
		path := write(t, `{"version":1,"scenarios":[
			{"id":"x","category":"ai-response","kind":"query","language":"en","description":"d"}]}`)
		_, err := Load(path, zap.NewNop())
		require.Error(t, err)
	})

	t.Run("consistency with one query", func(t *testing.T) {
		path := write(t, `{"version":1,"scenarios":[
			{"id":"x","category":"ai-response","kind":"consistency","language":"en","description":"d","queries":["only one"]}]}`)
		_, err := Load(path, zap.NewNop())
		require.Error(t, err)
	})

	t.Run("security without payloads", func(t *testing.T) {
		path := write(t, `{"version":1,"scenarios":[
			{"id":"x","category":"security","kind":"xss","language":"en","description":"d"}]}`)
		_, err := Load(path, zap.NewNop())
		require.Error(t, err)
	})

	t.Run("bad category", func(t *testing.T) {
		path := write(t, `{"version":1,"scenarios":[
			{"id":"x","category":"chaos","kind":"query","language":"en","description":"d","query":"q"}]}`)
		_, err := Load(path, zap.NewNop())
		require.Error(t, err)
	})

	t.Run("duplicate ids", func(t *testing.T) {
		path := write(t, `{"version":1,"scenarios":[
			{"id":"x","category":"ui","kind":"widget-load","language":"en","description":"d"},
			{"id":"x","category":"ui","kind":"widget-load","language":"ar","description":"d"}]}`)
		_, err := Load(path, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate id")
	})

	t.Run("malformed json", func(t *testing.T) {
		path := write(t, `{not json`)
		_, err := Load(path, zap.NewNop())
		require.Error(t, err)
	})
}
