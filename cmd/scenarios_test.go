// File: cmd/scenarios_test.go
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenariosCmdListsEmbeddedCatalogue(t *testing.T) {
	resetForTest(t)

	out, err := executeCommand(t, "scenarios")
	require.NoError(t, err)

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "widget-load")
	assert.Contains(t, out, "security")
}

func TestScenariosCmdCategoryFilter(t *testing.T) {
	resetForTest(t)

	out, err := executeCommand(t, "scenarios", "--category", "security")
	require.NoError(t, err)

	assert.Contains(t, out, "xss")
	assert.NotContains(t, out, "widget-load")
}

func TestScenariosCmdNoMatches(t *testing.T) {
	resetForTest(t)

	_, err := executeCommand(t, "scenarios", "--category", "security", "--language", "xx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios match")
}
