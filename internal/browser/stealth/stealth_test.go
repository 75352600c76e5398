// File: internal/browser/stealth/stealth_test.go
package stealth

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultPersonaIsInternallyConsistent(t *testing.T) {
	p := DefaultPersona()

	assert.Contains(t, p.UserAgent, "Macintosh")
	assert.Equal(t, "MacIntel", p.Platform)
	require.NotEmpty(t, p.Languages)
	assert.Equal(t, p.Locale, p.Languages[0], "primary language must match the locale")
	require.NotNil(t, p.Geolocation)
	assert.Equal(t, "America/New_York", p.TimezoneID)
}

func TestApplyBuildsFullTaskList(t *testing.T) {
	tasks, ok := Apply(DefaultPersona(), zap.NewNop()).(chromedp.Tasks)
	require.True(t, ok)
	// Domain enable, headers, user agent, metrics, environment, evasion
	// script, lifecycle state, and the trailing log action.
	assert.Len(t, tasks, 8)
}
