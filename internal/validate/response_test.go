// File: internal/validate/response_test.go
package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatprobe/internal/config"
)

func newResponseValidator() *ResponseValidator {
	return NewResponseValidator(config.ValidationConfig{
		MinResponseLength:   20,
		SimilarityThreshold: 0.5,
	}, zap.NewNop())
}

func TestIsMeaningful(t *testing.T) {
	v := newResponseValidator()

	assert.True(t, v.IsMeaningful("The golden visa is a long-term residence permit."))
	assert.False(t, v.IsMeaningful(""))
	assert.False(t, v.IsMeaningful("   \n\t  "))
	assert.False(t, v.IsMeaningful("Too short."))
}

func TestContainsKeywords(t *testing.T) {
	v := newResponseValidator()
	response := "You can renew your Emirates ID through the ICP smart services portal."

	ok, matched := v.ContainsKeywords(response, []string{"emirates id", "renew", "passport"}, 2)
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"emirates id", "renew"}, matched)

	ok, _ = v.ContainsKeywords(response, []string{"passport", "driving"}, 1)
	assert.False(t, ok)

	ok, _ = v.ContainsKeywords("", []string{"anything"}, 1)
	assert.False(t, ok)
}

func TestLacksForbiddenTerms(t *testing.T) {
	v := newResponseValidator()

	ok, found := v.LacksForbiddenTerms("Visit the official portal for details.", []string{"password", "secret"})
	assert.True(t, ok)
	assert.Empty(t, found)

	ok, found = v.LacksForbiddenTerms("The admin PASSWORD is stored in config.", []string{"password"})
	assert.False(t, ok)
	assert.Equal(t, []string{"password"}, found)
}

func TestIsEvasionFree(t *testing.T) {
	v := newResponseValidator()

	tests := []struct {
		name     string
		response string
		free     bool
	}{
		{"substantive answer", "The UAE offers several visa categories for residents.", true},
		{"as an ai deflection", "As an AI, I cannot browse the internet.", false},
		{"error page", "404 page not found", false},
		{"no access", "I don't have access to that information.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			free, indicator := v.IsEvasionFree(tt.response)
			assert.Equal(t, tt.free, free)
			if !tt.free {
				assert.NotEmpty(t, indicator)
			}
		})
	}
}

func TestIsWellFormatted(t *testing.T) {
	v := newResponseValidator()

	t.Run("plain prose passes", func(t *testing.T) {
		ok, issues := v.IsWellFormatted("Apply online through the official portal and pay the fee.")
		assert.True(t, ok)
		assert.Empty(t, issues)
	})

	t.Run("balanced markup passes", func(t *testing.T) {
		ok, _ := v.IsWellFormatted("Use the <b>official</b> portal. Steps: <ul><li>Login</li></ul>")
		assert.True(t, ok)
	})

	t.Run("unclosed tag fails", func(t *testing.T) {
		ok, issues := v.IsWellFormatted("Here is a <b>bold statement that never ends")
		assert.False(t, ok)
		assert.Contains(t, issues, "unclosed tag <b>")
	})

	t.Run("void elements are not unclosed", func(t *testing.T) {
		ok, _ := v.IsWellFormatted("First line.<br>Second line with an <img src='x.png'> image, all fine here.")
		assert.True(t, ok)
	})

	t.Run("repetition fails", func(t *testing.T) {
		phrase := "please try again "
		ok, issues := v.IsWellFormatted(strings.Repeat(phrase, 4))
		assert.False(t, ok)
		assert.NotEmpty(t, issues)
	})
}

func TestSimilarity(t *testing.T) {
	v := newResponseValidator()

	assert.InDelta(t, 1.0, v.Similarity("Golden visa requirements", "golden VISA requirements"), 0.001)
	assert.Equal(t, 0.0, v.Similarity("", "anything"))

	a := "The golden visa requires a valid passport and proof of income."
	b := "A golden visa application requires a valid passport and income proof."
	ok, ratio := v.AreConsistent(a, b)
	assert.True(t, ok)
	assert.Greater(t, ratio, 0.5)

	ok, _ = v.AreConsistent("Completely unrelated text about weather.", "zq xv 123987")
	assert.False(t, ok)
}

func TestHasRTLText(t *testing.T) {
	assert.True(t, HasRTLText("كيف يمكنني تجديد بطاقة الهوية الإماراتية؟"))
	assert.True(t, HasRTLText("The answer is: مرحبا"))
	assert.False(t, HasRTLText("How do I renew my Emirates ID?"))
	assert.False(t, HasRTLText(""))
}

func TestValidateReport(t *testing.T) {
	v := newResponseValidator()

	t.Run("good response", func(t *testing.T) {
		report := v.Validate(
			"You can renew your Emirates ID online through the ICP portal within 30 days.",
			[]string{"emirates id", "renew"},
			[]string{"password"},
		)
		assert.True(t, report.Valid)
		assert.True(t, report.Meaningful)
		assert.True(t, report.HasKeywords)
		assert.True(t, report.NoForbiddenTerms)
	})

	t.Run("missing keywords", func(t *testing.T) {
		report := v.Validate(
			"Thank you for contacting us, we appreciate your interest in our services.",
			[]string{"visa", "passport"},
			nil,
		)
		assert.False(t, report.Valid)
		assert.False(t, report.HasKeywords)
	})

	t.Run("evasion is advisory only", func(t *testing.T) {
		report := v.Validate(
			"Please consult the official immigration authority for visa matters.",
			nil,
			nil,
		)
		assert.False(t, report.EvasionFree)
		assert.True(t, report.Valid, "a deflection alone must not fail validation")
		assert.NotEmpty(t, report.Issues)
	})
}
