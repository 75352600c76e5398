// File: internal/validate/response.go

// Package validate holds the response-quality and security heuristics the
// suite applies to chatbot transcripts. All checks are heuristic by nature;
// they classify text, they do not prove anything about the backend.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/bidi"

	"github.com/xkilldash9x/chatprobe/internal/config"
)

// evasionIndicators match canned deflections and error pages leaking into
// what should be a substantive answer.
var evasionIndicators = []*regexp.Regexp{
	regexp.MustCompile(`i don't (have|know)`),
	regexp.MustCompile(`i cannot (access|provide|find)`),
	regexp.MustCompile(`as an ai`),
	regexp.MustCompile(`i (do not|don't) have access`),
	regexp.MustCompile(`please consult`),
	regexp.MustCompile(`404`),
	regexp.MustCompile(`error`),
	regexp.MustCompile(`page not found`),
}

var brokenMarkupRe = regexp.MustCompile(`(?i)<[a-z/]`)

// Elements that never take a closing tag and must not count as unclosed.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// Report aggregates the individual quality checks over one response.
type Report struct {
	Meaningful       bool     `json:"meaningful"`
	WellFormatted    bool     `json:"well_formatted"`
	EvasionFree      bool     `json:"evasion_free"`
	HasKeywords      bool     `json:"has_keywords"`
	NoForbiddenTerms bool     `json:"no_forbidden_terms"`
	Valid            bool     `json:"valid"`
	Issues           []string `json:"issues,omitempty"`
}

// ResponseValidator applies quality heuristics to assistant responses.
type ResponseValidator struct {
	cfg    config.ValidationConfig
	logger *zap.Logger
	dmp    *diffmatchpatch.DiffMatchPatch
}

// NewResponseValidator builds a validator using the configured thresholds.
func NewResponseValidator(cfg config.ValidationConfig, logger *zap.Logger) *ResponseValidator {
	return &ResponseValidator{
		cfg:    cfg,
		logger: logger.Named("validate"),
		dmp:    diffmatchpatch.New(),
	}
}

// IsMeaningful reports whether the response is non-blank and at least the
// configured minimum length after trimming.
func (v *ResponseValidator) IsMeaningful(response string) bool {
	cleaned := strings.TrimSpace(response)
	if len(cleaned) < v.cfg.MinResponseLength {
		v.logger.Debug("Response below minimum length.",
			zap.Int("length", len(cleaned)),
			zap.Int("min", v.cfg.MinResponseLength))
		return false
	}
	return true
}

// ContainsKeywords reports whether at least minMatches of the expected
// keywords occur in the response, case-insensitively, and returns the
// matched set.
func (v *ResponseValidator) ContainsKeywords(response string, keywords []string, minMatches int) (bool, []string) {
	if response == "" {
		return false, nil
	}
	lower := strings.ToLower(response)
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	v.logger.Debug("Keyword matching.",
		zap.Int("matched", len(matched)),
		zap.Int("expected", len(keywords)))
	return len(matched) >= minMatches, matched
}

// LacksForbiddenTerms reports whether none of the terms occur in the
// response, returning any that do.
func (v *ResponseValidator) LacksForbiddenTerms(response string, terms []string) (bool, []string) {
	if response == "" {
		return true, nil
	}
	lower := strings.ToLower(response)
	var found []string
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			found = append(found, term)
		}
	}
	if len(found) > 0 {
		v.logger.Warn("Forbidden terms in response.", zap.Strings("terms", found))
	}
	return len(found) == 0, found
}

// IsEvasionFree reports whether the response avoids canned deflections and
// error-page fragments. The second result names the first indicator hit.
func (v *ResponseValidator) IsEvasionFree(response string) (bool, string) {
	lower := strings.ToLower(response)
	for _, re := range evasionIndicators {
		if re.MatchString(lower) {
			v.logger.Debug("Evasion indicator in response.", zap.String("indicator", re.String()))
			return false, re.String()
		}
	}
	return true, ""
}

// IsWellFormatted checks the response for unclosed HTML tags, broken markup
// and excessive phrase repetition.
func (v *ResponseValidator) IsWellFormatted(response string) (bool, []string) {
	var issues []string

	issues = append(issues, unclosedTags(response)...)

	if strings.Contains(response, "<") && !brokenMarkupRe.MatchString(response) {
		issues = append(issues, "potential broken markup")
	}

	if phrase, ok := repeatedPhrase(response); ok {
		issues = append(issues, fmt.Sprintf("excessive repetition of %q", phrase))
	}

	if len(issues) > 0 {
		v.logger.Debug("Formatting issues.", zap.Strings("issues", issues))
	}
	return len(issues) == 0, issues
}

// unclosedTags tokenizes any markup embedded in the response and reports
// start tags that never close.
func unclosedTags(response string) []string {
	z := html.NewTokenizer(strings.NewReader(response))
	open := map[string]int{}
	var order []string
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		name, _ := z.TagName()
		tag := string(name)
		switch tt {
		case html.StartTagToken:
			if voidElements[tag] {
				continue
			}
			if open[tag] == 0 {
				order = append(order, tag)
			}
			open[tag]++
		case html.EndTagToken:
			open[tag]--
		}
	}
	var issues []string
	for _, tag := range order {
		if open[tag] > 0 {
			issues = append(issues, fmt.Sprintf("unclosed tag <%s>", tag))
		}
	}
	return issues
}

// repeatedPhrase reports a three-word phrase occurring three or more times.
func repeatedPhrase(response string) (string, bool) {
	words := strings.Fields(strings.ToLower(response))
	if len(words) <= 5 {
		return "", false
	}
	joined := strings.Join(words, " ")
	for i := 0; i+3 <= len(words); i++ {
		phrase := strings.Join(words[i:i+3], " ")
		if strings.Count(joined, phrase) >= 3 {
			return phrase, true
		}
	}
	return "", false
}

// Similarity computes a 0..1 ratio between two texts: twice the shared
// character count over the combined length, case-insensitive.
func (v *ResponseValidator) Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	la, lb := strings.ToLower(a), strings.ToLower(b)
	diffs := v.dmp.DiffMain(la, lb, false)

	common := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			common += utf8.RuneCountInString(d.Text)
		}
	}
	total := utf8.RuneCountInString(la) + utf8.RuneCountInString(lb)
	if total == 0 {
		return 0
	}
	return float64(2*common) / float64(total)
}

// AreConsistent reports whether two responses meet the configured
// similarity threshold. Used across rephrasings of the same question.
func (v *ResponseValidator) AreConsistent(a, b string) (bool, float64) {
	ratio := v.Similarity(a, b)
	v.logger.Debug("Response similarity.",
		zap.Float64("ratio", ratio),
		zap.Float64("threshold", v.cfg.SimilarityThreshold))
	return ratio >= v.cfg.SimilarityThreshold, ratio
}

// HasRTLText reports whether the text contains right-to-left characters,
// which is how Arabic responses are recognized.
func HasRTLText(s string) bool {
	for _, r := range s {
		props, _ := bidi.LookupRune(r)
		if c := props.Class(); c == bidi.R || c == bidi.AL {
			return true
		}
	}
	return false
}

// Validate runs the full quality battery over a response.
func (v *ResponseValidator) Validate(response string, expectedKeywords, forbiddenTerms []string) Report {
	report := Report{
		Meaningful:       v.IsMeaningful(response),
		HasKeywords:      true,
		NoForbiddenTerms: true,
	}

	var issues []string
	report.WellFormatted, issues = v.IsWellFormatted(response)
	report.Issues = append(report.Issues, issues...)

	var indicator string
	report.EvasionFree, indicator = v.IsEvasionFree(response)
	if indicator != "" {
		report.Issues = append(report.Issues, "evasion indicator: "+indicator)
	}

	if len(expectedKeywords) > 0 {
		report.HasKeywords, _ = v.ContainsKeywords(response, expectedKeywords, 1)
	}
	if len(forbiddenTerms) > 0 {
		report.NoForbiddenTerms, _ = v.LacksForbiddenTerms(response, forbiddenTerms)
	}

	// Evasion indicators are advisory. A deflection can still be a correct
	// answer, so it does not fail validation on its own.
	report.Valid = report.Meaningful &&
		report.WellFormatted &&
		report.HasKeywords &&
		report.NoForbiddenTerms

	return report
}
