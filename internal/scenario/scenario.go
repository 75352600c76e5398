// File: internal/scenario/scenario.go

// Package scenario loads and validates the static test-case catalogue. The
// catalogue is embedded in the binary and can be overridden with an external
// JSON file. It is read once per run and never mutated.
package scenario

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Case categories.
const (
	CategoryUI       = "ui"
	CategoryAI       = "ai-response"
	CategorySecurity = "security"
)

// Case kinds. The kind selects the execution recipe in the runner.
const (
	KindWidgetLoad      = "widget-load"
	KindTyping          = "typing"
	KindEmptyMessage    = "empty-message"
	KindLanguageDir     = "language-direction"
	KindResponsiveness  = "responsiveness"
	KindQuery           = "query"
	KindConsistency     = "consistency"
	KindXSS             = "xss"
	KindPromptInjection = "prompt-injection"
	KindSQLInjection    = "sql-injection"
	KindSpecialChars    = "special-chars"
	KindLongInput       = "long-input"
)

// Scenario is one test case from the catalogue. Payload strings are
// submitted to the chatbot exactly as they appear here.
type Scenario struct {
	ID          string `json:"id" validate:"required"`
	Category    string `json:"category" validate:"required,oneof=ui ai-response security"`
	Kind        string `json:"kind" validate:"required"`
	Language    string `json:"language" validate:"required,oneof=en ar"`
	Description string `json:"description" validate:"required"`

	Query   string   `json:"query,omitempty"`
	Queries []string `json:"queries,omitempty"`

	Payloads      []string `json:"payloads,omitempty"`
	PayloadRepeat *Repeat  `json:"payload_repeat,omitempty"`

	ExpectedKeywords  []string `json:"expected_keywords,omitempty"`
	ForbiddenTerms    []string `json:"forbidden_terms,omitempty"`
	MinKeywordMatches int      `json:"min_keyword_matches,omitempty"`
}

// Repeat describes a generated input of Text repeated Count times, used for
// length-limit cases where embedding the literal string is pointless.
type Repeat struct {
	Text  string `json:"text" validate:"required"`
	Count int    `json:"count" validate:"required,gt=0"`
}

// Inputs returns the message strings this scenario submits, in order.
func (s *Scenario) Inputs() []string {
	switch {
	case len(s.Payloads) > 0:
		return s.Payloads
	case s.PayloadRepeat != nil:
		return []string{strings.Repeat(s.PayloadRepeat.Text, s.PayloadRepeat.Count)}
	case len(s.Queries) > 0:
		return s.Queries
	case s.Query != "":
		return []string{s.Query}
	}
	return nil
}

type catalogue struct {
	Version   int        `json:"version" validate:"required"`
	Scenarios []Scenario `json:"scenarios" validate:"required,min=1,dive"`
}

// Store holds the loaded catalogue.
type Store struct {
	scenarios []Scenario
	byID      map[string]int
	logger    *zap.Logger
}

// Load reads the catalogue from path, or from the embedded default when
// path is empty, and validates it.
func Load(path string, logger *zap.Logger) (*Store, error) {
	data := defaultCatalogue
	source := "embedded"
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading scenario file: %w", err)
		}
		source = path
	}

	var cat catalogue
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parsing scenario catalogue: %w", err)
	}
	if err := validateCatalogue(&cat); err != nil {
		return nil, fmt.Errorf("invalid scenario catalogue: %w", err)
	}

	store := &Store{
		scenarios: cat.Scenarios,
		byID:      make(map[string]int, len(cat.Scenarios)),
		logger:    logger.Named("scenario"),
	}
	for i, sc := range cat.Scenarios {
		if _, dup := store.byID[sc.ID]; dup {
			return nil, fmt.Errorf("invalid scenario catalogue: duplicate id %q", sc.ID)
		}
		store.byID[sc.ID] = i
	}

	store.logger.Info("Scenario catalogue loaded.",
		zap.String("source", source),
		zap.Int("count", len(cat.Scenarios)))
	return store, nil
}

var validKinds = map[string]bool{
	KindWidgetLoad: true, KindTyping: true, KindEmptyMessage: true,
	KindLanguageDir: true, KindResponsiveness: true, KindQuery: true,
	KindConsistency: true, KindXSS: true, KindPromptInjection: true,
	KindSQLInjection: true, KindSpecialChars: true, KindLongInput: true,
}

func validateCatalogue(cat *catalogue) error {
	if err := validator.New().Struct(cat); err != nil {
		return err
	}
	for i := range cat.Scenarios {
		if err := validateScenario(&cat.Scenarios[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateScenario enforces the per-kind field requirements the struct tags
// cannot express.
func validateScenario(sc *Scenario) error {
	if !validKinds[sc.Kind] {
		return fmt.Errorf("scenario %q: unknown kind %q", sc.ID, sc.Kind)
	}
	inputs := sc.Inputs()
	switch sc.Kind {
	case KindQuery:
		if sc.Query == "" {
			return fmt.Errorf("scenario %q: kind %q requires a query", sc.ID, sc.Kind)
		}
	case KindConsistency:
		if len(sc.Queries) < 2 {
			return fmt.Errorf("scenario %q: consistency needs at least two queries", sc.ID)
		}
	case KindXSS, KindPromptInjection, KindSQLInjection, KindSpecialChars, KindLongInput:
		if len(inputs) == 0 {
			return fmt.Errorf("scenario %q: kind %q requires payloads", sc.ID, sc.Kind)
		}
	}
	return nil
}

// All returns every scenario in catalogue order.
func (s *Store) All() []Scenario {
	out := make([]Scenario, len(s.scenarios))
	copy(out, s.scenarios)
	return out
}

// Get returns the scenario with the given id.
func (s *Store) Get(id string) (Scenario, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Scenario{}, false
	}
	return s.scenarios[i], true
}

// Filter returns scenarios matching any of the categories (all when empty)
// and the language (all when empty).
func (s *Store) Filter(categories []string, language string) []Scenario {
	wanted := map[string]bool{}
	for _, c := range categories {
		wanted[c] = true
	}
	var out []Scenario
	for _, sc := range s.scenarios {
		if len(wanted) > 0 && !wanted[sc.Category] {
			continue
		}
		if language != "" && sc.Language != language {
			continue
		}
		out = append(out, sc)
	}
	return out
}
