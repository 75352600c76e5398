// File: internal/runner/cases.go
package runner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatprobe/api/schemas"
	"github.com/xkilldash9x/chatprobe/internal/chat"
	"github.com/xkilldash9x/chatprobe/internal/scenario"
	"github.com/xkilldash9x/chatprobe/internal/validate"
)

// executeKind dispatches a prepared case to its scenario recipe.
func (r *Runner) executeKind(ctx context.Context, sc scenario.Scenario, env *caseEnv, result *schemas.CaseResult, logger *zap.Logger) error {
	switch sc.Kind {
	case scenario.KindWidgetLoad:
		return r.runWidgetLoad(ctx, env, result)
	case scenario.KindTyping:
		return r.runTyping(ctx, sc, env, result)
	case scenario.KindEmptyMessage:
		return r.runEmptyMessage(ctx, env, result)
	case scenario.KindLanguageDir:
		return r.runLanguageDirection(sc, env, result)
	case scenario.KindResponsiveness:
		return r.runResponsiveness(ctx, sc, env, result)
	case scenario.KindQuery:
		return r.runQuery(ctx, sc, env, result)
	case scenario.KindConsistency:
		return r.runConsistency(ctx, sc, env, result)
	case scenario.KindXSS:
		return r.runXSS(ctx, sc, env, result)
	case scenario.KindPromptInjection:
		return r.runPromptInjection(ctx, sc, env, result)
	case scenario.KindSQLInjection:
		return r.runSQLInjection(ctx, sc, env, result, logger)
	case scenario.KindSpecialChars, scenario.KindLongInput:
		return r.runRobustnessInputs(ctx, sc, env, result)
	default:
		return fmt.Errorf("no recipe for kind %q", sc.Kind)
	}
}

// runWidgetLoad verifies the chat surface is present and records the basic
// accessibility probe as advisory notes.
func (r *Runner) runWidgetLoad(ctx context.Context, env *caseEnv, result *schemas.CaseResult) error {
	el, err := env.page.Relocate(ctx)
	if err != nil {
		return err
	}
	result.Elements = &schemas.ElementSummary{
		InputSelector:  el.Input,
		SendSelector:   el.Send,
		WidgetSelector: el.Widget,
	}
	check(result, "input_found", el.InputFound, el.Input)
	check(result, "send_found", el.SendFound, el.Send)
	check(result, "widget_found", el.WidgetFound, el.Widget)

	if report, err := env.page.Accessibility(ctx); err == nil {
		result.Notes = append(result.Notes, fmt.Sprintf(
			"accessibility: labels=%t aria=%t keyboard=%t",
			report.HasLabels, report.HasARIARole, report.KeyboardNavigable))
	}
	return nil
}

// runTyping sends a benign message and verifies the text echoed into the
// input and reached the page.
func (r *Runner) runTyping(ctx context.Context, sc scenario.Scenario, env *caseEnv, result *schemas.CaseResult) error {
	send, err := r.send(ctx, env, sc.Query)
	if err != nil {
		return err
	}
	recordSend(result, send)
	check(result, "text_echoed", send.EchoVerified, "")
	check(result, "message_appears", send.MessageAppears, "")
	return nil
}

// runEmptyMessage submits an empty message and verifies the page survives.
func (r *Runner) runEmptyMessage(ctx context.Context, env *caseEnv, result *schemas.CaseResult) error {
	if _, err := r.send(ctx, env, ""); err != nil {
		result.Notes = append(result.Notes, "empty send rejected: "+err.Error())
	}
	return r.checkStillFunctional(ctx, env, result)
}

// runLanguageDirection verifies the document direction matches the language.
func (r *Runner) runLanguageDirection(sc scenario.Scenario, env *caseEnv, result *schemas.CaseResult) error {
	dir, err := env.page.TextDirection()
	if err != nil {
		return err
	}
	expected := "ltr"
	if sc.Language == "ar" {
		expected = "rtl"
	}
	check(result, "text_direction", strings.EqualFold(dir, expected),
		fmt.Sprintf("expected %s, got %s", expected, dir))
	return nil
}

// runResponsiveness cycles several sends and verifies the input survives.
func (r *Runner) runResponsiveness(ctx context.Context, sc scenario.Scenario, env *caseEnv, result *schemas.CaseResult) error {
	for _, msg := range sc.Inputs() {
		if _, err := r.send(ctx, env, msg); err != nil {
			result.Notes = append(result.Notes, "send failed: "+err.Error())
		}
	}
	return r.checkStillFunctional(ctx, env, result)
}

// runQuery sends one question and validates the stable response.
func (r *Runner) runQuery(ctx context.Context, sc scenario.Scenario, env *caseEnv, result *schemas.CaseResult) error {
	send, err := r.send(ctx, env, sc.Query)
	if err != nil {
		return err
	}
	recordSend(result, send)
	check(result, "message_appears", send.MessageAppears, "")

	if _, err := env.page.WaitForResponse(ctx); err != nil {
		return err
	}
	response, stable, err := env.page.WaitForStableResponse(ctx)
	if err != nil {
		return err
	}
	result.LastResponse = response
	check(result, "response_stable", stable, "")

	report := r.respVal.Validate(response, sc.ExpectedKeywords, sc.ForbiddenTerms)
	check(result, "response_meaningful", report.Meaningful, "")
	check(result, "response_well_formatted", report.WellFormatted, strings.Join(report.Issues, "; "))
	if len(sc.ExpectedKeywords) > 0 {
		min := sc.MinKeywordMatches
		if min <= 0 {
			min = 1
		}
		hasKeywords, matched := r.respVal.ContainsKeywords(response, sc.ExpectedKeywords, min)
		check(result, "expected_keywords", hasKeywords, strings.Join(matched, ", "))
	}
	if len(sc.ForbiddenTerms) > 0 {
		clean, found := r.respVal.LacksForbiddenTerms(response, sc.ForbiddenTerms)
		check(result, "no_forbidden_terms", clean, strings.Join(found, ", "))
	}
	if !report.EvasionFree {
		result.Notes = append(result.Notes, "response contains an evasion indicator")
	}
	if sc.Language == "ar" {
		check(result, "response_is_arabic", validate.HasRTLText(response), "")
	}
	return nil
}

// runConsistency sends each rephrasing in turn and compares consecutive
// stable responses against the similarity threshold.
func (r *Runner) runConsistency(ctx context.Context, sc scenario.Scenario, env *caseEnv, result *schemas.CaseResult) error {
	var responses []string
	for _, query := range sc.Queries {
		send, err := r.send(ctx, env, query)
		if err != nil {
			return err
		}
		if !send.MessageAppears {
			result.Notes = append(result.Notes, fmt.Sprintf("query did not appear: %q", query))
			continue
		}
		if _, err := env.page.WaitForResponse(ctx); err != nil {
			return err
		}
		response, _, err := env.page.WaitForStableResponse(ctx)
		if err != nil {
			return err
		}
		responses = append(responses, response)
	}

	check(result, "all_queries_answered", len(responses) == len(sc.Queries),
		fmt.Sprintf("%d of %d", len(responses), len(sc.Queries)))

	for i := 1; i < len(responses); i++ {
		consistent, ratio := r.respVal.AreConsistent(responses[i-1], responses[i])
		check(result, fmt.Sprintf("consistent_%d_%d", i-1, i), consistent,
			fmt.Sprintf("similarity %.2f", ratio))
	}
	if len(responses) > 0 {
		result.LastResponse = responses[len(responses)-1]
	}
	return nil
}

// runXSS submits each payload verbatim and verifies the transcript did not
// keep it executable. The check runs against the transcript subtree only;
// the full document carries the page's own scripts and the CAPTCHA iframe,
// which are not payload remnants.
func (r *Runner) runXSS(ctx context.Context, sc scenario.Scenario, env *caseEnv, result *schemas.CaseResult) error {
	for i, payload := range sc.Inputs() {
		send, err := r.send(ctx, env, payload)
		if err != nil {
			return err
		}
		recordSend(result, send)

		html, err := env.page.TranscriptHTML(ctx)
		if err != nil {
			return err
		}
		sanitized, survived := r.secVal.XSSSanitized(payload, html)
		check(result, fmt.Sprintf("xss_sanitized_%d", i), sanitized, strings.Join(survived, ", "))
	}

	if err := r.checkStillFunctional(ctx, env, result); err != nil {
		return err
	}
	title, err := env.session.Title()
	if err != nil {
		return err
	}
	check(result, "page_title_intact", len(title) > 0, title)
	return nil
}

// runPromptInjection submits each injection and checks the assistant stayed
// in role.
func (r *Runner) runPromptInjection(ctx context.Context, sc scenario.Scenario, env *caseEnv, result *schemas.CaseResult) error {
	for i, payload := range sc.Inputs() {
		send, err := r.send(ctx, env, payload)
		if err != nil {
			return err
		}
		if !send.MessageAppears {
			result.Notes = append(result.Notes, fmt.Sprintf("injection %d did not appear", i))
			continue
		}
		if _, err := env.page.WaitForResponse(ctx); err != nil {
			return err
		}
		response, _, err := env.page.WaitForStableResponse(ctx)
		if err != nil {
			return err
		}
		result.LastResponse = response
		check(result, fmt.Sprintf("injection_resisted_%d", i),
			r.secVal.PromptInjectionResisted(response, payload), "")
	}
	return nil
}

// runSQLInjection submits each payload and verifies the application stays
// functional. The patterns themselves are classification data only.
func (r *Runner) runSQLInjection(ctx context.Context, sc scenario.Scenario, env *caseEnv, result *schemas.CaseResult, logger *zap.Logger) error {
	for _, payload := range sc.Inputs() {
		if shapes := r.secVal.ClassifySQL(payload); len(shapes) > 0 {
			logger.Debug("Submitting SQL payload.", zap.Strings("shapes", shapes))
		}
		if _, err := r.send(ctx, env, payload); err != nil {
			return err
		}
	}
	return r.checkStillFunctional(ctx, env, result)
}

// runRobustnessInputs submits unusual inputs and verifies the page survives.
func (r *Runner) runRobustnessInputs(ctx context.Context, sc scenario.Scenario, env *caseEnv, result *schemas.CaseResult) error {
	for _, payload := range sc.Inputs() {
		if _, err := r.send(ctx, env, payload); err != nil {
			return err
		}
	}
	if err := r.checkStillFunctional(ctx, env, result); err != nil {
		return err
	}
	if errText, err := env.page.ErrorText(ctx); err == nil && errText != "" {
		result.Notes = append(result.Notes, "error banner: "+errText)
	}
	return nil
}

// checkStillFunctional re-resolves the chat surface and asserts the input
// is still usable.
func (r *Runner) checkStillFunctional(ctx context.Context, env *caseEnv, result *schemas.CaseResult) error {
	el, err := env.page.Relocate(ctx)
	if err != nil {
		return err
	}
	check(result, "page_still_functional", el.InputFound && el.SendFound, "")
	return nil
}

func recordSend(result *schemas.CaseResult, send *chat.SendResult) {
	if result.Elements == nil {
		result.Elements = &schemas.ElementSummary{
			InputSelector: send.InputSelector,
			SendSelector:  send.SendSelector,
		}
	}
}
