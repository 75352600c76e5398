// File: internal/chat/page.go
package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatprobe/internal/config"
)

// Session is the slice of the browser session surface the chat page object
// drives. *browser.Session satisfies it.
type Session interface {
	IsVisible(selector string) (bool, error)
	Click(selector string) error
	TypeInto(selector, text string) error
	PressEnter(selector string) error
	InnerText(selector string) (string, error)
	Texts(selector string) ([]string, error)
	InputValue(selector string) (string, error)
	BodyText() (string, error)
	Count(selector string) (int, error)
	Attribute(selector, name string) (string, bool, error)
	OuterHTML(selector string) (string, error)
	Evaluate(expression string, out interface{}) error
}

// Elements records which fallback selector matched each chat element.
type Elements struct {
	Input  string `json:"input_selector"`
	Send   string `json:"send_selector"`
	Widget string `json:"widget_selector"`

	InputFound  bool `json:"input_found"`
	SendFound   bool `json:"send_found"`
	WidgetFound bool `json:"widget_found"`
}

// SendResult describes the outcome of one full message send cycle.
type SendResult struct {
	Message        string `json:"message"`
	InputSelector  string `json:"input_selector"`
	SendSelector   string `json:"send_selector"`
	EchoVerified   bool   `json:"echo_verified"`
	SentViaEnter   bool   `json:"sent_via_enter"`
	MessageAppears bool   `json:"message_appears"`
	InputCleared   bool   `json:"input_cleared"`
}

// MessageCounts holds the transcript message tally per author.
type MessageCounts struct {
	User      int `json:"user"`
	Assistant int `json:"assistant"`
}

// AccessibilityReport holds the results of the basic accessibility probe.
type AccessibilityReport struct {
	HasLabels         bool `json:"has_labels"`
	HasARIARole       bool `json:"has_aria_role"`
	KeyboardNavigable bool `json:"keyboard_navigable"`
}

const (
	echoPollInterval    = 250 * time.Millisecond
	responsePollDefault = 500 * time.Millisecond
	loadingAppearWindow = 5 * time.Second
	postSendSettle      = 2 * time.Second
	renderSettle        = 1 * time.Second
)

// Page is the page object for the chatbot interface. It resolves elements
// through fallback selector lists and caches the winners for the session.
type Page struct {
	session Session
	cfg     config.ChatConfig
	logger  *zap.Logger

	elements *Elements

	// sleep is swappable so waiting behaviour is testable without wall time.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a chat page object bound to a browser session.
func New(session Session, cfg config.ChatConfig, logger *zap.Logger) *Page {
	return &Page{
		session: session,
		cfg:     cfg,
		logger:  logger.Named("chat"),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Locate probes the fallback selector lists and records which selector
// matched each element. The result is cached; pass through Relocate after
// navigation to force a fresh probe.
func (p *Page) Locate(ctx context.Context) (*Elements, error) {
	if p.elements != nil {
		return p.elements, nil
	}
	return p.Relocate(ctx)
}

// Relocate discards the cached element resolution and probes again.
func (p *Page) Relocate(ctx context.Context) (*Elements, error) {
	el := &Elements{}

	sel, found, err := p.firstVisible(ctx, InputSelectors)
	if err != nil {
		return nil, fmt.Errorf("probing input selectors: %w", err)
	}
	el.Input, el.InputFound = sel, found

	sel, found, err = p.firstVisible(ctx, SendSelectors)
	if err != nil {
		return nil, fmt.Errorf("probing send selectors: %w", err)
	}
	el.Send, el.SendFound = sel, found

	// The widget container may be styled invisible, presence is enough.
	sel, found, err = p.firstPresent(ctx, WidgetSelectors)
	if err != nil {
		return nil, fmt.Errorf("probing widget selectors: %w", err)
	}
	el.Widget, el.WidgetFound = sel, found

	p.logger.Info("Chat elements resolved.",
		zap.Bool("input", el.InputFound),
		zap.Bool("send", el.SendFound),
		zap.Bool("widget", el.WidgetFound),
		zap.String("input_selector", el.Input),
		zap.String("send_selector", el.Send))

	p.elements = el
	return el, nil
}

// SendMessage runs the full send cycle: locate elements, type the message
// with echo verification, submit, and confirm the message reached the
// transcript. The message text is submitted exactly as given.
func (p *Page) SendMessage(ctx context.Context, message string) (*SendResult, error) {
	el, err := p.Locate(ctx)
	if err != nil {
		return nil, err
	}
	if !el.InputFound {
		return nil, fmt.Errorf("chat input field not found")
	}

	res := &SendResult{
		Message:       message,
		InputSelector: el.Input,
		SendSelector:  el.Send,
	}
	p.logger.Debug("Sending chat message.", zap.String("preview", preview(message)))

	if err := p.session.TypeInto(el.Input, message); err != nil {
		return res, fmt.Errorf("typing message: %w", err)
	}

	echoOK, err := p.verifyEcho(ctx, el.Input, message)
	if err != nil {
		return res, err
	}
	res.EchoVerified = echoOK
	if !echoOK {
		p.logger.Warn("Typed text did not echo into the input field.")
	}

	if el.SendFound {
		if err := p.session.Click(el.Send); err != nil {
			p.logger.Debug("Send button click failed, falling back to Enter.", zap.Error(err))
			if err := p.session.PressEnter(el.Input); err != nil {
				return res, fmt.Errorf("submitting message: %w", err)
			}
			res.SentViaEnter = true
		}
	} else {
		if err := p.session.PressEnter(el.Input); err != nil {
			return res, fmt.Errorf("submitting message: %w", err)
		}
		res.SentViaEnter = true
	}

	if err := p.sleep(ctx, postSendSettle); err != nil {
		return res, err
	}

	body, err := p.session.BodyText()
	if err != nil {
		return res, fmt.Errorf("reading page text: %w", err)
	}
	res.MessageAppears = strings.Contains(body, message)

	cleared, err := p.InputCleared(ctx)
	if err != nil {
		return res, err
	}
	res.InputCleared = cleared

	p.logger.Info("Message sent.",
		zap.Bool("message_appears", res.MessageAppears),
		zap.Bool("input_cleared", res.InputCleared),
		zap.Bool("via_enter", res.SentViaEnter))
	return res, nil
}

// verifyEcho polls the input field until the typed message is reflected in
// its value, bounded by the configured echo timeout.
func (p *Page) verifyEcho(ctx context.Context, inputSelector, message string) (bool, error) {
	var waited time.Duration
	for {
		value, err := p.session.InputValue(inputSelector)
		if err != nil {
			return false, fmt.Errorf("reading input value: %w", err)
		}
		if strings.Contains(value, message) {
			return true, nil
		}
		if waited >= p.cfg.EchoTimeout {
			return false, nil
		}
		if err := p.sleep(ctx, echoPollInterval); err != nil {
			return false, err
		}
		waited += echoPollInterval
	}
}

// WaitForResponse waits for the assistant reply cycle: the typing indicator
// appears and clears, and at least one assistant message is present. A fast
// reply may skip the indicator entirely, so its absence is not a failure.
func (p *Page) WaitForResponse(ctx context.Context) (bool, error) {
	appeared, err := p.waitCondition(ctx, loadingAppearWindow, func() (bool, error) {
		return p.anyVisible(LoadingSelectors)
	})
	if err != nil {
		return false, err
	}
	if appeared {
		gone, err := p.waitCondition(ctx, p.cfg.ResponseTimeout, func() (bool, error) {
			visible, err := p.anyVisible(LoadingSelectors)
			return !visible, err
		})
		if err != nil {
			return false, err
		}
		if !gone {
			p.logger.Warn("Typing indicator never cleared.")
			return false, nil
		}
	}

	present, err := p.waitCondition(ctx, p.cfg.ResponseTimeout, func() (bool, error) {
		_, found, err := p.firstPresent(ctx, ResponseSelectors)
		return found, err
	})
	if err != nil {
		return false, err
	}
	if !present {
		p.logger.Warn("No assistant message appeared within the response timeout.")
		return false, nil
	}

	// Let the final render settle before text extraction.
	if err := p.sleep(ctx, renderSettle); err != nil {
		return false, err
	}
	return true, nil
}

// WaitForStableResponse polls the last assistant message until its text is
// non-empty and unchanged for the configured number of consecutive polls.
// It returns the final text and whether stability was reached in time.
func (p *Page) WaitForStableResponse(ctx context.Context) (string, bool, error) {
	var (
		previous string
		stable   int
		waited   time.Duration
	)
	interval := p.cfg.PollInterval
	if interval <= 0 {
		interval = responsePollDefault
	}

	for {
		current, err := p.LastResponse(ctx)
		if err != nil {
			return "", false, err
		}

		if current != "" && current == previous {
			stable++
			if stable >= p.cfg.StablePolls {
				p.logger.Debug("Response stabilized.", zap.Int("length", len(current)))
				return current, true, nil
			}
		} else {
			stable = 0
		}
		previous = current

		if waited >= p.cfg.ResponseTimeout {
			p.logger.Warn("Response did not stabilize within the timeout.")
			return previous, false, nil
		}
		if err := p.sleep(ctx, interval); err != nil {
			return previous, false, err
		}
		waited += interval
	}
}

// LastResponse returns the text of the most recent assistant message, or an
// empty string when the transcript has none.
func (p *Page) LastResponse(ctx context.Context) (string, error) {
	texts, err := p.responseTexts(ctx)
	if err != nil || len(texts) == 0 {
		return "", err
	}
	return texts[len(texts)-1], nil
}

// AllResponses returns every assistant message in transcript order.
func (p *Page) AllResponses(ctx context.Context) ([]string, error) {
	return p.responseTexts(ctx)
}

func (p *Page) responseTexts(ctx context.Context) ([]string, error) {
	sel, found, err := p.firstPresent(ctx, ResponseSelectors)
	if err != nil || !found {
		return nil, err
	}
	return p.session.Texts(sel)
}

// LastUserMessage returns the text of the most recent operator message.
func (p *Page) LastUserMessage(ctx context.Context) (string, error) {
	sel, found, err := p.firstPresent(ctx, UserMessageSelectors)
	if err != nil || !found {
		return "", err
	}
	texts, err := p.session.Texts(sel)
	if err != nil || len(texts) == 0 {
		return "", err
	}
	return texts[len(texts)-1], nil
}

// Counts tallies the transcript messages per author.
func (p *Page) Counts(ctx context.Context) (MessageCounts, error) {
	var counts MessageCounts

	if sel, found, err := p.firstPresent(ctx, UserMessageSelectors); err != nil {
		return counts, err
	} else if found {
		if counts.User, err = p.session.Count(sel); err != nil {
			return counts, err
		}
	}

	if sel, found, err := p.firstPresent(ctx, ResponseSelectors); err != nil {
		return counts, err
	} else if found {
		if counts.Assistant, err = p.session.Count(sel); err != nil {
			return counts, err
		}
	}
	return counts, nil
}

// InputCleared reports whether the input field is empty.
func (p *Page) InputCleared(ctx context.Context) (bool, error) {
	el, err := p.Locate(ctx)
	if err != nil {
		return false, err
	}
	if !el.InputFound {
		return false, nil
	}
	value, err := p.session.InputValue(el.Input)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(value) == "", nil
}

// TextDirection returns the document text direction, defaulting to "ltr".
func (p *Page) TextDirection() (string, error) {
	var dir string
	if err := p.session.Evaluate(`document.dir || document.documentElement.dir || 'ltr'`, &dir); err != nil {
		return "", err
	}
	if dir == "" {
		dir = "ltr"
	}
	return dir, nil
}

// IsRTL reports whether the page renders right-to-left.
func (p *Page) IsRTL() (bool, error) {
	dir, err := p.TextDirection()
	if err != nil {
		return false, err
	}
	return strings.EqualFold(dir, "rtl"), nil
}

// TranscriptHTML returns the serialized markup of the message transcript.
// Sanitisation checks run against this subtree rather than the whole
// document, which carries the page's own scripts and widget iframes. When
// no transcript container matches, assistant message markup is returned
// instead.
func (p *Page) TranscriptHTML(ctx context.Context) (string, error) {
	sel, found, err := p.firstPresent(ctx, MessageContainerSelectors)
	if err != nil {
		return "", err
	}
	if found {
		return p.session.OuterHTML(sel)
	}
	sel, found, err = p.firstPresent(ctx, ResponseSelectors)
	if err != nil || !found {
		return "", err
	}
	return p.session.OuterHTML(sel)
}

// ScrollToBottom scrolls the transcript container to its end.
func (p *Page) ScrollToBottom(ctx context.Context) error {
	sel, found, err := p.firstPresent(ctx, MessageContainerSelectors)
	if err != nil || !found {
		return err
	}
	expr := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (el) el.scrollTop = el.scrollHeight;
	return true;
})()`, strconv.Quote(sel))
	var ok bool
	return p.session.Evaluate(expr, &ok)
}

// ErrorText returns the text of a visible error banner, or an empty string.
func (p *Page) ErrorText(ctx context.Context) (string, error) {
	for _, sel := range ErrorSelectors {
		visible, err := p.session.IsVisible(sel)
		if err != nil {
			return "", err
		}
		if visible {
			return p.session.InnerText(sel)
		}
	}
	return "", nil
}

// Accessibility runs the basic accessibility probe over the resolved chat
// elements.
func (p *Page) Accessibility(ctx context.Context) (AccessibilityReport, error) {
	var report AccessibilityReport

	el, err := p.Locate(ctx)
	if err != nil {
		return report, err
	}

	if el.InputFound {
		ariaLabel, hasAria, err := p.session.Attribute(el.Input, "aria-label")
		if err != nil {
			return report, err
		}
		placeholder, hasPlaceholder, err := p.session.Attribute(el.Input, "placeholder")
		if err != nil {
			return report, err
		}
		report.HasLabels = (hasAria && ariaLabel != "") || (hasPlaceholder && placeholder != "")
	}

	if sel, found, err := p.firstPresent(ctx, MessageContainerSelectors); err != nil {
		return report, err
	} else if found {
		role, hasRole, err := p.session.Attribute(sel, "role")
		if err != nil {
			return report, err
		}
		report.HasARIARole = hasRole && role != ""
	}

	if el.SendFound {
		tabIndex, hasTabIndex, err := p.session.Attribute(el.Send, "tabindex")
		if err != nil {
			return report, err
		}
		if !hasTabIndex {
			report.KeyboardNavigable = true
		} else if n, convErr := strconv.Atoi(strings.TrimSpace(tabIndex)); convErr == nil && n >= 0 {
			report.KeyboardNavigable = true
		}
	}

	return report, nil
}

// -- probe helpers --

func (p *Page) firstVisible(ctx context.Context, selectors []string) (string, bool, error) {
	for _, sel := range selectors {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		visible, err := p.session.IsVisible(sel)
		if err != nil {
			return "", false, err
		}
		if visible {
			return sel, true, nil
		}
	}
	return "", false, nil
}

func (p *Page) firstPresent(ctx context.Context, selectors []string) (string, bool, error) {
	for _, sel := range selectors {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		n, err := p.session.Count(sel)
		if err != nil {
			return "", false, err
		}
		if n > 0 {
			return sel, true, nil
		}
	}
	return "", false, nil
}

func (p *Page) anyVisible(selectors []string) (bool, error) {
	for _, sel := range selectors {
		visible, err := p.session.IsVisible(sel)
		if err != nil {
			return false, err
		}
		if visible {
			return true, nil
		}
	}
	return false, nil
}

// waitCondition polls cond at a fixed interval until it holds or the bound
// elapses. Waited time is accumulated from the poll interval so tests with
// an instant sleep observe the same bound.
func (p *Page) waitCondition(ctx context.Context, bound time.Duration, cond func() (bool, error)) (bool, error) {
	var waited time.Duration
	for {
		ok, err := cond()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if waited >= bound {
			return false, nil
		}
		if err := p.sleep(ctx, responsePollDefault); err != nil {
			return false, err
		}
		waited += responsePollDefault
	}
}

func preview(s string) string {
	const max = 50
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
