// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatprobe/internal/browser/stealth"
	"github.com/xkilldash9x/chatprobe/internal/config"
)

// Session manages a single, isolated browser tab.
//
// Selectors passed to Session methods are CSS by default. A selector
// beginning with "//" or "(" is treated as an XPath expression, which the
// JS-side lookup resolves with document.evaluate.
type Session struct {
	id      string
	cfg     config.Interface
	logger  *zap.Logger
	persona stealth.Persona
	cadence *stealth.Cadence

	allocatorCtx context.Context
	ctx          context.Context
	cancel       context.CancelFunc
	harvester    *Harvester

	onClose  func()
	isClosed bool
	mu       sync.Mutex
}

func newSession(allocCtx context.Context, cfg config.Interface, logger *zap.Logger, persona stealth.Persona) *Session {
	id := uuid.New().String()
	return &Session{
		id:           id,
		allocatorCtx: allocCtx,
		cfg:          cfg,
		logger:       logger.With(zap.String("session_id", id[:8])),
		persona:      persona,
		cadence:      stealth.NewCadence(time.Now().UnixNano()),
	}
}

// initialize creates the browser tab and applies stealth and event capture.
func (s *Session) initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already initialized")
	}
	var opts []chromedp.ContextOption
	if s.cfg.Browser().Debug {
		opts = append(opts, chromedp.WithDebugf(s.logger.Sugar().Debugf))
	}
	sessionCtx, cancel := chromedp.NewContext(s.allocatorCtx, opts...)
	s.ctx = sessionCtx
	s.cancel = cancel
	s.harvester = NewHarvester(sessionCtx, s.logger)
	s.mu.Unlock()

	if s.cfg.Browser().Stealth {
		if err := chromedp.Run(s.ctx, stealth.Apply(s.persona, s.logger)); err != nil {
			s.Close(ctx)
			return fmt.Errorf("failed to apply stealth profile: %w", err)
		}
	}

	if s.cfg.Network().CaptureConsole || s.cfg.Network().CaptureRequests {
		if err := s.harvester.Start(s.cfg.Network().CaptureRequests); err != nil {
			s.logger.Warn("Event capture unavailable for this session.", zap.Error(err))
		}
	}

	s.logger.Info("Browser session initialized.")
	return nil
}

// ID returns the unique identifier for this session.
func (s *Session) ID() string {
	return s.id
}

// Context returns the underlying chromedp session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Navigate loads a URL, waits for the document body and lets async page
// setup settle for the configured post-load wait.
func (s *Session) Navigate(url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))

	navCtx, cancel := context.WithTimeout(s.ctx, s.cfg.Network().NavigationTimeout)
	defer cancel()

	return chromedp.Run(navCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if s.cfg.Browser().DisableCache {
				return network.SetCacheDisabled(true).Do(ctx)
			}
			return nil
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.Network().PostLoadWait),
	)
}

// IsVisible reports whether the first element matching the selector is
// currently visible. A missing element is not an error.
func (s *Session) IsVisible(selector string) (bool, error) {
	var visible bool
	if err := s.Evaluate(visibilityExpr(selector), &visible); err != nil {
		return false, err
	}
	return visible, nil
}

// Click dispatches a click on the first visible element matching the
// selector. It returns an error when no such element exists.
func (s *Session) Click(selector string) error {
	var clicked bool
	if err := s.Evaluate(clickExpr(selector), &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no visible element for selector %q", selector)
	}
	return nil
}

// cadenceMaxRunes bounds humanized typing. Longer inputs, such as the
// length-limit payloads, are sent in one burst to keep cases fast.
const cadenceMaxRunes = 200

// TypeInto focuses the element and types the text exactly as given.
// The field is cleared first so repeated sends do not concatenate. With
// stealth enabled, short texts are keyed rune by rune at a human cadence.
func (s *Session) TypeInto(selector, text string) error {
	if err := chromedp.Run(s.ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.Evaluate(clearExpr(selector), nil).Do(ctx)
		}),
	); err != nil {
		return err
	}

	runes := []rune(text)
	if !s.cfg.Browser().Stealth || len(runes) > cadenceMaxRunes {
		return chromedp.Run(s.ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
	}

	return chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var prev rune
		for _, r := range runes {
			if err := chromedp.Sleep(s.cadence.KeyDelay(prev, r)).Do(ctx); err != nil {
				return err
			}
			if err := chromedp.KeyEvent(string(r)).Do(ctx); err != nil {
				return err
			}
			prev = r
		}
		return nil
	}))
}

// PressEnter sends the Enter key to the element.
func (s *Session) PressEnter(selector string) error {
	return chromedp.Run(s.ctx, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery))
}

// PressEscape sends the Escape key to the page.
func (s *Session) PressEscape() error {
	return chromedp.Run(s.ctx, chromedp.KeyEvent(kb.Escape))
}

// InnerText returns the rendered text of the first matching element, or an
// empty string when the element is absent.
func (s *Session) InnerText(selector string) (string, error) {
	var text string
	if err := s.Evaluate(textExpr(selector), &text); err != nil {
		return "", err
	}
	return text, nil
}

// Texts returns the rendered text of every element matching the selector,
// in document order.
func (s *Session) Texts(selector string) ([]string, error) {
	var texts []string
	if err := s.Evaluate(textsExpr(selector), &texts); err != nil {
		return nil, err
	}
	return texts, nil
}

// InputValue returns the current value of the first matching form field.
// Contenteditable elements report their text content instead.
func (s *Session) InputValue(selector string) (string, error) {
	var value string
	if err := s.Evaluate(inputValueExpr(selector), &value); err != nil {
		return "", err
	}
	return value, nil
}

// BodyText returns the full rendered text of the document body.
func (s *Session) BodyText() (string, error) {
	var text string
	err := s.Evaluate(`document.body ? document.body.innerText : ""`, &text)
	return text, err
}

// Count returns the number of elements matching the selector.
func (s *Session) Count(selector string) (int, error) {
	var n int
	if err := s.Evaluate(countExpr(selector), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Attribute returns the named attribute of the first matching element.
// The ok result is false when the element or attribute is absent.
func (s *Session) Attribute(selector, name string) (string, bool, error) {
	var result []interface{}
	if err := s.Evaluate(attributeExpr(selector, name), &result); err != nil {
		return "", false, err
	}
	if len(result) != 2 {
		return "", false, nil
	}
	ok, _ := result[1].(bool)
	val, _ := result[0].(string)
	return val, ok, nil
}

// Evaluate runs a JS expression in the page and unmarshals the result.
func (s *Session) Evaluate(expression string, out interface{}) error {
	return chromedp.Run(s.ctx, chromedp.Evaluate(expression, out))
}

// Title returns the current document title.
func (s *Session) Title() (string, error) {
	var title string
	err := chromedp.Run(s.ctx, chromedp.Title(&title))
	return title, err
}

// OuterHTML returns the serialized markup of the first matching element, or
// an empty string when the element is absent.
func (s *Session) OuterHTML(selector string) (string, error) {
	var html string
	if err := s.Evaluate(outerHTMLExpr(selector), &html); err != nil {
		return "", err
	}
	return html, nil
}

// CaptureScreenshot takes a viewport screenshot as PNG bytes.
func (s *Session) CaptureScreenshot() ([]byte, error) {
	var buf []byte
	if err := chromedp.Run(s.ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// ConsoleErrors returns the text of captured console errors and page
// exceptions, in arrival order.
func (s *Session) ConsoleErrors() []string {
	s.mu.Lock()
	harvester := s.harvester
	s.mu.Unlock()
	if harvester == nil {
		return nil
	}
	entries := harvester.ErrorEntries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text)
	}
	return out
}

// CollectArtifacts gathers diagnostic state from the session for reporting.
func (s *Session) CollectArtifacts(ctx context.Context) (*Artifacts, error) {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session is already closed")
	}
	harvester := s.harvester
	s.mu.Unlock()

	artifacts := &Artifacts{}
	s.logger.Debug("Collecting session artifacts.")

	runCtx, cancel := context.WithTimeout(s.ctx, 20*time.Second)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.Location(&artifacts.URL),
		chromedp.Title(&artifacts.Title),
		chromedp.OuterHTML("html", &artifacts.DOM, chromedp.ByQuery),
	); err != nil {
		s.logger.Warn("Could not retrieve final page state", zap.Error(err))
	}

	if harvester != nil {
		artifacts.Console, artifacts.Network = harvester.Snapshot()
	}

	if shot, err := s.CaptureScreenshot(); err == nil {
		artifacts.Screenshot = shot
	} else {
		s.logger.Warn("Could not capture screenshot", zap.Error(err))
	}

	return artifacts, nil
}

// Close safely terminates the browser tab and its associated resources.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	harvester := s.harvester
	sessionCancel := s.cancel
	sessionCtx := s.ctx
	onClose := s.onClose
	s.mu.Unlock()

	if harvester != nil {
		harvester.Stop()
	}
	if sessionCancel != nil {
		sessionCancel()
	}
	if onClose != nil {
		defer onClose()
	}
	if sessionCtx == nil {
		return nil
	}

	// Wait for the tab to close, respecting the caller's deadline.
	waitCtx, cancelWait := context.WithTimeout(ctx, 10*time.Second)
	defer cancelWait()

	select {
	case <-sessionCtx.Done():
		s.logger.Debug("Browser session closed gracefully.")
	case <-waitCtx.Done():
		s.logger.Warn("Deadline exceeded waiting for browser session to close.", zap.Error(waitCtx.Err()))
	}

	return nil
}

// -- Selector expression builders --

// isXPath reports whether a selector should be resolved as XPath.
func isXPath(selector string) bool {
	return strings.HasPrefix(selector, "//") || strings.HasPrefix(selector, "(")
}

// findSnippet returns a JS expression resolving the selector to an element
// (or null), bound to the local name "el".
func findSnippet(selector string) string {
	q := strconv.Quote(selector)
	if isXPath(selector) {
		return fmt.Sprintf(
			`let el = document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;`, q)
	}
	return fmt.Sprintf(`let el = document.querySelector(%s);`, q)
}

const visibleFnSnippet = `const isShown = (el) => {
	if (!el) return false;
	const style = window.getComputedStyle(el);
	if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
	const rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
};`

func visibilityExpr(selector string) string {
	return fmt.Sprintf(`(() => {
	%s
	%s
	return isShown(el);
})()`, visibleFnSnippet, findSnippet(selector))
}

func clickExpr(selector string) string {
	return fmt.Sprintf(`(() => {
	%s
	%s
	if (!isShown(el)) return false;
	el.click();
	return true;
})()`, visibleFnSnippet, findSnippet(selector))
}

func clearExpr(selector string) string {
	return fmt.Sprintf(`(() => {
	%s
	if (!el) return false;
	if ('value' in el) { el.value = ''; } else { el.textContent = ''; }
	el.dispatchEvent(new Event('input', {bubbles: true}));
	return true;
})()`, findSnippet(selector))
}

func textExpr(selector string) string {
	return fmt.Sprintf(`(() => {
	%s
	return el ? (el.innerText || el.textContent || '') : '';
})()`, findSnippet(selector))
}

func outerHTMLExpr(selector string) string {
	return fmt.Sprintf(`(() => {
	%s
	return el ? el.outerHTML : '';
})()`, findSnippet(selector))
}

// findAllSnippet resolves the selector to an array of elements bound to the
// local name "els".
func findAllSnippet(selector string) string {
	q := strconv.Quote(selector)
	if isXPath(selector) {
		return fmt.Sprintf(`const snap = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const els = [];
	for (let i = 0; i < snap.snapshotLength; i++) els.push(snap.snapshotItem(i));`, q)
	}
	return fmt.Sprintf(`const els = Array.from(document.querySelectorAll(%s));`, q)
}

func textsExpr(selector string) string {
	return fmt.Sprintf(`(() => {
	%s
	return els.map(el => el.innerText || el.textContent || '');
})()`, findAllSnippet(selector))
}

func inputValueExpr(selector string) string {
	return fmt.Sprintf(`(() => {
	%s
	if (!el) return '';
	if ('value' in el) return el.value;
	return el.innerText || el.textContent || '';
})()`, findSnippet(selector))
}

func countExpr(selector string) string {
	q := strconv.Quote(selector)
	if isXPath(selector) {
		return fmt.Sprintf(
			`document.evaluate('count(' + %s + ')', document, null, XPathResult.NUMBER_TYPE, null).numberValue`, q)
	}
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, q)
}

func attributeExpr(selector, name string) string {
	return fmt.Sprintf(`(() => {
	%s
	if (!el || !el.hasAttribute(%s)) return ['', false];
	return [el.getAttribute(%s), true];
})()`, findSnippet(selector), strconv.Quote(name), strconv.Quote(name))
}
