// File: internal/readiness/controller.go
package readiness

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatprobe/internal/config"
)

// Page is the slice of browser session behaviour the controller needs.
// *browser.Session satisfies it; tests use a scripted fake.
type Page interface {
	Navigate(url string) error
	IsVisible(selector string) (bool, error)
	Click(selector string) error
	PressEscape() error
	BodyText() (string, error)
	Title() (string, error)
}

// Result summarizes one preparation run. Exhausted retries surface here as
// Ready=false; Prepare never returns an error.
type Result struct {
	Ready               bool     `json:"ready"`
	Attempts            int      `json:"attempts"`
	DisclaimerDismissed bool     `json:"disclaimer_dismissed"`
	ModalsClosed        bool     `json:"modals_closed"`
	CaptchaDetected     bool     `json:"captcha_detected"`
	CaptchaCleared      bool     `json:"captcha_cleared"`
	CaptchaTypes        []string `json:"captcha_types,omitempty"`
	ServicesLoaded      bool     `json:"services_loaded"`
	URL                 string   `json:"url"`
	Title               string   `json:"title"`
}

// Controller brings a freshly navigated chat page into an interactable
// state: disclaimer dismissed, blocking modals closed, backend services
// connected, CAPTCHA (if any) surfaced to the operator.
type Controller struct {
	cfg    config.ReadinessConfig
	logger *zap.Logger

	// probeTimeout bounds each per-selector visibility wait.
	probeTimeout time.Duration

	// sleep is wall-clock waiting, injectable so unit tests run instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Controller with the given tuning.
func New(cfg config.ReadinessConfig, logger *zap.Logger) *Controller {
	probeTimeout := cfg.ElementTimeout
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &Controller{
		cfg:          cfg,
		logger:       logger.Named("readiness"),
		probeTimeout: probeTimeout,
		sleep:        sleepCtx,
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

// Prepare navigates to the URL and runs the readiness sequence, retrying the
// whole attempt with exponential backoff on transient errors. All failure
// paths resolve to the returned Result; callers assert on Ready.
func (c *Controller) Prepare(ctx context.Context, page Page, url string) Result {
	result := Result{URL: url}

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		result.Attempts = attempt

		err := c.runAttempt(ctx, page, url, &result)
		if err == nil {
			result.Ready = result.ServicesLoaded
			c.logger.Info("Page preparation finished.",
				zap.Bool("ready", result.Ready),
				zap.Int("attempts", attempt),
				zap.Bool("captcha_detected", result.CaptchaDetected),
			)
			return result
		}

		if ctx.Err() != nil {
			c.logger.Warn("Page preparation cancelled.", zap.Error(ctx.Err()))
			return result
		}

		backoff := c.cfg.RetryBackoffBase * time.Duration(1<<(attempt-1))
		c.logger.Warn("Page preparation attempt failed.",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		if attempt < c.cfg.MaxRetries {
			if serr := c.sleep(ctx, backoff); serr != nil {
				return result
			}
		}
	}

	c.logger.Error("Page preparation exhausted all retries.", zap.String("url", url))
	return result
}

// runAttempt performs one full preparation pass. A returned error marks the
// attempt as transient and retriable; swallowed conditions (no disclaimer,
// CAPTCHA timeout) are recorded on the result instead.
func (c *Controller) runAttempt(ctx context.Context, page Page, url string, result *Result) error {
	c.logger.Info("Preparing page.", zap.String("url", url), zap.Int("attempt", result.Attempts))

	if err := page.Navigate(url); err != nil {
		return err
	}

	dismissed, err := c.dismissDisclaimer(ctx, page)
	if err != nil {
		return err
	}
	result.DisclaimerDismissed = dismissed

	closed, err := c.closeBlockingModals(ctx, page)
	if err != nil {
		return err
	}
	result.ModalsClosed = closed

	if err := c.handleCaptcha(ctx, page, result); err != nil {
		return err
	}

	loaded, err := c.waitForServices(ctx, page)
	if err != nil {
		return err
	}
	result.ServicesLoaded = loaded

	// Services coming online can raise a fresh modal.
	if closed, err := c.closeBlockingModals(ctx, page); err == nil {
		result.ModalsClosed = result.ModalsClosed && closed
	}

	if title, err := page.Title(); err == nil {
		result.Title = title
	}
	return nil
}

// dismissDisclaimer probes the ordered selector list and clicks the first
// visible match. Absence of any match is not an error, merely nothing to
// dismiss, so the return value is always true unless the page itself fails.
func (c *Controller) dismissDisclaimer(ctx context.Context, page Page) (bool, error) {
	for _, selector := range DisclaimerSelectors {
		visible, err := page.IsVisible(selector)
		if err != nil {
			return false, err
		}
		if !visible {
			continue
		}

		c.logger.Info("Found disclaimer.", zap.String("selector", selector))
		if err := page.Click(selector); err != nil {
			c.logger.Debug("Disclaimer click failed; trying next selector.",
				zap.String("selector", selector), zap.Error(err))
			continue
		}
		if err := c.sleep(ctx, c.probeTimeout); err != nil {
			return false, err
		}

		gone, err := page.IsVisible(selector)
		if err != nil {
			return false, err
		}
		if !gone {
			c.logger.Info("Disclaimer dismissed.", zap.String("selector", selector))
			return true, nil
		}
	}

	// Escape and backdrop click as fallback, then accept whatever state
	// the page is in.
	if err := page.PressEscape(); err == nil {
		_ = c.sleep(ctx, time.Second)
	}
	if visible, err := page.IsVisible(BackdropSelector); err == nil && visible {
		_ = page.Click(BackdropSelector)
		_ = c.sleep(ctx, time.Second)
	}

	c.logger.Info("Disclaimer not found or already closed.")
	return true, nil
}

// closeBlockingModals detects and closes modal windows sitting over the chat
// widget. Returns false when a modal is confirmed to remain open.
func (c *Controller) closeBlockingModals(ctx context.Context, page Page) (bool, error) {
	found := ""
	for _, selector := range BlockingModalSelectors {
		visible, err := page.IsVisible(selector)
		if err != nil {
			return false, err
		}
		if visible {
			found = selector
			break
		}
	}
	if found == "" {
		return true, nil
	}
	c.logger.Warn("Blocking modal detected.", zap.String("selector", found))

	for _, selector := range ModalCloseSelectors {
		visible, err := page.IsVisible(selector)
		if err != nil {
			return false, err
		}
		if !visible {
			continue
		}
		if err := page.Click(selector); err != nil {
			continue
		}
		if err := c.sleep(ctx, c.probeTimeout); err != nil {
			return false, err
		}
		if gone, err := page.IsVisible(found); err == nil && !gone {
			c.logger.Info("Blocking modal closed.", zap.String("close_selector", selector))
			return true, nil
		}
	}

	if err := page.PressEscape(); err == nil {
		_ = c.sleep(ctx, time.Second)
	}
	if visible, err := page.IsVisible(BackdropSelector); err == nil && visible {
		_ = page.Click(BackdropSelector)
		_ = c.sleep(ctx, time.Second)
	}

	if stillVisible, err := page.IsVisible(found); err == nil && !stillVisible {
		return true, nil
	}
	c.logger.Warn("Blocking modal remains open.", zap.String("selector", found))
	return false, nil
}

// DetectCaptcha reports whether a CAPTCHA challenge is currently visible and
// which kinds were seen.
func (c *Controller) DetectCaptcha(page Page) (bool, []string, error) {
	var types []string
	for _, entry := range CaptchaSelectors {
		visible, err := page.IsVisible(entry.Selector)
		if err != nil {
			return false, nil, err
		}
		if visible {
			types = append(types, entry.Description)
			// One active challenge is enough; the rest are variants of it.
			return true, types, nil
		}
	}
	return false, nil, nil
}

// handleCaptcha surfaces a detected challenge to the operator and polls for
// it to clear, never waiting past the configured ceiling. On timeout the run
// proceeds and downstream assertions fail naturally.
func (c *Controller) handleCaptcha(ctx context.Context, page Page, result *Result) error {
	detected, types, err := c.DetectCaptcha(page)
	if err != nil {
		return err
	}
	if !detected {
		return nil
	}
	result.CaptchaDetected = true
	result.CaptchaTypes = types

	c.logger.Warn("============================================================")
	c.logger.Warn("CAPTCHA detected - manual solution required",
		zap.Strings("types", types))
	c.logger.Warn("Solve the challenge in the browser window; the run resumes automatically once it disappears.",
		zap.Duration("timeout", c.cfg.CaptchaWaitCeiling))
	c.logger.Warn("============================================================")

	var waited time.Duration
	for waited < c.cfg.CaptchaWaitCeiling {
		interval := c.cfg.CaptchaPollInterval
		if remaining := c.cfg.CaptchaWaitCeiling - waited; remaining < interval {
			interval = remaining
		}
		if err := c.sleep(ctx, interval); err != nil {
			return err
		}
		waited += interval

		stillThere, _, err := c.DetectCaptcha(page)
		if err != nil {
			return err
		}
		if !stillThere {
			c.logger.Info("CAPTCHA cleared; continuing.", zap.Duration("waited", waited))
			result.CaptchaCleared = true
			return nil
		}
		c.logger.Info("Waiting for CAPTCHA solution...",
			zap.Duration("remaining", c.cfg.CaptchaWaitCeiling-waited))
	}

	c.logger.Warn("CAPTCHA not solved within the ceiling; proceeding anyway.",
		zap.Duration("ceiling", c.cfg.CaptchaWaitCeiling))
	return nil
}

// waitForServices polls the body text until no loading marker remains, up to
// the configured maximum.
func (c *Controller) waitForServices(ctx context.Context, page Page) (bool, error) {
	c.logger.Info("Waiting for services to load...")

	var waited time.Duration
	for waited < c.cfg.ServicesWaitMax {
		if err := c.sleep(ctx, time.Second); err != nil {
			return false, err
		}
		waited += time.Second

		body, err := page.BodyText()
		if err != nil {
			return false, err
		}
		if !containsLoadingMarker(body) {
			c.logger.Info("Services loaded.", zap.Duration("waited", waited))
			return true, nil
		}

		if waited%(10*time.Second) == 0 {
			c.logger.Info("Still waiting for services...",
				zap.Duration("waited", waited),
				zap.Duration("max", c.cfg.ServicesWaitMax))
		}
	}

	c.logger.Warn("Services did not finish loading in time.",
		zap.Duration("max", c.cfg.ServicesWaitMax))
	return false, nil
}

func containsLoadingMarker(body string) bool {
	for _, marker := range LoadingMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}
