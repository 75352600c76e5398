// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatprobe/internal/browser/stealth"
	"github.com/xkilldash9x/chatprobe/internal/config"
)

// Manager handles the lifecycle of the headless browser process. All chat
// sessions run as isolated tabs under the single browser it launches.
type Manager struct {
	logger *zap.Logger
	cfg    config.Interface

	// allocatorCtx manages the entire browser process. All session contexts
	// are derived from this.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// The browser persona to apply for stealth.
	persona stealth.Persona

	// wg tracks active sessions for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager initializes the browser manager and launches the browser process.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.Interface) (*Manager, error) {
	m := &Manager{
		logger:  logger.Named("browser_manager"),
		cfg:     cfg,
		persona: personaFromConfig(cfg.Browser()),
	}

	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return m, nil
}

// personaFromConfig derives the stealth persona from browser settings,
// falling back to the default profile for anything unset.
func personaFromConfig(bc config.BrowserConfig) stealth.Persona {
	p := stealth.DefaultPersona()
	if bc.UserAgent != "" {
		p.UserAgent = bc.UserAgent
	}
	if bc.Locale != "" {
		p.Locale = bc.Locale
	}
	if w, ok := bc.Viewport["width"]; ok && w > 0 {
		p.Screen.Width = int64(w)
	}
	if h, ok := bc.Viewport["height"]; ok && h > 0 {
		p.Screen.Height = int64(h)
	}
	return p
}

// launchBrowser prepares allocator options and starts the headless browser process.
func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...")

	opts := buildAllocatorOptions(m.cfg.Browser(), m.persona)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	// Verify the browser starts and is responsive before handing out sessions.
	testCtx, cancelTest := context.WithTimeout(allocCtx, 30*time.Second)
	testCtx, cancelTestCtx := chromedp.NewContext(testCtx)
	defer cancelTestCtx()
	defer cancelTest()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions assembles the flags for a stealthy, configurable browser instance.
func buildAllocatorOptions(bc config.BrowserConfig, persona stealth.Persona) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		// Overrides the default allocator flag that reveals automation.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", bc.Headless),
		chromedp.Flag("ignore-certificate-errors", bc.IgnoreTLSErrors),
		// Keeps navigator.webdriver from being set by Blink itself.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", bc.Headless),
		chromedp.Flag("lang", persona.Locale),
		chromedp.UserAgent(persona.UserAgent),
	)

	// Add custom arguments from config.yaml.
	for _, arg := range bc.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")

		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers (e.g., Docker on Linux).
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// NewSession creates a new, fully isolated browser tab with the stealth
// profile applied and event capture running.
func (m *Manager) NewSession(taskCtx context.Context) (*Session, error) {
	s := newSession(m.allocatorCtx, m.cfg, m.logger, m.persona)

	if err := s.initialize(taskCtx); err != nil {
		return nil, fmt.Errorf("failed to initialize browser session: %w", err)
	}

	m.wg.Add(1)
	s.onClose = m.wg.Done
	return s, nil
}

// Shutdown waits for all active sessions to complete and then terminates the
// browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for active sessions to complete...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions have completed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.logger.Info("Shutting down main browser process...")
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}
