// File: internal/runner/runner.go

// Package runner executes the scenario catalogue against the target site.
// Each case gets a fresh browser session, the page-readiness sequence, the
// scenario's actions and checks, and a CaseResult. A failing case never
// aborts the run.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/chatprobe/api/schemas"
	"github.com/xkilldash9x/chatprobe/internal/browser"
	"github.com/xkilldash9x/chatprobe/internal/chat"
	"github.com/xkilldash9x/chatprobe/internal/config"
	"github.com/xkilldash9x/chatprobe/internal/readiness"
	"github.com/xkilldash9x/chatprobe/internal/reporting"
	"github.com/xkilldash9x/chatprobe/internal/scenario"
	"github.com/xkilldash9x/chatprobe/internal/validate"
)

// casePage is the chat surface a case drives.
type casePage interface {
	Relocate(ctx context.Context) (*chat.Elements, error)
	SendMessage(ctx context.Context, message string) (*chat.SendResult, error)
	WaitForResponse(ctx context.Context) (bool, error)
	WaitForStableResponse(ctx context.Context) (string, bool, error)
	TranscriptHTML(ctx context.Context) (string, error)
	TextDirection() (string, error)
	ErrorText(ctx context.Context) (string, error)
	Accessibility(ctx context.Context) (chat.AccessibilityReport, error)
}

// caseSession is the raw session surface a case inspects.
type caseSession interface {
	Title() (string, error)
	ConsoleErrors() []string
	CollectArtifacts(ctx context.Context) (*browser.Artifacts, error)
}

// preparer runs the page-readiness sequence.
type preparer interface {
	Prepare(ctx context.Context, page readiness.Page, url string) readiness.Result
	DetectCaptcha(page readiness.Page) (bool, []string, error)
}

// caseEnv bundles the per-case dependencies. close must always be called.
type caseEnv struct {
	page    casePage
	session caseSession
	ready   preparer
	probe   readiness.Page
	close   func(ctx context.Context)
}

// Runner drives the whole suite.
type Runner struct {
	cfg     config.Interface
	logger  *zap.Logger
	store   *scenario.Store
	respVal *validate.ResponseValidator
	secVal  *validate.SecurityValidator

	// limiter paces message sends across all parallel cases so the suite
	// itself does not trip the target's CAPTCHA.
	limiter *rate.Limiter

	// newEnv builds the per-case environment. Swappable in tests.
	newEnv func(ctx context.Context) (*caseEnv, error)

	runID string
}

// New wires a runner over a live browser manager.
func New(cfg config.Interface, manager *browser.Manager, store *scenario.Store, logger *zap.Logger) *Runner {
	r := newRunner(cfg, store, logger)
	r.newEnv = func(ctx context.Context) (*caseEnv, error) {
		session, err := manager.NewSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating browser session: %w", err)
		}
		return &caseEnv{
			page:    chat.New(session, cfg.Chat(), logger),
			session: session,
			ready:   readiness.New(cfg.Readiness(), logger),
			probe:   session,
			close: func(ctx context.Context) {
				if err := session.Close(ctx); err != nil {
					logger.Warn("Session close failed.", zap.Error(err))
				}
			},
		}, nil
	}
	return r
}

func newRunner(cfg config.Interface, store *scenario.Store, logger *zap.Logger) *Runner {
	perMinute := cfg.Runner().SendRatePerMinute
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60.0)
	}
	return &Runner{
		cfg:     cfg,
		logger:  logger.Named("runner"),
		store:   store,
		respVal: validate.NewResponseValidator(cfg.Validation(), logger),
		secVal:  validate.NewSecurityValidator(logger),
		limiter: rate.NewLimiter(limit, 1),
		runID:   uuid.New().String(),
	}
}

// RunID returns the identifier for this suite run.
func (r *Runner) RunID() string {
	return r.runID
}

// Run executes every scenario matching the configured category and language
// filters, writing each result to the reporter. The returned error covers
// infrastructure problems only; case failures are report data.
func (r *Runner) Run(ctx context.Context, language string, reporter reporting.Reporter) (schemas.Summary, error) {
	cases := r.store.Filter(r.cfg.Runner().Categories, language)
	if len(cases) == 0 {
		return schemas.Summary{}, fmt.Errorf("no scenarios match categories %v and language %q",
			r.cfg.Runner().Categories, language)
	}

	parallelism := r.cfg.Runner().Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	r.logger.Info("Starting suite run.",
		zap.String("run_id", r.runID),
		zap.Int("cases", len(cases)),
		zap.Int("parallelism", parallelism))

	results := make([]*schemas.CaseResult, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i := range cases {
		g.Go(func() error {
			results[i] = r.runCase(gctx, cases[i])
			return nil
		})
	}
	// Workers only return nil; the group is used for bounded parallelism
	// and context plumbing.
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return schemas.Summary{}, err
	}

	var summary schemas.Summary
	for _, result := range results {
		if err := reporter.Write(result); err != nil {
			return summary, fmt.Errorf("writing case result: %w", err)
		}
		summary.Total++
		switch result.Status {
		case schemas.StatusPassed:
			summary.Passed++
		case schemas.StatusFailed:
			summary.Failed++
		case schemas.StatusSkipped:
			summary.Skipped++
		}
	}
	r.logger.Info("Suite run finished.",
		zap.Int("total", summary.Total),
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}

// runCase executes one scenario end to end. Every failure path resolves to
// a CaseResult; nothing escapes as an error.
func (r *Runner) runCase(ctx context.Context, sc scenario.Scenario) *schemas.CaseResult {
	result := &schemas.CaseResult{
		ScenarioID:  sc.ID,
		Category:    sc.Category,
		Kind:        sc.Kind,
		Language:    sc.Language,
		Description: sc.Description,
		StartedAt:   time.Now().UTC(),
	}
	defer func() {
		result.FinishedAt = time.Now().UTC()
		result.Duration = result.FinishedAt.Sub(result.StartedAt)
	}()

	logger := r.logger.With(zap.String("scenario", sc.ID))

	if err := ctx.Err(); err != nil {
		result.Status = schemas.StatusSkipped
		result.Notes = append(result.Notes, "run cancelled before execution")
		return result
	}

	env, err := r.newEnv(ctx)
	if err != nil {
		logger.Error("Could not build case environment.", zap.Error(err))
		result.Status = schemas.StatusFailed
		result.Notes = append(result.Notes, "environment: "+err.Error())
		return result
	}
	defer env.close(ctx)

	targetURL := r.cfg.Target().URLFor(sc.Language)
	ready := env.ready.Prepare(ctx, env.probe, targetURL)
	result.Readiness = &schemas.ReadinessSummary{
		Ready:               ready.Ready,
		Attempts:            ready.Attempts,
		DisclaimerDismissed: ready.DisclaimerDismissed,
		CaptchaDetected:     ready.CaptchaDetected,
		CaptchaCleared:      ready.CaptchaCleared,
		CaptchaTypes:        ready.CaptchaTypes,
	}
	if !ready.Ready {
		logger.Warn("Page never became ready.", zap.Int("attempts", ready.Attempts))
		result.Status = schemas.StatusFailed
		result.Notes = append(result.Notes,
			fmt.Sprintf("page never became ready after %d attempt(s)", ready.Attempts))
		r.finishCase(ctx, env, result, logger)
		return result
	}

	if err := r.executeKind(ctx, sc, env, result, logger); err != nil {
		// Execution errors are case data, never run failures.
		logger.Warn("Case execution error.", zap.Error(err))
		result.Notes = append(result.Notes, "execution: "+err.Error())
		result.Checks = append(result.Checks, schemas.CheckResult{
			Name: "execution_completed", Passed: false, Detail: err.Error(),
		})
	}

	r.resolveStatus(ctx, env, result)
	r.finishCase(ctx, env, result, logger)

	logger.Info("Case finished.",
		zap.String("status", string(result.Status)),
		zap.Duration("duration", time.Since(result.StartedAt)))
	return result
}

// resolveStatus turns the collected checks into a terminal status. A failed
// check with CAPTCHA interference downgrades to skipped, mirroring how the
// suite treats CAPTCHA as an environmental condition rather than a defect.
func (r *Runner) resolveStatus(ctx context.Context, env *caseEnv, result *schemas.CaseResult) {
	if result.Status != "" {
		return
	}
	if !result.Failed() {
		result.Status = schemas.StatusPassed
		return
	}

	detected, types, err := env.ready.DetectCaptcha(env.probe)
	if err == nil && detected {
		result.Status = schemas.StatusSkipped
		result.Notes = append(result.Notes,
			fmt.Sprintf("captcha interfered with the case: %v", types))
		return
	}
	result.Status = schemas.StatusFailed
}

// finishCase collects console errors and, for failed cases, the session's
// diagnostic artifacts.
func (r *Runner) finishCase(ctx context.Context, env *caseEnv, result *schemas.CaseResult, logger *zap.Logger) {
	result.ConsoleErrors = env.session.ConsoleErrors()

	if result.Status != schemas.StatusFailed || !r.cfg.Runner().ScreenshotOnFailure {
		return
	}
	artifacts, err := env.session.CollectArtifacts(ctx)
	if err != nil {
		logger.Warn("Failure artifacts unavailable.", zap.Error(err))
		return
	}
	logger.Debug("Failure state captured.",
		zap.String("url", artifacts.URL),
		zap.String("title", artifacts.Title),
		zap.Int("console_entries", len(artifacts.Console)),
		zap.Int("network_events", len(artifacts.Network)))

	if len(artifacts.Screenshot) == 0 {
		return
	}
	dir := filepath.Join(r.cfg.Runner().OutputDir, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("Could not create screenshot directory.", zap.Error(err))
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.png", result.ScenarioID, time.Now().Unix()))
	if err := os.WriteFile(path, artifacts.Screenshot, 0o644); err != nil {
		logger.Warn("Could not write screenshot.", zap.Error(err))
		return
	}
	result.ScreenshotPath = path
}

// send paces and submits one message.
func (r *Runner) send(ctx context.Context, env *caseEnv, message string) (*chat.SendResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return env.page.SendMessage(ctx, message)
}

func check(result *schemas.CaseResult, name string, passed bool, detail string) {
	result.Checks = append(result.Checks, schemas.CheckResult{Name: name, Passed: passed, Detail: detail})
}
