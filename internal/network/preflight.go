// File: internal/network/preflight.go
package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const preflightAttempts = 3

// preflightBackoff is a var so tests can shorten the retry wait.
var preflightBackoff = 2 * time.Second

// PreflightResult describes a successful reachability probe.
type PreflightResult struct {
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency"`
	Attempts   int           `json:"attempts"`
}

// Preflight verifies the target responds before any browser is launched,
// so an unreachable site fails the run in seconds instead of a Chrome
// navigation timeout per case. A 4xx still counts as reachable; the
// readiness controller decides what to make of the page itself.
func Preflight(ctx context.Context, client *http.Client, targetURL, userAgent string, headers map[string]string, logger *zap.Logger) (PreflightResult, error) {
	var lastErr error
	for attempt := 1; attempt <= preflightAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return PreflightResult{Attempts: attempt - 1}, ctx.Err()
			case <-time.After(preflightBackoff * time.Duration(attempt-1)):
			}
		}

		result, err := probe(ctx, client, targetURL, userAgent, headers)
		if err == nil {
			result.Attempts = attempt
			logger.Info("Target preflight succeeded.",
				zap.String("url", targetURL),
				zap.Int("status", result.StatusCode),
				zap.Duration("latency", result.Latency),
				zap.Int("attempts", attempt))
			return result, nil
		}
		lastErr = err
		logger.Warn("Target preflight attempt failed.",
			zap.String("url", targetURL),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return PreflightResult{Attempts: preflightAttempts},
		fmt.Errorf("target unreachable after %d attempts: %w", preflightAttempts, lastErr)
}

func probe(ctx context.Context, client *http.Client, targetURL, userAgent string, headers map[string]string) (PreflightResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return PreflightResult{}, fmt.Errorf("building preflight request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return PreflightResult{}, err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused by a retry.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusInternalServerError {
		return PreflightResult{}, fmt.Errorf("target returned status %d", resp.StatusCode)
	}
	return PreflightResult{StatusCode: resp.StatusCode, Latency: time.Since(start)}, nil
}
