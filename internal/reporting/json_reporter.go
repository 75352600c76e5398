// File: internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatprobe/api/schemas"
	"github.com/xkilldash9x/chatprobe/internal/observability"
)

const toolName = "chatprobe"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter accumulates case results and writes a single indented JSON
// report envelope on Close. It is safe for concurrent Write calls.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu     sync.Mutex
	report schemas.RunReport
	closed bool
}

// NewJSONReporter creates a reporter that takes ownership of the writer.
func NewJSONReporter(writer io.WriteCloser, meta RunMeta) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("reporter"),
		report: schemas.RunReport{
			RunID:      meta.RunID,
			Tool:       toolName,
			Version:    meta.Version,
			Target:     meta.Target,
			Language:   meta.Language,
			Categories: meta.Categories,
			StartedAt:  time.Now().UTC(),
			Cases:      []schemas.CaseResult{},
		},
	}
}

// Write records one case result.
func (r *JSONReporter) Write(result *schemas.CaseResult) error {
	if result == nil {
		return fmt.Errorf("nil case result")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("reporter already closed")
	}
	r.report.Cases = append(r.report.Cases, *result)
	return nil
}

// Close finalizes the envelope, writes it and closes the writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	r.report.FinishedAt = time.Now().UTC()
	r.report.Tally()

	data, err := json.MarshalIndent(&r.report, "", "  ")
	if err != nil {
		r.writer.Close()
		return fmt.Errorf("marshaling report: %w", err)
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		r.writer.Close()
		return fmt.Errorf("writing report: %w", err)
	}

	r.logger.Info("Report written.",
		zap.Int("cases", r.report.Summary.Total),
		zap.Int("passed", r.report.Summary.Passed),
		zap.Int("failed", r.report.Summary.Failed))
	return r.writer.Close()
}
