// File: internal/reporting/reporter.go

// Package reporting writes the run report produced by the suite runner.
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xkilldash9x/chatprobe/api/schemas"
)

// Reporter collects case results and finalizes the report on Close.
type Reporter interface {
	// Write records a single case result.
	Write(result *schemas.CaseResult) error
	// Close finalizes the report and releases the underlying writer.
	Close() error
}

// RunMeta carries the run-level fields of the report envelope.
type RunMeta struct {
	RunID      string
	Version    string
	Target     string
	Language   string
	Categories []string
}

// nopWriteCloser wraps an io.Writer with a no-op Close.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error { return nil }

// New creates a reporter for the given format writing to outputPath.
// An empty path or "stdout" writes to standard output.
func New(format, outputPath string, meta RunMeta) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		if dir := filepath.Dir(outputPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating report directory: %w", err)
			}
		}
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("creating report file %s: %w", outputPath, err)
		}
		writer = f
	}

	cleanup := func() {
		if !isStdOut {
			writer.Close()
		}
	}

	switch format {
	case "json", "":
		return NewJSONReporter(writer, meta), nil
	default:
		cleanup()
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}
