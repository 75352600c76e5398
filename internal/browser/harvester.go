// File: internal/browser/harvester.go
package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Harvester collects console and network events from a browser session. The
// captured entries give failing test cases a window into client-side errors
// that never surface in the DOM.
type Harvester struct {
	ctx    context.Context // The session context
	logger *zap.Logger

	mu        sync.RWMutex
	console   []ConsoleEntry
	requests  []NetworkEvent
	isRunning bool
}

// NewHarvester creates a new Harvester bound to a session context.
func NewHarvester(sessionCtx context.Context, logger *zap.Logger) *Harvester {
	return &Harvester{
		ctx:    sessionCtx,
		logger: logger.Named("harvester"),
	}
}

// Start begins listening for browser events. Network capture is optional
// because response volume on chat pages can be substantial.
func (h *Harvester) Start(captureNetwork bool) error {
	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		return nil
	}
	h.console = make([]ConsoleEntry, 0)
	h.requests = make([]NetworkEvent, 0)
	h.isRunning = true
	h.mu.Unlock()

	chromedp.ListenTarget(h.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			h.appendConsole(ConsoleEntry{
				Level:     string(ev.Type),
				Text:      formatConsoleArgs(ev.Args),
				Timestamp: time.Now(),
			})
		case *runtime.EventExceptionThrown:
			h.appendConsole(ConsoleEntry{
				Level:     "exception",
				Text:      ev.ExceptionDetails.Error(),
				Timestamp: time.Now(),
			})
		case *network.EventResponseReceived:
			if !captureNetwork {
				return
			}
			h.appendRequest(NetworkEvent{
				URL:      ev.Response.URL,
				Status:   ev.Response.Status,
				MimeType: ev.Response.MimeType,
				Type:     string(ev.Type),
			})
		}
	})

	// Runtime events only flow once the domain is enabled.
	actions := []chromedp.Action{runtime.Enable()}
	if captureNetwork {
		actions = append(actions, network.Enable())
	}
	return chromedp.Run(h.ctx, actions...)
}

// Stop halts collection. Events observed after Stop are discarded.
func (h *Harvester) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isRunning = false
}

// Snapshot returns copies of the captured events so far.
func (h *Harvester) Snapshot() ([]ConsoleEntry, []NetworkEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	console := make([]ConsoleEntry, len(h.console))
	copy(console, h.console)
	requests := make([]NetworkEvent, len(h.requests))
	copy(requests, h.requests)
	return console, requests
}

// ErrorEntries returns only console entries at error severity or above.
func (h *Harvester) ErrorEntries() []ConsoleEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []ConsoleEntry
	for _, entry := range h.console {
		if entry.Level == "error" || entry.Level == "assert" || entry.Level == "exception" {
			out = append(out, entry)
		}
	}
	return out
}

func (h *Harvester) appendConsole(entry ConsoleEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isRunning {
		return
	}
	h.console = append(h.console, entry)
}

func (h *Harvester) appendRequest(ev NetworkEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isRunning {
		return
	}
	h.requests = append(h.requests, ev)
}

// formatConsoleArgs flattens console call arguments into a single line.
func formatConsoleArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if len(arg.Value) > 0 {
			parts = append(parts, strings.Trim(string(arg.Value), `"`))
			continue
		}
		if arg.Description != "" {
			parts = append(parts, arg.Description)
		}
	}
	return strings.Join(parts, " ")
}
