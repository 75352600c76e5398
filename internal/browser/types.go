// File: internal/browser/types.go
package browser

import "time"

// ConsoleEntry is a single console message emitted by the page.
type ConsoleEntry struct {
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NetworkEvent records a completed response observed during the session.
type NetworkEvent struct {
	URL      string `json:"url"`
	Status   int64  `json:"status"`
	MimeType string `json:"mime_type"`
	Type     string `json:"type"`
}

// Artifacts bundles the diagnostic state collected from a session,
// typically attached to a failing test case.
type Artifacts struct {
	URL        string         `json:"url"`
	Title      string         `json:"title"`
	DOM        string         `json:"-"`
	Console    []ConsoleEntry `json:"console,omitempty"`
	Network    []NetworkEvent `json:"network,omitempty"`
	Screenshot []byte         `json:"-"`
}
