// File: internal/browser/stealth/cadence.go
package stealth

import (
	"math/rand"
	"sync"
	"time"
	"unicode"
)

// commonDigraphs are letter pairs a practiced typist produces faster than
// their base inter-key interval.
var commonDigraphs = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true,
}

const (
	keyDelayMean   = 95 * time.Millisecond
	keyDelayStdDev = 35 * time.Millisecond
	keyDelayMin    = 30 * time.Millisecond
	keyDelayMax    = 350 * time.Millisecond
)

// Cadence produces jittered inter-key delays approximating a human typist:
// a clamped gaussian around a base rate, faster for common digraphs, and
// stretched after whitespace and sentence punctuation.
type Cadence struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCadence seeds a cadence. The same seed reproduces the same delays.
func NewCadence(seed int64) *Cadence {
	return &Cadence{rng: rand.New(rand.NewSource(seed))}
}

// KeyDelay returns the pause to take before typing curr, given the rune
// typed before it. prev is zero for the first keystroke.
func (c *Cadence) KeyDelay(prev, curr rune) time.Duration {
	c.mu.Lock()
	noise := c.rng.NormFloat64()
	c.mu.Unlock()

	delay := keyDelayMean + time.Duration(noise*float64(keyDelayStdDev))

	pair := string(unicode.ToLower(prev)) + string(unicode.ToLower(curr))
	switch {
	case commonDigraphs[pair]:
		delay = delay * 6 / 10
	case unicode.IsSpace(prev):
		// Word boundaries carry a planning pause.
		delay = delay * 16 / 10
	case prev == '.' || prev == '!' || prev == '?':
		delay *= 2
	}

	if delay < keyDelayMin {
		return keyDelayMin
	}
	if delay > keyDelayMax {
		return keyDelayMax
	}
	return delay
}
