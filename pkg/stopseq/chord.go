package stopseq

import (
	"strings"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// ChordDetector fires when Char is pressed while Modifier is held. A chord
// never produces a natural release pairing, so callers strip its two
// trailing presses from the persisted stream.
type ChordDetector struct {
	modifier string
	char     string
	held     map[string]int
}

// NewChordDetector returns nil when either part of the chord is blank.
func NewChordDetector(modifier, char string) *ChordDetector {
	modifier = strings.TrimSpace(modifier)
	char = strings.TrimSpace(char)
	if modifier == "" || char == "" {
		return nil
	}
	return &ChordDetector{modifier: modifier, char: char, held: make(map[string]int)}
}

// Observe feeds one key transition and reports whether the chord fired.
func (c *ChordDetector) Observe(action events.KeyAction, key events.Key) bool {
	if c == nil {
		return false
	}
	if key.Matches(c.modifier) {
		id := key.Identity()
		switch action {
		case events.KeyPress:
			c.held[id]++
		case events.KeyRelease:
			if c.held[id] > 0 {
				c.held[id]--
			}
			if c.held[id] == 0 {
				delete(c.held, id)
			}
		}
		return false
	}
	if action == events.KeyPress && key.Matches(c.char) && len(c.held) > 0 {
		return true
	}
	return false
}

// IsChordModifier reports whether key is the chord's modifier.
func (c *ChordDetector) IsChordModifier(key events.Key) bool {
	return c != nil && key.Matches(c.modifier)
}
