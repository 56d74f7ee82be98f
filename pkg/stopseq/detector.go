// Package stopseq detects the key sequences and chords that end a recording.
package stopseq

import (
	"strings"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// Detector matches key presses against configured stop sequences. Each
// sequence tracks its own progress; a mismatching press resets it.
type Detector struct {
	sequences [][]string
	progress  []int
}

// NewDetector builds a detector. Empty sequences and blank identities are
// ignored.
func NewDetector(sequences [][]string) *Detector {
	d := &Detector{}
	for _, seq := range sequences {
		cleaned := make([]string, 0, len(seq))
		for _, id := range seq {
			if trimmed := strings.TrimSpace(id); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			d.sequences = append(d.sequences, cleaned)
		}
	}
	d.progress = make([]int, len(d.sequences))
	return d
}

// Observe feeds one key transition and reports whether a stop sequence just
// completed. Releases never advance or reset progress.
func (d *Detector) Observe(action events.KeyAction, key events.Key) bool {
	if action != events.KeyPress {
		return false
	}
	stop := false
	for i, seq := range d.sequences {
		switch {
		case key.Matches(seq[d.progress[i]]):
			d.progress[i]++
		case key.Matches(seq[0]):
			d.progress[i] = 1
		default:
			d.progress[i] = 0
		}
		if d.progress[i] == len(seq) {
			d.progress[i] = 0
			stop = true
		}
	}
	return stop
}

// Reset clears the progress of every sequence.
func (d *Detector) Reset() {
	for i := range d.progress {
		d.progress[i] = 0
	}
}

// Progress reports how many keys of sequence i have matched so far.
func (d *Detector) Progress(i int) int {
	if i < 0 || i >= len(d.progress) {
		return 0
	}
	return d.progress[i]
}
