package merge

import (
	"time"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// timeline rebuilds a sequence while renormalizing timestamps. Every
// dropped or absorbed duration is subtracted from all later survivors, so
// gaps between survivors equal the original gaps minus what was removed
// between them.
type timeline struct {
	in      []events.ActionEvent
	out     []events.ActionEvent
	removed time.Duration
	emitted bool
	// src[k] is the input index out[k] was built from (its first member
	// for a collapse).
	src []int
}

func newTimeline(in []events.ActionEvent) *timeline {
	return &timeline{
		in:  in,
		out: make([]events.ActionEvent, 0, len(in)),
		src: make([]int, 0, len(in)),
	}
}

// keep emits in[i] shifted left by the time removed so far.
func (t *timeline) keep(i int) {
	ev := t.in[i]
	ev.Timestamp -= t.removed
	t.out = append(t.out, ev)
	t.src = append(t.src, i)
	t.emitted = true
}

// keepRange emits in[start:end] unchanged apart from the shift.
func (t *timeline) keepRange(start, end int) {
	for i := start; i < end; i++ {
		t.keep(i)
	}
}

// drop discards in[i]. It is charged the gap to its predecessor, or, while
// nothing has been emitted yet, the gap to its successor.
func (t *timeline) drop(i int) {
	switch {
	case !t.emitted && i+1 < len(t.in):
		t.removed += t.in[i+1].Timestamp - t.in[i].Timestamp
	case t.emitted:
		t.removed += t.in[i].Timestamp - t.in[i-1].Timestamp
	}
}

// collapse replaces in[start:end] with one parent of kind. The parent sits
// at the first member's shifted timestamp; the run's own duration is
// absorbed.
func (t *timeline) collapse(start, end int, kind events.Kind, fill func(parent *events.ActionEvent, members []events.ActionEvent)) {
	members := t.in[start:end]
	first, last := members[0], members[len(members)-1]
	parent := events.ActionEvent{
		Kind:            kind,
		Timestamp:       first.Timestamp - t.removed,
		WindowTimestamp: first.WindowTimestamp,
		ScreenTimestamp: first.ScreenTimestamp,
		Children:        append([]events.ActionEvent(nil), members...),
	}
	if fill != nil {
		fill(&parent, members)
	}
	t.removed += last.Timestamp - first.Timestamp
	t.out = append(t.out, parent)
	t.src = append(t.src, start)
	t.emitted = true
}

func (t *timeline) result() ([]events.ActionEvent, time.Duration) {
	return t.out, t.removed
}

// carry maps per-input values (aligned with in) onto the output.
func (t *timeline) carry(values []time.Duration) []time.Duration {
	out := make([]time.Duration, len(t.src))
	for k, i := range t.src {
		out[k] = values[i]
	}
	return out
}

// checkMonotonic verifies strict timestamp order.
func checkMonotonic(pass string, seq []events.ActionEvent) error {
	for i := 1; i < len(seq); i++ {
		if seq[i].Timestamp <= seq[i-1].Timestamp {
			return &InvariantViolationError{Pass: pass, Index: i, Event: seq[i], Previous: seq[i-1]}
		}
	}
	return nil
}

// span is the time between the first and last event.
func span(seq []events.ActionEvent) time.Duration {
	if len(seq) < 2 {
		return 0
	}
	return seq[len(seq)-1].Timestamp - seq[0].Timestamp
}
