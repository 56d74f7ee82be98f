package merge

import (
	"math"
	"time"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// Pass names, in pipeline order.
const (
	PassInvalidKeyboard = "remove_invalid_keyboard"
	PassRedundantMoves  = "remove_redundant_moves"
	PassKeyboard        = "merge_keyboard"
	PassMoves           = "merge_moves"
	PassScrolls         = "merge_scrolls"
	PassClicks          = "merge_clicks"
)

func isLeaf(ev events.ActionEvent, kind events.Kind) bool {
	return ev.Kind == kind && ev.IsLeaf()
}

func isKeyLeaf(ev events.ActionEvent) bool {
	return ev.IsLeaf() && (ev.Kind == events.KindPress || ev.Kind == events.KindRelease)
}

func typingLeaf(ev events.ActionEvent) bool {
	return isKeyLeaf(ev) && ev.Key != nil
}

func removeInvalidKeyboard(seq []events.ActionEvent) *timeline {
	t := newTimeline(seq)
	for i, ev := range seq {
		if isKeyLeaf(ev) && (ev.Key == nil || !ev.Key.Resolvable()) {
			t.drop(i)
			continue
		}
		t.keep(i)
	}
	return t
}

// removeRedundantMoves drops a raw move that repeats the coordinates of the
// event emitted just before it, or of the move that follows it.
func removeRedundantMoves(seq []events.ActionEvent) *timeline {
	t := newTimeline(seq)
	for i, ev := range seq {
		if !isLeaf(ev, events.KindMove) {
			t.keep(i)
			continue
		}
		if n := len(t.out); n > 0 && ev.SamePosition(t.out[n-1]) {
			t.drop(i)
			continue
		}
		if i+1 < len(seq) && seq[i+1].Kind == events.KindMove && ev.SamePosition(seq[i+1]) {
			t.drop(i)
			continue
		}
		t.keep(i)
	}
	return t
}

// keyGroup is a balanced press/release range: every key pressed in it is
// released by its end.
type keyGroup struct {
	start, end int
	modifier   bool
}

// mergeKeyboard folds balanced press/release runs into "type" parents.
// With groupNamedKeys, groups with and without a held modifier are kept in
// separate parents so chords stay isolated from plain typing.
func mergeKeyboard(seq []events.ActionEvent, groupNamedKeys bool) *timeline {
	t := newTimeline(seq)
	i := 0
	for i < len(seq) {
		if !typingLeaf(seq[i]) {
			t.keep(i)
			i++
			continue
		}
		end := i
		for end < len(seq) && typingLeaf(seq[end]) {
			end++
		}
		mergeKeyRun(t, seq, i, end, groupNamedKeys)
		i = end
	}
	return t
}

func mergeKeyRun(t *timeline, seq []events.ActionEvent, start, end int, groupNamedKeys bool) {
	var groups []keyGroup
	held := make(map[string]int)
	groupStart, sawModifier := start, false

	flush := func() {
		emitKeyGroups(t, groups, groupNamedKeys)
		groups = groups[:0]
	}

	for j := start; j < end; j++ {
		ev := seq[j]
		id := ev.Key.Identity()
		if ev.Kind == events.KindPress {
			held[id]++
			if ev.Key.IsModifier() {
				sawModifier = true
			}
		} else {
			if held[id] == 0 {
				// Orphan release: everything since the last balanced point
				// stays raw.
				flush()
				t.keepRange(groupStart, j+1)
				clear(held)
				groupStart, sawModifier = j+1, false
				continue
			}
			held[id]--
			if held[id] == 0 {
				delete(held, id)
			}
		}
		if len(held) == 0 {
			groups = append(groups, keyGroup{start: groupStart, end: j + 1, modifier: sawModifier})
			groupStart, sawModifier = j+1, false
		}
	}
	flush()
	// Unreleased tail.
	t.keepRange(groupStart, end)
}

func emitKeyGroups(t *timeline, groups []keyGroup, groupNamedKeys bool) {
	for i := 0; i < len(groups); {
		j := i + 1
		for j < len(groups) && (!groupNamedKeys || groups[j].modifier == groups[i].modifier) {
			j++
		}
		t.collapse(groups[i].start, groups[j-1].end, events.KindType, nil)
		i = j
	}
}

// mergeScrolls folds runs of raw scrolls into one parent whose delta is the
// vector sum and whose position is the last scroll's.
func mergeScrolls(seq []events.ActionEvent) *timeline {
	t := newTimeline(seq)
	forEachRun(seq, func(ev events.ActionEvent) bool { return isLeaf(ev, events.KindScroll) }, func(start, end int) {
		if end-start < 2 {
			t.keepRange(start, end)
			return
		}
		t.collapse(start, end, events.KindScroll, func(parent *events.ActionEvent, members []events.ActionEvent) {
			last := members[len(members)-1]
			parent.X, parent.Y = last.X, last.Y
			for _, m := range members {
				parent.DX += m.DX
				parent.DY += m.DY
			}
		})
	}, t.keep)
	return t
}

// clickPair reports whether seq[i], seq[i+1] are a press and release of the
// same button.
func clickPair(seq []events.ActionEvent, i int) bool {
	if i+1 >= len(seq) {
		return false
	}
	down, up := seq[i], seq[i+1]
	return isLeaf(down, events.KindClick) && isLeaf(up, events.KindClick) &&
		down.Pressed && !up.Pressed && down.Button == up.Button
}

// mergeClicks pairs press/release into singleclicks, or two pairs within
// the recording's double-click interval and distance into a doubleclick.
// The interval is measured on recorded, the timestamps before earlier
// passes removed any time.
func mergeClicks(seq []events.ActionEvent, recorded []time.Duration, opts Options) *timeline {
	t := newTimeline(seq)
	fill := func(parent *events.ActionEvent, members []events.ActionEvent) {
		parent.X, parent.Y = members[0].X, members[0].Y
		parent.Button = members[0].Button
	}
	i := 0
	for i < len(seq) {
		if !clickPair(seq, i) {
			t.keep(i)
			i++
			continue
		}
		if clickPair(seq, i+2) && isDoubleClick(seq[i], seq[i+2], recorded[i+2]-recorded[i], opts) {
			t.collapse(i, i+4, events.KindDoubleClick, fill)
			i += 4
			continue
		}
		t.collapse(i, i+2, events.KindSingleClick, fill)
		i += 2
	}
	return t
}

func isDoubleClick(first, second events.ActionEvent, gap time.Duration, opts Options) bool {
	if first.Button != second.Button {
		return false
	}
	if gap > opts.DoubleClickInterval {
		return false
	}
	return math.Abs(second.X-first.X) <= opts.DoubleClickDistance &&
		math.Abs(second.Y-first.Y) <= opts.DoubleClickDistance
}

// forEachRun walks seq calling onRun for maximal runs matching match and
// other for every index outside a run.
func forEachRun(seq []events.ActionEvent, match func(events.ActionEvent) bool, onRun func(start, end int), other func(int)) {
	i := 0
	for i < len(seq) {
		if !match(seq[i]) {
			other(i)
			i++
			continue
		}
		end := i
		for end < len(seq) && match(seq[end]) {
			end++
		}
		onRun(i, end)
		i = end
	}
}
