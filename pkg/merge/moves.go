package merge

import (
	"image"
	"math"
	"sort"
	"time"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// DiffOptions enables the screen-diff-aware move merge. A move is "far"
// when the nearest pixel that changed between its frame and the next frame
// is more than Threshold pixels away. Only runs of at least Consecutive far
// moves are merged; moves near a change stay granular.
type DiffOptions struct {
	Threshold   float64
	Consecutive int
}

// mergeMoves folds runs of raw moves into one parent at the final
// coordinates.
func mergeMoves(seq []events.ActionEvent, diff *frameDiff) *timeline {
	t := newTimeline(seq)
	forEachRun(seq, func(ev events.ActionEvent) bool { return isLeaf(ev, events.KindMove) }, func(start, end int) {
		if diff == nil {
			collapseMoves(t, start, end)
			return
		}
		mergeFarMoves(t, seq, start, end, diff)
	}, t.keep)
	return t
}

func collapseMoves(t *timeline, start, end int) {
	if end-start < 2 {
		t.keepRange(start, end)
		return
	}
	t.collapse(start, end, events.KindMove, func(parent *events.ActionEvent, members []events.ActionEvent) {
		last := members[len(members)-1]
		parent.X, parent.Y = last.X, last.Y
	})
}

func mergeFarMoves(t *timeline, seq []events.ActionEvent, start, end int, diff *frameDiff) {
	i := start
	for i < end {
		if !diff.far(seq[i]) {
			t.keep(i)
			i++
			continue
		}
		j := i
		for j < end && diff.far(seq[j]) {
			j++
		}
		if j-i >= diff.opts.Consecutive {
			collapseMoves(t, i, j)
		} else {
			t.keepRange(i, j)
		}
		i = j
	}
}

// frameDiff caches decoded frames and changed-pixel sets between
// consecutive frames.
type frameDiff struct {
	opts    DiffOptions
	frames  []events.ScreenFrame
	decoded map[time.Duration]image.Image
	changed map[time.Duration][]image.Point
}

func newFrameDiff(opts DiffOptions, frames []events.ScreenFrame) *frameDiff {
	sorted := append([]events.ScreenFrame(nil), frames...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })
	if opts.Consecutive < 1 {
		opts.Consecutive = 1
	}
	return &frameDiff{
		opts:    opts,
		frames:  sorted,
		decoded: make(map[time.Duration]image.Image),
		changed: make(map[time.Duration][]image.Point),
	}
}

func (d *frameDiff) far(ev events.ActionEvent) bool {
	return d.nearestChange(ev) > d.opts.Threshold
}

// nearestChange returns the distance from the move to the closest pixel
// that differs between the move's frame and the following frame, or +Inf
// when nothing changed or the frames are unavailable.
func (d *frameDiff) nearestChange(ev events.ActionEvent) float64 {
	points := d.changedAfter(ev.ScreenTimestamp)
	best := math.Inf(1)
	for _, p := range points {
		dist := math.Hypot(float64(p.X)-ev.X, float64(p.Y)-ev.Y)
		if dist < best {
			best = dist
		}
	}
	return best
}

func (d *frameDiff) changedAfter(at time.Duration) []image.Point {
	if points, ok := d.changed[at]; ok {
		return points
	}
	idx := sort.Search(len(d.frames), func(i int) bool { return d.frames[i].At >= at })
	var points []image.Point
	if idx < len(d.frames)-1 && d.frames[idx].At == at {
		points = changedPixels(d.image(d.frames[idx]), d.image(d.frames[idx+1]))
	}
	d.changed[at] = points
	return points
}

func (d *frameDiff) image(frame events.ScreenFrame) image.Image {
	if img, ok := d.decoded[frame.At]; ok {
		return img
	}
	img, err := frame.Image()
	if err != nil {
		img = nil
	}
	d.decoded[frame.At] = img
	return img
}

// changedPixels lists pixels that differ within the overlap of a and b.
func changedPixels(a, b image.Image) []image.Point {
	if a == nil || b == nil {
		return nil
	}
	bounds := a.Bounds().Intersect(b.Bounds())
	var points []image.Point
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r1, g1, b1, a1 := a.At(x, y).RGBA()
			r2, g2, b2, a2 := b.At(x, y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				points = append(points, image.Point{X: x, Y: y})
			}
		}
	}
	return points
}
