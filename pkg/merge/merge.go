// Package merge compresses a flat, time-ordered ActionEvent stream into a
// tree of semantic actions through an ordered pipeline of pure passes run
// to a fixed point.
package merge

import (
	"time"

	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
	"github.com/offlinefirst/desktop-recorder/pkg/storage"
)

const defaultMaxIterations = 10

// Options controls a merge run. DoubleClickInterval and
// DoubleClickDistance come from the Recording being merged.
type Options struct {
	DoubleClickInterval time.Duration
	DoubleClickDistance float64
	GroupNamedKeys      bool
	MaxIterations       int
	// DiffAware enables the screen-diff-aware move merge when non-nil.
	DiffAware *DiffOptions
	Logger    *zap.Logger
}

// OptionsFor returns options carrying rec's double-click thresholds.
func OptionsFor(rec events.Recording) Options {
	return Options{
		DoubleClickInterval: rec.DoubleClickInterval,
		DoubleClickDistance: rec.DoubleClickDistance,
	}
}

// Input is the persisted stream of one recording.
type Input struct {
	Actions []events.ActionEvent
	Windows []events.WindowEvent
	Frames  []events.ScreenFrame
}

// InputFrom adapts a loaded session.
func InputFrom(session storage.Session) Input {
	return Input{Actions: session.Actions, Windows: session.Windows, Frames: session.Frames}
}

// Result is the merged tree plus the snapshots it still references.
type Result struct {
	Actions    []events.ActionEvent
	Windows    []events.WindowEvent
	Frames     []events.ScreenFrame
	Iterations int
	// Removed is the time each pass absorbed or discarded, summed over
	// iterations.
	Removed map[string]time.Duration
}

// TotalRemoved sums Removed over every pass.
func (r Result) TotalRemoved() time.Duration {
	var total time.Duration
	for _, d := range r.Removed {
		total += d
	}
	return total
}

type pass struct {
	name string
	run  func([]events.ActionEvent) *timeline
}

// Engine runs the merge pipeline. It holds no state between runs.
type Engine struct {
	opts Options
}

// New builds an engine for opts.
func New(opts Options) *Engine {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{opts: opts}
}

// pipeline builds the ordered passes. recorded holds, for each element of
// the sequence being merged, the timestamp it had before any time was
// removed; the click pass decides double-clicks on those.
func (e *Engine) pipeline(frames []events.ScreenFrame, recorded *[]time.Duration) []pass {
	var diff *frameDiff
	if e.opts.DiffAware != nil {
		diff = newFrameDiff(*e.opts.DiffAware, frames)
	}
	return []pass{
		{name: PassInvalidKeyboard, run: removeInvalidKeyboard},
		{name: PassRedundantMoves, run: removeRedundantMoves},
		{name: PassKeyboard, run: func(seq []events.ActionEvent) *timeline {
			return mergeKeyboard(seq, e.opts.GroupNamedKeys)
		}},
		{name: PassMoves, run: func(seq []events.ActionEvent) *timeline {
			return mergeMoves(seq, diff)
		}},
		{name: PassScrolls, run: mergeScrolls},
		{name: PassClicks, run: func(seq []events.ActionEvent) *timeline {
			return mergeClicks(seq, *recorded, e.opts)
		}},
	}
}

// Merge runs every pass in order, repeating the pipeline until an iteration
// changes nothing or MaxIterations is reached. Timestamps are checked for
// strict monotonicity after every pass.
func (e *Engine) Merge(in Input) (Result, error) {
	if len(in.Actions) == 0 {
		return Result{}, ErrNoEvents
	}
	if err := checkMonotonic("input", in.Actions); err != nil {
		return Result{}, err
	}

	res := Result{Removed: make(map[string]time.Duration)}
	seq := append([]events.ActionEvent(nil), in.Actions...)
	recorded := make([]time.Duration, len(seq))
	for i, ev := range seq {
		recorded[i] = ev.Timestamp
	}
	passes := e.pipeline(in.Frames, &recorded)

	converged := false
	for !converged && res.Iterations < e.opts.MaxIterations {
		res.Iterations++
		before := len(seq)
		for _, p := range passes {
			tl := p.run(seq)
			out, removed := tl.result()
			if err := checkMonotonic(p.name, out); err != nil {
				e.opts.Logger.Error("merge invariant violated", zap.String("pass", p.name), zap.Error(err))
				return Result{}, err
			}
			if removed > 0 || len(out) != len(seq) {
				e.opts.Logger.Debug("merge pass",
					zap.Int("iteration", res.Iterations),
					zap.String("pass", p.name),
					zap.Int("in", len(seq)),
					zap.Int("out", len(out)),
					zap.Duration("removed", removed),
				)
			}
			res.Removed[p.name] += removed
			recorded = tl.carry(recorded)
			seq = out
		}
		converged = len(seq) == before
	}
	if !converged {
		e.opts.Logger.Warn("merge stopped at iteration limit", zap.Int("iterations", res.Iterations))
	}

	res.Actions = seq
	res.Windows, res.Frames = prune(seq, in.Windows, in.Frames)
	e.opts.Logger.Info("merge complete",
		zap.Int("raw", len(in.Actions)),
		zap.Int("merged", len(seq)),
		zap.Int("iterations", res.Iterations),
		zap.Duration("removed", res.TotalRemoved()),
	)
	return res, nil
}

// prune keeps only snapshots referenced by a top-level event.
func prune(seq []events.ActionEvent, windows []events.WindowEvent, frames []events.ScreenFrame) ([]events.WindowEvent, []events.ScreenFrame) {
	windowRefs := make(map[time.Duration]struct{}, len(seq))
	screenRefs := make(map[time.Duration]struct{}, len(seq))
	for _, ev := range seq {
		windowRefs[ev.WindowTimestamp] = struct{}{}
		screenRefs[ev.ScreenTimestamp] = struct{}{}
	}
	var keptWindows []events.WindowEvent
	for _, w := range windows {
		if _, ok := windowRefs[w.At]; ok {
			keptWindows = append(keptWindows, w)
		}
	}
	var keptFrames []events.ScreenFrame
	for _, f := range frames {
		if _, ok := screenRefs[f.At]; ok {
			keptFrames = append(keptFrames, f)
		}
	}
	return keptWindows, keptFrames
}
