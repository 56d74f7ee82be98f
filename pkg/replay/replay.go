// Package replay plays a merged action tree back through an Injector.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// State is the lifecycle of one replay run.
type State string

const (
	StateReady   State = "ready"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// FrameSource supplies the current screen to the strategy.
type FrameSource interface {
	Frame(ctx context.Context) (events.ScreenFrame, error)
}

// Options configure an Engine.
type Options struct {
	Strategy Strategy
	Injector Injector
	// Frames may be nil, in which case strategies see an empty frame.
	Frames FrameSource
	// Realtime paces dispatch by the recorded gaps; otherwise events are
	// dispatched back to back.
	Realtime bool
	Sleeper  func(context.Context, time.Duration) error
	Logger   *zap.Logger
}

// Report summarizes a replay run.
type Report struct {
	State      State
	Actions    int
	Primitives int
	Elapsed    time.Duration
}

// Engine runs a single replay. It is not reusable.
type Engine struct {
	opts Options

	mu    sync.Mutex
	state State
}

// NewEngine validates opts.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Strategy == nil {
		return nil, errors.New("strategy must be provided")
	}
	if opts.Injector == nil {
		return nil, errors.New("injector must be provided")
	}
	if opts.Sleeper == nil {
		opts.Sleeper = events.Sleep
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{opts: opts, state: StateReady}, nil
}

// State reports the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) transition(from, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != from {
		return false
	}
	e.state = to
	return true
}

// Run asks the strategy for actions until it is exhausted. A rejected
// injection stops the run in StateFailed with a *RejectedError.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	if !e.transition(StateReady, StateRunning) {
		return Report{State: e.State()}, ErrAlreadyStarted
	}
	started := time.Now()
	report := Report{}
	d := &dispatcher{injector: e.opts.Injector, sleep: e.opts.Sleeper, realtime: e.opts.Realtime, logger: e.opts.Logger}

	fail := func(err error) (Report, error) {
		e.transition(StateRunning, StateFailed)
		report.State = StateFailed
		report.Primitives = d.primitives
		report.Elapsed = time.Since(started)
		e.opts.Logger.Error("replay failed", zap.Int("actions", report.Actions), zap.Error(err))
		return report, err
	}

	var prev *time.Duration
	for {
		var frame events.ScreenFrame
		if e.opts.Frames != nil {
			f, err := e.opts.Frames.Frame(ctx)
			if err != nil {
				return fail(fmt.Errorf("read current frame: %w", err))
			}
			frame = f
		}
		ev, ok, err := e.opts.Strategy.Next(ctx, frame)
		if err != nil {
			return fail(fmt.Errorf("strategy: %w", err))
		}
		if !ok {
			break
		}
		if err := d.dispatch(ctx, ev, prev); err != nil {
			return fail(err)
		}
		at := ev.Timestamp
		prev = &at
		report.Actions++
	}

	e.transition(StateRunning, StateDone)
	report.State = StateDone
	report.Primitives = d.primitives
	report.Elapsed = time.Since(started)
	e.opts.Logger.Info("replay complete",
		zap.Int("actions", report.Actions),
		zap.Int("primitives", report.Primitives),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

type dispatcher struct {
	injector   Injector
	sleep      func(context.Context, time.Duration) error
	realtime   bool
	logger     *zap.Logger
	primitives int
}

// dispatch waits for the gap since prev, then plays ev. Children are played
// instead of their parent, each paced by the gap to its previous sibling.
func (d *dispatcher) dispatch(ctx context.Context, ev events.ActionEvent, prev *time.Duration) error {
	if d.realtime && prev != nil {
		if err := d.sleep(ctx, ev.Timestamp-*prev); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ev.IsLeaf() {
		var childPrev *time.Duration
		for _, child := range ev.Children {
			if err := d.dispatch(ctx, child, childPrev); err != nil {
				return err
			}
			at := child.Timestamp
			childPrev = &at
		}
		return nil
	}
	if err := d.inject(ctx, ev); err != nil {
		return &RejectedError{Event: ev, Reason: err.Error(), Err: err}
	}
	return nil
}

// inject delivers a leaf. Synthesized kinds arriving without children, as
// a strategy may produce, are expanded into primitives.
func (d *dispatcher) inject(ctx context.Context, ev events.ActionEvent) error {
	calls := d.primitivesFor(ev)
	if len(calls) == 0 {
		return fmt.Errorf("no primitive for %s event", ev.Kind)
	}
	for _, call := range calls {
		if err := call(ctx); err != nil {
			return err
		}
		d.primitives++
	}
	return nil
}

func (d *dispatcher) primitivesFor(ev events.ActionEvent) []func(context.Context) error {
	in := d.injector
	button := Target{Button: ev.Button, X: ev.X, Y: ev.Y}
	click := []func(context.Context) error{
		func(ctx context.Context) error { return in.Move(ctx, ev.X, ev.Y) },
		func(ctx context.Context) error { return in.Press(ctx, button) },
		func(ctx context.Context) error { return in.Release(ctx, button) },
	}
	switch ev.Kind {
	case events.KindMove:
		return []func(context.Context) error{func(ctx context.Context) error { return in.Move(ctx, ev.X, ev.Y) }}
	case events.KindScroll:
		return []func(context.Context) error{func(ctx context.Context) error { return in.Scroll(ctx, ev.X, ev.Y, ev.DX, ev.DY) }}
	case events.KindClick:
		if ev.Pressed {
			return []func(context.Context) error{func(ctx context.Context) error { return in.Press(ctx, button) }}
		}
		return []func(context.Context) error{func(ctx context.Context) error { return in.Release(ctx, button) }}
	case events.KindPress, events.KindRelease:
		if ev.Key == nil {
			return nil
		}
		key := Target{Key: ev.Key}
		if ev.Kind == events.KindPress {
			return []func(context.Context) error{func(ctx context.Context) error { return in.Press(ctx, key) }}
		}
		return []func(context.Context) error{func(ctx context.Context) error { return in.Release(ctx, key) }}
	case events.KindSingleClick:
		return click
	case events.KindDoubleClick:
		return append(click, click[1:]...)
	case events.KindType:
		if ev.Key == nil {
			return nil
		}
		return []func(context.Context) error{func(ctx context.Context) error { return in.Type(ctx, ev.Key.Text()) }}
	default:
		return nil
	}
}
