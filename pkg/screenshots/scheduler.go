package screenshots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// Options configure the periodic screen Source.
type Options struct {
	Interval     time.Duration
	MaxPerMinute int
	Clock        events.Clock
	Provider     CaptureProvider
	Sleeper      func(context.Context, time.Duration) error
}

// Scheduler is an events.Source emitting a ScreenFrame every interval,
// throttled to MaxPerMinute.
type Scheduler struct {
	interval time.Duration
	clock    events.Clock
	provider CaptureProvider
	sleeper  func(context.Context, time.Duration) error

	next    time.Duration
	started bool
}

var _ events.Source = (*Scheduler)(nil)

// NewScheduler validates options and returns a scheduler instance.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if opts.MaxPerMinute <= 0 {
		return nil, errors.New("max per minute must be positive")
	}
	interval := opts.Interval
	if floor := time.Minute / time.Duration(opts.MaxPerMinute); interval < floor {
		interval = floor
	}
	clock := opts.Clock
	if clock == nil {
		clock = events.NewMonotonicClock(time.Now())
	}
	provider := opts.Provider
	if provider == nil {
		provider = DefaultProvider(0, 0)
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = events.Sleep
	}
	return &Scheduler{
		interval: interval,
		clock:    clock,
		provider: provider,
		sleeper:  sleeper,
	}, nil
}

// Interval returns the effective capture interval after throttling.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Next waits for the next scheduled capture and grabs a frame. The first
// frame is taken immediately.
func (s *Scheduler) Next(ctx context.Context) (events.RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock()
	if !s.started {
		s.started = true
		s.next = now
	}
	if wait := s.next - now; wait > 0 {
		if err := s.sleeper(ctx, wait); err != nil {
			return nil, err
		}
	}
	s.next += s.interval

	capture, err := s.provider.Grab(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture frame: %w", err)
	}
	frame, err := frameFrom(capture, s.clock())
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// FrameGrabber serves the current screen to the replay engine.
type FrameGrabber struct {
	provider CaptureProvider
	clock    events.Clock
}

// NewFrameGrabber wraps provider; clock stamps the returned frames.
func NewFrameGrabber(provider CaptureProvider, clock events.Clock) *FrameGrabber {
	if provider == nil {
		provider = DefaultProvider(0, 0)
	}
	if clock == nil {
		clock = events.NewMonotonicClock(time.Now())
	}
	return &FrameGrabber{provider: provider, clock: clock}
}

// Frame grabs the current screen contents.
func (g *FrameGrabber) Frame(ctx context.Context) (events.ScreenFrame, error) {
	capture, err := g.provider.Grab(ctx)
	if err != nil {
		return events.ScreenFrame{}, fmt.Errorf("capture frame: %w", err)
	}
	return frameFrom(capture, g.clock())
}

func frameFrom(capture FrameCapture, at time.Duration) (events.ScreenFrame, error) {
	if len(capture.PNG) == 0 {
		return events.ScreenFrame{}, ErrEmptyFrame
	}
	return events.ScreenFrame{
		At:     at,
		PNG:    capture.PNG,
		Width:  capture.Metadata.Width,
		Height: capture.Metadata.Height,
	}, nil
}
