package events

import (
	"context"
	"time"
)

// Source emits raw observations of one event class. Next blocks until an
// event is available and returns ErrSourceClosed once the source is
// exhausted. Implementations must return promptly when ctx is cancelled.
type Source interface {
	Next(ctx context.Context) (RawEvent, error)
}

// SourceFunc adapts a function literal to the Source interface.
type SourceFunc func(ctx context.Context) (RawEvent, error)

// Next calls the underlying function.
func (f SourceFunc) Next(ctx context.Context) (RawEvent, error) {
	return f(ctx)
}

// Step is one scripted observation emitted after Delay.
type Step struct {
	Delay time.Duration
	Event RawEvent
}

// ScriptedOptions controls a ScriptedSource.
type ScriptedOptions struct {
	Steps []Step
	Clock Clock
	// Hold keeps the source open after the last step until ctx is cancelled,
	// mimicking a device that simply stops producing events.
	Hold    bool
	Sleeper func(context.Context, time.Duration) error
}

// ScriptedSource replays a fixed timeline, stamping each event with the
// clock at emission time. It is not safe for concurrent use; each source is
// owned by a single reader.
type ScriptedSource struct {
	steps   []Step
	clock   Clock
	hold    bool
	sleeper func(context.Context, time.Duration) error
	next    int
}

// NewScriptedSource constructs a source for a scripted timeline.
func NewScriptedSource(opts ScriptedOptions) *ScriptedSource {
	clock := opts.Clock
	if clock == nil {
		clock = NewMonotonicClock(time.Now())
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = Sleep
	}
	return &ScriptedSource{
		steps:   append([]Step(nil), opts.Steps...),
		clock:   clock,
		hold:    opts.Hold,
		sleeper: sleeper,
	}
}

// Next emits the next scripted event.
func (s *ScriptedSource) Next(ctx context.Context) (RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.steps) {
		if !s.hold {
			return nil, ErrSourceClosed
		}
		<-ctx.Done()
		return nil, ErrSourceClosed
	}
	step := s.steps[s.next]
	if err := s.sleeper(ctx, step.Delay); err != nil {
		return nil, err
	}
	s.next++
	return WithTime(step.Event, s.clock()), nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
