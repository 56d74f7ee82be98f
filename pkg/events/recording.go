package events

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Monitor is the primary display geometry at record time.
type Monitor struct {
	Width  int
	Height int
}

// Recording describes one capture session. All fields are fixed at creation
// except Duration, which Finalize sets exactly once.
type Recording struct {
	ID              string
	StartedAt       time.Time
	Monitor         Monitor
	Platform        string
	TaskDescription string

	// DoubleClickInterval and DoubleClickDistance are sampled from the host
	// when recording starts and drive the double-click merge decision.
	DoubleClickInterval time.Duration
	DoubleClickDistance float64

	Duration  time.Duration
	Finalized bool
}

// RecordingOptions controls NewRecording.
type RecordingOptions struct {
	TaskDescription string
	Environment     Environment
	Now             func() time.Time
}

// NewRecording creates a Recording with a fresh identifier.
func NewRecording(opts RecordingOptions) (Recording, error) {
	if strings.TrimSpace(opts.TaskDescription) == "" {
		return Recording{}, errors.New("task description must not be empty")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	env := opts.Environment
	return Recording{
		ID:                  uuid.NewString(),
		StartedAt:           now().UTC(),
		Monitor:             env.Monitor,
		Platform:            env.Platform,
		TaskDescription:     strings.TrimSpace(opts.TaskDescription),
		DoubleClickInterval: env.DoubleClickInterval,
		DoubleClickDistance: env.DoubleClickDistance,
	}, nil
}

// Finalize records the derived duration. It fails if called twice.
func (r *Recording) Finalize(duration time.Duration) error {
	if r.Finalized {
		return ErrAlreadyFinalized
	}
	if duration < 0 {
		duration = 0
	}
	r.Duration = duration
	r.Finalized = true
	return nil
}

// Clock returns monotonic time relative to a recording's start.
type Clock func() time.Duration

// NewMonotonicClock returns a Clock anchored at start. time.Since uses the
// monotonic reading carried by values from time.Now.
func NewMonotonicClock(start time.Time) Clock {
	return func() time.Duration {
		return time.Since(start)
	}
}
