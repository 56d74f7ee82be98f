// Package storage defines the Storage Sink consumed by capture writers and
// the read side used by merging and replay.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// Kind names the persisted stream a record belongs to.
type Kind string

const (
	KindAction      Kind = "action"
	KindWindow      Kind = "window"
	KindScreen      Kind = "screen"
	KindPerformance Kind = "performance"
)

// ErrNotFound is returned when a requested recording does not exist.
var ErrNotFound = errors.New("recording not found")

// Record is one row appended to a Sink. Fields holds an events.ActionEvent,
// events.WindowEvent, events.ScreenFrame, or PerfStat matching Kind.
type Record struct {
	Kind        Kind
	RecordingID string
	Timestamp   time.Duration
	Fields      any
}

// PerfStat is the latency of persisting one event.
type PerfStat struct {
	EventKind Kind
	Start     time.Duration
	End       time.Duration
}

// Latency is the time from capture to persistence.
func (p PerfStat) Latency() time.Duration { return p.End - p.Start }

// Sink appends records. Durability only needs to be eventual.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// Opener opens a private Sink connection; each writer owns one.
type Opener func(ctx context.Context) (Sink, error)

// Session is everything persisted for one recording.
type Session struct {
	Recording events.Recording
	Actions   []events.ActionEvent
	Windows   []events.WindowEvent
	Frames    []events.ScreenFrame
	Stats     []PerfStat
}

// Recordings creates, finalizes, and loads recordings.
type Recordings interface {
	CreateRecording(ctx context.Context, rec events.Recording) error
	FinalizeRecording(ctx context.Context, rec events.Recording) error
	LoadSession(ctx context.Context, recordingID string) (Session, error)
	LatestRecordingID(ctx context.Context) (string, error)
}
