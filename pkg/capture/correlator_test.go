package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
	"github.com/offlinefirst/desktop-recorder/pkg/queue"
	"github.com/offlinefirst/desktop-recorder/pkg/stopseq"
	"github.com/offlinefirst/desktop-recorder/pkg/storage"
)

func newTestCorrelator(t *testing.T, redactor *events.Redactor, configure ...func(*CorrelatorOptions)) (*Correlator, map[storage.Kind]*queue.Queue[storage.Record]) {
	t.Helper()
	queues := map[storage.Kind]*queue.Queue[storage.Record]{
		storage.KindAction: queue.New[storage.Record](),
		storage.KindWindow: queue.New[storage.Record](),
		storage.KindScreen: queue.New[storage.Record](),
	}
	opts := CorrelatorOptions{
		RecordingID: "rec-1",
		Actions:     queues[storage.KindAction],
		Windows:     queues[storage.KindWindow],
		Screens:     queues[storage.KindScreen],
		Redactor:    redactor,
		Control:     NewController(nil),
		Logger:      zap.NewNop(),
	}
	for _, fn := range configure {
		fn(&opts)
	}
	c, err := NewCorrelator(opts)
	require.NoError(t, err)
	return c, queues
}

func TestCorrelatorForwardsSnapshotsOncePerTimestamp(t *testing.T) {
	c, queues := newTestCorrelator(t, nil)

	feed := []events.RawEvent{
		events.WindowEvent{At: 1, Title: "A"},
		events.ScreenFrame{At: 2, PNG: []byte{1}},
		events.PointerEvent{At: 3, Action: events.PointerMove, X: 1, Y: 1},
		events.PointerEvent{At: 4, Action: events.PointerMove, X: 2, Y: 2},
		events.WindowEvent{At: 5, Title: "B"},
		events.PointerEvent{At: 6, Action: events.PointerMove, X: 3, Y: 3},
	}
	for _, ev := range feed {
		require.NoError(t, c.Handle(ev))
	}

	assert.Equal(t, 3, queues[storage.KindAction].Size())
	assert.Equal(t, 2, queues[storage.KindWindow].Size())
	assert.Equal(t, 1, queues[storage.KindScreen].Size())

	var last storage.Record
	for queues[storage.KindAction].Size() > 0 {
		var err error
		last, err = queues[storage.KindAction].Get(context.Background())
		require.NoError(t, err)
	}
	action := last.Fields.(events.ActionEvent)
	assert.Equal(t, time.Duration(5), action.WindowTimestamp)
	assert.Equal(t, time.Duration(2), action.ScreenTimestamp)
	assert.Equal(t, "rec-1", last.RecordingID)
}

func TestCorrelatorRedactsWindowTitles(t *testing.T) {
	redactor, err := events.NewRedactor(true, nil)
	require.NoError(t, err)
	c, queues := newTestCorrelator(t, &redactor)

	require.NoError(t, c.Handle(events.WindowEvent{At: 1, Title: "Inbox - jane@example.com"}))
	require.NoError(t, c.Handle(events.ScreenFrame{At: 2, PNG: []byte{1}}))
	require.NoError(t, c.Handle(events.PointerEvent{At: 3, Action: events.PointerMove}))

	rec, err := queues[storage.KindWindow].Get(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, rec.Fields.(events.WindowEvent).Title, "jane@example.com")
}

func drainActions(t *testing.T, q *queue.Queue[storage.Record]) []events.ActionEvent {
	t.Helper()
	var out []events.ActionEvent
	for q.Size() > 0 {
		rec, err := q.Get(context.Background())
		require.NoError(t, err)
		action := rec.Fields.(events.ActionEvent)
		assert.Equal(t, rec.Timestamp, action.Timestamp)
		out = append(out, action)
	}
	return out
}

func TestCorrelatorNeverReferencesNewerSnapshots(t *testing.T) {
	c, queues := newTestCorrelator(t, nil)

	feed := []events.RawEvent{
		events.WindowEvent{At: 100, Title: "A"},
		events.ScreenFrame{At: 100, PNG: []byte{1}},
		events.PointerEvent{At: 90, Action: events.PointerMove, X: 1, Y: 1},
		events.PointerEvent{At: 95, Action: events.PointerMove, X: 2, Y: 2},
		events.WindowEvent{At: 120, Title: "B"},
		events.PointerEvent{At: 110, Action: events.PointerMove, X: 3, Y: 3},
		events.PointerEvent{At: 130, Action: events.PointerMove, X: 4, Y: 4},
	}
	for _, ev := range feed {
		require.NoError(t, c.Handle(ev))
	}

	actions := drainActions(t, queues[storage.KindAction])
	require.Len(t, actions, 4)
	var stamps []time.Duration
	for i, action := range actions {
		assert.LessOrEqual(t, action.WindowTimestamp, action.Timestamp)
		assert.LessOrEqual(t, action.ScreenTimestamp, action.Timestamp)
		if i > 0 {
			assert.Greater(t, action.Timestamp, actions[i-1].Timestamp)
		}
		stamps = append(stamps, action.Timestamp)
	}
	assert.Equal(t, []time.Duration{100, 101, 120, 130}, stamps)
	assert.Equal(t, 3, c.Stats().Restamped)
}

func TestCorrelatorSeparatesEqualSourceTimes(t *testing.T) {
	c, queues := newTestCorrelator(t, nil)
	require.NoError(t, c.Handle(events.WindowEvent{At: 1}))
	require.NoError(t, c.Handle(events.ScreenFrame{At: 1, PNG: []byte{1}}))

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Handle(events.PointerEvent{At: 50, Action: events.PointerMove, X: float64(i)}))
	}

	actions := drainActions(t, queues[storage.KindAction])
	require.Len(t, actions, 3)
	assert.Equal(t, time.Duration(50), actions[0].Timestamp)
	assert.Equal(t, time.Duration(51), actions[1].Timestamp)
	assert.Equal(t, time.Duration(52), actions[2].Timestamp)
}

func TestCorrelatorStampsArrivalOrderAcrossHeldKeys(t *testing.T) {
	c, queues := newTestCorrelator(t, nil)
	require.NoError(t, c.Handle(events.WindowEvent{At: 1}))
	require.NoError(t, c.Handle(events.ScreenFrame{At: 1, PNG: []byte{1}}))

	require.NoError(t, c.Handle(events.KeyEvent{At: 10, Action: events.KeyPress, Key: events.CharKey("a")}))
	require.NoError(t, c.Handle(events.PointerEvent{At: 5, Action: events.PointerMove, X: 1, Y: 1}))
	require.NoError(t, c.Handle(events.KeyEvent{At: 12, Action: events.KeyRelease, Key: events.CharKey("a")}))
	require.NoError(t, c.Flush())

	actions := drainActions(t, queues[storage.KindAction])
	require.Len(t, actions, 3)
	byKind := map[events.Kind]time.Duration{}
	for _, a := range actions {
		byKind[a.Kind] = a.Timestamp
	}
	assert.Less(t, byKind[events.KindPress], byKind[events.KindMove])
	assert.Less(t, byKind[events.KindMove], byKind[events.KindRelease])
}

func TestCorrelatorHoldsChordModifierUntilResolved(t *testing.T) {
	control := NewController(nil)
	c, queues := newTestCorrelator(t, nil, func(o *CorrelatorOptions) {
		o.Chord = stopseq.NewChordDetector("ctrl", "q")
		o.Control = control
	})
	require.NoError(t, c.Handle(events.WindowEvent{At: 1}))
	require.NoError(t, c.Handle(events.ScreenFrame{At: 1, PNG: []byte{1}}))

	for i, ev := range []events.KeyEvent{
		{Action: events.KeyPress, Key: events.NamedKey("ctrl")},
		{Action: events.KeyPress, Key: events.CharKey("a")},
		{Action: events.KeyRelease, Key: events.CharKey("a")},
		{Action: events.KeyPress, Key: events.CharKey("b")},
		{Action: events.KeyRelease, Key: events.CharKey("b")},
		{Action: events.KeyPress, Key: events.CharKey("q")},
	} {
		ev.At = time.Duration(10 + i)
		require.NoError(t, c.Handle(ev))
	}
	assert.Equal(t, ReasonStopChord, control.Reason())
	require.NoError(t, c.Flush())

	actions := drainActions(t, queues[storage.KindAction])
	require.Len(t, actions, 4)
	for _, a := range actions {
		assert.NotEqual(t, "ctrl", a.Key.Identity())
		assert.NotEqual(t, "q", a.Key.Identity())
	}
	assert.Equal(t, 2, c.Stats().Stripped)
}

func TestCorrelatorReleasesModifierAfterItsRelease(t *testing.T) {
	c, queues := newTestCorrelator(t, nil, func(o *CorrelatorOptions) {
		o.Chord = stopseq.NewChordDetector("ctrl", "q")
	})
	require.NoError(t, c.Handle(events.WindowEvent{At: 1}))
	require.NoError(t, c.Handle(events.ScreenFrame{At: 1, PNG: []byte{1}}))

	require.NoError(t, c.Handle(events.KeyEvent{At: 10, Action: events.KeyPress, Key: events.NamedKey("ctrl")}))
	require.NoError(t, c.Handle(events.KeyEvent{At: 11, Action: events.KeyPress, Key: events.CharKey("c")}))
	require.NoError(t, c.Handle(events.KeyEvent{At: 12, Action: events.KeyRelease, Key: events.CharKey("c")}))
	assert.Equal(t, 0, queues[storage.KindAction].Size(), "held modifier blocks forwarding")

	require.NoError(t, c.Handle(events.KeyEvent{At: 13, Action: events.KeyRelease, Key: events.NamedKey("ctrl")}))
	assert.Equal(t, 2, queues[storage.KindAction].Size())
	assert.Equal(t, 0, c.Stats().Stripped)
}

func TestCorrelatorHoldsBackTwoKeyEvents(t *testing.T) {
	c, queues := newTestCorrelator(t, nil)
	require.NoError(t, c.Handle(events.WindowEvent{At: 1}))
	require.NoError(t, c.Handle(events.ScreenFrame{At: 2, PNG: []byte{1}}))

	require.NoError(t, c.Handle(events.KeyEvent{At: 3, Action: events.KeyPress, Key: events.CharKey("a")}))
	require.NoError(t, c.Handle(events.KeyEvent{At: 4, Action: events.KeyRelease, Key: events.CharKey("a")}))
	assert.Equal(t, 0, queues[storage.KindAction].Size())

	require.NoError(t, c.Handle(events.KeyEvent{At: 5, Action: events.KeyPress, Key: events.CharKey("b")}))
	assert.Equal(t, 1, queues[storage.KindAction].Size())

	require.NoError(t, c.Flush())
	assert.Equal(t, 3, queues[storage.KindAction].Size())
	assert.Equal(t, 3, c.Stats().Inputs)
}

func TestWriterRetriesTransientFailures(t *testing.T) {
	sink := &mockSink{}
	sink.On("Append", mock.Anything, mock.Anything).Return(errors.New("database is locked")).Twice()
	sink.On("Append", mock.Anything, mock.Anything).Return(nil)
	sink.On("Close").Return(nil)

	q := queue.New[storage.Record]()
	perf := NewPerfRecorder("rec-1", nil, zap.NewNop())
	w, err := NewWriter(WriterOptions{
		Kind:          storage.KindAction,
		Queue:         q,
		Open:          func(context.Context) (storage.Sink, error) { return sink, nil },
		Perf:          perf,
		Clock:         func() time.Duration { return 10 * time.Millisecond },
		Retries:       5,
		RetryInterval: time.Millisecond,
		Logger:        zap.NewNop(),
	})
	require.NoError(t, err)

	require.NoError(t, q.Put(storage.Record{Kind: storage.KindAction, RecordingID: "rec-1", Timestamp: 4 * time.Millisecond}))
	w.ReportBacklog(q.Size())
	q.Close()

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 1, w.Written())
	sink.AssertNumberOfCalls(t, "Append", 3)
	sink.AssertCalled(t, "Close")

	perf.Close()
	require.NoError(t, perf.Run(context.Background()))
	summary := perf.Summary()[storage.KindAction]
	assert.Equal(t, 1, summary.Count)
	assert.Equal(t, 6*time.Millisecond, summary.Max)
}

func TestWriterRecoversFromPanickingSink(t *testing.T) {
	sink := &mockSink{}
	sink.On("Append", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("driver bug") })
	sink.On("Close").Return(nil)

	q := queue.New[storage.Record]()
	require.NoError(t, q.Put(storage.Record{Kind: storage.KindWindow}))
	q.Close()

	w, err := NewWriter(WriterOptions{
		Kind:   storage.KindWindow,
		Queue:  q,
		Open:   func(context.Context) (storage.Sink, error) { return sink, nil },
		Clock:  func() time.Duration { return 0 },
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	err = w.Run(context.Background())
	var failed *WriterFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, storage.KindWindow, failed.Kind)
	sink.AssertCalled(t, "Close")
}

func TestWriterOpenFailure(t *testing.T) {
	q := queue.New[storage.Record]()
	w, err := NewWriter(WriterOptions{
		Kind:  storage.KindScreen,
		Queue: q,
		Open: func(context.Context) (storage.Sink, error) {
			return nil, errors.New("no such database")
		},
		Clock: func() time.Duration { return 0 },
	})
	require.NoError(t, err)

	err = w.Run(context.Background())
	var failed *WriterFailedError
	require.True(t, errors.As(err, &failed))
}
