package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
	"github.com/offlinefirst/desktop-recorder/pkg/storage"
)

// memStore is an in-memory Sink and Recordings shared by every writer.
type memStore struct {
	mu         sync.Mutex
	records    []storage.Record
	created    []events.Recording
	finalized  []events.Recording
	closeCalls int
}

func (m *memStore) Append(_ context.Context, rec storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

func (m *memStore) CreateRecording(_ context.Context, rec events.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, rec)
	return nil
}

func (m *memStore) FinalizeRecording(_ context.Context, rec events.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = append(m.finalized, rec)
	return nil
}

func (m *memStore) LoadSession(context.Context, string) (storage.Session, error) {
	return storage.Session{}, storage.ErrNotFound
}

func (m *memStore) LatestRecordingID(context.Context) (string, error) {
	return "", storage.ErrNotFound
}

func (m *memStore) opener() storage.Opener {
	return func(context.Context) (storage.Sink, error) { return m, nil }
}

func (m *memStore) byKind(kind storage.Kind) []storage.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Record
	for _, rec := range m.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Append(ctx context.Context, rec storage.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

// tickClock advances one millisecond per call and is safe for concurrent use.
func tickClock() events.Clock {
	var n atomic.Int64
	return func() time.Duration {
		return time.Duration(n.Add(1)) * time.Millisecond
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func press(id string) events.KeyEvent {
	return events.KeyEvent{Action: events.KeyPress, Key: events.ParseKey(id)}
}

func release(id string) events.KeyEvent {
	return events.KeyEvent{Action: events.KeyRelease, Key: events.ParseKey(id)}
}

func scripted(clock events.Clock, raws ...events.RawEvent) events.Source {
	steps := make([]events.Step, 0, len(raws))
	for _, ev := range raws {
		steps = append(steps, events.Step{Event: ev})
	}
	return events.NewScriptedSource(events.ScriptedOptions{Steps: steps, Clock: clock, Hold: true, Sleeper: noSleep})
}

func testRecording(t *testing.T) events.Recording {
	t.Helper()
	rec, err := events.NewRecording(events.RecordingOptions{TaskDescription: "capture test"})
	require.NoError(t, err)
	return rec
}

func snapshots() []events.RawEvent {
	return []events.RawEvent{
		events.WindowEvent{Title: "Notes", Width: 800, Height: 600},
		events.ScreenFrame{PNG: []byte{1}, Width: 1, Height: 1},
	}
}

func TestRunStopsOnStopSequenceAndDrains(t *testing.T) {
	store := &memStore{}
	clock := tickClock()
	raws := append(snapshots(),
		events.PointerEvent{Action: events.PointerMove, X: 1, Y: 1},
		press("a"), release("a"),
		press("x"), press("y"), press("z"),
	)

	summary, err := Run(context.Background(), Options{
		Recording:     testRecording(t),
		Recordings:    store,
		Open:          store.opener(),
		Sources:       []events.Source{scripted(clock, raws...)},
		StopSequences: [][]string{{"x", "y", "z"}},
		RetryInterval: time.Millisecond,
		Clock:         clock,
		Logger:        zap.NewNop(),
	})
	require.NoError(t, err)

	assert.Equal(t, ReasonStopSequence, summary.Termination)
	assert.True(t, summary.Recording.Finalized)
	assert.Greater(t, summary.Recording.Duration, time.Duration(0))
	assert.Equal(t, 6, summary.Persisted[storage.KindAction])
	assert.Equal(t, 1, summary.Persisted[storage.KindWindow])
	assert.Equal(t, 1, summary.Persisted[storage.KindScreen])
	assert.Len(t, store.byKind(storage.KindAction), 6)
	assert.Len(t, store.byKind(storage.KindPerformance), 8)
	assert.Equal(t, 6, summary.Latency[storage.KindAction].Count)

	require.Len(t, store.created, 1)
	require.Len(t, store.finalized, 1)
	assert.Equal(t, 4, store.closeCalls, "three writers and the performance recorder close their sinks")

	for _, rec := range store.byKind(storage.KindAction) {
		action := rec.Fields.(events.ActionEvent)
		assert.LessOrEqual(t, action.WindowTimestamp, action.Timestamp)
		assert.LessOrEqual(t, action.ScreenTimestamp, action.Timestamp)
	}
}

func TestRunStopChordStripsTrailingPresses(t *testing.T) {
	store := &memStore{}
	clock := tickClock()
	raws := append(snapshots(), press("a"), release("a"), press("ctrl"), press("q"))

	summary, err := Run(context.Background(), Options{
		Recording:  testRecording(t),
		Recordings: store,
		Open:       store.opener(),
		Sources:    []events.Source{scripted(clock, raws...)},
		StopChord:  [2]string{"ctrl", "q"},
		Clock:      clock,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	assert.Equal(t, ReasonStopChord, summary.Termination)
	assert.Equal(t, 2, summary.Correlator.Stripped)
	actions := store.byKind(storage.KindAction)
	require.Len(t, actions, 2)
	assert.Equal(t, events.KindPress, actions[0].Fields.(events.ActionEvent).Kind)
	assert.Equal(t, events.KindRelease, actions[1].Fields.(events.ActionEvent).Kind)
}

func TestRunInterruptDrainsBacklog(t *testing.T) {
	store := &memStore{}
	clock := tickClock()
	raws := append(snapshots(), press("a"), release("a"))

	ctx, cancel := context.WithCancel(context.Background())
	source := scripted(clock, raws...)
	emitted := 0
	counting := events.SourceFunc(func(ctx context.Context) (events.RawEvent, error) {
		ev, err := source.Next(ctx)
		if err == nil {
			emitted++
			if emitted == len(raws) {
				cancel()
			}
		}
		return ev, err
	})

	summary, err := Run(ctx, Options{
		Recording:  testRecording(t),
		Recordings: store,
		Open:       store.opener(),
		Sources:    []events.Source{counting},
		Clock:      clock,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonInterrupt, summary.Termination)
	assert.Len(t, store.byKind(storage.KindAction), 2)
}

func TestRunCountsCorrelationGaps(t *testing.T) {
	store := &memStore{}
	clock := tickClock()
	raws := []events.RawEvent{
		events.PointerEvent{Action: events.PointerMove, X: 5, Y: 5},
	}
	raws = append(raws, snapshots()...)
	raws = append(raws, events.PointerEvent{Action: events.PointerMove, X: 6, Y: 6})
	source := events.NewScriptedSource(events.ScriptedOptions{Steps: stepsOf(raws), Clock: clock, Sleeper: noSleep})

	summary, err := Run(context.Background(), Options{
		Recording:  testRecording(t),
		Recordings: store,
		Open:       store.opener(),
		Sources:    []events.Source{source},
		Clock:      clock,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonSourcesClosed, summary.Termination)
	assert.Equal(t, 1, summary.Correlator.Gaps)
	assert.Equal(t, 1, summary.Persisted[storage.KindAction])
}

func TestRunWriterFailureIsIsolated(t *testing.T) {
	store := &memStore{}
	clock := tickClock()
	sink := &mockSink{}
	sink.On("Append", mock.Anything, mock.MatchedBy(func(rec storage.Record) bool {
		return rec.Kind == storage.KindScreen
	})).Return(errors.New("disk full"))
	sink.On("Append", mock.Anything, mock.Anything).Return(nil)
	sink.On("Close").Return(nil)

	raws := append(snapshots(), press("a"), release("a"))
	source := events.NewScriptedSource(events.ScriptedOptions{Steps: stepsOf(raws), Clock: clock, Sleeper: noSleep})

	summary, err := Run(context.Background(), Options{
		Recording:     testRecording(t),
		Recordings:    store,
		Open:          func(context.Context) (storage.Sink, error) { return sink, nil },
		Sources:       []events.Source{source},
		WriteRetries:  2,
		RetryInterval: time.Millisecond,
		Clock:         clock,
		Logger:        zap.NewNop(),
	})
	require.Error(t, err)

	var failed *WriterFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, storage.KindScreen, failed.Kind)
	var transient *TransientIOError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, 2, transient.Attempts)

	assert.Equal(t, 2, summary.Persisted[storage.KindAction])
	assert.Equal(t, 1, summary.Persisted[storage.KindWindow])
	assert.Equal(t, 0, summary.Persisted[storage.KindScreen])
	require.Len(t, store.finalized, 1, "a writer failure still finalizes the recording")
	sink.AssertNumberOfCalls(t, "Close", 4)
}

func TestRunValidatesOptions(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	assert.Error(t, err)

	store := &memStore{}
	_, err = Run(context.Background(), Options{Logger: zap.NewNop(), Recordings: store, Open: store.opener()})
	assert.Error(t, err)
}

func stepsOf(raws []events.RawEvent) []events.Step {
	steps := make([]events.Step, 0, len(raws))
	for _, ev := range raws {
		steps = append(steps, events.Step{Event: ev})
	}
	return steps
}
