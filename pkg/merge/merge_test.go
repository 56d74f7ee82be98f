package merge

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func move(at int, x, y float64) events.ActionEvent {
	return events.ActionEvent{Kind: events.KindMove, Timestamp: ms(at), X: x, Y: y}
}

func down(at int, x, y float64) events.ActionEvent {
	return events.ActionEvent{Kind: events.KindClick, Timestamp: ms(at), X: x, Y: y, Button: "left", Pressed: true}
}

func up(at int, x, y float64) events.ActionEvent {
	return events.ActionEvent{Kind: events.KindClick, Timestamp: ms(at), X: x, Y: y, Button: "left"}
}

func scroll(at int, dx, dy float64) events.ActionEvent {
	return events.ActionEvent{Kind: events.KindScroll, Timestamp: ms(at), X: 50, Y: 50, DX: dx, DY: dy}
}

func keyPress(at int, id string) events.ActionEvent {
	key := events.ParseKey(id)
	return events.ActionEvent{Kind: events.KindPress, Timestamp: ms(at), Key: &key}
}

func keyRelease(at int, id string) events.ActionEvent {
	key := events.ParseKey(id)
	return events.ActionEvent{Kind: events.KindRelease, Timestamp: ms(at), Key: &key}
}

func testOptions() Options {
	return Options{DoubleClickInterval: 500 * time.Millisecond, DoubleClickDistance: 4}
}

func kinds(seq []events.ActionEvent) []events.Kind {
	out := make([]events.Kind, 0, len(seq))
	for _, ev := range seq {
		out = append(out, ev.Kind)
	}
	return out
}

func TestMergeScenarioMovesThenClick(t *testing.T) {
	raw := []events.ActionEvent{
		move(0, 0, 0), move(10, 1, 1), move(20, 2, 2),
		down(30, 2, 2), up(40, 2, 2),
	}

	res, err := New(testOptions()).Merge(Input{Actions: raw})
	require.NoError(t, err)

	require.Len(t, res.Actions, 2)
	moved, clicked := res.Actions[0], res.Actions[1]

	assert.Equal(t, events.KindMove, moved.Kind)
	assert.Equal(t, 2.0, moved.X)
	assert.Equal(t, 2.0, moved.Y)
	assert.Len(t, moved.Children, 3)
	assert.Equal(t, time.Duration(0), moved.Timestamp)

	assert.Equal(t, events.KindSingleClick, clicked.Kind)
	assert.Equal(t, "left", clicked.Button)
	assert.Equal(t, 2.0, clicked.X)
	assert.Len(t, clicked.Children, 2)
	assert.Equal(t, ms(10), clicked.Timestamp, "gap after the move run is preserved")

	assert.Equal(t, ms(20), res.Removed[PassMoves])
	assert.Equal(t, ms(10), res.Removed[PassClicks])
}

func TestMergeScenarioTypedRun(t *testing.T) {
	raw := []events.ActionEvent{
		keyPress(0, "a"), keyRelease(40, "a"), keyPress(90, "b"), keyRelease(130, "b"),
	}

	res, err := New(testOptions()).Merge(Input{Actions: raw})
	require.NoError(t, err)

	require.Len(t, res.Actions, 1)
	typed := res.Actions[0]
	assert.Equal(t, events.KindType, typed.Kind)
	assert.Len(t, typed.Children, 4)
	assert.Equal(t, "ab", typed.Text())
}

func TestMergeDoubleClickDecision(t *testing.T) {
	tests := []struct {
		name   string
		raw    []events.ActionEvent
		expect []events.Kind
	}{
		{
			name:   "within interval and distance",
			raw:    []events.ActionEvent{down(0, 10, 10), up(50, 10, 10), down(150, 12, 11), up(200, 12, 11)},
			expect: []events.Kind{events.KindDoubleClick},
		},
		{
			name:   "second press too late",
			raw:    []events.ActionEvent{down(0, 10, 10), up(50, 10, 10), down(600, 10, 10), up(650, 10, 10)},
			expect: []events.Kind{events.KindSingleClick, events.KindSingleClick},
		},
		{
			name:   "second press too far",
			raw:    []events.ActionEvent{down(0, 10, 10), up(50, 10, 10), down(100, 20, 10), up(150, 20, 10)},
			expect: []events.Kind{events.KindSingleClick, events.KindSingleClick},
		},
		{
			name:   "interval measured on recorded time",
			raw:    []events.ActionEvent{down(0, 7, 7), up(50, 7, 7), move(400, 7, 7), down(600, 7, 7), up(650, 7, 7)},
			expect: []events.Kind{events.KindSingleClick, events.KindSingleClick},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := New(testOptions()).Merge(Input{Actions: tc.raw})
			require.NoError(t, err)
			assert.Equal(t, tc.expect, kinds(res.Actions))
			if tc.expect[0] == events.KindDoubleClick {
				children := res.Actions[0].Children
				require.Len(t, children, 4)
				for i := range tc.raw {
					assert.Equal(t, tc.raw[i].Timestamp, children[i].Timestamp, "children keep recorded order")
				}
			}
		})
	}
}

func TestMergeUsesRecordingThresholds(t *testing.T) {
	rec := events.Recording{DoubleClickInterval: 100 * time.Millisecond, DoubleClickDistance: 1}
	raw := []events.ActionEvent{down(0, 10, 10), up(50, 10, 10), down(150, 10, 10), up(200, 10, 10)}

	res, err := New(OptionsFor(rec)).Merge(Input{Actions: raw})
	require.NoError(t, err)
	assert.Equal(t, []events.Kind{events.KindSingleClick, events.KindSingleClick}, kinds(res.Actions))
}

func mixedSession() []events.ActionEvent {
	invalid := events.ActionEvent{Kind: events.KindPress, Timestamp: 0, Key: &events.Key{}}
	return []events.ActionEvent{
		invalid,
		move(10, 5, 5), move(20, 5, 5), move(30, 6, 6), move(35, 7, 7),
		keyPress(40, "a"), keyRelease(50, "a"),
		scroll(60, 0, -1), scroll(70, 0, -2),
		down(80, 7, 7), up(90, 7, 7), down(100, 7, 7), up(110, 7, 7),
		keyPress(120, "shift"),
	}
}

func TestMergeSpanAccountsForRemovedTime(t *testing.T) {
	raw := mixedSession()
	res, err := New(testOptions()).Merge(Input{Actions: raw})
	require.NoError(t, err)

	assert.Equal(t, span(raw)-res.TotalRemoved(), span(res.Actions))
	assert.NoError(t, checkMonotonic("result", res.Actions))
	assert.Equal(t, []events.Kind{
		events.KindMove, events.KindType, events.KindScroll, events.KindDoubleClick, events.KindPress,
	}, kinds(res.Actions))

	scrolled := res.Actions[2]
	assert.Equal(t, -3.0, scrolled.DY)
	assert.Equal(t, 50.0, scrolled.X)
}

func TestMergeIsIdempotent(t *testing.T) {
	engine := New(testOptions())
	first, err := engine.Merge(Input{Actions: mixedSession()})
	require.NoError(t, err)

	second, err := engine.Merge(Input{Actions: first.Actions})
	require.NoError(t, err)
	assert.Equal(t, first.Actions, second.Actions)
	assert.Equal(t, 1, second.Iterations)
	assert.Zero(t, second.TotalRemoved())
}

func TestMergePreservesLeavesExceptDiscards(t *testing.T) {
	raw := mixedSession()
	res, err := New(testOptions()).Merge(Input{Actions: raw})
	require.NoError(t, err)

	leaves := events.FlattenAll(res.Actions)
	// The unresolvable key and the repeated move at (5,5) are discarded.
	expected := append([]events.ActionEvent(nil), raw[2:]...)
	require.Len(t, leaves, len(expected))
	for i := range expected {
		assert.Equal(t, expected[i].Kind, leaves[i].Kind)
		assert.Equal(t, expected[i].X, leaves[i].X)
		assert.Equal(t, expected[i].Key, leaves[i].Key)
	}
}

func TestMergeKeyboardGrouping(t *testing.T) {
	raw := []events.ActionEvent{
		keyPress(0, "a"), keyRelease(10, "a"),
		keyPress(20, "ctrl"), keyPress(30, "c"), keyRelease(40, "c"), keyRelease(50, "ctrl"),
		keyPress(60, "b"), keyRelease(70, "b"),
	}

	grouped, err := New(Options{GroupNamedKeys: true}).Merge(Input{Actions: raw})
	require.NoError(t, err)
	require.Len(t, grouped.Actions, 3)
	assert.Equal(t, "a", grouped.Actions[0].Text())
	assert.Equal(t, "<ctrl>c", grouped.Actions[1].Text())
	assert.Equal(t, "b", grouped.Actions[2].Text())

	flat, err := New(Options{}).Merge(Input{Actions: raw})
	require.NoError(t, err)
	require.Len(t, flat.Actions, 1)
	assert.Len(t, flat.Actions[0].Children, 8)
}

func TestMergeLeavesUnbalancedKeysRaw(t *testing.T) {
	raw := []events.ActionEvent{
		keyRelease(0, "z"),
		keyPress(10, "a"), keyRelease(20, "a"),
		keyPress(30, "b"),
	}

	res, err := New(Options{}).Merge(Input{Actions: raw})
	require.NoError(t, err)
	assert.Equal(t, []events.Kind{events.KindRelease, events.KindType, events.KindPress}, kinds(res.Actions))
	assert.Equal(t, "a", res.Actions[1].Text())
}

func TestMergeDropsRedundantMoves(t *testing.T) {
	raw := []events.ActionEvent{move(0, 1, 1), move(10, 1, 1), down(20, 1, 1), up(30, 1, 1)}

	res, err := New(testOptions()).Merge(Input{Actions: raw})
	require.NoError(t, err)
	require.Equal(t, []events.Kind{events.KindMove, events.KindSingleClick}, kinds(res.Actions))
	assert.Equal(t, time.Duration(0), res.Actions[0].Timestamp)
	assert.Equal(t, ms(10), res.Actions[1].Timestamp)
	assert.Equal(t, ms(10), res.Removed[PassRedundantMoves])
}

func TestMergePrunesUnreferencedSnapshots(t *testing.T) {
	first := move(0, 0, 0)
	second := move(10, 1, 1)
	second.WindowTimestamp, second.ScreenTimestamp = ms(5), ms(5)

	res, err := New(Options{}).Merge(Input{
		Actions: []events.ActionEvent{first, second},
		Windows: []events.WindowEvent{{At: 0, Title: "first"}, {At: ms(5), Title: "second"}},
		Frames:  []events.ScreenFrame{{At: 0}, {At: ms(5)}},
	})
	require.NoError(t, err)
	require.Len(t, res.Windows, 1)
	assert.Equal(t, "first", res.Windows[0].Title)
	assert.Len(t, res.Frames, 1)
}

func TestMergeEmptyInputIsAnError(t *testing.T) {
	_, err := New(Options{}).Merge(Input{})
	assert.ErrorIs(t, err, ErrNoEvents)
}

func TestMergeRejectsNonMonotonicTimestamps(t *testing.T) {
	_, err := New(Options{}).Merge(Input{Actions: []events.ActionEvent{move(10, 0, 0), move(10, 1, 1)}})

	var violation *InvariantViolationError
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, 1, violation.Index)
	assert.Equal(t, 1.0, violation.Event.X)
}

func encodeFrame(t *testing.T, at time.Duration, changed ...image.Point) events.ScreenFrame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.SetRGBA(x, y, color.RGBA{A: 255})
		}
	}
	for _, p := range changed {
		img.SetRGBA(p.X, p.Y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return events.ScreenFrame{At: at, PNG: buf.Bytes(), Width: 40, Height: 40}
}

func TestMergeDiffAwareKeepsMovesNearScreenChanges(t *testing.T) {
	frames := []events.ScreenFrame{
		encodeFrame(t, 0),
		encodeFrame(t, ms(100), image.Point{X: 30, Y: 30}),
	}
	raw := []events.ActionEvent{
		move(0, 0, 0), move(10, 1, 1), move(20, 2, 2), move(30, 29, 29), move(40, 30, 30),
	}

	opts := Options{DiffAware: &DiffOptions{Threshold: 5, Consecutive: 2}}
	res, err := New(opts).Merge(Input{Actions: raw, Frames: frames})
	require.NoError(t, err)

	require.Len(t, res.Actions, 3)
	assert.Len(t, res.Actions[0].Children, 3)
	assert.Equal(t, 2.0, res.Actions[0].X)
	assert.True(t, res.Actions[1].IsLeaf())
	assert.True(t, res.Actions[2].IsLeaf())

	plain, err := New(Options{}).Merge(Input{Actions: raw, Frames: frames})
	require.NoError(t, err)
	require.Len(t, plain.Actions, 1)
	assert.Len(t, plain.Actions[0].Children, 5)
}

func TestMergeDiffAwareRequiresConsecutiveFarMoves(t *testing.T) {
	frames := []events.ScreenFrame{
		encodeFrame(t, 0),
		encodeFrame(t, ms(100), image.Point{X: 30, Y: 30}),
	}
	raw := []events.ActionEvent{move(0, 0, 0), move(10, 30, 30), move(20, 1, 1), move(30, 31, 31)}

	opts := Options{DiffAware: &DiffOptions{Threshold: 5, Consecutive: 2}}
	res, err := New(opts).Merge(Input{Actions: raw, Frames: frames})
	require.NoError(t, err)
	assert.Len(t, res.Actions, 4)
}
