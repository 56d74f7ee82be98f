package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(values ...time.Duration) Clock {
	i := 0
	return func() time.Duration {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestScriptedSourceStampsAndCloses(t *testing.T) {
	src := NewScriptedSource(ScriptedOptions{
		Steps: []Step{
			{Event: KeyEvent{Action: KeyPress, Key: CharKey("a")}},
			{Delay: time.Second, Event: KeyEvent{Action: KeyRelease, Key: CharKey("a")}},
		},
		Clock:   fixedClock(10, 20),
		Sleeper: noSleep,
	})

	ctx := context.Background()
	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(10), first.Time())

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(20), second.Time())

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestScriptedSourceHoldsUntilCancelled(t *testing.T) {
	src := NewScriptedSource(ScriptedOptions{Hold: true, Sleeper: noSleep})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := src.Next(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("expected hold to block, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSourceClosed)
	case <-time.After(time.Second):
		t.Fatal("held source did not observe cancellation")
	}
}

func TestSyntheticSessionEndsWithStopSequence(t *testing.T) {
	session := NewSyntheticSession(SyntheticOptions{Step: time.Millisecond, StopSequence: []string{"ctrl", "q"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var presses []string
	for i := 0; i < 14; i++ {
		ev, err := session.Keyboard.Next(ctx)
		require.NoError(t, err)
		key, ok := ev.(KeyEvent)
		require.True(t, ok)
		if key.Action == KeyPress {
			presses = append(presses, key.Key.Identity())
		}
	}
	assert.Equal(t, []string{"h", "e", "l", "l", "o", "ctrl", "q"}, presses)
}
