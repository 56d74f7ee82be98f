package screenshots

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

type fakeClock struct{ now time.Duration }

func (c *fakeClock) Now() time.Duration { return c.now }

func TestNewSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(Options{Interval: 0, MaxPerMinute: 1})
	assert.Error(t, err, "zero interval")
	_, err = NewScheduler(Options{Interval: time.Second, MaxPerMinute: 0})
	assert.Error(t, err, "zero max per minute")
}

func TestSchedulerRespectsThrottle(t *testing.T) {
	scheduler, err := NewScheduler(Options{Interval: 5 * time.Second, MaxPerMinute: 4})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, scheduler.Interval())
}

func TestSchedulerEmitsFramesOnCadence(t *testing.T) {
	clock := &fakeClock{}
	var waits []time.Duration
	scheduler, err := NewScheduler(Options{
		Interval:     time.Second,
		MaxPerMinute: 60,
		Clock:        clock.Now,
		Provider:     NewSyntheticProvider(64, 48),
		Sleeper: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			clock.now += d
			return nil
		},
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ev, err := scheduler.Next(context.Background())
		require.NoError(t, err)
		frame, ok := ev.(events.ScreenFrame)
		require.True(t, ok)
		assert.Equal(t, time.Duration(i)*time.Second, frame.At)
		assert.Equal(t, 64, frame.Width)
		img, err := frame.Image()
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
	}
	assert.Equal(t, []time.Duration{time.Second, time.Second}, waits)
}

func TestSchedulerCancellation(t *testing.T) {
	scheduler, err := NewScheduler(Options{Interval: time.Second, MaxPerMinute: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = scheduler.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyntheticFramesDiffer(t *testing.T) {
	provider := NewSyntheticProvider(64, 48)
	grabber := NewFrameGrabber(provider, func() time.Duration { return 0 })

	first, err := grabber.Frame(context.Background())
	require.NoError(t, err)
	second, err := grabber.Frame(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.PNG, second.PNG)
}
