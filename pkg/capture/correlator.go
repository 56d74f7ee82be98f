package capture

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
	"github.com/offlinefirst/desktop-recorder/pkg/queue"
	"github.com/offlinefirst/desktop-recorder/pkg/stopseq"
	"github.com/offlinefirst/desktop-recorder/pkg/storage"
)

// keyHoldback is how many key events the correlator keeps back. A press of
// the chord modifier is additionally held until its release arrives or the
// chord fires, so a fired chord can always remove it.
const keyHoldback = 2

// CorrelatorStats counts what the correlator forwarded or dropped.
type CorrelatorStats struct {
	Inputs   int `json:"inputs"`
	Windows  int `json:"windows"`
	Screens  int `json:"screens"`
	Gaps     int `json:"gaps"`
	Stripped int `json:"stripped"`
	// Restamped counts inputs whose source time was raised to keep action
	// timestamps strictly increasing and not older than their snapshots.
	Restamped int `json:"restamped"`
}

// CorrelatorOptions wires a Correlator.
type CorrelatorOptions struct {
	RecordingID string
	Actions     *queue.Queue[storage.Record]
	Windows     *queue.Queue[storage.Record]
	Screens     *queue.Queue[storage.Record]
	Detector    *stopseq.Detector
	Chord       *stopseq.ChordDetector
	Redactor    *events.Redactor
	Control     *Controller
	Logger      *zap.Logger
}

// Correlator is the only consumer of the event bus. It owns the latest
// window and screen snapshots; no other goroutine may touch them.
type Correlator struct {
	opts CorrelatorOptions

	window *events.WindowEvent
	screen *events.ScreenFrame

	// Dedup state: timestamps of the last snapshots forwarded.
	windowSent, screenSent     bool
	lastWindowAt, lastScreenAt time.Duration

	// Timestamp of the last stamped input; arrival order is the total order.
	stamped      bool
	lastActionAt time.Duration

	pending []events.ActionEvent
	stats   CorrelatorStats
}

// NewCorrelator validates opts and returns a correlator.
func NewCorrelator(opts CorrelatorOptions) (*Correlator, error) {
	if opts.RecordingID == "" {
		return nil, errors.New("recording id must be provided")
	}
	if opts.Actions == nil || opts.Windows == nil || opts.Screens == nil {
		return nil, errors.New("action, window and screen queues must be provided")
	}
	if opts.Control == nil {
		return nil, errors.New("controller must be provided")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Correlator{opts: opts}, nil
}

// Run consumes bus until it is closed and drained, then flushes held-back
// key events.
func (c *Correlator) Run(ctx context.Context, bus *queue.Queue[events.RawEvent]) error {
	for {
		ev, err := bus.Get(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return c.Flush()
		}
		if err != nil {
			return err
		}
		if err := c.Handle(ev); err != nil {
			return err
		}
	}
}

// Handle processes a single raw event.
func (c *Correlator) Handle(ev events.RawEvent) error {
	switch e := ev.(type) {
	case events.WindowEvent:
		if c.opts.Redactor != nil {
			e = c.opts.Redactor.Window(e)
		}
		c.window = &e
		return nil
	case events.ScreenFrame:
		c.screen = &e
		return nil
	case events.KeyEvent:
		return c.handleKey(e)
	case events.PointerEvent:
		action, ok, err := c.stamp(e)
		if err != nil || !ok {
			return err
		}
		return c.forwardAction(action)
	default:
		return nil
	}
}

func (c *Correlator) handleKey(e events.KeyEvent) error {
	chordFired := c.opts.Chord.Observe(e.Action, e.Key)
	sequenceFired := c.opts.Detector != nil && c.opts.Detector.Observe(e.Action, e.Key)

	action, ok, err := c.stamp(e)
	if err != nil {
		return err
	}
	switch {
	case chordFired:
		c.stripChord()
		if ok {
			c.stats.Stripped++
		}
		c.opts.Logger.Info("stop chord detected", zap.Duration("at", e.At))
		c.opts.Control.Stop(ReasonStopChord)
		return nil
	case !ok:
	default:
		c.pending = append(c.pending, action)
		if err := c.releasePending(); err != nil {
			return err
		}
	}
	if sequenceFired {
		c.opts.Logger.Info("stop sequence detected", zap.Duration("at", e.At))
		c.opts.Control.Stop(ReasonStopSequence)
	}
	return nil
}

// releasePending forwards held-back keys beyond keyHoldback, stopping at a
// chord modifier press that is still held.
func (c *Correlator) releasePending() error {
	for len(c.pending) > keyHoldback && !c.heldModifier(0) {
		head := c.pending[0]
		c.pending = c.pending[1:]
		if err := c.forwardAction(head); err != nil {
			return err
		}
	}
	return nil
}

// heldModifier reports whether pending[i] presses the chord modifier and no
// later pending event releases it.
func (c *Correlator) heldModifier(i int) bool {
	ev := c.pending[i]
	if ev.Kind != events.KindPress || ev.Key == nil || !c.opts.Chord.IsChordModifier(*ev.Key) {
		return false
	}
	id := ev.Key.Identity()
	for _, later := range c.pending[i+1:] {
		if later.Kind == events.KindRelease && later.Key != nil && later.Key.Identity() == id {
			return false
		}
	}
	return true
}

// stripChord drops the most recent modifier press still held.
func (c *Correlator) stripChord() {
	for i := len(c.pending) - 1; i >= 0; i-- {
		if c.heldModifier(i) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			c.stats.Stripped++
			return
		}
	}
}

// stamp joins an input event to the snapshots in effect, forwarding each
// snapshot the first time it is referenced. The input's time is raised so
// it is later than the previous input and not older than either snapshot.
func (c *Correlator) stamp(ev events.RawEvent) (events.ActionEvent, bool, error) {
	if c.window == nil || c.screen == nil {
		c.stats.Gaps++
		c.opts.Logger.Warn("discarding input event",
			zap.Duration("at", ev.Time()),
			zap.Error(ErrCorrelationGap),
		)
		return events.ActionEvent{}, false, nil
	}
	at := ev.Time()
	if c.stamped && at <= c.lastActionAt {
		at = c.lastActionAt + 1
	}
	at = max(at, c.window.At, c.screen.At)
	action, ok := events.NewActionEvent(events.WithTime(ev, at), c.window.At, c.screen.At)
	if !ok {
		return events.ActionEvent{}, false, nil
	}
	if at != ev.Time() {
		c.stats.Restamped++
	}
	c.stamped, c.lastActionAt = true, at
	if !c.windowSent || c.lastWindowAt != c.window.At {
		if err := c.put(c.opts.Windows, storage.KindWindow, c.window.At, *c.window); err != nil {
			return events.ActionEvent{}, false, err
		}
		c.windowSent, c.lastWindowAt = true, c.window.At
		c.stats.Windows++
	}
	if !c.screenSent || c.lastScreenAt != c.screen.At {
		if err := c.put(c.opts.Screens, storage.KindScreen, c.screen.At, *c.screen); err != nil {
			return events.ActionEvent{}, false, err
		}
		c.screenSent, c.lastScreenAt = true, c.screen.At
		c.stats.Screens++
	}
	return action, true, nil
}

func (c *Correlator) forwardAction(action events.ActionEvent) error {
	if err := c.put(c.opts.Actions, storage.KindAction, action.Timestamp, action); err != nil {
		return err
	}
	c.stats.Inputs++
	return nil
}

func (c *Correlator) put(q *queue.Queue[storage.Record], kind storage.Kind, at time.Duration, fields any) error {
	rec := storage.Record{Kind: kind, RecordingID: c.opts.RecordingID, Timestamp: at, Fields: fields}
	if err := q.Put(rec); err != nil {
		c.opts.Logger.Error("sink queue rejected record", zap.String("kind", string(kind)), zap.Error(err))
		return err
	}
	return nil
}

// Flush forwards held-back key events.
func (c *Correlator) Flush() error {
	for _, action := range c.pending {
		if err := c.forwardAction(action); err != nil {
			return err
		}
	}
	c.pending = nil
	return nil
}

// Stats returns forwarding counters.
func (c *Correlator) Stats() CorrelatorStats {
	return c.stats
}
