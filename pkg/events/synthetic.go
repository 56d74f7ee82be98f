package events

import (
	"time"
)

// SyntheticSession holds the input and window sources of a deterministic
// demo session used when no native event tap is available.
type SyntheticSession struct {
	Pointer  Source
	Keyboard Source
	Window   Source
}

// SyntheticOptions controls the synthetic session timeline.
type SyntheticOptions struct {
	Step  time.Duration
	Clock Clock
	// StopSequence is typed at the end of the keyboard timeline so the
	// session terminates on its own.
	StopSequence []string
}

// NewSyntheticSession builds a session in which the user focuses a notes
// window, moves to a text field, double-clicks it, types a word, and then
// types the stop sequence.
func NewSyntheticSession(opts SyntheticOptions) SyntheticSession {
	step := opts.Step
	if step <= 0 {
		step = 50 * time.Millisecond
	}
	clock := opts.Clock
	if clock == nil {
		clock = NewMonotonicClock(time.Now())
	}

	window := []Step{
		{Event: WindowEvent{Title: "Untitled - Notes", Left: 0, Top: 0, Width: 1280, Height: 800, State: map[string]string{"app": "notes"}}},
	}

	pointer := []Step{
		{Delay: 2 * step, Event: PointerEvent{Action: PointerMove, X: 100, Y: 100}},
		{Delay: step, Event: PointerEvent{Action: PointerMove, X: 180, Y: 140}},
		{Delay: step, Event: PointerEvent{Action: PointerMove, X: 240, Y: 160}},
		{Delay: step, Event: PointerEvent{Action: PointerClick, X: 240, Y: 160, Button: "left", Pressed: true}},
		{Delay: step / 5, Event: PointerEvent{Action: PointerClick, X: 240, Y: 160, Button: "left", Pressed: false}},
		{Delay: step / 5, Event: PointerEvent{Action: PointerClick, X: 240, Y: 160, Button: "left", Pressed: true}},
		{Delay: step / 5, Event: PointerEvent{Action: PointerClick, X: 240, Y: 160, Button: "left", Pressed: false}},
		{Delay: step, Event: PointerEvent{Action: PointerScroll, X: 240, Y: 160, DY: -1}},
		{Delay: step / 2, Event: PointerEvent{Action: PointerScroll, X: 240, Y: 160, DY: -1}},
	}

	keyboard := typedSteps(10*step, step/2, "hello")
	keyboard = append(keyboard, pressSteps(step, step/2, opts.StopSequence)...)

	return SyntheticSession{
		Pointer:  NewScriptedSource(ScriptedOptions{Steps: pointer, Clock: clock, Hold: true}),
		Keyboard: NewScriptedSource(ScriptedOptions{Steps: keyboard, Clock: clock, Hold: true}),
		Window:   NewScriptedSource(ScriptedOptions{Steps: window, Clock: clock, Hold: true}),
	}
}

func typedSteps(lead, gap time.Duration, text string) []Step {
	ids := make([]string, 0, len(text))
	for _, r := range text {
		ids = append(ids, string(r))
	}
	return pressSteps(lead, gap, ids)
}

// pressSteps emits press/release pairs for each identity.
func pressSteps(lead, gap time.Duration, ids []string) []Step {
	steps := make([]Step, 0, 2*len(ids))
	for i, id := range ids {
		key := ParseKey(id)
		delay := gap
		if i == 0 {
			delay = lead
		}
		steps = append(steps,
			Step{Delay: delay, Event: KeyEvent{Action: KeyPress, Key: key}},
			Step{Delay: gap / 2, Event: KeyEvent{Action: KeyRelease, Key: key}},
		)
	}
	return steps
}
