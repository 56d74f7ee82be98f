package capture

import (
	"context"
	"sync"
	"time"
)

// Termination reasons recorded by the controller.
const (
	ReasonStopSequence  = "stop_sequence"
	ReasonStopChord     = "stop_chord"
	ReasonInterrupt     = "interrupt"
	ReasonSourcesClosed = "sources_closed"
	ReasonFailure       = "failure"
)

// Transition is one controller state change.
type Transition struct {
	At     time.Time `json:"at"`
	State  string    `json:"state"`
	Reason string    `json:"reason,omitempty"`
}

// Controller is the shared terminate signal. Sources, the correlator and the
// orchestrator observe it cooperatively; nothing is killed.
type Controller struct {
	mu       sync.Mutex
	clock    func() time.Time
	stopping bool
	reason   string
	timeline []Transition
	done     chan struct{}
}

// NewController constructs a controller in the running state.
func NewController(clock func() time.Time) *Controller {
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		clock:    clock,
		done:     make(chan struct{}),
		timeline: []Transition{{At: clock().UTC(), State: "running"}},
	}
}

// Stop raises the terminate signal. The first reason wins; later calls
// return false.
func (c *Controller) Stop(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return false
	}
	c.stopping = true
	c.reason = reason
	c.timeline = append(c.timeline, Transition{At: c.clock().UTC(), State: "stopping", Reason: reason})
	close(c.done)
	return true
}

// Done is closed once Stop has been called.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the controller stops or ctx is done. A cancelled ctx
// stops the controller as an interrupt.
func (c *Controller) Wait(ctx context.Context) string {
	select {
	case <-c.done:
	case <-ctx.Done():
		c.Stop(ReasonInterrupt)
	}
	return c.Reason()
}

// Stopping reports whether the terminate signal is raised.
func (c *Controller) Stopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// Reason returns the termination cause, or "" while running.
func (c *Controller) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// State reports the textual state for diagnostics.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return "stopping"
	}
	return "running"
}

// Mark appends a named transition, such as "drained", to the timeline.
func (c *Controller) Mark(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeline = append(c.timeline, Transition{At: c.clock().UTC(), State: state})
}

// Timeline returns a copy of the recorded transitions.
func (c *Controller) Timeline() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transition(nil), c.timeline...)
}
