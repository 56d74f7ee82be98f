package replay

import (
	"errors"
	"fmt"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

var (
	// ErrUnknownStrategy is returned when no constructor is registered
	// under the requested name.
	ErrUnknownStrategy = errors.New("unknown replay strategy")
	// ErrAlreadyStarted is returned when Run is called on an engine that
	// has left the ready state.
	ErrAlreadyStarted = errors.New("replay already started")
)

// RejectedError reports an event the injector refused. Events dispatched
// before it are not undone.
type RejectedError struct {
	Event  events.ActionEvent
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("injection rejected %s: %s", e.Event, e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }
