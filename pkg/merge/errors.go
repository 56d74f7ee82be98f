package merge

import (
	"errors"
	"fmt"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// ErrNoEvents is returned for an empty input sequence. An empty recording
// means capture failed upstream, so it is never treated as a no-op.
var ErrNoEvents = errors.New("no action events to merge")

// InvariantViolationError reports a pass that produced a timestamp not
// strictly after its predecessor. It is fatal to the merge run.
type InvariantViolationError struct {
	Pass     string
	Index    int
	Event    events.ActionEvent
	Previous events.ActionEvent
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("merge pass %s broke timestamp order at index %d: %s does not follow %s",
		e.Pass, e.Index, e.Event, e.Previous)
}
