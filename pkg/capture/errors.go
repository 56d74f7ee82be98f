package capture

import (
	"errors"
	"fmt"

	"github.com/offlinefirst/desktop-recorder/pkg/storage"
)

// ErrCorrelationGap marks an input event that arrived before any window or
// screen snapshot existed. The correlator discards such events.
var ErrCorrelationGap = errors.New("input event precedes first window/screen snapshot")

// TransientIOError is a Storage Sink write that failed after every retry.
type TransientIOError struct {
	Kind     storage.Kind
	Attempts int
	Err      error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s write failed after %d attempts: %v", e.Kind, e.Attempts, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// WriterFailedError reports a writer that stopped persisting its kind.
// Dropped counts the records left undrained in its queue.
type WriterFailedError struct {
	Kind    storage.Kind
	Dropped int
	Err     error
}

func (e *WriterFailedError) Error() string {
	return fmt.Sprintf("%s writer failed (%d records dropped): %v", e.Kind, e.Dropped, e.Err)
}

func (e *WriterFailedError) Unwrap() error { return e.Err }
