package events

import "errors"

// ErrSourceClosed is returned by Source.Next once a source has no more events.
var ErrSourceClosed = errors.New("event source closed")

// ErrAlreadyFinalized indicates Recording.Finalize was called twice.
var ErrAlreadyFinalized = errors.New("recording already finalized")
