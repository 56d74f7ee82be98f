// Package screenshots produces screen frames for capture and replay.
package screenshots

import (
	"context"
	"errors"
)

// ErrEmptyFrame is returned when a provider yields no image data.
var ErrEmptyFrame = errors.New("capture provider returned empty PNG data")

// CaptureProvider grabs the current screen contents.
type CaptureProvider interface {
	Grab(context.Context) (FrameCapture, error)
}

// FrameCapture bundles the encoded PNG bytes with metadata.
type FrameCapture struct {
	PNG      []byte
	Metadata Metadata
}

// Metadata describes a captured frame.
type Metadata struct {
	Backend     string  `json:"backend"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	PixelFormat string  `json:"pixel_format,omitempty"`
	Scale       float64 `json:"scale,omitempty"`
}
