package screenshots

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
)

const (
	defaultSyntheticWidth  = 320
	defaultSyntheticHeight = 200
	cursorSize             = 8
)

// SyntheticProvider renders a deterministic frame: a gradient background
// with a small block that moves on every grab, so consecutive frames differ
// in one region.
type SyntheticProvider struct {
	width, height int

	mu    sync.Mutex
	frame int
}

// NewSyntheticProvider returns a provider rendering width x height frames.
// Dimensions too small for the moving block fall back to 320x200.
func NewSyntheticProvider(width, height int) *SyntheticProvider {
	if width <= cursorSize {
		width = defaultSyntheticWidth
	}
	if height <= cursorSize {
		height = defaultSyntheticHeight
	}
	return &SyntheticProvider{width: width, height: height}
}

// Grab renders the next frame.
func (p *SyntheticProvider) Grab(ctx context.Context) (FrameCapture, error) {
	if err := ctx.Err(); err != nil {
		return FrameCapture{}, err
	}
	p.mu.Lock()
	index := p.frame
	p.frame++
	p.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 40, G: uint8(x % 255), B: uint8(y % 255), A: 255})
		}
	}
	bx := (index * cursorSize) % (p.width - cursorSize)
	by := (index * cursorSize / 2) % (p.height - cursorSize)
	for y := by; y < by+cursorSize; y++ {
		for x := bx; x < bx+cursorSize; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return FrameCapture{}, fmt.Errorf("encode synthetic frame: %w", err)
	}
	return FrameCapture{
		PNG: buf.Bytes(),
		Metadata: Metadata{
			Backend:     providerSynthetic,
			Width:       p.width,
			Height:      p.height,
			PixelFormat: "RGBA",
			Scale:       1,
		},
	}, nil
}
