package replay

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// Target identifies what a Press or Release acts on: a key, or a pointer
// button at a position.
type Target struct {
	Key    *events.Key
	Button string
	X, Y   float64
}

// Injector delivers primitive input to the host. A returned error is a
// rejection.
type Injector interface {
	Move(ctx context.Context, x, y float64) error
	Press(ctx context.Context, target Target) error
	Release(ctx context.Context, target Target) error
	Type(ctx context.Context, text string) error
	Scroll(ctx context.Context, x, y, dx, dy float64) error
}

// DryRunInjector logs every primitive instead of delivering it and keeps
// the dispatched primitives as leaf ActionEvents.
type DryRunInjector struct {
	logger *zap.Logger

	mu         sync.Mutex
	primitives []events.ActionEvent
}

// NewDryRunInjector returns an injector that never rejects.
func NewDryRunInjector(logger *zap.Logger) *DryRunInjector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunInjector{logger: logger}
}

func (d *DryRunInjector) Move(_ context.Context, x, y float64) error {
	d.logger.Debug("inject move", zap.Float64("x", x), zap.Float64("y", y))
	d.add(events.ActionEvent{Kind: events.KindMove, X: x, Y: y})
	return nil
}

func (d *DryRunInjector) Press(_ context.Context, target Target) error {
	d.logger.Debug("inject press", targetFields(target)...)
	d.add(primitiveFor(target, true))
	return nil
}

func (d *DryRunInjector) Release(_ context.Context, target Target) error {
	d.logger.Debug("inject release", targetFields(target)...)
	d.add(primitiveFor(target, false))
	return nil
}

func (d *DryRunInjector) Type(_ context.Context, text string) error {
	d.logger.Debug("inject type", zap.String("text", text))
	for _, r := range text {
		key := events.CharKey(string(r))
		d.add(events.ActionEvent{Kind: events.KindPress, Key: &key})
		d.add(events.ActionEvent{Kind: events.KindRelease, Key: &key})
	}
	return nil
}

func (d *DryRunInjector) Scroll(_ context.Context, x, y, dx, dy float64) error {
	d.logger.Debug("inject scroll", zap.Float64("x", x), zap.Float64("y", y), zap.Float64("dx", dx), zap.Float64("dy", dy))
	d.add(events.ActionEvent{Kind: events.KindScroll, X: x, Y: y, DX: dx, DY: dy})
	return nil
}

// Primitives returns the dispatched primitives in order.
func (d *DryRunInjector) Primitives() []events.ActionEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]events.ActionEvent(nil), d.primitives...)
}

func (d *DryRunInjector) add(ev events.ActionEvent) {
	d.mu.Lock()
	d.primitives = append(d.primitives, ev)
	d.mu.Unlock()
}

func primitiveFor(target Target, pressed bool) events.ActionEvent {
	if target.Key != nil {
		kind := events.KindRelease
		if pressed {
			kind = events.KindPress
		}
		return events.ActionEvent{Kind: kind, Key: target.Key}
	}
	return events.ActionEvent{Kind: events.KindClick, X: target.X, Y: target.Y, Button: target.Button, Pressed: pressed}
}

func targetFields(target Target) []zap.Field {
	if target.Key != nil {
		return []zap.Field{zap.Stringer("key", *target.Key)}
	}
	return []zap.Field{zap.String("button", target.Button), zap.Float64("x", target.X), zap.Float64("y", target.Y)}
}
