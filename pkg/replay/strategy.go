package replay

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/pkg/events"
)

// Strategy produces the next action to play given the current screen, or
// reports completion with ok=false.
type Strategy interface {
	Next(ctx context.Context, frame events.ScreenFrame) (ev events.ActionEvent, ok bool, err error)
}

// Params are handed to a strategy constructor.
type Params struct {
	Recording events.Recording
	// Actions is the merged action tree in recorded order.
	Actions []events.ActionEvent
	Logger  *zap.Logger
}

// Constructor builds a strategy.
type Constructor func(Params) (Strategy, error)

// Registry maps strategy names to constructors. It is built once at
// startup and passed by value.
type Registry map[string]Constructor

// StrategyNaive replays the recorded tree as-is.
const StrategyNaive = "naive"

// DefaultRegistry returns the built-in strategies.
func DefaultRegistry() Registry {
	return Registry{
		StrategyNaive: NewNaiveStrategy,
	}
}

// New constructs the strategy registered under name.
func (r Registry) New(name string, params Params) (Strategy, error) {
	ctor, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownStrategy, name, r.Names())
	}
	return ctor(params)
}

// Names lists registered strategies in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NaiveStrategy walks the merged tree in recorded order and ignores the
// screen.
type NaiveStrategy struct {
	actions []events.ActionEvent
	next    int
}

// NewNaiveStrategy is the Constructor for StrategyNaive.
func NewNaiveStrategy(params Params) (Strategy, error) {
	return &NaiveStrategy{actions: params.Actions}, nil
}

// Next returns the next top-level action.
func (s *NaiveStrategy) Next(ctx context.Context, _ events.ScreenFrame) (events.ActionEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return events.ActionEvent{}, false, err
	}
	if s.next >= len(s.actions) {
		return events.ActionEvent{}, false, nil
	}
	ev := s.actions[s.next]
	s.next++
	return ev, true, nil
}
