// Package geofence turns home region transitions into shopping mode events.
package geofence

import (
	"context"
	"fmt"

	"github.com/rubiojr/shopsense/pkg/logger"
	"github.com/rubiojr/shopsense/pkg/model"
	"github.com/rubiojr/shopsense/pkg/shopping"
)

var log = logger.With("geofence")

type Kind int

const (
	Enter Kind = iota + 1
	Exit
)

func (k Kind) String() string {
	switch k {
	case Enter:
		return "enter"
	case Exit:
		return "exit"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Transition is a crossing of the home region boundary. Err is set when
// the primitive reports a failure instead of a crossing.
type Transition struct {
	Kind   Kind
	Sample model.LocationSample
	Err    error
}

// ModeReader reads the persisted mode flags.
type ModeReader interface {
	ModeState(ctx context.Context) (model.ModeState, error)
}

// EventHandler is implemented by *shopping.Controller.
type EventHandler interface {
	Handle(ctx context.Context, ev shopping.Event) error
}

// Bridge decides from the persisted flags whether a transition matters.
type Bridge struct {
	modes   ModeReader
	handler EventHandler
}

func NewBridge(modes ModeReader, h EventHandler) *Bridge {
	return &Bridge{modes: modes, handler: h}
}

// HandleTransition forwards an EXIT while shopping mode is off as a prompt
// request and an ENTER while it was started automatically as an auto-stop.
// Everything else is dropped.
func (b *Bridge) HandleTransition(ctx context.Context, t Transition) error {
	if t.Err != nil {
		log.Warn("ignoring failed transition", "err", t.Err)
		return nil
	}
	st, err := b.modes.ModeState(ctx)
	if err != nil {
		return fmt.Errorf("read mode state: %w", err)
	}

	switch {
	case t.Kind == Exit && !st.On:
		log.Debug("left home with shopping mode off, prompting")
		return b.handler.Handle(ctx, shopping.GeofenceExit)
	case t.Kind == Enter && st.On && !st.Manual:
		log.Debug("back home, stopping shopping mode")
		return b.handler.Handle(ctx, shopping.GeofenceEnter)
	}
	log.Debug("transition dropped", "kind", t.Kind, "on", st.On, "manual", st.Manual)
	return nil
}
