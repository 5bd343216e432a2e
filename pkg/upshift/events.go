package upshift

import (
	"github.com/bft-labs/upshift/internal/app"
	"github.com/bft-labs/upshift/internal/domain"
)

// State is the run state of an Upshift instance.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	return app.RunState(s).String()
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is an upgrade lifecycle notification.
type Event = domain.Event

// EventType names an Event.
type EventType = domain.EventType

// Event types delivered to EventHandler.OnEvent.
const (
	EventSystemInitialized   = domain.EventSystemInitialized
	EventUpgradeStarted      = domain.EventUpgradeStarted
	EventUpgradeCompleted    = domain.EventUpgradeCompleted
	EventUpgradeFailed       = domain.EventUpgradeFailed
	EventUpgradeForceStopped = domain.EventUpgradeForceStopped
)

// StateChangeEvent describes a run state transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// EventHandler receives run state changes and upgrade events. Calls are
// synchronous from engine goroutines; implementations should return quickly.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnEvent(event Event)
}

// BaseEventHandler provides no-op defaults for embedding.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent) {}
func (BaseEventHandler) OnEvent(Event)                  {}

// eventEmitterWrapper adapts EventHandler to the internal emitter interfaces.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.RunState, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: State(previous),
		Current:  State(current),
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) Publish(ev domain.Event) {
	if e.handler == nil {
		return
	}
	e.handler.OnEvent(ev)
}
