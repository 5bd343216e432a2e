package domain

import "time"

// EventType names a lifecycle event published to subscribers.
type EventType string

const (
	EventSystemInitialized   EventType = "system_initialized"
	EventUpgradeStarted      EventType = "upgrade_started"
	EventUpgradeCompleted    EventType = "upgrade_completed"
	EventUpgradeFailed       EventType = "upgrade_failed"
	EventUpgradeForceStopped EventType = "upgrade_force_stopped"
)

// Event is delivered to event handlers.
type Event struct {
	Type         EventType `json:"type"`
	ExecutionID  string    `json:"execution_id,omitempty"`
	DefinitionID string    `json:"definition_id,omitempty"`
	State        State     `json:"state,omitempty"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}

// TerminalEventType maps a final state to the event announcing it.
func TerminalEventType(s State) EventType {
	switch s {
	case StateCompleted:
		return EventUpgradeCompleted
	case StateForceStopped:
		return EventUpgradeForceStopped
	default:
		return EventUpgradeFailed
	}
}
