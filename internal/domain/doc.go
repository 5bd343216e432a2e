// Package domain holds the upgrade model: definitions, executions and their
// state machine, telemetry, capabilities, history records and events.
//
// Nothing here performs I/O. [CanTransition] is the only authority on
// execution state changes and [Execution.TransitionTo] enforces it.
package domain
