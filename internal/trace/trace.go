// Package trace records the orchestrator's logical decisions: stage entries,
// project reconciliation outcomes, process launches and exits, and liveness
// alerts.
//
// The trace is observational only and never affects execution. Tests use it
// to assert which paths a run took (for example, that an equivalent project
// was reused rather than rebuilt).
package trace

import (
	"errors"
	"fmt"
)

// EventKind discriminates Event values. The string values appear in debug
// logs; do not rename.
type EventKind string

const (
	EventStageEntered      EventKind = "StageEntered"
	EventProjectCreated    EventKind = "ProjectCreated"
	EventProjectReused     EventKind = "ProjectReused"
	EventProjectRebuilt    EventKind = "ProjectRebuilt"
	EventProcessLaunched   EventKind = "ProcessLaunched"
	EventProcessExited     EventKind = "ProcessExited"
	EventMonitorStarted    EventKind = "MonitorStarted"
	EventDeadlockSuspected EventKind = "DeadlockSuspected"
	EventOutputMoved       EventKind = "OutputMoved"
)

// Event is a single logical transition or decision.
type Event struct {
	Kind EventKind

	// Stage is the orchestrator stage active when the event was recorded.
	Stage string

	// Subject names what the event is about: a stage, an executable, a path.
	Subject string

	// Reason is a stable reason code such as "Overwrite" or "Mismatch".
	Reason string

	// ExitCode is set for EventProcessExited.
	ExitCode int
}

// Validate checks that required fields are present.
func (e Event) Validate() error {
	var errs []error
	if e.Kind == "" {
		errs = append(errs, errors.New("kind is required"))
	}
	if e.Subject == "" {
		errs = append(errs, fmt.Errorf("subject is required for kind %q", e.Kind))
	}
	return errors.Join(errs...)
}

// Kinds projects events onto their kinds, preserving order.
func Kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

// Filter returns the events of the given kind, preserving order.
func Filter(events []Event, kind EventKind) []Event {
	var out []Event
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
