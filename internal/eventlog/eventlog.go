// Package eventlog reads the ordered, append-only event streams emitted by
// workflow runs. The memory core only ever reads these streams; it never
// writes them.
package eventlog

import (
	"context"
	"time"
)

// Event type markers recognized by the formation engine. The exact strings
// are part of the wire contract with the run execution engine.
const (
	TypeRunStarted       = "run.started"
	TypeRunCompleted     = "run.completed"
	TypeRunFailed        = "run.failed"
	TypeStepCompleted    = "step.completed"
	TypeUserInput        = "user.input"
	TypeValidationPassed = "validation.passed"
)

// Event is a single entry in a run's event stream.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Log provides read access to per-run event streams.
//
// GetRunEvents returns the run's events in emission order. An unknown run ID
// yields an empty slice, not an error.
type Log interface {
	GetRunEvents(ctx context.Context, runID string) ([]Event, error)
}
