package eventlog

import (
	"context"
	"sync"
)

// MemLog is an in-memory Log used by tests and local single-process setups.
// Append is provided so a co-located execution engine can feed it directly.
type MemLog struct {
	mu   sync.RWMutex
	runs map[string][]Event
}

// NewMemLog creates an empty in-memory event log.
func NewMemLog() *MemLog {
	return &MemLog{runs: make(map[string][]Event)}
}

// Append adds events to a run's stream in order.
func (l *MemLog) Append(runID string, events ...Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[runID] = append(l.runs[runID], events...)
}

// GetRunEvents returns a copy of the run's event stream. Unknown runs yield
// an empty slice.
func (l *MemLog) GetRunEvents(_ context.Context, runID string) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.runs[runID]
	out := make([]Event, len(events))
	copy(out, events)
	return out, nil
}

var _ Log = (*MemLog)(nil)
