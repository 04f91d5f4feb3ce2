package domain

import (
	"fmt"
	"time"
)

// State is the lifecycle position of the employee's timer.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
	// StateStarting is only ever an optimistic state: a start awaits the
	// authority and no entry id is known yet. Snapshots never derive it.
	StateStarting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	default:
		return "unknown"
	}
}

// Snapshot is the authority's description of a time entry at a point in time.
// Values are treated as immutable once received.
type Snapshot struct {
	ID                 string
	AccumulatedSeconds int64 // seconds counted before the current run segment
	IsRunning          bool
	IsPaused           bool
	StartedAt          time.Time // start of the current segment; only meaningful while running
	Subject            SubjectRef
}

// Validate checks the snapshot invariants.
// A StartedAt slightly in the future is accepted; ElapsedAt clamps it.
func (s Snapshot) Validate() error {
	if s.IsRunning && s.IsPaused {
		return fmt.Errorf("%w: running and paused at once", ErrInvalidSnapshot)
	}
	if s.IsRunning && s.StartedAt.IsZero() {
		return fmt.Errorf("%w: running without start timestamp", ErrInvalidSnapshot)
	}
	if s.AccumulatedSeconds < 0 {
		return fmt.Errorf("%w: negative accumulated seconds %d", ErrInvalidSnapshot, s.AccumulatedSeconds)
	}
	return nil
}

// State derives the lifecycle state. A nil snapshot is idle.
func (s *Snapshot) State() State {
	switch {
	case s == nil:
		return StateIdle
	case s.IsRunning:
		return StateRunning
	case s.IsPaused:
		return StatePaused
	default:
		return StateStopped
	}
}

// ElapsedAt projects the total elapsed seconds at now.
// Running segments are recomputed from StartedAt, never counted tick by tick.
func (s *Snapshot) ElapsedAt(now time.Time) int64 {
	if s == nil {
		return 0
	}
	if !s.IsRunning {
		return s.AccumulatedSeconds
	}
	seg := now.Sub(s.StartedAt)
	if seg < 0 {
		seg = 0
	}
	return s.AccumulatedSeconds + int64(seg/time.Second)
}
