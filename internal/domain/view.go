package domain

import "time"

// View is the read-only projection handed to displays and observers.
type View struct {
	EntryID                 string     `json:"entryId,omitempty"`
	Subject                 SubjectRef `json:"subjectRef"`
	DisplayedElapsedSeconds int64      `json:"displayedElapsedSeconds"`
	IsRunning               bool       `json:"isRunning"`
	IsPaused                bool       `json:"isPaused"`
	Pending                 bool       `json:"pending"` // a transition is awaiting the authority
	Seq                     uint64     `json:"seq"`     // last absorbed sequence number
	At                      time.Time  `json:"at"`
}

// EventKind classifies reconciler events.
type EventKind string

const (
	EventAbsorbed   EventKind = "TimerAbsorbed"
	EventTick       EventKind = "TimerTick"
	EventOptimistic EventKind = "TimerOptimistic"
	EventRolledBack EventKind = "TimerRolledBack"
	EventDiscarded  EventKind = "TimerResponseDiscarded"
)

// Event is delivered to subscribers after every change of the view.
// Snapshot is set for absorbed and discarded events; Err for rollbacks and discards.
type Event struct {
	Kind     EventKind
	Seq      uint64
	View     View
	Snapshot *Snapshot
	Err      error
}
