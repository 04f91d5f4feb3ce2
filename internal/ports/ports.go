package ports

import (
	"context"

	"worktimer/internal/domain"
)

// Authority is the server that persists the one timer an employee may run.
// Every snapshot it returns is the source of truth.
//
// Implementations return domain.ErrAlreadyRunning when Start is rejected
// because a timer already exists, and an error matching
// domain.ErrAuthorityUnavailable when a request could not complete.
type Authority interface {
	Start(ctx context.Context, subject domain.SubjectRef) (domain.Snapshot, error)
	Pause(ctx context.Context, entryID string) (domain.Snapshot, error)
	Resume(ctx context.Context, entryID string) (domain.Snapshot, error)
	// Stop returns the terminal snapshot when the authority sends one, nil otherwise.
	Stop(ctx context.Context, entryID string) (*domain.Snapshot, error)
	// Running returns nil when the employee has no open entry.
	Running(ctx context.Context) (*domain.Snapshot, error)
}

// Sink receives reconciler events and persists or forwards them.
// Sinks must not block for long; the reconciler drops events for slow subscribers.
type Sink interface {
	Record(ctx context.Context, ev domain.Event) error
}
