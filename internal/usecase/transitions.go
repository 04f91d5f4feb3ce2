package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"worktimer/internal/domain"
)

// Start opens a running entry for subject. Nothing is shown as running until
// the authority confirms it, and no other transition is accepted meanwhile.
func (r *TimerReconciler) Start(ctx context.Context, subject domain.SubjectRef) (domain.View, error) {
	if err := subject.Validate(); err != nil {
		return r.View(), fmt.Errorf("start: %w", err)
	}
	seq, _, view, err := r.begin("start", domain.StateStarting, domain.StateIdle, domain.StateStopped)
	if err != nil {
		return view, err
	}
	snap, err := r.authority.Start(ctx, subject)
	return r.complete(seq, "start", &snap, err)
}

// Pause freezes the display immediately and asks the authority to close the
// running segment. The authority computes the segment length.
func (r *TimerReconciler) Pause(ctx context.Context) (domain.View, error) {
	seq, id, view, err := r.begin("pause", domain.StatePaused, domain.StateRunning)
	if err != nil {
		return view, err
	}
	snap, err := r.authority.Pause(ctx, id)
	return r.complete(seq, "pause", &snap, err)
}

// Resume asks the authority to open a new segment. The segment start comes
// from the authority, not the local clock.
func (r *TimerReconciler) Resume(ctx context.Context) (domain.View, error) {
	seq, id, view, err := r.begin("resume", domain.StateRunning, domain.StatePaused)
	if err != nil {
		return view, err
	}
	snap, err := r.authority.Resume(ctx, id)
	return r.complete(seq, "resume", &snap, err)
}

// Stop closes the entry. On success no entry is current and the display is 0.
func (r *TimerReconciler) Stop(ctx context.Context) (domain.View, error) {
	seq, id, view, err := r.begin("stop", domain.StateIdle, domain.StateRunning, domain.StatePaused)
	if err != nil {
		return view, err
	}
	final, err := r.authority.Stop(ctx, id)
	if err == nil && final != nil {
		r.log.Info("timer entry stopped",
			slog.String("entry_id", final.ID),
			slog.Int64("total_sec", final.AccumulatedSeconds),
		)
	}
	return r.complete(seq, "stop", nil, err)
}

// Rehydrate absorbs whatever the authority currently holds for the employee.
// Its answer supersedes every transition dispatched before it.
func (r *TimerReconciler) Rehydrate(ctx context.Context) (domain.View, error) {
	r.mu.Lock()
	seq := r.nextSeqLocked()
	r.mu.Unlock()
	return r.rehydrate(ctx, seq)
}

// RehydrateIfSettled is Rehydrate for background callers: it does nothing and
// reports false while a transition awaits the authority, since the authority
// may not have applied it yet and its confirmation would then be discarded.
func (r *TimerReconciler) RehydrateIfSettled(ctx context.Context) (domain.View, bool, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		view := r.viewLocked(r.clock.Now())
		r.mu.Unlock()
		return view, false, nil
	}
	seq := r.nextSeqLocked()
	r.mu.Unlock()

	view, err := r.rehydrate(ctx, seq)
	return view, true, err
}

func (r *TimerReconciler) rehydrate(ctx context.Context, seq uint64) (domain.View, error) {
	snap, err := r.authority.Running(ctx)
	return r.complete(seq, "rehydrate", snap, err)
}

// begin validates op against the effective state and applies its optimistic
// overlay. Rejected calls leave the state untouched.
func (r *TimerReconciler) begin(op string, target domain.State, allowed ...domain.State) (uint64, string, domain.View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()

	from := r.effectiveStateLocked()
	if !slices.Contains(allowed, from) {
		r.log.Debug("rejecting timer transition",
			slog.String("op", op),
			slog.String("from", from.String()),
		)
		return 0, "", r.viewLocked(now), &domain.TransitionError{Op: op, From: from}
	}
	if target != domain.StateStarting && (r.current == nil || r.current.ID == "") {
		// Every transition but start addresses an existing entry.
		r.log.Debug("rejecting timer transition without entry", slog.String("op", op))
		return 0, "", r.viewLocked(now), &domain.TransitionError{Op: op, From: from}
	}

	// Capture the latest projection before a freezing overlay holds it.
	r.recomputeLocked(now)
	seq := r.nextSeqLocked()
	r.pending = append(r.pending, &pendingOp{seq: seq, op: op, target: target, display: r.displayed})
	r.syncTickerLocked()

	var id string
	if r.current != nil {
		id = r.current.ID
	}
	view := r.viewLocked(now)
	r.log.Debug("timer transition dispatched",
		slog.String("op", op),
		slog.Uint64("seq", seq),
		slog.String("entry_id", id),
	)
	r.emitLocked(domain.Event{Kind: domain.EventOptimistic, Seq: seq, View: view})
	return seq, id, view, nil
}

// complete reconciles the authority's answer to transition seq. On error the
// optimistic overlay is rolled back; a stale answer is discarded silently.
func (r *TimerReconciler) complete(seq uint64, op string, snap *domain.Snapshot, err error) (domain.View, error) {
	if err == nil && snap != nil {
		if verr := snap.Validate(); verr != nil {
			err = &domain.AuthorityError{Op: op, Err: verr}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()

	if err != nil {
		r.rollbackLocked(seq, op, err, now)
		if !domain.IsBusinessRule(err) && !errors.Is(err, domain.ErrAuthorityUnavailable) {
			// Anything else from the authority is still an infrastructure failure.
			err = &domain.AuthorityError{Op: op, Err: err}
		}
		return r.viewLocked(now), fmt.Errorf("%s: %w", op, err)
	}
	r.absorbLocked(seq, snap, now)
	return r.viewLocked(now), nil
}
