package usecase

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"worktimer/internal/domain"
)

// Absorb replaces local state with snap, or clears it when snap is nil.
// The snapshot is ordered by call order: it takes a fresh sequence number, so
// any response to a transition dispatched earlier is discarded when it arrives.
func (r *TimerReconciler) Absorb(snap *domain.Snapshot) (domain.View, error) {
	if snap != nil {
		if err := snap.Validate(); err != nil {
			return r.View(), err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.absorbLocked(r.nextSeqLocked(), snap, now)
	return r.viewLocked(now), nil
}

// absorbLocked applies a validated snapshot tagged with seq. It returns false
// when the response is older than the last absorbed one and was discarded.
func (r *TimerReconciler) absorbLocked(seq uint64, snap *domain.Snapshot, now time.Time) bool {
	if seq < r.absorbed {
		r.log.Info("discarding stale timer response",
			slog.Uint64("seq", seq),
			slog.Uint64("last_absorbed", r.absorbed),
		)
		r.emitLocked(domain.Event{
			Kind:     domain.EventDiscarded,
			Seq:      seq,
			View:     r.viewLocked(now),
			Snapshot: snap,
			Err:      domain.ErrStaleResponse,
		})
		return false
	}

	r.absorbed = seq
	if snap == nil {
		r.current = nil
	} else {
		cp := *snap
		r.current = &cp
	}
	// Overlays dispatched before this response are settled by it.
	r.pending = slices.DeleteFunc(r.pending, func(p *pendingOp) bool { return p.seq <= seq })
	r.recomputeLocked(now)
	r.syncTickerLocked()

	attrs := []any{
		slog.Uint64("seq", seq),
		slog.String("state", r.current.State().String()),
		slog.Int64("displayed_sec", r.displayed),
	}
	if r.current != nil {
		attrs = append(attrs,
			slog.String("entry_id", r.current.ID),
			slog.Int64("accumulated_sec", r.current.AccumulatedSeconds),
		)
	}
	r.log.Info("timer snapshot absorbed", attrs...)

	var published *domain.Snapshot
	if r.current != nil {
		cp := *r.current
		published = &cp
	}
	r.emitLocked(domain.Event{
		Kind:     domain.EventAbsorbed,
		Seq:      seq,
		View:     r.viewLocked(now),
		Snapshot: published,
	})
	return true
}

// rollbackLocked drops the optimistic overlay of the failed transition seq.
// When it was the newest overlay the projection falls back to the next older
// overlay, or to the last absorbed snapshot when none is left. Overlays of
// newer transitions are left alone.
func (r *TimerReconciler) rollbackLocked(seq uint64, op string, cause error, now time.Time) {
	i := slices.IndexFunc(r.pending, func(p *pendingOp) bool { return p.seq == seq })
	if i < 0 || i < len(r.pending)-1 {
		if i >= 0 {
			r.pending = slices.Delete(r.pending, i, i+1)
		}
		r.log.Debug("timer transition failed after being superseded",
			slog.String("op", op),
			slog.Uint64("seq", seq),
			slog.String("error", cause.Error()),
		)
		return
	}
	r.pending = slices.Delete(r.pending, i, i+1)
	if top := r.topPendingLocked(); top.freezes() {
		r.displayed = top.display
	} else {
		r.recomputeLocked(now)
	}
	r.syncTickerLocked()

	r.log.Warn("timer transition rolled back",
		slog.String("op", op),
		slog.Uint64("seq", seq),
		slog.String("error", cause.Error()),
	)
	r.emitLocked(domain.Event{
		Kind: domain.EventRolledBack,
		Seq:  seq,
		View: r.viewLocked(now),
		Err:  fmt.Errorf("%s: %w", op, cause),
	})
}

// recomputeLocked derives the displayed seconds from the absorbed snapshot and
// the wall clock. A freezing overlay holds the value it had when applied.
func (r *TimerReconciler) recomputeLocked(now time.Time) {
	if r.topPendingLocked().freezes() {
		return
	}
	r.displayed = r.current.ElapsedAt(now)
}
