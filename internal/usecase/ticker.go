package usecase

import (
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"worktimer/internal/domain"
)

// tickHandle owns one ticking process. It is created when the display starts
// advancing and stopped exactly once when it stops.
type tickHandle struct {
	ticker clockwork.Ticker
	done   chan struct{}
	once   sync.Once
}

func (h *tickHandle) stop() {
	h.once.Do(func() {
		h.ticker.Stop()
		close(h.done)
	})
}

// syncTickerLocked makes the ticking process exist iff the absorbed snapshot is
// running and no freezing overlay is pending. Every mutation of engine state
// ends with a call to it, so no exit path can leave an orphaned ticker.
func (r *TimerReconciler) syncTickerLocked() {
	want := !r.closed && r.current.State() == domain.StateRunning && !r.topPendingLocked().freezes()
	switch {
	case want && r.ticker == nil:
		r.startTickerLocked()
	case !want && r.ticker != nil:
		r.stopTickerLocked()
	}
}

// startTickerLocked replaces any existing ticking process with a new one.
func (r *TimerReconciler) startTickerLocked() {
	r.stopTickerLocked()

	h := &tickHandle{
		ticker: r.clock.NewTicker(TickInterval),
		done:   make(chan struct{}),
	}
	r.ticker = h
	r.liveTickers.Add(1)
	go r.runTicker(h)
	r.log.Debug("timer ticking started", slog.Uint64("seq", r.absorbed))
}

func (r *TimerReconciler) stopTickerLocked() {
	if r.ticker == nil {
		return
	}
	r.ticker.stop()
	r.ticker = nil
	r.log.Debug("timer ticking stopped", slog.Uint64("seq", r.absorbed))
}

func (r *TimerReconciler) runTicker(h *tickHandle) {
	defer r.liveTickers.Add(-1)
	for {
		select {
		case <-h.done:
			return
		case <-h.ticker.Chan():
			r.tick(h)
		}
	}
}

// tick recomputes from the wall clock, so missed firings (process suspended,
// scheduler delays) are caught up on the next one instead of drifting.
func (r *TimerReconciler) tick(h *tickHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ticker != h {
		return
	}
	now := r.clock.Now()
	prev := r.displayed
	r.recomputeLocked(now)
	if r.displayed == prev {
		return
	}
	r.emitLocked(domain.Event{
		Kind: domain.EventTick,
		Seq:  r.absorbed,
		View: r.viewLocked(now),
	})
}
