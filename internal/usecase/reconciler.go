package usecase

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"worktimer/internal/domain"
	"worktimer/internal/ports"
)

// TickInterval is the cadence at which the displayed elapsed time is recomputed.
const TickInterval = time.Second

// TimerReconciler owns the local projection of the employee's timer.
// It is the single mutator of that state: callers go through the transition
// methods and observers read View or Subscribe.
type TimerReconciler struct {
	log       *slog.Logger
	authority ports.Authority
	clock     clockwork.Clock

	mu        sync.Mutex
	current   *domain.Snapshot // last absorbed snapshot, nil when no timer
	displayed int64
	ticker    *tickHandle  // non-nil only while the display is advancing
	pending   []*pendingOp // optimistic transitions awaiting the authority, oldest first
	issued    uint64       // last sequence number handed out
	absorbed  uint64       // sequence number of the last absorbed snapshot

	subs    map[int]chan domain.Event
	nextSub int
	closed  bool

	liveTickers atomic.Int32
}

// pendingOp is the optimistic overlay of an in-flight transition.
type pendingOp struct {
	seq     uint64
	op      string
	target  domain.State
	display int64 // displayed seconds when the overlay was applied
}

// freezes reports whether the overlay halts the display until confirmation.
func (p *pendingOp) freezes() bool {
	return p != nil && (p.target == domain.StatePaused || p.target == domain.StateIdle)
}

// NewTimerReconciler returns an idle reconciler. A nil clock means the real clock.
func NewTimerReconciler(log *slog.Logger, authority ports.Authority, clock clockwork.Clock) *TimerReconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TimerReconciler{
		log:       log,
		authority: authority,
		clock:     clock,
		subs:      make(map[int]chan domain.Event),
	}
}

// View returns the current read-only projection.
func (r *TimerReconciler) View() domain.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked(r.clock.Now())
}

// Subscribe registers an observer. Events are dropped for a subscriber whose
// buffer is full. The returned func unsubscribes and closes the channel.
func (r *TimerReconciler) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.Event, buffer)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(c)
			}
		})
	}
}

// Close stops ticking and closes every subscription. Transitions still in
// flight complete against the authority but no longer notify anyone.
func (r *TimerReconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.stopTickerLocked()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}

func (r *TimerReconciler) viewLocked(now time.Time) domain.View {
	v := domain.View{
		DisplayedElapsedSeconds: r.displayed,
		IsRunning:               r.ticker != nil,
		IsPaused:                r.effectiveStateLocked() == domain.StatePaused,
		Pending:                 len(r.pending) > 0,
		Seq:                     r.absorbed,
		At:                      now,
	}
	if r.current != nil {
		v.EntryID = r.current.ID
		v.Subject = r.current.Subject
	}
	return v
}

// effectiveStateLocked is the confirmed state with the newest optimistic
// overlay applied. Transition legality is judged against it.
func (r *TimerReconciler) effectiveStateLocked() domain.State {
	if top := r.topPendingLocked(); top != nil {
		return top.target
	}
	return r.current.State()
}

// topPendingLocked returns the newest optimistic overlay, nil when settled.
func (r *TimerReconciler) topPendingLocked() *pendingOp {
	if len(r.pending) == 0 {
		return nil
	}
	return r.pending[len(r.pending)-1]
}

func (r *TimerReconciler) nextSeqLocked() uint64 {
	r.issued++
	return r.issued
}

func (r *TimerReconciler) emitLocked(ev domain.Event) {
	for id, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.log.Debug("subscriber buffer full, dropping timer event",
				slog.Int("subscriber", id),
				slog.String("event", string(ev.Kind)),
			)
		}
	}
}
