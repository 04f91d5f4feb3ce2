package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"worktimer/internal/domain"
	"worktimer/internal/ports"
)

// ResyncUseCase periodically replaces local timer state with the authority's
// snapshot so local projection never outlives the next confirmed value.
type ResyncUseCase struct {
	Log        *slog.Logger
	Reconciler *TimerReconciler
	Clock      clockwork.Clock
}

// RunOnce rehydrates the reconciler a single time, unless a transition is
// awaiting the authority; that transition's answer is fresher than any resync.
func (uc *ResyncUseCase) RunOnce(ctx context.Context) error {
	if uc.Reconciler == nil {
		return errors.New("usecase not initialized: missing reconciler")
	}
	view, done, err := uc.Reconciler.RehydrateIfSettled(ctx)
	if err != nil {
		return err
	}
	if !done {
		uc.Log.Debug("timer resync skipped, transition pending", slog.Uint64("seq", view.Seq))
		return nil
	}
	uc.Log.Debug("timer resynced",
		slog.Uint64("seq", view.Seq),
		slog.Bool("running", view.IsRunning),
		slog.Int64("displayed_sec", view.DisplayedElapsedSeconds),
	)
	return nil
}

// Run resyncs every interval until ctx is done. Failures are logged and retried
// on the next tick.
func (uc *ResyncUseCase) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("resync interval must be positive")
	}
	clock := uc.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	uc.Log.Info("starting periodic timer resync", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			uc.Log.Info("periodic timer resync stopped")
			return nil
		case <-ticker.Chan():
			if err := uc.RunOnce(ctx); err != nil {
				uc.Log.Error("periodic timer resync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Forward records events from a reconciler subscription into sink until ctx
// is done or the subscription is closed. Ticks are skipped unless withTicks is set.
func Forward(ctx context.Context, log *slog.Logger, events <-chan domain.Event, sink ports.Sink, withTicks bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == domain.EventTick && !withTicks {
				continue
			}
			if err := sink.Record(ctx, ev); err != nil {
				log.Error("timer sink failed",
					slog.String("event", string(ev.Kind)),
					slog.Uint64("seq", ev.Seq),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
