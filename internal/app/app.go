package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"worktimer/internal/adapter/authority"
	msql "worktimer/internal/adapter/mysql"
	"worktimer/internal/adapter/natspub"
	"worktimer/internal/adapter/wshub"
	"worktimer/internal/config"
	"worktimer/internal/domain"
	"worktimer/internal/migrate"
	"worktimer/internal/ports"
	"worktimer/internal/usecase"
)

// App wires adapters around the one timer reconciler.
type App struct {
	log    *slog.Logger
	cfg    config.Config
	timer  *usecase.TimerReconciler
	resync *usecase.ResyncUseCase
	hub    *wshub.Hub
	sinks  []namedSink

	journal snapshotSource // nil unless MySQL is configured

	closers []func() error
	wg      sync.WaitGroup
}

// snapshotSource yields the last journaled snapshot; *mysql.Journal implements it.
type snapshotSource interface {
	LastSnapshot(ctx context.Context) (*domain.Snapshot, uint64, error)
}

type namedSink struct {
	name      string
	sink      ports.Sink
	withTicks bool
}

// New builds the app. The journal and publisher are only wired when their
// connection settings are present.
func New(ctx context.Context, log *slog.Logger, cfg config.Config) (*App, error) {
	client := authority.NewClient(cfg.Authority.BaseURL, cfg.Authority.Token, cfg.Authority.EmployeeID, cfg.Authority.Timeout, log)
	a := NewWithAuthority(log, cfg, client, clockwork.NewRealClock())

	if cfg.MySQL.DSN != "" {
		// Run migrations before opening the journal for use
		if err := migrate.Run(ctx, cfg.MySQL.DSN, log); err != nil {
			a.Close()
			return nil, err
		}
		journal, err := msql.NewJournal(ctx, cfg.MySQL.DSN, cfg.Authority.EmployeeID, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.journal = journal
		a.sinks = append(a.sinks, namedSink{name: "mysql", sink: journal})
		a.closers = append(a.closers, journal.Close)
	}

	if cfg.NATS.URL != "" {
		nc, err := natspub.Connect(cfg.NATS.URL, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		pub := natspub.NewPublisher(nc, cfg.NATS.Subject, cfg.Authority.EmployeeID, log)
		a.sinks = append(a.sinks, namedSink{name: "nats", sink: pub})
		a.closers = append(a.closers, func() error { nc.Close(); return nil })
	}
	return a, nil
}

// NewWithAuthority builds the app around an arbitrary authority and clock.
func NewWithAuthority(log *slog.Logger, cfg config.Config, auth ports.Authority, clock clockwork.Clock) *App {
	timer := usecase.NewTimerReconciler(log, auth, clock)
	hub := wshub.NewHub(wshub.DefaultConfig(), timer.View, log)
	return &App{
		log:    log,
		cfg:    cfg,
		timer:  timer,
		resync: &usecase.ResyncUseCase{Log: log, Reconciler: timer, Clock: clock},
		hub:    hub,
		sinks:  []namedSink{{name: "websocket", sink: hub, withTicks: true}},
	}
}

// Timer exposes the reconciler to in-process consumers such as the console.
func (a *App) Timer() *usecase.TimerReconciler { return a.timer }

// Run rehydrates the timer, starts forwarding events to the sinks and, when
// configured, the periodic resync. It returns once background work is started.
func (a *App) Run(ctx context.Context) {
	for _, s := range a.sinks {
		// Subscribe before rehydrating so no sink misses the first snapshot.
		events, cancel := a.timer.Subscribe(64)
		a.wg.Add(1)
		go func(s namedSink) {
			defer a.wg.Done()
			defer cancel()
			a.log.Debug("forwarding timer events", slog.String("sink", s.name))
			usecase.Forward(ctx, a.log, events, s.sink, s.withTicks)
		}(s)
	}

	if err := a.resync.RunOnce(ctx); err != nil {
		// Not fatal: the next resync or the first transition will catch up.
		a.log.Error("initial timer rehydrate failed", slog.String("error", err.Error()))
		a.seedFromJournal(ctx)
	}

	if iv := a.cfg.Timer.ResyncInterval; iv > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.resync.Run(ctx, iv); err != nil {
				a.log.Error("periodic resync exited", slog.String("error", err.Error()))
			}
		}()
	}
}

// seedFromJournal shows the last journaled snapshot while the authority is
// unreachable. Any later rehydrate replaces it.
func (a *App) seedFromJournal(ctx context.Context) {
	if a.journal == nil {
		return
	}
	snap, seq, err := a.journal.LastSnapshot(ctx)
	if err != nil {
		a.log.Error("reading journal failed", slog.String("error", err.Error()))
		return
	}
	if snap == nil {
		return
	}
	if _, err := a.timer.Absorb(snap); err != nil {
		a.log.Error("journaled snapshot rejected", slog.String("error", err.Error()))
		return
	}
	a.log.Warn("timer seeded from journal",
		slog.String("entry_id", snap.ID),
		slog.Uint64("journal_seq", seq),
	)
}

// Close stops ticking, waits for background work whose context has been
// cancelled, and releases connections.
func (a *App) Close() {
	a.timer.Close()
	a.hub.Close()
	a.wg.Wait()
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Error("close failed", slog.String("error", err.Error()))
		}
	}
}
