package mysql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"worktimer/internal/domain"
)

// Journal implements ports.Sink by recording absorbed snapshots and
// reconciliation anomalies (discarded or rolled-back responses) in MySQL.
// Sequence numbers restart with every process, so rows are keyed by a
// session id generated when the journal is opened.
type Journal struct {
	db       *sql.DB
	employee string
	session  string
	log      *slog.Logger
}

// NewJournal opens a MySQL connection using the provided DSN.
// Example DSN: user:pass@tcp(host:3306)/dbname?parseTime=true&multiStatements=true
func NewJournal(ctx context.Context, dsn, employeeID string, log *slog.Logger) (*Journal, error) {
	if dsn == "" {
		return nil, errors.New("mysql: DSN is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	// One employee's timer produces little traffic.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(c); err != nil {
		db.Close()
		return nil, err
	}
	session := uuid.NewString()
	log.Info("mysql journal opened", slog.String("session_id", session))
	return &Journal{db: db, employee: employeeID, session: session, log: log}, nil
}

// Session returns the id under which this journal records rows.
func (j *Journal) Session() string { return j.session }

// Record persists ev. Ticks and optimistic overlays carry no confirmed data
// and are ignored.
func (j *Journal) Record(ctx context.Context, ev domain.Event) error {
	switch ev.Kind {
	case domain.EventAbsorbed:
		return j.recordSnapshot(ctx, ev.Seq, ev.Snapshot, ev.View.At)
	case domain.EventDiscarded, domain.EventRolledBack:
		return j.recordAnomaly(ctx, ev)
	default:
		return nil
	}
}

func (j *Journal) recordSnapshot(ctx context.Context, seq uint64, s *domain.Snapshot, at time.Time) error {
	const q = `
INSERT INTO timer_snapshots
  (employee_id, session_id, seq, entry_id, subject_kind, subject_id, accumulated_sec, is_running, is_paused, started_at, absorbed_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  entry_id=VALUES(entry_id),
  subject_kind=VALUES(subject_kind),
  subject_id=VALUES(subject_id),
  accumulated_sec=VALUES(accumulated_sec),
  is_running=VALUES(is_running),
  is_paused=VALUES(is_paused),
  started_at=VALUES(started_at),
  absorbed_at=VALUES(absorbed_at);
`
	// A nil snapshot is recorded as a row with no entry: the timer was cleared.
	var (
		entry, kind, subject, started any
		accumulated                   int64
		running, paused               bool
	)
	if s != nil {
		entry = nullable(s.ID)
		kind = nullable(string(s.Subject.Kind))
		subject = nullable(s.Subject.ID)
		accumulated = s.AccumulatedSeconds
		running = s.IsRunning
		paused = s.IsPaused
		if s.IsRunning {
			started = s.StartedAt.UTC()
		}
	}
	if _, err := j.db.ExecContext(ctx, q,
		j.employee, j.session, seq, entry, kind, subject, accumulated, running, paused, started, at.UTC(),
	); err != nil {
		return err
	}
	j.log.Debug("mysql journal recorded snapshot", slog.Uint64("seq", seq))
	return nil
}

func (j *Journal) recordAnomaly(ctx context.Context, ev domain.Event) error {
	var detail any
	if ev.Err != nil {
		detail = ev.Err.Error()
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO timer_anomalies(employee_id, session_id, seq, kind, detail, recorded_at) VALUES(?, ?, ?, ?, ?, ?)",
		j.employee, j.session, ev.Seq, string(ev.Kind), detail, ev.View.At.UTC(),
	)
	if err != nil {
		return err
	}
	j.log.Info("mysql journal recorded anomaly", slog.String("kind", string(ev.Kind)), slog.Uint64("seq", ev.Seq))
	return nil
}

// LastSnapshot returns the most recently journaled snapshot for the employee
// across all sessions, nil when the last recorded state was "no timer" or
// nothing was recorded.
func (j *Journal) LastSnapshot(ctx context.Context) (*domain.Snapshot, uint64, error) {
	const q = `
SELECT seq, entry_id, subject_kind, subject_id, accumulated_sec, is_running, is_paused, started_at
FROM timer_snapshots
WHERE employee_id = ?
ORDER BY absorbed_at DESC, seq DESC
LIMIT 1`
	var (
		seq                  uint64
		entry, kind, subject sql.NullString
		accumulated          int64
		running, paused      bool
		started              sql.NullTime
	)
	err := j.db.QueryRowContext(ctx, q, j.employee).Scan(&seq, &entry, &kind, &subject, &accumulated, &running, &paused, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	if !entry.Valid {
		return nil, seq, nil
	}
	s := &domain.Snapshot{
		ID:                 entry.String,
		AccumulatedSeconds: accumulated,
		IsRunning:          running,
		IsPaused:           paused,
		Subject:            domain.SubjectRef{Kind: domain.SubjectKind(kind.String), ID: subject.String},
	}
	if started.Valid {
		s.StartedAt = started.Time.UTC()
	}
	return s, seq, nil
}

// Close closes the underlying DB. Not part of ports.Sink to keep it minimal.
func (j *Journal) Close() error { return j.db.Close() }

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
