package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"worktimer/internal/domain"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Publisher implements ports.Sink by publishing timer events to NATS as JSON
// envelopes on <subject>.<employeeID>.
type Publisher struct {
	conn     Conn
	subject  string
	employee string
	log      *slog.Logger
}

func NewPublisher(conn Conn, subject, employeeID string, log *slog.Logger) *Publisher {
	return &Publisher{conn: conn, subject: subject, employee: employeeID, log: log}
}

// Connect dials NATS with reconnect handling that logs through log.
func Connect(url string, log *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("worktimer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Error("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Envelope is the wire format of a published event.
type Envelope struct {
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	EmployeeID string          `json:"employeeId"`
	Seq        uint64          `json:"seq"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

type payload struct {
	View     domain.View      `json:"view"`
	Snapshot *snapshotPayload `json:"snapshot,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type snapshotPayload struct {
	ID                 string            `json:"id"`
	AccumulatedSeconds int64             `json:"accumulatedSeconds"`
	IsRunning          bool              `json:"isRunning"`
	IsPaused           bool              `json:"isPaused"`
	StartedAt          *time.Time        `json:"startedAt,omitempty"`
	SubjectRef         domain.SubjectRef `json:"subjectRef"`
}

// Record publishes ev. Ticks are not published; displays get them from the hub.
func (p *Publisher) Record(ctx context.Context, ev domain.Event) error {
	if ev.Kind == domain.EventTick {
		return nil
	}
	body := payload{View: ev.View}
	if s := ev.Snapshot; s != nil {
		sp := &snapshotPayload{
			ID:                 s.ID,
			AccumulatedSeconds: s.AccumulatedSeconds,
			IsRunning:          s.IsRunning,
			IsPaused:           s.IsPaused,
			SubjectRef:         s.Subject,
		}
		if s.IsRunning {
			t := s.StartedAt
			sp.StartedAt = &t
		}
		body.Snapshot = sp
	}
	if ev.Err != nil {
		body.Error = ev.Err.Error()
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  string(ev.Kind),
		EmployeeID: p.employee,
		Seq:        ev.Seq,
		Timestamp:  ev.View.At.UTC(),
		Payload:    raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := p.subject + "." + p.employee
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.log.Debug("published timer event",
		slog.String("event_id", env.EventID),
		slog.String("event_type", env.EventType),
		slog.String("subject", subject),
	)
	return nil
}
