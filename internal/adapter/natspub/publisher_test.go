package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worktimer/internal/domain"
)

type capturedMsg struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []capturedMsg
	err  error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, capturedMsg{subject: subj, data: data})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecord_PublishesAbsorbedEnvelope(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "timer.events", "emp-7", testLogger())

	started := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	ev := domain.Event{
		Kind: domain.EventAbsorbed,
		Seq:  3,
		View: domain.View{EntryID: "te-1", DisplayedElapsedSeconds: 12, IsRunning: true, Seq: 3, At: started.Add(12 * time.Second)},
		Snapshot: &domain.Snapshot{
			ID:        "te-1",
			IsRunning: true,
			StartedAt: started,
			Subject:   domain.SubjectRef{Kind: domain.SubjectTask, ID: "A"},
		},
	}
	require.NoError(t, p.Record(context.Background(), ev))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "timer.events.emp-7", conn.msgs[0].subject)

	var env Envelope
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &env))
	assert.Equal(t, "TimerAbsorbed", env.EventType)
	assert.Equal(t, "emp-7", env.EmployeeID)
	assert.Equal(t, uint64(3), env.Seq)
	assert.NotEmpty(t, env.EventID)

	var body payload
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	require.NotNil(t, body.Snapshot)
	assert.Equal(t, "te-1", body.Snapshot.ID)
	require.NotNil(t, body.Snapshot.StartedAt)
	assert.True(t, body.Snapshot.StartedAt.Equal(started))
	assert.Equal(t, int64(12), body.View.DisplayedElapsedSeconds)
}

func TestRecord_SkipsTicks(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "timer.events", "emp-7", testLogger())

	require.NoError(t, p.Record(context.Background(), domain.Event{Kind: domain.EventTick}))
	assert.Empty(t, conn.msgs)
}

func TestRecord_CarriesDiscardReason(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "timer.events", "emp-7", testLogger())

	require.NoError(t, p.Record(context.Background(), domain.Event{
		Kind: domain.EventDiscarded,
		Seq:  1,
		Err:  domain.ErrStaleResponse,
	}))
	require.Len(t, conn.msgs, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &env))
	var body payload
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	assert.Equal(t, domain.ErrStaleResponse.Error(), body.Error)
}

func TestRecord_PublishError(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	p := NewPublisher(conn, "timer.events", "emp-7", testLogger())

	err := p.Record(context.Background(), domain.Event{Kind: domain.EventAbsorbed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timer.events.emp-7")
}
