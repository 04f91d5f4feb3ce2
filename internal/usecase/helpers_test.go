package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"worktimer/internal/domain"
)

var t0 = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type result struct {
	snap *domain.Snapshot
	err  error
}

// call is one request the fake authority received. The test answers it
// through reply; calls are answered in whatever order the test chooses.
type call struct {
	op      string
	entryID string
	subject domain.SubjectRef
	reply   chan result
}

// fakeAuthority hands every request to the test over calls and blocks until
// the test replies, unless auto is set.
type fakeAuthority struct {
	calls chan call

	mu   sync.Mutex
	auto func(op, entryID string, subject domain.SubjectRef) (*domain.Snapshot, error)
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{calls: make(chan call, 16)}
}

func (f *fakeAuthority) respondWith(fn func(op, entryID string, subject domain.SubjectRef) (*domain.Snapshot, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auto = fn
}

func (f *fakeAuthority) do(ctx context.Context, op, id string, subject domain.SubjectRef) (*domain.Snapshot, error) {
	f.mu.Lock()
	auto := f.auto
	f.mu.Unlock()
	if auto != nil {
		return auto(op, id, subject)
	}
	c := call{op: op, entryID: id, subject: subject, reply: make(chan result, 1)}
	f.calls <- c
	select {
	case res := <-c.reply:
		return res.snap, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func value(s *domain.Snapshot, err error) (domain.Snapshot, error) {
	if s == nil {
		return domain.Snapshot{}, err
	}
	return *s, err
}

func (f *fakeAuthority) Start(ctx context.Context, subject domain.SubjectRef) (domain.Snapshot, error) {
	return value(f.do(ctx, "start", "", subject))
}

func (f *fakeAuthority) Pause(ctx context.Context, entryID string) (domain.Snapshot, error) {
	return value(f.do(ctx, "pause", entryID, domain.SubjectRef{}))
}

func (f *fakeAuthority) Resume(ctx context.Context, entryID string) (domain.Snapshot, error) {
	return value(f.do(ctx, "resume", entryID, domain.SubjectRef{}))
}

func (f *fakeAuthority) Stop(ctx context.Context, entryID string) (*domain.Snapshot, error) {
	return f.do(ctx, "stop", entryID, domain.SubjectRef{})
}

func (f *fakeAuthority) Running(ctx context.Context) (*domain.Snapshot, error) {
	return f.do(ctx, "running", "", domain.SubjectRef{})
}

// next waits for the next request and checks its operation.
func (f *fakeAuthority) next(t *testing.T, op string) call {
	t.Helper()
	select {
	case c := <-f.calls:
		require.Equal(t, op, c.op)
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("authority never received %s", op)
		return call{}
	}
}

type outcome struct {
	view domain.View
	err  error
}

// async runs a transition in the background and returns where its outcome lands.
func async(fn func() (domain.View, error)) <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn()
		ch <- outcome{view: v, err: err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("transition did not return")
		return outcome{}
	}
}

func newReconciler(t *testing.T) (*TimerReconciler, *fakeAuthority, *clockwork.FakeClock) {
	t.Helper()
	fa := newFakeAuthority()
	fc := clockwork.NewFakeClockAt(t0)
	r := NewTimerReconciler(discardLogger(), fa, fc)
	t.Cleanup(r.Close)
	return r, fa, fc
}

func running(id string, acc int64, startedAt time.Time) *domain.Snapshot {
	return &domain.Snapshot{
		ID:                 id,
		AccumulatedSeconds: acc,
		IsRunning:          true,
		StartedAt:          startedAt,
		Subject:            domain.SubjectRef{Kind: domain.SubjectTask, ID: "A"},
	}
}

func paused(id string, acc int64) *domain.Snapshot {
	return &domain.Snapshot{
		ID:                 id,
		AccumulatedSeconds: acc,
		IsPaused:           true,
		Subject:            domain.SubjectRef{Kind: domain.SubjectTask, ID: "A"},
	}
}

func requireDisplayed(t *testing.T, r *TimerReconciler, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.View().DisplayedElapsedSeconds == want
	}, 2*time.Second, 5*time.Millisecond, "displayed never reached %d, last %d", want, r.View().DisplayedElapsedSeconds)
}

func requireLiveTickers(t *testing.T, r *TimerReconciler, want int32) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.liveTickers.Load() == want
	}, 2*time.Second, 5*time.Millisecond, "live tickers never reached %d", want)
}
