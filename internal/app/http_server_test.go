package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worktimer/internal/config"
	"worktimer/internal/domain"
)

var t0 = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

// stubAuthority answers every request from the fields set by the test.
type stubAuthority struct {
	mu      sync.Mutex
	snap    *domain.Snapshot
	err     error
	running *domain.Snapshot
}

func (s *stubAuthority) reply() (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Snapshot{}, s.err
	}
	if s.snap == nil {
		return domain.Snapshot{}, errors.New("no snapshot scripted")
	}
	return *s.snap, nil
}

func (s *stubAuthority) Start(ctx context.Context, subject domain.SubjectRef) (domain.Snapshot, error) {
	return s.reply()
}

func (s *stubAuthority) Pause(ctx context.Context, entryID string) (domain.Snapshot, error) {
	return s.reply()
}

func (s *stubAuthority) Resume(ctx context.Context, entryID string) (domain.Snapshot, error) {
	return s.reply()
}

func (s *stubAuthority) Stop(ctx context.Context, entryID string) (*domain.Snapshot, error) {
	_, err := s.reply()
	return nil, err
}

func (s *stubAuthority) Running(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.err
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.HTTP.Addr = ":0"
	cfg.HTTP.AllowedOrigins = []string{"*"}
	return cfg
}

func newTestApp(t *testing.T, auth *stubAuthority) (*App, *httptest.Server) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewWithAuthority(log, testConfig(), auth, clockwork.NewFakeClockAt(t0))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return a, srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHandler_Healthz(t *testing.T) {
	_, srv := newTestApp(t, &stubAuthority{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestHandler_StartAndView(t *testing.T) {
	auth := &stubAuthority{snap: &domain.Snapshot{
		ID:        "e1",
		IsRunning: true,
		StartedAt: t0.Add(-30 * time.Second),
		Subject:   domain.SubjectRef{Kind: domain.SubjectTask, ID: "T-1"},
	}}
	_, srv := newTestApp(t, auth)

	status, body := post(t, srv, "/timer/start", `{"subjectRef":{"kind":"task","id":"T-1"}}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "e1", body["entryId"])
	assert.Equal(t, true, body["isRunning"])
	assert.Equal(t, float64(30), body["displayedElapsedSeconds"])

	resp, err := http.Get(srv.URL + "/timer")
	require.NoError(t, err)
	defer resp.Body.Close()
	var v domain.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, "e1", v.EntryID)
	assert.Equal(t, domain.SubjectRef{Kind: domain.SubjectTask, ID: "T-1"}, v.Subject)
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		auth   *stubAuthority
		path   string
		body   string
		status int
		kind   string
	}{
		{
			name:   "pause while idle",
			auth:   &stubAuthority{},
			path:   "/timer/pause",
			status: http.StatusConflict,
			kind:   "invalid_transition",
		},
		{
			name:   "already running",
			auth:   &stubAuthority{err: domain.ErrAlreadyRunning},
			path:   "/timer/start",
			body:   `{"subjectRef":{"kind":"misc"}}`,
			status: http.StatusConflict,
			kind:   "already_running",
		},
		{
			name:   "authority down",
			auth:   &stubAuthority{err: &domain.AuthorityError{Op: "start", Status: 503, Err: errors.New("unavailable")}},
			path:   "/timer/start",
			body:   `{"subjectRef":{"kind":"misc"}}`,
			status: http.StatusBadGateway,
			kind:   "authority_unavailable",
		},
		{
			name:   "sync with authority down",
			auth:   &stubAuthority{err: errors.New("dial tcp: refused")},
			path:   "/timer/sync",
			status: http.StatusBadGateway,
			kind:   "authority_unavailable",
		},
		{
			name:   "malformed body",
			auth:   &stubAuthority{},
			path:   "/timer/start",
			body:   `{"subjectRef":`,
			status: http.StatusBadRequest,
			kind:   "bad_request",
		},
		{
			name:   "task without id",
			auth:   &stubAuthority{},
			path:   "/timer/start",
			body:   `{"subjectRef":{"kind":"task"}}`,
			status: http.StatusBadRequest,
			kind:   "bad_request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newTestApp(t, tt.auth)
			status, body := post(t, srv, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandler_CORSPreflight(t *testing.T) {
	_, srv := newTestApp(t, &stubAuthority{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/timer/pause", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://display.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestApp_RunRehydratesAndStreams(t *testing.T) {
	auth := &stubAuthority{running: &domain.Snapshot{ID: "e5", AccumulatedSeconds: 90, IsPaused: true}}
	a, srv := newTestApp(t, auth)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	a.Run(ctx)
	assert.Equal(t, "e5", a.Timer().View().EntryID)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/timer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var v domain.View
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&v))
	assert.Equal(t, int64(90), v.DisplayedElapsedSeconds)
	assert.True(t, v.IsPaused)

	// A transition through the API reaches the display.
	auth.mu.Lock()
	auth.snap = &domain.Snapshot{ID: "e5", AccumulatedSeconds: 90, IsRunning: true, StartedAt: t0}
	auth.mu.Unlock()
	require.Eventually(t, func() bool { return a.hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	status, _ := post(t, srv, "/timer/resume", "")
	require.Equal(t, http.StatusOK, status)

	// Earlier frames may still be queued; wait for the confirmed resume.
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&v))
		if v.IsRunning && !v.Pending {
			break
		}
	}
	assert.Equal(t, int64(90), v.DisplayedElapsedSeconds)

	cancel()
}
