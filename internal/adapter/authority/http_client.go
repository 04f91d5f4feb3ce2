package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"worktimer/internal/domain"
)

// Client implements ports.Authority over the time-entries HTTP API.
type Client struct {
	baseURL  string
	token    string
	employee string
	http     *http.Client
	log      *slog.Logger
}

func NewClient(baseURL, token, employeeID string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		employee: employeeID,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Start opens a running entry.
// POST /time-entries/start {"subjectRef": {...}}; 409 means another timer runs.
func (c *Client) Start(ctx context.Context, subject domain.SubjectRef) (domain.Snapshot, error) {
	body, err := json.Marshal(startRequest{SubjectRef: subject})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return c.requireSnapshot(c.do(ctx, "start", http.MethodPost, "/time-entries/start", nil, body))
}

// Pause closes the running segment. POST /time-entries/pause/{id}
func (c *Client) Pause(ctx context.Context, entryID string) (domain.Snapshot, error) {
	return c.requireSnapshot(c.do(ctx, "pause", http.MethodPost, "/time-entries/pause/"+url.PathEscape(entryID), nil, nil))
}

// Resume opens a new segment. POST /time-entries/resume/{id}
func (c *Client) Resume(ctx context.Context, entryID string) (domain.Snapshot, error) {
	return c.requireSnapshot(c.do(ctx, "resume", http.MethodPost, "/time-entries/resume/"+url.PathEscape(entryID), nil, nil))
}

// Stop closes the entry. POST /time-entries/stop/{id}
// The confirmation body is optional.
func (c *Client) Stop(ctx context.Context, entryID string) (*domain.Snapshot, error) {
	return c.do(ctx, "stop", http.MethodPost, "/time-entries/stop/"+url.PathEscape(entryID), nil, nil)
}

// Running fetches the employee's open entry, nil when there is none.
// GET /time-entries/running?employeeId=...
func (c *Client) Running(ctx context.Context) (*domain.Snapshot, error) {
	q := url.Values{}
	q.Set("employeeId", c.employee)
	return c.do(ctx, "running", http.MethodGet, "/time-entries/running", q, nil)
}

func (c *Client) requireSnapshot(s *domain.Snapshot, err error) (domain.Snapshot, error) {
	if err != nil {
		return domain.Snapshot{}, err
	}
	if s == nil {
		return domain.Snapshot{}, &domain.AuthorityError{Op: "decode", Err: errors.New("empty snapshot")}
	}
	return *s, nil
}

// do sends one request and decodes an optional snapshot. Transport failures and
// unexpected statuses come back as *domain.AuthorityError.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body []byte) (*domain.Snapshot, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, &domain.AuthorityError{Op: op, Err: err}
	}
	// path carries escaped entry ids; JoinPath keeps them escaped.
	u = u.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, &domain.AuthorityError{Op: op, Err: err}
	}
	requestID := uuid.NewString()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.AuthorityError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	c.log.Debug("authority request",
		slog.String("op", op),
		slog.String("request_id", requestID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("dur", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusConflict && op == "start":
		return nil, domain.ErrAlreadyRunning
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &domain.AuthorityError{
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(msg))),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.AuthorityError{Op: op, Status: resp.StatusCode, Err: err}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var rs rawSnapshot
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, &domain.AuthorityError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode snapshot: %w", err)}
	}
	s := rs.toDomain()
	return &s, nil
}

type startRequest struct {
	SubjectRef domain.SubjectRef `json:"subjectRef"`
}

// rawSnapshot mirrors the authority's JSON.
type rawSnapshot struct {
	ID                 string            `json:"id"`
	AccumulatedSeconds int64             `json:"accumulatedSeconds"`
	IsRunning          bool              `json:"isRunning"`
	IsPaused           bool              `json:"isPaused"`
	StartedAt          *time.Time        `json:"startedAt"`
	SubjectRef         domain.SubjectRef `json:"subjectRef"`
}

func (r rawSnapshot) toDomain() domain.Snapshot {
	s := domain.Snapshot{
		ID:                 r.ID,
		AccumulatedSeconds: r.AccumulatedSeconds,
		IsRunning:          r.IsRunning,
		IsPaused:           r.IsPaused,
		Subject:            r.SubjectRef,
	}
	if r.StartedAt != nil {
		s.StartedAt = r.StartedAt.UTC()
	}
	return s
}
