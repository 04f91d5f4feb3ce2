package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"worktimer/internal/domain"
)

// HTTPServer returns a configured http.Server exposing the timer view and its
// transitions. Call ListenAndServe on the returned server in a goroutine and
// Shutdown it on exit.
func (a *App) HTTPServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.log.Info("http server configured", slog.String("addr", addr))
	return srv
}

// Handler builds the routed, CORS-wrapped and logged handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /timer", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.timer.View())
	})

	// POST /timer/start {"subjectRef": {"kind": "task", "id": "..."}}
	mux.HandleFunc("POST /timer/start", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SubjectRef domain.SubjectRef `json:"subjectRef"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"status": "error",
				"kind":   "bad_request",
				"error":  "invalid body: " + err.Error(),
			})
			return
		}
		a.respond(w, r, func(ctx context.Context) (domain.View, error) {
			return a.timer.Start(ctx, req.SubjectRef)
		})
	})
	mux.HandleFunc("POST /timer/pause", func(w http.ResponseWriter, r *http.Request) {
		a.respond(w, r, a.timer.Pause)
	})
	mux.HandleFunc("POST /timer/resume", func(w http.ResponseWriter, r *http.Request) {
		a.respond(w, r, a.timer.Resume)
	})
	mux.HandleFunc("POST /timer/stop", func(w http.ResponseWriter, r *http.Request) {
		a.respond(w, r, a.timer.Stop)
	})
	mux.HandleFunc("POST /timer/sync", func(w http.ResponseWriter, r *http.Request) {
		a.respond(w, r, a.timer.Rehydrate)
	})

	mux.Handle("GET /timer/ws", a.hub)

	c := cors.New(cors.Options{
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return loggingMiddleware(a.log, c.Handler(mux))
}

// respond runs a transition and maps its outcome: 200 with the view on
// success, 409 for business-rule failures, 502 when the authority failed.
func (a *App) respond(w http.ResponseWriter, r *http.Request, op func(context.Context) (domain.View, error)) {
	view, err := op(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, view)
		return
	}

	status, kind := http.StatusBadRequest, "bad_request"
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		status, kind = http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrAlreadyRunning):
		status, kind = http.StatusConflict, "already_running"
	case errors.Is(err, domain.ErrAuthorityUnavailable):
		status, kind = http.StatusBadGateway, "authority_unavailable"
	}
	writeJSON(w, status, map[string]any{
		"status": "error",
		"kind":   kind,
		"error":  err.Error(),
		"view":   view,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// loggingMiddleware provides basic request logging.
func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Duration("dur", time.Since(start)),
		)
	})
}
