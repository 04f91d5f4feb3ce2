package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"worktimer/internal/app"
	"worktimer/internal/config"
)

func main() {
	// Flags
	once := flag.Bool("once", false, "Fetch the running timer once, print it and exit")
	addr := flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	console := flag.Bool("console", false, "Run the interactive timer console")
	resync := flag.Duration("resync", -1, "Resync interval with the authority, 0 disables (overrides RESYNC_INTERVAL)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	// Logger
	logger := newLogger(os.Stdout, *verbose)
	slog.SetDefault(logger)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *resync >= 0 {
		cfg.Timer.ResyncInterval = *resync
	}

	// Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var con *Console
	if *console {
		con, err = NewConsole()
		if err != nil {
			logger.Error("failed to start console", slog.String("error", err.Error()))
			os.Exit(1)
		}
		// Route logs through readline so they don't clobber the prompt.
		logger = newLogger(con.Stderr(), *verbose)
		slog.SetDefault(logger)
	}

	// App
	application, err := app.New(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to initialize app", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *once {
		err := printOnce(ctx, os.Stdout, application.Timer())
		application.Close()
		if err != nil {
			logger.Error("rehydrate failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	application.Run(ctx)

	srv := application.HTTPServer(cfg.HTTP.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	if con != nil {
		con.Run(ctx, stop, application.Timer())
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	application.Close()
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// printOnce asks the authority for the running timer and writes the view as JSON.
func printOnce(ctx context.Context, w io.Writer, t timerControl) error {
	view, err := t.Rehydrate(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
