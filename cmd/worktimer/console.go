package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"worktimer/internal/domain"
)

// timerControl is what the console drives; *usecase.TimerReconciler satisfies it.
type timerControl interface {
	View() domain.View
	Start(ctx context.Context, subject domain.SubjectRef) (domain.View, error)
	Pause(ctx context.Context) (domain.View, error)
	Resume(ctx context.Context) (domain.View, error)
	Stop(ctx context.Context) (domain.View, error)
	Rehydrate(ctx context.Context) (domain.View, error)
}

// Console is an interactive prompt for controlling the timer.
type Console struct {
	rl *readline.Instance
}

func NewConsole() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "timer> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Stderr returns a writer that coordinates with the prompt.
func (c *Console) Stderr() io.Writer { return c.rl.Stderr() }

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, t timerControl) {
	defer c.rl.Close()
	out := c.rl.Stdout()
	printHelp(out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}
		if quit := execute(ctx, t, line, out); quit {
			cancel()
			return
		}
	}
}

// execute runs one console command and reports whether the console should exit.
func execute(ctx context.Context, t timerControl, line string, out io.Writer) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	var (
		view domain.View
		err  error
	)
	switch cmd {
	case "help", "?":
		printHelp(out)
		return false
	case "quit", "exit", "q":
		return true
	case "status", "s":
		printView(out, t.View())
		return false
	case "start":
		subject, perr := parseSubject(args)
		if perr != nil {
			fmt.Fprintf(out, "usage: start task <id> | start misc [id]: %v\n", perr)
			return false
		}
		view, err = t.Start(ctx, subject)
	case "pause", "p":
		view, err = t.Pause(ctx)
	case "resume", "r":
		view, err = t.Resume(ctx)
	case "stop":
		view, err = t.Stop(ctx)
	case "sync":
		view, err = t.Rehydrate(ctx)
	default:
		fmt.Fprintf(out, "unknown command %q, type help\n", cmd)
		return false
	}

	switch {
	case err == nil:
		printView(out, view)
	case domain.IsBusinessRule(err):
		fmt.Fprintf(out, "rejected: %v\n", err)
	case errors.Is(err, domain.ErrAuthorityUnavailable):
		fmt.Fprintf(out, "authority unavailable, try again: %v\n", err)
	default:
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false
}

func parseSubject(args []string) (domain.SubjectRef, error) {
	if len(args) == 0 {
		return domain.SubjectRef{}, errors.New("missing subject")
	}
	ref := domain.SubjectRef{Kind: domain.SubjectKind(strings.ToLower(args[0]))}
	if len(args) > 1 {
		ref.ID = args[1]
	}
	return ref, ref.Validate()
}

func printView(out io.Writer, v domain.View) {
	state := "idle"
	switch {
	case v.IsRunning:
		state = "running"
	case v.IsPaused:
		state = "paused"
	}
	if v.Pending {
		state += " (pending)"
	}
	fmt.Fprintf(out, "%s  %s  %s\n", formatElapsed(v.DisplayedElapsedSeconds), state, v.Subject)
}

func formatElapsed(sec int64) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec/60)%60, sec%60)
}

func printHelp(out io.Writer) {
	fmt.Fprint(out, `Commands:
  status             show the timer
  start task <id>    start timing a task
  start misc [id]    start timing a miscellaneous activity
  pause | resume     pause or resume the running timer
  stop               stop the timer
  sync               refetch the timer from the server
  quit               exit
`)
}
