package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

const helpText = `Commands:
  /start [profile]  Start a conversation
  /end              End the conversation
  /interrupt        Stop the model's speech
  /log [profile]    Print a conversation log
  /levels           Print microphone and speaker levels
  /profiles         List profiles
  /quit             Quit`

// voiceController is the part of *live.Controller the REPL uses.
type voiceController interface {
	Start(ctx context.Context, profile string) error
	End() error
	Interrupt() int
	State() live.ControllerState
	Transcript(profile string) []live.TurnEntry
	Levels() live.Levels
	Profiles() map[string]live.Profile
}

type repl struct {
	ctl     voiceController
	out     io.Writer
	profile string
}

// run reads commands until /quit, EOF or ctx is done.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Fprintln(r.out, helpText)
	for {
		select {
		case <-ctx.Done():
			_ = r.ctl.End()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				_ = r.ctl.End()
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := r.handle(ctx, line); quit {
				_ = r.ctl.End()
				return nil
			}
		}
	}
}

// handle runs one command line and reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	cmd, arg := parseCommand(line)
	switch cmd {
	case "":
	case "/start":
		profile := arg
		if profile == "" {
			profile = r.profile
		}
		if err := r.ctl.Start(ctx, profile); err != nil {
			fmt.Fprintln(r.out, live.UserMessage(err))
			return false
		}
		r.profile = profile
	case "/end":
		if err := r.ctl.End(); err != nil {
			fmt.Fprintln(r.out, live.UserMessage(err))
		}
	case "/interrupt":
		fmt.Fprintf(r.out, "stopped %d fragment(s)\n", r.ctl.Interrupt())
	case "/log":
		profile := arg
		if profile == "" {
			profile = r.profile
		}
		entries := r.ctl.Transcript(profile)
		if len(entries) == 0 {
			fmt.Fprintf(r.out, "no turns logged for %s\n", profile)
		}
		for _, e := range entries {
			fmt.Fprintf(r.out, "%s: %s\n", e.Role, e.Text)
		}
	case "/levels":
		lv := r.ctl.Levels()
		fmt.Fprintf(r.out, "mic rms=%.3f peak=%.3f  speaker rms=%.3f peak=%.3f  state=%s\n",
			lv.Input.RMS, lv.Input.Peak, lv.Output.RMS, lv.Output.Peak, r.ctl.State())
	case "/profiles":
		profiles := r.ctl.Profiles()
		names := make([]string, 0, len(profiles))
		for name := range profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			marker := " "
			if name == r.profile {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %s %s\n", marker, name, strings.Join(profiles[name].Tools, ","))
		}
	case "/quit", "/q", "q":
		return true
	default:
		fmt.Fprintln(r.out, helpText)
	}
	return false
}

func parseCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

// printEvents writes the controller's event feed until it is closed.
func printEvents(w io.Writer, events <-chan live.Event) {
	for ev := range events {
		if line := formatEvent(ev); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}

func formatEvent(ev live.Event) string {
	switch e := ev.(type) {
	case *live.StateChangedEvent:
		return fmt.Sprintf("[%s]", e.To)
	case *live.TurnLoggedEvent:
		return fmt.Sprintf("%s: %s", e.Entry.Role, e.Entry.Text)
	case *live.ToolCalledEvent:
		status := "ok"
		if e.Result.IsError {
			status = "error"
		}
		return fmt.Sprintf("[tool %s %s] %s", e.Invocation.Name, status, e.Result.Text())
	case *live.InterruptedEvent:
		if e.Remote {
			return "[interrupted by speech]"
		}
		return "[interrupted]"
	case *live.ErrorEvent:
		return e.Message
	default:
		// Transcript deltas are too chatty for a terminal.
		return ""
	}
}
