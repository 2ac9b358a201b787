package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bainblan/Whos-There/internal/config"
	"github.com/bainblan/Whos-There/internal/playback"
	"github.com/bainblan/Whos-There/internal/provider"
	"github.com/bainblan/Whos-There/internal/sensor"
	"github.com/bainblan/Whos-There/internal/session"
	"github.com/bainblan/Whos-There/internal/storage"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive knock session",
	Long: `Start an interactive session on the terminal. Type "record" or "test",
then "k" and Enter once per knock, and an empty line to finish. Type "help"
for all commands.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

const runHelp = `Commands:
  record            start recording a new password
  test              start an access attempt
  k, knock          knock (timed when the line is read)
  <empty line>      finish the current recording or attempt
  cancel            abandon the current recording or attempt
  connect           connect to the knock sensor
  disconnect        disconnect from the knock sensor
  play              play the stored password
  stop              stop playback
  timbre NAME       knock, click, bell or wood
  magic [PROMPT]    generate a password, optionally from a description
  status            show the session state
  help              show this help
  quit              exit`

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Keep stdout for the conversation; logs go to stderr
	logger := setupLogger(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, store, err := newController(cfg, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()
	defer func() { _ = c.Close() }()

	dialer, err := sensor.NewDialer(cfg.Sensor)
	if err != nil {
		return err
	}

	r := &repl{
		ctx:      ctx,
		c:        c,
		dialer:   dialer,
		provider: provider.New(cfg.Provider, logger),
		out:      os.Stdout,
		logger:   logger,
	}
	unsubscribe := c.Subscribe(r.printNotification)
	defer unsubscribe()

	fmt.Fprintln(r.out, "Who's There? Type \"help\" for commands.")
	return r.loop(os.Stdin)
}

type repl struct {
	ctx      context.Context
	c        *session.Controller
	dialer   sensor.Dialer
	provider provider.Provider
	out      io.Writer
	logger   zerolog.Logger
}

// loop reads commands until quit, EOF or a shutdown signal.
func (r *repl) loop(in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-r.ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.handle(line); quit {
				return nil
			}
		}
	}
}

// handle runs one command line and reports whether the session should end.
func (r *repl) handle(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		r.finish()
		return false
	}

	red := color.New(color.FgRed)
	var err error
	switch strings.ToLower(fields[0]) {
	case "k", "knock":
		err = r.c.Knock()
	case "record":
		err = r.c.StartRecording()
	case "test":
		err = r.c.StartTesting()
	case "cancel":
		r.c.Cancel()
	case "connect":
		err = r.c.Connect(r.ctx, r.dialer)
	case "disconnect":
		err = r.c.Disconnect()
	case "play":
		_, err = r.c.Play(r.ctx)
	case "stop":
		r.c.StopPlayback()
	case "timbre":
		err = r.setTimbre(fields[1:])
	case "magic":
		err = r.magic(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0])))
	case "status":
		r.printStatus()
	case "help", "?":
		fmt.Fprintln(r.out, runHelp)
	case "quit", "exit", "q":
		return true
	default:
		err = fmt.Errorf("unknown command %q (type \"help\")", fields[0])
	}

	if err != nil {
		_, _ = red.Fprintf(r.out, "%s\n", describeError(err))
	}
	return false
}

func (r *repl) finish() {
	out, err := r.c.Finish(r.ctx)
	if err != nil {
		// Storage and validation failures arrive as notifications
		if errors.Is(err, session.ErrTooFewEvents) || errors.Is(err, session.ErrNotCapturing) {
			_, _ = color.New(color.FgRed).Fprintf(r.out, "%s\n", describeError(err))
		}
		return
	}
	if out.Mode == session.ModeRecording {
		fmt.Fprintf(r.out, "Recorded %d knocks: %s\n", out.Intervals.Knocks(), out.Intervals)
	}
}

func (r *repl) setTimbre(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: timbre knock|click|bell|wood")
	}
	t, err := playback.ParseTimbre(args[0])
	if err != nil {
		return err
	}
	r.c.Player().SetTimbre(t)
	fmt.Fprintf(r.out, "Timbre set to %s\n", t)
	return nil
}

// magic asks the provider for a rhythm, stores it and plays it.
func (r *repl) magic(prompt string) error {
	fmt.Fprintln(r.out, "Generating...")
	resp, err := r.provider.Generate(r.ctx, provider.NewRequest(prompt))
	if err != nil {
		return err
	}
	if err := r.c.SetPasswordFrom(r.ctx, resp.Intervals, resp.Description, storage.SourceGenerated); err != nil {
		return err
	}
	if resp.Description != "" {
		fmt.Fprintf(r.out, "%q\n", resp.Description)
	}
	r.c.PlaySequence(resp.Intervals)
	return nil
}

func (r *repl) printStatus() {
	s := r.c.Snapshot()
	fmt.Fprintf(r.out, "Mode:      %s\n", s.Mode)
	if s.Mode != session.ModeIdle {
		fmt.Fprintf(r.out, "Knocks:    %d\n", s.Knocks)
	}
	if s.Connected {
		fmt.Fprintf(r.out, "Sensor:    connected (%s)\n", s.Sensor)
	} else {
		fmt.Fprintf(r.out, "Sensor:    disconnected\n")
	}
	fmt.Fprintf(r.out, "Access:    %s\n", s.Access)
	fmt.Fprintf(r.out, "Tolerance: %dms\n", s.Tolerance)

	pw, err := r.c.Password(r.ctx)
	switch {
	case err == nil:
		fmt.Fprintf(r.out, "Password:  %d knocks (%s)\n", pw.Intervals.Knocks(), pw.Source)
	case errors.Is(err, session.ErrNoPasswordSet):
		fmt.Fprintf(r.out, "Password:  not set\n")
	default:
		fmt.Fprintf(r.out, "Password:  %v\n", err)
	}
}

func (r *repl) printNotification(n session.Notification) {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	switch n.Kind {
	case session.NotifyMode:
		switch n.Mode {
		case session.ModeRecording:
			_, _ = cyan.Fprintln(r.out, "Recording... knock, then press Enter")
		case session.ModeTesting:
			_, _ = cyan.Fprintln(r.out, "Who's there? Knock, then press Enter")
		}
	case session.NotifyKnock:
		_, _ = yellow.Fprintf(r.out, "knock %d\n", n.Knocks)
	case session.NotifyPasswordSaved:
		_, _ = green.Fprintf(r.out, "Password saved (%s)\n", n.Source)
	case session.NotifyAccess:
		switch n.Access {
		case session.AccessGranted:
			_, _ = green.Fprintln(r.out, "ACCESS GRANTED")
		case session.AccessDenied:
			_, _ = red.Fprintln(r.out, "ACCESS DENIED")
		}
	case session.NotifyPulse:
		if n.Pulse {
			_, _ = yellow.Fprintln(r.out, "* touch")
		}
	case session.NotifyConnected:
		_, _ = green.Fprintln(r.out, "Sensor connected")
	case session.NotifyDisconnected:
		_, _ = yellow.Fprintln(r.out, "Sensor disconnected")
	case session.NotifyConnectionFailed:
		_, _ = red.Fprintf(r.out, "%v\n", n.Err)
	case session.NotifyDecodeError:
		r.logger.Debug().Err(n.Err).Msg("Sensor line dropped")
	case session.NotifyError:
		_, _ = red.Fprintf(r.out, "%s\n", describeError(n.Err))
	}
}

// describeError turns session errors into prompts for the user.
func describeError(err error) string {
	switch {
	case errors.Is(err, session.ErrTooFewEvents):
		return "Need at least two knocks"
	case errors.Is(err, session.ErrNoPasswordSet):
		return "No password set - record one first"
	case errors.Is(err, session.ErrNotCapturing):
		return "Not recording - type \"record\" or \"test\" first"
	case errors.Is(err, session.ErrBusy):
		return "Finish or cancel the current recording first"
	case errors.Is(err, session.ErrNotConnected):
		return "Sensor is not connected"
	default:
		return err.Error()
	}
}
