package playback

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// TerminalSink prints one line per knock.
type TerminalSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminalSink writes knock lines to out.
func NewTerminalSink(out io.Writer) *TerminalSink {
	return &TerminalSink{out: out}
}

var timbreColors = map[Timbre]*color.Color{
	TimbreKnock: color.New(color.FgYellow, color.Bold),
	TimbreClick: color.New(color.FgCyan),
	TimbreBell:  color.New(color.FgMagenta, color.Bold),
	TimbreWood:  color.New(color.FgRed),
}

// Fire prints the knock.
func (t *TerminalSink) Fire(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := timbreColors[e.Timbre]
	if !ok {
		c = color.New(color.Reset)
	}
	_, _ = c.Fprintf(t.out, "%s %d/%d", strings.ToUpper(string(e.Timbre)), e.Index+1, e.Total)
	_, _ = fmt.Fprintf(t.out, " +%dms\n", e.Offset.Milliseconds())
}

// players lists supported audio players in order of preference, with the
// arguments that play a file once without a window.
var players = []struct {
	name string
	args []string
}{
	{"paplay", nil},
	{"aplay", []string{"-q"}},
	{"ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
	{"mpv", []string{"--no-video", "--really-quiet"}},
}

// CommandSink plays a sound file per knock through an external audio
// player. Each knock spawns the player without waiting for it, so
// overlapping knocks overlap in sound as well.
type CommandSink struct {
	player   string
	args     []string
	soundDir string
	fallback Sink
	logger   zerolog.Logger

	start func(*exec.Cmd) error
}

// NewCommandSink locates an audio player. player may name one explicitly;
// empty selects the first available. Sound files are read from soundDir as
// <timbre>.wav. Knocks without a playable file go to fallback.
func NewCommandSink(player, soundDir string, fallback Sink, logger zerolog.Logger) (*CommandSink, error) {
	name, args, err := findAudioPlayer(player)
	if err != nil {
		return nil, err
	}
	return &CommandSink{
		player:   name,
		args:     args,
		soundDir: soundDir,
		fallback: fallback,
		logger:   logger.With().Str("component", "audio").Str("player", name).Logger(),
		start:    (*exec.Cmd).Start,
	}, nil
}

// Player returns the resolved player binary.
func (c *CommandSink) Player() string {
	return c.player
}

// SoundFile returns the file played for a timbre.
func (c *CommandSink) SoundFile(t Timbre) string {
	return filepath.Join(c.soundDir, string(t)+".wav")
}

// Fire starts the player for the knock. It returns before the process is
// spawned; the scheduler calls it with its lock held.
func (c *CommandSink) Fire(e Event) {
	go c.play(e)
}

func (c *CommandSink) play(e Event) {
	file := c.SoundFile(e.Timbre)
	if _, err := os.Stat(file); err != nil {
		if c.fallback != nil {
			c.fallback.Fire(e)
		}
		return
	}

	args := append(append([]string{}, c.args...), file)
	cmd := exec.Command(c.player, args...)
	if err := c.start(cmd); err != nil {
		c.logger.Warn().Err(err).Str("file", file).Msg("Failed to start audio player")
		if c.fallback != nil {
			c.fallback.Fire(e)
		}
		return
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			c.logger.Debug().Err(err).Msg("Audio player exited with error")
		}
	}()
}

func findAudioPlayer(preferred string) (string, []string, error) {
	if preferred != "" {
		for _, p := range players {
			if p.name == preferred {
				if _, err := exec.LookPath(p.name); err != nil {
					return "", nil, fmt.Errorf("audio player %s not found: %w", p.name, err)
				}
				return p.name, p.args, nil
			}
		}
		if _, err := exec.LookPath(preferred); err != nil {
			return "", nil, fmt.Errorf("audio player %s not found: %w", preferred, err)
		}
		return preferred, nil, nil
	}

	names := make([]string, 0, len(players))
	for _, p := range players {
		if _, err := exec.LookPath(p.name); err == nil {
			return p.name, p.args, nil
		}
		names = append(names, p.name)
	}
	return "", nil, fmt.Errorf("no audio player found (tried: %s)", strings.Join(names, ", "))
}
