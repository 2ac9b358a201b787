package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bainblan/Whos-There/internal/clock"
	"github.com/bainblan/Whos-There/internal/config"
	"github.com/bainblan/Whos-There/internal/playback"
	"github.com/bainblan/Whos-There/internal/session"
	"github.com/bainblan/Whos-There/internal/storage"
	"github.com/bainblan/Whos-There/internal/storage/memory"
	"github.com/bainblan/Whos-There/internal/storage/redis"
	"github.com/rs/zerolog"
)

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(out).With().Timestamp().Logger()
}

// quietLogger is used by one-shot commands that print their own output.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.Open(cfg.AttemptRetention), nil
	case "redis":
		return redis.Open(cfg.Redis, cfg.AttemptRetention)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// newSink builds the configured playback output. A missing audio player
// falls back to terminal output.
func newSink(cfg config.PlaybackConfig, out io.Writer, logger zerolog.Logger) playback.Sink {
	terminal := playback.NewTerminalSink(out)
	if cfg.Sink != "command" {
		return terminal
	}

	sink, err := playback.NewCommandSink(cfg.Player, cfg.SoundDir, terminal, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Audio playback unavailable, printing knocks instead")
		return terminal
	}
	logger.Debug().Str("player", sink.Player()).Msg("Audio playback enabled")
	return sink
}

func newScheduler(cfg config.PlaybackConfig, out io.Writer, logger zerolog.Logger) (*playback.Scheduler, error) {
	timbre, err := playback.ParseTimbre(cfg.Timbre)
	if err != nil {
		return nil, err
	}
	s := playback.NewScheduler(clock.RealClock{}, newSink(cfg, out, logger), logger)
	s.SetTimbre(timbre)
	return s, nil
}

// newController wires storage and playback into a session controller. The
// returned store must be closed after the controller.
func newController(cfg *config.Config, out io.Writer, logger zerolog.Logger) (*session.Controller, storage.Store, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	player, err := newScheduler(cfg.Playback, out, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	c := session.New(session.Options{
		Store:          store,
		Player:         player,
		Clock:          clock.RealClock{},
		Profile:        cfg.Session.Profile,
		Tolerance:      cfg.Rhythm.ToleranceMs,
		ReadBufferSize: cfg.Sensor.ReadBufferSize,
		MaxLineBytes:   cfg.Sensor.MaxLineBytes,
		Logger:         logger,
	})
	return c, store, nil
}
