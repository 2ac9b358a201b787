package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bainblan/Whos-There/internal/config"
	"github.com/bainblan/Whos-There/internal/metrics"
	"github.com/bainblan/Whos-There/internal/sensor"
	"github.com/bainblan/Whos-There/internal/session"
	"github.com/bainblan/Whos-There/internal/systemd"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Validate knocks from the sensor as a service",
	Long: `Connect to the knock sensor and validate every rhythm it reports against
the stored password. Reconnects with backoff when the sensor goes away, serves
Prometheus metrics, and reloads the tolerance when the config file changes.`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	v, err := config.NewViper(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", v.ConfigFileUsed()).
		Msg("Starting Who's There listener")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

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

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("profile", cfg.Session.Profile).
		Msg("Storage initialized")

	dialer, err := sensor.NewDialer(cfg.Sensor)
	if err != nil {
		return err
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled || sdListeners.Metrics != nil {
		metricsServer = metrics.NewServer(cfg.Metrics.Address, func() error {
			if !c.Snapshot().Connected {
				return errors.New("sensor disconnected")
			}
			return nil
		}, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	// Hot reload of the tolerance. After WatchConfig only the watcher
	// goroutine touches v; SIGHUP reads the file into a fresh instance.
	var reloadMu sync.Mutex
	reload := func(reason string, load func() (*config.Config, error)) {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		applyReload(load, c, reason, logger)
	}
	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) {
				reload("file changed", func() (*config.Config, error) { return config.Decode(v) })
			}
		})
		v.WatchConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unsubscribe := c.Subscribe(func(n session.Notification) {
		switch n.Kind {
		case session.NotifyConnected:
			_ = systemd.NotifyStatus("Sensor connected: " + dialer.String())
		case session.NotifyDisconnected, session.NotifyConnectionFailed:
			_ = systemd.NotifyStatus("Waiting for sensor: " + dialer.String())
		}
	})
	defer unsubscribe()

	supervisor := &sensorSupervisor{
		c:        c,
		dialer:   dialer,
		minDelay: config.Duration(cfg.Sensor.ReconnectMin),
		maxDelay: config.Duration(cfg.Sensor.ReconnectMax),
		logger:   logger.With().Str("component", "supervisor").Logger(),
	}
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		supervisor.run(ctx)
	}()

	if interval := systemd.WatchdogInterval(); interval > 0 {
		go runWatchdog(ctx, interval, logger)
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, reloading configuration...")
			reload("SIGHUP", func() (*config.Config, error) { return config.Load(configPath) })
			continue
		}
		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	cancel()
	<-supervisorDone

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("Who's There listener stopped")
	return nil
}

// applyReload loads the configuration and applies the settings that can
// change at runtime. Invalid files are logged and ignored.
func applyReload(load func() (*config.Config, error), c *session.Controller, reason string, logger zerolog.Logger) {
	cfg, err := load()
	if err != nil {
		logger.Error().Err(err).Str("reason", reason).Msg("Ignoring invalid configuration")
		return
	}
	if err := c.SetTolerance(cfg.Rhythm.ToleranceMs); err != nil {
		logger.Error().Err(err).Msg("Failed to apply tolerance")
	}
}

// sensorSupervisor keeps the sensor connected, backing off between failed
// attempts.
type sensorSupervisor struct {
	c        *session.Controller
	dialer   sensor.Dialer
	minDelay time.Duration
	maxDelay time.Duration
	logger   zerolog.Logger
}

func (s *sensorSupervisor) run(ctx context.Context) {
	delay := time.Duration(0)
	for {
		if delay > 0 {
			s.logger.Info().Dur("delay", delay).Msg("Waiting before reconnecting to sensor")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			metrics.SensorReconnects.Inc()
		}

		err := s.c.Connect(ctx, s.dialer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, session.ErrConnectionFailure) {
				s.logger.Error().Err(err).Msg("Cannot connect to sensor")
			}
			delay = nextBackoff(delay, s.minDelay, s.maxDelay)
			continue
		}
		delay = 0

		select {
		case <-ctx.Done():
			_ = s.c.Disconnect()
			return
		case <-s.c.Done():
			// Stream ended; reconnect after the minimum delay
			delay = s.minDelay
		}
	}
}

// nextBackoff doubles cur within [lo, hi].
func nextBackoff(cur, lo, hi time.Duration) time.Duration {
	if cur < lo {
		return lo
	}
	next := cur * 2
	if next > hi {
		return hi
	}
	return next
}

func runWatchdog(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
			}
		}
	}
}
