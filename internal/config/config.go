package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// WHOSTHERE_RHYTHM_TOLERANCE_MS.
const EnvPrefix = "WHOSTHERE"

// Config holds the complete application configuration
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Rhythm   RhythmConfig   `mapstructure:"rhythm" yaml:"rhythm"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Sensor   SensorConfig   `mapstructure:"sensor" yaml:"sensor"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// RhythmConfig defines how attempts are compared
type RhythmConfig struct {
	ToleranceMs int `mapstructure:"tolerance_ms" yaml:"tolerance_ms"`
}

// SessionConfig defines session controller settings
type SessionConfig struct {
	Profile string `mapstructure:"profile" yaml:"profile"` // key the password is stored under
}

// SensorConfig defines how to reach the knock sensor
type SensorConfig struct {
	Type           string `mapstructure:"type" yaml:"type"` // "serial" or "tcp"
	Device         string `mapstructure:"device" yaml:"device"`
	BaudRate       int    `mapstructure:"baud_rate" yaml:"baud_rate"`
	Address        string `mapstructure:"address" yaml:"address"`
	DialTimeout    string `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadBufferSize int    `mapstructure:"read_buffer_size" yaml:"read_buffer_size"`
	MaxLineBytes   int    `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	ReconnectMin   string `mapstructure:"reconnect_min" yaml:"reconnect_min"`
	ReconnectMax   string `mapstructure:"reconnect_max" yaml:"reconnect_max"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type             string      `mapstructure:"type" yaml:"type"` // "memory" or "redis"
	AttemptRetention int         `mapstructure:"attempt_retention" yaml:"attempt_retention"`
	Redis            RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Password     string `mapstructure:"password" yaml:"password"`
	DB           int    `mapstructure:"db" yaml:"db"`
	PoolSize     int    `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout" yaml:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// ProviderConfig defines the rhythm generation service
type ProviderConfig struct {
	URL       string `mapstructure:"url" yaml:"url"` // empty uses the local random generator
	Timeout   string `mapstructure:"timeout" yaml:"timeout"`
	CacheSize int    `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  string `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// PlaybackConfig defines how rhythms are played back
type PlaybackConfig struct {
	Sink     string `mapstructure:"sink" yaml:"sink"` // "terminal" or "command"
	Player   string `mapstructure:"player" yaml:"player"`
	SoundDir string `mapstructure:"sound_dir" yaml:"sound_dir"`
	Timbre   string `mapstructure:"timbre" yaml:"timbre"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := NewViper(configPath)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// NewViper prepares a viper instance with defaults, environment overrides
// and the config file (if present). It is exposed so callers can watch the
// file for changes.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("whosthere")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/whosthere")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	return v, nil
}

// Decode unmarshals and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile with a missing path reports a plain fs error
	return errors.Is(err, fs.ErrNotExist)
}

// UnknownKeys returns keys present in the config file that no setting
// consumes. Typos in a config file otherwise pass silently.
func UnknownKeys(v *viper.Viper) []string {
	known := Defaults()
	knownKeys := make(map[string]bool)
	for _, k := range known.AllKeys() {
		knownKeys[k] = true
	}

	var unknown []string
	for _, k := range v.AllKeys() {
		if !knownKeys[k] {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

// Defaults returns a viper instance holding only the default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Rhythm defaults
	v.SetDefault("rhythm.tolerance_ms", 200)

	// Session defaults
	v.SetDefault("session.profile", "default")

	// Sensor defaults (ESP32 firmware prints at 921600 baud)
	v.SetDefault("sensor.type", "serial")
	v.SetDefault("sensor.device", "/dev/ttyUSB0")
	v.SetDefault("sensor.baud_rate", 921600)
	v.SetDefault("sensor.address", "localhost:4000")
	v.SetDefault("sensor.dial_timeout", "5s")
	v.SetDefault("sensor.read_buffer_size", 1024)
	v.SetDefault("sensor.max_line_bytes", 4096)
	v.SetDefault("sensor.reconnect_min", "1s")
	v.SetDefault("sensor.reconnect_max", "30s")

	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.attempt_retention", 100)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "whosthere")

	// Provider defaults
	v.SetDefault("provider.url", "")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.cache_size", 64)
	v.SetDefault("provider.cache_ttl", "1h")

	// Playback defaults
	v.SetDefault("playback.sink", "terminal")
	v.SetDefault("playback.player", "")
	v.SetDefault("playback.sound_dir", "/usr/share/whosthere/sounds")
	v.SetDefault("playback.timbre", "knock")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9090")
}

// validate validates the configuration
func validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	if cfg.Rhythm.ToleranceMs < 0 {
		return fmt.Errorf("rhythm tolerance must not be negative: %d", cfg.Rhythm.ToleranceMs)
	}

	if strings.TrimSpace(cfg.Session.Profile) == "" {
		return fmt.Errorf("session profile is required")
	}

	switch cfg.Sensor.Type {
	case "serial":
		if cfg.Sensor.Device == "" {
			return fmt.Errorf("sensor device is required for serial sensors")
		}
		if cfg.Sensor.BaudRate <= 0 {
			return fmt.Errorf("invalid sensor baud rate: %d", cfg.Sensor.BaudRate)
		}
	case "tcp":
		if cfg.Sensor.Address == "" {
			return fmt.Errorf("sensor address is required for tcp sensors")
		}
	default:
		return fmt.Errorf("unknown sensor type: %s", cfg.Sensor.Type)
	}
	if cfg.Sensor.ReadBufferSize <= 0 {
		return fmt.Errorf("invalid sensor read buffer size: %d", cfg.Sensor.ReadBufferSize)
	}
	if cfg.Sensor.MaxLineBytes <= 0 {
		return fmt.Errorf("invalid sensor max line bytes: %d", cfg.Sensor.MaxLineBytes)
	}
	for name, d := range map[string]string{
		"sensor.dial_timeout":  cfg.Sensor.DialTimeout,
		"sensor.reconnect_min": cfg.Sensor.ReconnectMin,
		"sensor.reconnect_max": cfg.Sensor.ReconnectMax,
		"provider.timeout":     cfg.Provider.Timeout,
		"provider.cache_ttl":   cfg.Provider.CacheTTL,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	switch cfg.Storage.Type {
	case "memory":
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
	if cfg.Storage.AttemptRetention <= 0 {
		return fmt.Errorf("invalid attempt retention: %d", cfg.Storage.AttemptRetention)
	}

	if cfg.Provider.CacheSize < 0 {
		return fmt.Errorf("invalid provider cache size: %d", cfg.Provider.CacheSize)
	}

	if cfg.Playback.Sink != "terminal" && cfg.Playback.Sink != "command" {
		return fmt.Errorf("unknown playback sink: %s", cfg.Playback.Sink)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}

	return nil
}

// Duration parses a duration already checked by validate.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
