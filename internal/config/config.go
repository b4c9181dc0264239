// Package config loads runtime settings from an optional .env file and
// BITFLIP_* environment variables. Command-line flags are applied on top by
// the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bleepsandbloops/bitflip/internal/digest"
	"github.com/bleepsandbloops/bitflip/pkg/debug"
)

// ErrInvalidConfig wraps every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultEnvFile is read when present; it is not an error for it to be missing.
const DefaultEnvFile = ".env"

const (
	EnvWorkers          = "BITFLIP_WORKERS"
	EnvAlgorithm        = "BITFLIP_ALGORITHM"
	EnvQueueCapacity    = "BITFLIP_QUEUE_CAPACITY"
	EnvMaxInputBytes    = "BITFLIP_MAX_INPUT_BYTES"
	EnvMaxScratchBytes  = "BITFLIP_MAX_SCRATCH_BYTES"
	EnvProgressInterval = "BITFLIP_PROGRESS_INTERVAL"
	EnvReportURL        = "BITFLIP_REPORT_URL"
	EnvDebug            = "BITFLIP_DEBUG"
	EnvLogLevel         = "BITFLIP_LOG_LEVEL"
	EnvLogDir           = "BITFLIP_LOG_DIR"
)

const (
	// DefaultMaxInputBytes bounds the decoded input size (1 GiB).
	DefaultMaxInputBytes int64 = 1 << 30

	DefaultProgressInterval = 200 * time.Millisecond
)

// Config holds all runtime settings.
type Config struct {
	Workers          int
	Algorithm        string
	QueueCapacity    int
	MaxInputBytes    int64
	MaxScratchBytes  uint64
	ProgressInterval time.Duration
	ReportURL        string
	Debug            bool
	LogLevel         debug.LogLevel
	LogDir           string

	// levelSet records that a log level was configured explicitly, which
	// turns logging on even without Debug.
	levelSet bool
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Algorithm:        digest.DefaultAlgorithm,
		MaxInputBytes:    DefaultMaxInputBytes,
		ProgressInterval: DefaultProgressInterval,
		LogLevel:         debug.LevelInfo,
	}
}

// Load reads envFile (DefaultEnvFile when empty) into the process environment
// without overriding variables that are already set, then builds a Config
// from the environment. An explicitly named envFile must exist.
func Load(envFile string) (*Config, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}

	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: failed to load %s: %w", ErrInvalidConfig, envFile, err)
		}
	}

	return FromEnv()
}

// FromEnv builds a Config from the current environment.
func FromEnv() (*Config, error) {
	cfg := Default()
	r := &envReader{}

	cfg.Workers = r.getEnvInt(EnvWorkers, cfg.Workers)
	cfg.Algorithm = r.getEnvString(EnvAlgorithm, cfg.Algorithm)
	cfg.QueueCapacity = r.getEnvInt(EnvQueueCapacity, cfg.QueueCapacity)
	cfg.MaxInputBytes = r.getEnvInt64(EnvMaxInputBytes, cfg.MaxInputBytes)
	cfg.MaxScratchBytes = r.getEnvUint64(EnvMaxScratchBytes, cfg.MaxScratchBytes)
	cfg.ProgressInterval = r.getEnvDuration(EnvProgressInterval, cfg.ProgressInterval)
	cfg.ReportURL = r.getEnvString(EnvReportURL, cfg.ReportURL)
	cfg.Debug = r.getEnvBool(EnvDebug, cfg.Debug)
	cfg.LogDir = r.getEnvString(EnvLogDir, cfg.LogDir)

	if val := os.Getenv(EnvLogLevel); val != "" {
		level, ok := debug.ParseLevel(val)
		if !ok {
			r.errs = append(r.errs, fmt.Errorf("%s: unknown log level %q", EnvLogLevel, val))
		}
		cfg.LogLevel = level
		cfg.levelSet = ok
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Validate checks value ranges and that the algorithm is registered.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("queue capacity must not be negative, got %d", c.QueueCapacity))
	}
	if c.MaxInputBytes < 0 {
		errs = append(errs, fmt.Errorf("max input bytes must not be negative, got %d", c.MaxInputBytes))
	}
	if c.ProgressInterval <= 0 {
		errs = append(errs, fmt.Errorf("progress interval must be positive, got %s", c.ProgressInterval))
	}
	if _, err := digest.Get(c.Algorithm); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// SetLogLevel sets the log level as if it had been configured explicitly.
func (c *Config) SetLogLevel(level debug.LogLevel) {
	c.LogLevel = level
	c.levelSet = true
}

// DebugOptions converts the logging settings into logger options. Logging is
// off unless Debug, a log level or a log directory was configured.
func (c *Config) DebugOptions() debug.Options {
	level := c.LogLevel
	if c.Debug {
		level = debug.LevelDebug
	}
	return debug.Options{
		Enabled: c.Debug || c.levelSet || c.LogDir != "",
		Level:   level,
		LogDir:  c.LogDir,
	}
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	errs []error
}

func (r *envReader) fail(key, val string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s=%q: %w", key, val, err))
}

func (r *envReader) getEnvString(key, defaultValue string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultValue
}

func (r *envReader) getEnvInt(key string, defaultValue int) int {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			r.fail(key, val, err)
			return defaultValue
		}
		return i
	}
	return defaultValue
}

func (r *envReader) getEnvInt64(key string, defaultValue int64) int64 {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			r.fail(key, val, err)
			return defaultValue
		}
		return i
	}
	return defaultValue
}

func (r *envReader) getEnvUint64(key string, defaultValue uint64) uint64 {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		i, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			r.fail(key, val, err)
			return defaultValue
		}
		return i
	}
	return defaultValue
}

func (r *envReader) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			r.fail(key, val, err)
			return defaultValue
		}
		return d
	}
	return defaultValue
}

func (r *envReader) getEnvBool(key string, defaultValue bool) bool {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			r.fail(key, val, err)
			return defaultValue
		}
		return b
	}
	return defaultValue
}
