package search

import (
	"errors"
	"fmt"
	"time"

	"github.com/bleepsandbloops/bitflip/internal/hardware"
)

var (
	// ErrInvalidWorkers is returned when a negative worker count is configured.
	ErrInvalidWorkers = errors.New("workers must not be negative")

	// ErrInvalidQueueCapacity is returned when a negative queue capacity is configured.
	ErrInvalidQueueCapacity = errors.New("queue capacity must not be negative")

	// ErrInvalidProgressInterval is returned when the progress interval is not positive.
	ErrInvalidProgressInterval = errors.New("progress interval must be greater than 0")
)

const (
	// DefaultProgressInterval is how often the progress counter is polled.
	DefaultProgressInterval = 200 * time.Millisecond

	// DefaultQueueDepthPerWorker bounds the task queue to this many pending
	// tasks per worker when no capacity is configured.
	DefaultQueueDepthPerWorker = 256
)

// Option configures an Engine.
type Option func(*config) error

type config struct {
	workers          int
	queueCapacity    int
	maxScratchBytes  uint64
	trace            bool
	progressInterval time.Duration
	progressFn       ProgressFunc
	sink             ResultSink
	probe            hardware.Probe
}

func defaultConfig() config {
	return config{
		progressInterval: DefaultProgressInterval,
	}
}

// WithWorkers sets the number of workers. Zero selects one per logical CPU.
func WithWorkers(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("%w: got %d", ErrInvalidWorkers, n)
		}
		c.workers = n
		return nil
	}
}

// WithQueueCapacity bounds the task queue. Zero selects
// DefaultQueueDepthPerWorker per worker.
func WithQueueCapacity(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("%w: got %d", ErrInvalidQueueCapacity, n)
		}
		c.queueCapacity = n
		return nil
	}
}

// WithMaxScratchBytes caps the memory used by scratch buffers. Zero selects a
// quarter of the available memory reported by the host probe, or
// hardware.FallbackScratchBudget when that is unknown.
func WithMaxScratchBytes(n uint64) Option {
	return func(c *config) error {
		c.maxScratchBytes = n
		return nil
	}
}

// WithTrace logs every examined bit at debug level.
func WithTrace(enabled bool) Option {
	return func(c *config) error {
		c.trace = enabled
		return nil
	}
}

// WithProgress delivers progress snapshots to fn, polled every interval.
func WithProgress(interval time.Duration, fn ProgressFunc) Option {
	return func(c *config) error {
		if interval <= 0 {
			return fmt.Errorf("%w: got %s", ErrInvalidProgressInterval, interval)
		}
		c.progressInterval = interval
		c.progressFn = fn
		return nil
	}
}

// WithSink persists the collision when one is found.
func WithSink(sink ResultSink) Option {
	return func(c *config) error {
		c.sink = sink
		return nil
	}
}

// WithHostProbe replaces the hardware probe used to size the worker pool.
func WithHostProbe(probe hardware.Probe) Option {
	return func(c *config) error {
		c.probe = probe
		return nil
	}
}
