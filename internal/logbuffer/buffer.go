// Package logbuffer keeps the most recent log entries in memory so a failed
// search can replay its trace without re-running.
package logbuffer

import (
	"sync"
	"time"
)

const (
	// DefaultBufferSize is the default number of log entries to keep
	DefaultBufferSize = 1000
	// MaxEntrySize is the maximum size of a single log message in bytes
	MaxEntrySize = 2048
)

// LogEntry represents a single log entry in the buffer
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	File      string    `json:"file"`
	Line      int       `json:"line"`
	Function  string    `json:"function"`
}

// RingBuffer is a thread-safe circular buffer for log entries
type RingBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	head     int // next write position
	count    int
	capacity int
	dropped  uint64 // entries overwritten so far
}

// New creates a new RingBuffer with the specified capacity
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, overwriting the oldest one when full.
// Messages longer than MaxEntrySize are truncated.
func (rb *RingBuffer) Add(entry LogEntry) {
	if len(entry.Message) > MaxEntrySize {
		entry.Message = entry.Message[:MaxEntrySize-3] + "..."
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.capacity

	if rb.count < rb.capacity {
		rb.count++
	} else {
		rb.dropped++
	}
}

// oldest returns the index of the oldest stored entry. Caller holds mu.
func (rb *RingBuffer) oldest() int {
	if rb.count < rb.capacity {
		return 0
	}
	return rb.head
}

// Tail returns the newest n entries, oldest first
func (rb *RingBuffer) Tail(n int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	start := rb.oldest() + rb.count - n
	result := make([]LogEntry, n)
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(start+i)%rb.capacity]
	}
	return result
}

// Count returns the number of entries currently in the buffer
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Dropped returns how many entries were overwritten
func (rb *RingBuffer) Dropped() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.dropped
}

// Capacity returns the maximum number of entries the buffer can hold
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}
