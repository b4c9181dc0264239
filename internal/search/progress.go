package search

import (
	"context"
	"sync/atomic"
	"time"
)

// Progress is a point-in-time view of a search.
type Progress struct {
	Completed int64         `json:"completed"`
	Total     int64         `json:"total"`
	Percent   float64       `json:"percent"`
	Elapsed   time.Duration `json:"elapsed"`
	Rate      float64       `json:"rate"` // tasks per second
	// State is filled in by the Engine; a bare tracker leaves it idle.
	State SearchState `json:"state"`
}

// ProgressFunc receives progress snapshots from ProgressTracker.Run.
type ProgressFunc func(Progress)

// ProgressTracker counts completed tasks without locks. Workers call Add on
// the hot path; rendering happens on a separate goroutine in Run.
type ProgressTracker struct {
	completed atomic.Int64
	total     int64
	start     time.Time
}

// NewProgressTracker starts a tracker expecting total tasks.
func NewProgressTracker(total int64) *ProgressTracker {
	return &ProgressTracker{total: total, start: time.Now()}
}

// Add records n completed tasks.
func (p *ProgressTracker) Add(n int64) {
	p.completed.Add(n)
}

// Completed returns the number of completed tasks.
func (p *ProgressTracker) Completed() int64 {
	return p.completed.Load()
}

// Total returns the expected number of tasks.
func (p *ProgressTracker) Total() int64 {
	return p.total
}

// Snapshot returns the current progress.
func (p *ProgressTracker) Snapshot() Progress {
	done := p.completed.Load()
	elapsed := time.Since(p.start)

	s := Progress{Completed: done, Total: p.total, Elapsed: elapsed}
	if p.total > 0 {
		s.Percent = float64(done) * 100 / float64(p.total)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.Rate = float64(done) / secs
	}
	return s
}

// step maps a completion count to its render granularity: whole percent, or
// single tasks when there are fewer than 100.
func (p *ProgressTracker) step(done int64) int64 {
	if p.total < 100 {
		return done
	}
	return done * 100 / p.total
}

// Run polls the counter every interval and calls fn whenever the rendered
// step changes. When ctx is done it delivers one final snapshot and returns.
func (p *ProgressTracker) Run(ctx context.Context, interval time.Duration, fn ProgressFunc) {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := int64(-1)
	for {
		select {
		case <-ctx.Done():
			fn(p.Snapshot())
			return
		case <-ticker.C:
			s := p.Snapshot()
			if step := p.step(s.Completed); step != last {
				last = step
				fn(s)
			}
		}
	}
}
