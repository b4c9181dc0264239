// Package search implements the parallel single-bit-flip search: every bit
// of a buffer is flipped in turn, the variant is hashed, and the first
// variant whose digest equals the target wins.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bleepsandbloops/bitflip/internal/digest"
	"github.com/bleepsandbloops/bitflip/internal/hardware"
	"github.com/bleepsandbloops/bitflip/pkg/debug"
)

var (
	// ErrNilHasher is returned by New without a hasher.
	ErrNilHasher = errors.New("hasher must not be nil")

	// ErrInvalidTarget wraps target digests that do not fit the hasher.
	ErrInvalidTarget = errors.New("invalid target digest")

	// ErrSinkFailed wraps a failure to persist a found collision. The
	// Outcome returned alongside it still reports Found.
	ErrSinkFailed = errors.New("failed to persist collision")

	// ErrSearchInProgress is returned when Search is called concurrently on one Engine.
	ErrSearchInProgress = errors.New("search already in progress")

	// ErrIncompleteSearch means the pool finished without examining every bit
	// and without a match or failure to explain it.
	ErrIncompleteSearch = errors.New("search ended before examining every bit")
)

// ResultSink persists the outcome of a successful search.
type ResultSink interface {
	Persist(ctx context.Context, outcome *Outcome) error
}

// Outcome describes a finished search.
type Outcome struct {
	ID        uuid.UUID     `json:"id"`
	Algorithm string        `json:"algorithm"`
	Target    string        `json:"target"`
	Length    int           `json:"length"`
	Found     bool          `json:"found"`
	Collision *Collision    `json:"collision,omitempty"`
	Total     int64         `json:"total"`
	Examined  int64         `json:"examined"`
	Discarded int64         `json:"discarded"`
	Workers   int           `json:"workers"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Engine runs searches with a fixed hasher and configuration. Searches on
// one Engine run one at a time.
type Engine struct {
	hasher  digest.Hasher
	cfg     config
	state   *StateManager
	running atomic.Bool
}

// New creates an Engine using hasher.
func New(hasher digest.Hasher, opts ...Option) (*Engine, error) {
	if hasher == nil {
		return nil, ErrNilHasher
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.probe == nil {
		cfg.probe = hardware.NewMonitor()
	}

	return &Engine{
		hasher: hasher,
		cfg:    cfg,
		state:  NewStateManager(),
	}, nil
}

// State returns the current lifecycle state and the id of the last search.
func (e *Engine) State() (SearchState, string) {
	return e.state.GetState()
}

// Hasher returns the engine's hasher.
func (e *Engine) Hasher() digest.Hasher {
	return e.hasher
}

// Search flips every bit of data in turn and reports the first variant whose
// digest equals target. A search that finds nothing is not an error.
// Cancelling ctx stops the search and returns ctx.Err().
func (e *Engine) Search(ctx context.Context, data []byte, target string) (*Outcome, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrSearchInProgress
	}
	defer e.running.Store(false)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized, err := digest.NormalizeDigest(e.hasher, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}

	start := time.Now()
	buf := NewBuffer(data)
	gen := NewGenerator(buf.Len())
	outcome := &Outcome{
		ID:        uuid.New(),
		Algorithm: e.hasher.Name(),
		Target:    normalized,
		Length:    buf.Len(),
		Total:     gen.Len(),
	}
	id := outcome.ID.String()
	e.state.TransitionTo(StateRunning, id)

	if buf.Len() == 0 {
		debug.Info("Search %s: empty buffer, nothing to examine", id)
		outcome.Elapsed = time.Since(start)
		e.state.TransitionTo(StateExhausted, id)
		return outcome, nil
	}

	workers, err := e.planWorkers(buf.Len())
	if err != nil {
		e.state.TransitionTo(StateFailed, id)
		return nil, err
	}
	outcome.Workers = workers

	scratch, err := NewScratchPool(buf, workers)
	if err != nil {
		e.state.TransitionTo(StateFailed, id)
		return nil, err
	}

	token := NewCancellationToken()
	tracker := NewProgressTracker(gen.Len())
	pool := NewWorkerPool(workers, e.queueCapacity(workers), func(slot int, task Task) {
		e.execute(scratch, token, tracker, slot, task)
	})
	token.OnCancel(func() {
		e.state.TransitionTo(StateCancelling, id)
		discarded := pool.Drain()
		debug.Debug("Search %s: cancelled, discarded %d queued tasks", id, discarded)
	})

	debug.Info("Search %s: %s over %d bytes (%d bits) with %d workers",
		id, e.hasher.Name(), buf.Len(), gen.Len(), workers)

	stopProgress := e.startProgress(tracker)

	watchDone := make(chan struct{})
	var watch sync.WaitGroup
	watch.Add(1)
	go func() {
		defer watch.Done()
		select {
		case <-ctx.Done():
			token.Fail(ctx.Err())
		case <-token.Done():
		case <-watchDone:
		}
	}()

	for idx := range gen.All() {
		if err := pool.Submit(Task{Index: idx, Target: normalized}); err != nil {
			debug.Debug("Search %s: enumeration stopped at %s: %v", id, idx, err)
			break
		}
	}

	pool.Shutdown()
	close(watchDone)
	watch.Wait()
	stopProgress()

	stats := pool.Stats()
	outcome.Examined = tracker.Completed()
	outcome.Discarded = stats.Discarded
	outcome.Elapsed = time.Since(start)

	if e.cfg.trace {
		for slot := 0; slot < scratch.Slots(); slot++ {
			if !scratch.Pristine(slot) {
				debug.Error("Search %s: scratch slot %d not restored", id, slot)
			}
		}
	}

	if c, ok := token.Result(); ok {
		outcome.Found = true
		outcome.Collision = c
		debug.Info("Search %s: collision at %s (linear %d) after %d of %d tasks in %s",
			id, c.Index, c.Index.Linear(), outcome.Examined, outcome.Total, outcome.Elapsed)

		if e.cfg.sink != nil {
			if err := e.cfg.sink.Persist(ctx, outcome); err != nil {
				debug.Error("Search %s: persisting collision failed: %v", id, err)
				e.state.TransitionTo(StateFailed, id)
				return outcome, fmt.Errorf("%w: %w", ErrSinkFailed, err)
			}
		}
		e.state.TransitionTo(StateFound, id)
		return outcome, nil
	}

	if err := token.Err(); err != nil && !completedDespiteCancel(err, outcome) {
		debug.Warning("Search %s: stopped after %d of %d tasks: %v", id, outcome.Examined, outcome.Total, err)
		e.state.TransitionTo(StateFailed, id)
		return outcome, err
	}

	if outcome.Examined != outcome.Total {
		e.state.TransitionTo(StateFailed, id)
		return outcome, fmt.Errorf("%w: examined %d of %d", ErrIncompleteSearch, outcome.Examined, outcome.Total)
	}

	debug.Info("Search %s: no collision in %d bits (%s)", id, outcome.Total, outcome.Elapsed)
	e.state.TransitionTo(StateExhausted, id)
	return outcome, nil
}

// execute runs on a worker goroutine. A dequeued task always runs to the
// end; cancellation only affects tasks still in the queue.
func (e *Engine) execute(scratch *ScratchPool, token *CancellationToken, tracker *ProgressTracker, slot int, task Task) {
	defer tracker.Add(1)

	err := scratch.WithVariant(slot, task.Index, func(variant []byte) error {
		sum := e.hasher.Digest(variant)
		if e.cfg.trace {
			debug.Debug("slot %d: %s -> %s", slot, task.Index, sum)
		}
		if sum != task.Target {
			return nil
		}
		if token.Resolve(task.Index, sum, variant) {
			debug.Debug("slot %d: match at %s", slot, task.Index)
		} else {
			debug.Debug("slot %d: discarding later match at %s", slot, task.Index)
		}
		return nil
	})
	if err != nil {
		token.Fail(fmt.Errorf("task %s: %w", task.Index, err))
	}
}

// completedDespiteCancel reports whether a context error arrived only after
// every bit had been examined. The scan result stands in that case.
func completedDespiteCancel(err error, outcome *Outcome) bool {
	if outcome.Examined != outcome.Total {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) planWorkers(bufLen int) (int, error) {
	requested := e.cfg.workers
	budget := e.cfg.maxScratchBytes

	if requested == 0 || budget == 0 {
		host, err := e.cfg.probe.Detect()
		if err != nil {
			debug.Warning("Host detection failed: %v", err)
		}
		if budget == 0 {
			budget = hardware.DefaultScratchBudget(host)
		}
		plan, err := hardware.PlanWorkers(host, requested, bufLen, budget)
		if err != nil {
			return 0, err
		}
		if plan.LimitedBy != "" {
			debug.Debug("Worker count %d limited by %s", plan.Workers, plan.LimitedBy)
		}
		return plan.Workers, nil
	}

	plan, err := hardware.PlanWorkers(nil, requested, bufLen, budget)
	if err != nil {
		return 0, err
	}
	return plan.Workers, nil
}

func (e *Engine) queueCapacity(workers int) int {
	if e.cfg.queueCapacity > 0 {
		return e.cfg.queueCapacity
	}
	return workers * DefaultQueueDepthPerWorker
}

// startProgress runs the tracker's renderer, tagging each snapshot with the
// engine state, and returns a function that stops it and waits for the final
// snapshot to be delivered.
func (e *Engine) startProgress(tracker *ProgressTracker) func() {
	if e.cfg.progressFn == nil {
		return func() {}
	}

	fn := func(p Progress) {
		p.State, _ = e.State()
		e.cfg.progressFn(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tracker.Run(ctx, e.cfg.progressInterval, fn)
	}()

	return func() {
		cancel()
		<-done
	}
}
