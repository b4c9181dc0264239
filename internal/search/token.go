package search

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Collision is the single winning match of a search.
type Collision struct {
	Index  BitIndex `json:"index"`
	Digest string   `json:"digest"`
	// Variant is a private copy of the matching bytes.
	Variant []byte `json:"-"`
}

// CancellationToken coordinates first-match-wins. Exactly one Resolve call
// ever succeeds; the winner stores the Collision and cancels the search.
type CancellationToken struct {
	found atomic.Bool

	mu       sync.Mutex
	result   *Collision
	err      error
	onCancel func()

	done      chan struct{}
	closeOnce sync.Once
}

// NewCancellationToken returns an unset token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// OnCancel registers fn to run once when the token is first cancelled.
// It must be set before any task can resolve the token.
func (t *CancellationToken) OnCancel(fn func()) {
	t.mu.Lock()
	t.onCancel = fn
	t.mu.Unlock()
}

// Resolve records a match. It returns true only for the first caller across
// all goroutines; later callers discard their match.
func (t *CancellationToken) Resolve(idx BitIndex, digest string, variant []byte) bool {
	if t.found.Load() || !t.found.CompareAndSwap(false, true) {
		return false
	}

	c := &Collision{
		Index:   idx,
		Digest:  digest,
		Variant: bytes.Clone(variant),
	}
	t.mu.Lock()
	t.result = c
	t.mu.Unlock()

	t.cancel()
	return true
}

// Fail records err as the reason the search stopped, keeping only the first
// error, and cancels the search.
func (t *CancellationToken) Fail(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()

	t.cancel()
}

func (t *CancellationToken) cancel() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		fn := t.onCancel
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// Cancelled reports whether the search was resolved or failed.
func (t *CancellationToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed when the token is cancelled.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.done
}

// Result returns the winning collision, if any.
func (t *CancellationToken) Result() (*Collision, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.result != nil
}

// Err returns the first failure recorded with Fail.
func (t *CancellationToken) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
