package search

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepsandbloops/bitflip/internal/digest"
	"github.com/bleepsandbloops/bitflip/internal/hardware"
	"github.com/bleepsandbloops/bitflip/internal/hardware/types"
)

// setHasher digests to "ff" for any input in hits and "00" otherwise.
type setHasher struct {
	hits   map[string]bool
	calls  atomic.Int64
	delay  time.Duration
	onCall func(n int64)
}

func (h *setHasher) Name() string { return "set" }
func (h *setHasher) Size() int    { return 1 }
func (h *setHasher) Digest(data []byte) string {
	n := h.calls.Add(1)
	if h.onCall != nil {
		h.onCall(n)
	}
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if h.hits[string(data)] {
		return "ff"
	}
	return "00"
}

type recordingSink struct {
	mu       sync.Mutex
	outcomes []*Outcome
	err      error
}

func (s *recordingSink) Persist(_ context.Context, outcome *Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return s.err
}

func flip(data []byte, idx BitIndex) []byte {
	out := bytes.Clone(data)
	out[idx.Byte] ^= idx.Mask()
	return out
}

func md5Hasher(t *testing.T) digest.Hasher {
	t.Helper()
	h, err := digest.Get("md5")
	require.NoError(t, err)
	return h
}

func newEngine(t *testing.T, h digest.Hasher, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithMaxScratchBytes(1 << 30)}, opts...)
	e, err := New(h, opts...)
	require.NoError(t, err)
	return e
}

func TestSearchScenarioA_MSBOfFirstByte(t *testing.T) {
	h := md5Hasher(t)
	sink := &recordingSink{}
	e := newEngine(t, h, WithWorkers(4), WithSink(sink))

	buf := []byte{0x00, 0x00, 0x00, 0x00}
	target := h.Digest([]byte{0x80, 0x00, 0x00, 0x00})

	outcome, err := e.Search(context.Background(), buf, target)
	require.NoError(t, err)
	require.True(t, outcome.Found)
	assert.Equal(t, BitIndex{Byte: 0, Bit: 0}, outcome.Collision.Index)
	assert.Equal(t, target, outcome.Collision.Digest)
	assert.Equal(t, []byte{0x80, 0, 0, 0}, outcome.Collision.Variant)
	assert.Equal(t, "md5", outcome.Algorithm)
	assert.Equal(t, int64(32), outcome.Total)
	assert.LessOrEqual(t, outcome.Examined+outcome.Discarded, outcome.Total)

	require.Len(t, sink.outcomes, 1)
	assert.Same(t, outcome, sink.outcomes[0])

	state, id := e.State()
	assert.Equal(t, StateFound, state)
	assert.Equal(t, outcome.ID.String(), id)
}

func TestSearchScenarioB_UnchangedTargetNotFound(t *testing.T) {
	h := md5Hasher(t)
	sink := &recordingSink{}
	e := newEngine(t, h, WithWorkers(2), WithSink(sink))

	outcome, err := e.Search(context.Background(), []byte{0xFF}, h.Digest([]byte{0xFF}))
	require.NoError(t, err)
	assert.False(t, outcome.Found)
	assert.Nil(t, outcome.Collision)
	assert.Equal(t, int64(8), outcome.Examined)
	assert.Equal(t, int64(0), outcome.Discarded)
	assert.Empty(t, sink.outcomes)

	state, _ := e.State()
	assert.Equal(t, StateExhausted, state)
}

func TestSearchScenarioC_EmptyBuffer(t *testing.T) {
	h := &setHasher{}
	e := newEngine(t, h, WithWorkers(4))

	outcome, err := e.Search(context.Background(), nil, "ff")
	require.NoError(t, err)
	assert.False(t, outcome.Found)
	assert.Equal(t, int64(0), outcome.Total)
	assert.Equal(t, int64(0), outcome.Examined)
	assert.Equal(t, 0, outcome.Workers)
	assert.Equal(t, int64(0), h.calls.Load())
}

func TestSearchScenarioD_TwoMatchingPositions(t *testing.T) {
	buf := []byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC}
	a := BitIndex{Byte: 1, Bit: 3}
	b := BitIndex{Byte: 5, Bit: 6}

	for _, workers := range []int{1, 2, 8, 64} {
		h := &setHasher{hits: map[string]bool{
			string(flip(buf, a)): true,
			string(flip(buf, b)): true,
		}}
		e := newEngine(t, h, WithWorkers(workers))

		outcome, err := e.Search(context.Background(), buf, "FF")
		require.NoError(t, err)
		require.True(t, outcome.Found, "workers=%d", workers)

		winner := outcome.Collision.Index
		assert.Contains(t, []BitIndex{a, b}, winner, "workers=%d", workers)
		assert.Equal(t, flip(buf, winner), outcome.Collision.Variant)
	}
}

func TestSearchSameOutcomeForAnyWorkerCount(t *testing.T) {
	h := md5Hasher(t)
	buf := []byte("a transmitted block with one corrupted bit")
	want := BitIndex{Byte: 17, Bit: 5}
	target := h.Digest(flip(buf, want))
	missing := h.Digest([]byte("something else entirely"))

	for _, workers := range []int{1, 2, 64} {
		e := newEngine(t, h, WithWorkers(workers))

		found, err := e.Search(context.Background(), buf, target)
		require.NoError(t, err)
		require.True(t, found.Found)
		assert.Equal(t, want, found.Collision.Index)
		assert.Equal(t, flip(buf, want), found.Collision.Variant)

		notFound, err := e.Search(context.Background(), buf, missing)
		require.NoError(t, err)
		assert.False(t, notFound.Found)
		assert.Equal(t, int64(len(buf)*8), notFound.Examined, "workers=%d", workers)
	}
}

func TestSearchVisitsEveryBitOnceWhenNotFound(t *testing.T) {
	buf := bytes.Repeat([]byte{0xA5}, 40)

	var mu sync.Mutex
	seen := make(map[string]int)
	recorder := &recordingHasher{inner: &setHasher{}, seen: seen, mu: &mu}

	e := newEngine(t, recorder, WithWorkers(7), WithQueueCapacity(3))
	outcome, err := e.Search(context.Background(), buf, "ff")
	require.NoError(t, err)
	assert.False(t, outcome.Found)
	assert.Equal(t, int64(320), outcome.Examined)

	assert.Len(t, seen, 320)
	for idx := range NewGenerator(len(buf)).All() {
		assert.Equal(t, 1, seen[string(flip(buf, idx))], "bit %s", idx)
	}
}

type recordingHasher struct {
	inner digest.Hasher
	mu    *sync.Mutex
	seen  map[string]int
}

func (h *recordingHasher) Name() string { return h.inner.Name() }
func (h *recordingHasher) Size() int    { return h.inner.Size() }
func (h *recordingHasher) Digest(data []byte) string {
	h.mu.Lock()
	h.seen[string(data)]++
	h.mu.Unlock()
	return h.inner.Digest(data)
}

func TestSearchProgressReachesTotal(t *testing.T) {
	h := md5Hasher(t)
	var mu sync.Mutex
	var snapshots []Progress
	e := newEngine(t, h, WithWorkers(3), WithProgress(time.Millisecond, func(p Progress) {
		mu.Lock()
		snapshots = append(snapshots, p)
		mu.Unlock()
	}))

	buf := bytes.Repeat([]byte{0x01}, 64)
	outcome, err := e.Search(context.Background(), buf, h.Digest([]byte("nope")))
	require.NoError(t, err)
	assert.False(t, outcome.Found)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snapshots)
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, int64(512), last.Completed)
	assert.Equal(t, int64(512), last.Total)
	assert.Equal(t, StateRunning, last.State)
	for i := 1; i < len(snapshots); i++ {
		assert.GreaterOrEqual(t, snapshots[i].Completed, snapshots[i-1].Completed)
	}
}

func TestSearchSinkFailureIsDistinct(t *testing.T) {
	h := md5Hasher(t)
	sinkErr := errors.New("read-only filesystem")
	e := newEngine(t, h, WithWorkers(2), WithSink(&recordingSink{err: sinkErr}))

	buf := []byte{0xDE, 0xAD}
	outcome, err := e.Search(context.Background(), buf, h.Digest(flip(buf, BitIndex{Byte: 1, Bit: 7})))
	assert.ErrorIs(t, err, ErrSinkFailed)
	assert.ErrorIs(t, err, sinkErr)
	require.NotNil(t, outcome)
	assert.True(t, outcome.Found)

	state, _ := e.State()
	assert.Equal(t, StateFailed, state)
}

func TestSearchContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &setHasher{delay: 2 * time.Millisecond}
	h.onCall = func(n int64) {
		if n == 5 {
			cancel()
		}
	}
	var last Progress
	e := newEngine(t, h, WithWorkers(2), WithProgress(time.Hour, func(p Progress) { last = p }))

	outcome, err := e.Search(ctx, bytes.Repeat([]byte{0}, 64), "ff")
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, outcome)
	assert.False(t, outcome.Found)
	assert.Less(t, outcome.Examined, outcome.Total)
	assert.Equal(t, StateCancelling, last.State, "final snapshot is taken while draining")
	assert.Equal(t, outcome.Examined, last.Completed)

	state, _ := e.State()
	assert.Equal(t, StateFailed, state)
}

func TestSearchInvalidTarget(t *testing.T) {
	e := newEngine(t, md5Hasher(t), WithWorkers(1))

	_, err := e.Search(context.Background(), []byte{1}, "abc")
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.ErrorIs(t, err, digest.ErrInvalidDigest)
}

func TestSearchRejectsConcurrentUse(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h := &setHasher{}
	h.onCall = func(int64) {
		once.Do(func() { close(started) })
		<-release
	}
	e := newEngine(t, h, WithWorkers(1))

	done := make(chan error, 1)
	go func() {
		_, err := e.Search(context.Background(), []byte{1}, "ff")
		done <- err
	}()

	<-started
	_, err := e.Search(context.Background(), []byte{1}, "ff")
	assert.ErrorIs(t, err, ErrSearchInProgress)

	close(release)
	assert.NoError(t, <-done)
}

func TestSearchUsesHostProbeForDefaults(t *testing.T) {
	probe := hardware.NewMockMonitorWith(types.Host{LogicalCPUs: 3, AvailMemory: 1 << 30})
	e, err := New(&setHasher{}, WithHostProbe(probe))
	require.NoError(t, err)

	outcome, err := e.Search(context.Background(), []byte{1, 2, 3, 4}, "ff")
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Workers)
	assert.Equal(t, 1, probe.Calls())
}

func TestSearchMemoryBoundLimitsWorkers(t *testing.T) {
	probe := hardware.NewMockMonitorWith(types.Host{LogicalCPUs: 16, AvailMemory: 4 * 64})
	e, err := New(&setHasher{}, WithHostProbe(probe))
	require.NoError(t, err)

	// budget is a quarter of 256 bytes: one 64-byte scratch buffer
	outcome, err := e.Search(context.Background(), make([]byte, 64), "ff")
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Workers)
	assert.Equal(t, int64(512), outcome.Examined)
}

func TestSearchWithTrace(t *testing.T) {
	h := md5Hasher(t)
	e := newEngine(t, h, WithWorkers(2), WithTrace(true))

	buf := []byte{0x0F}
	outcome, err := e.Search(context.Background(), buf, h.Digest(flip(buf, BitIndex{Bit: 7})))
	require.NoError(t, err)
	assert.True(t, outcome.Found)
	assert.Equal(t, BitIndex{Byte: 0, Bit: 7}, outcome.Collision.Index)
	assert.Equal(t, []byte{0x0E}, outcome.Collision.Variant)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilHasher)

	_, err = New(&setHasher{}, WithWorkers(-1))
	assert.ErrorIs(t, err, ErrInvalidWorkers)

	_, err = New(&setHasher{}, WithQueueCapacity(-1))
	assert.ErrorIs(t, err, ErrInvalidQueueCapacity)

	_, err = New(&setHasher{}, WithProgress(0, func(Progress) {}))
	assert.ErrorIs(t, err, ErrInvalidProgressInterval)

	e, err := New(&setHasher{})
	require.NoError(t, err)
	assert.Equal(t, "set", e.Hasher().Name())
}

func TestSearchAlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := &setHasher{}
	e := newEngine(t, h, WithWorkers(1))

	_, err := e.Search(ctx, []byte{1, 2}, "ff")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), h.calls.Load())
}

func TestSearchCancelAfterLastBitKeepsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buf := []byte{0x01, 0x02}
	h := &setHasher{}
	h.onCall = func(n int64) {
		if n == int64(len(buf)*8) {
			cancel()
		}
	}
	e := newEngine(t, h, WithWorkers(1))

	outcome, err := e.Search(ctx, buf, "ff")
	require.NoError(t, err)
	assert.False(t, outcome.Found)
	assert.Equal(t, outcome.Total, outcome.Examined)

	state, _ := e.State()
	assert.Equal(t, StateExhausted, state)
}
