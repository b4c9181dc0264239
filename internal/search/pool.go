package search

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolStopped is returned by Submit once the pool was drained or shut down.
var ErrPoolStopped = errors.New("worker pool is stopped")

// Task asks a worker to examine one bit. Target is shared by all tasks of a
// search and never modified.
type Task struct {
	Index  BitIndex
	Target string
}

// Executor runs one task. slot is the index of the calling worker and is
// stable for the worker's lifetime.
type Executor func(slot int, task Task)

// PoolStats counts tasks through the pool.
type PoolStats struct {
	Submitted int64
	Executed  int64
	Discarded int64
}

// WorkerPool is a fixed set of goroutines consuming a bounded FIFO queue.
// Producers block in Submit while the queue is full.
type WorkerPool struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	// ring buffer
	queue []Task
	head  int
	size  int

	stopping bool // Shutdown called: finish the queue, then exit
	drained  bool // Drain called: queue discarded, no further submits

	exec Executor
	wg   sync.WaitGroup

	submitted atomic.Int64
	executed  atomic.Int64
	discarded atomic.Int64
}

// NewWorkerPool starts workers goroutines. Both workers and queueCapacity
// are raised to 1 if smaller.
func NewWorkerPool(workers, queueCapacity int, exec Executor) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueCapacity < 1 {
		queueCapacity = 1
	}

	p := &WorkerPool{
		queue: make([]Task, queueCapacity),
		exec:  exec,
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

// Submit enqueues task, waiting for space if the queue is full.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.size == len(p.queue) && !p.stopping && !p.drained {
		p.notFull.Wait()
	}
	if p.stopping || p.drained {
		return ErrPoolStopped
	}

	p.queue[(p.head+p.size)%len(p.queue)] = task
	p.size++
	p.submitted.Add(1)
	p.notEmpty.Signal()
	return nil
}

func (p *WorkerPool) worker(slot int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.size == 0 && !p.stopping {
			p.notEmpty.Wait()
		}
		if p.size == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[p.head]
		p.head = (p.head + 1) % len(p.queue)
		p.size--
		p.notFull.Signal()
		p.mu.Unlock()

		p.exec(slot, task)
		p.executed.Add(1)
	}
}

// Drain discards every queued task without running it and rejects further
// submits. Tasks already handed to a worker still finish. It returns the
// number of discarded tasks and is safe to call from inside an Executor.
func (p *WorkerPool) Drain() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.size
	for i := 0; i < n; i++ {
		p.queue[(p.head+i)%len(p.queue)] = Task{}
	}
	p.head = 0
	p.size = 0
	p.drained = true
	p.discarded.Add(int64(n))
	p.notFull.Broadcast()
	return n
}

// Shutdown stops accepting tasks, lets workers finish whatever is still
// queued and waits for every goroutine to exit. Calling it again is a no-op
// wait. It must not be called from an Executor.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	p.stopping = true
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns the current counters.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Submitted: p.submitted.Load(),
		Executed:  p.executed.Load(),
		Discarded: p.discarded.Load(),
	}
}
