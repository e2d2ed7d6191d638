// Package workerpool implements the decompression Worker Pool (spec
// §4.5): a bounded set of workers draining a bounded FIFO queue, used to
// amortize CPU-heavy decompressions off the request-handling path. The
// pool is an optimization, never a correctness boundary — every caller
// must tolerate Submit failing and fall back to an inline decode.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrQueueFull is returned by Submit when the bounded task queue has no
// room; callers are expected to decode inline instead of waiting.
var ErrQueueFull = errors.New("workerpool: queue is full")

// ErrStopped is returned by Submit once the pool has been stopped.
var ErrStopped = errors.New("workerpool: pool is stopped")

// DecodeFunc performs the actual decompression for one task. It mirrors
// the Decompression Engine's contract (data, declared encoding) -> bytes.
type DecodeFunc func(data []byte, declaredEncoding string) ([]byte, error)

// Stats is a point-in-time snapshot of pool telemetry (spec §4.5, §3
// "Metrics Snapshot").
type Stats struct {
	Submitted      int64
	Succeeded      int64
	Failed         int64
	Rejected       int64
	QueueDepth     int64
	QueueHighWater int64
	Workers        int
}

type task struct {
	data     []byte
	encoding string
	result   chan taskResult
}

type taskResult struct {
	data []byte
	err  error
}

// Pool is a bounded FIFO queue whose concurrent decode goroutines are
// capped by a weighted semaphore rather than a fixed set of long-lived
// worker goroutines: a single dispatcher acquires a slot, pops the next
// task, and spawns a goroutine to run it, so the number of decodes
// in flight never exceeds workers regardless of how many tasks are
// queued behind them.
type Pool struct {
	decode DecodeFunc
	queue  chan task
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	// closeMu serializes Submit's stopped-check-and-send against Stop's
	// close(queue), so a Submit in flight when Stop runs either completes
	// its send before the queue closes or observes stopped and never
	// sends at all — it never sends on an already-closed channel.
	closeMu sync.RWMutex
	stopped atomic.Bool

	submitted      atomic.Int64
	succeeded      atomic.Int64
	failed         atomic.Int64
	rejected       atomic.Int64
	queueHighWater atomic.Int64

	workers int
}

// New starts a Pool with the given concurrency limit and queue capacity.
// workers <= 0 is treated as 1.
func New(workers, queueCapacity int, decode DecodeFunc) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 1
	}

	p := &Pool{
		decode:  decode,
		queue:   make(chan task, queueCapacity),
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
	}

	p.wg.Add(1)
	go p.dispatch()

	return p
}

// dispatch acquires one concurrency slot per task before popping it off
// the queue, so a task sits queued (counted against queueCapacity) for
// as long as every slot is busy, matching the backpressure semantics of
// the original fixed-goroutine design.
func (p *Pool) dispatch() {
	defer p.wg.Done()
	for {
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}

		t, ok := <-p.queue
		if !ok {
			p.sem.Release(1)
			return
		}

		p.wg.Add(1)
		go func(t task) {
			defer p.wg.Done()
			defer p.sem.Release(1)

			out, err := p.decode(t.data, t.encoding)
			if err != nil {
				p.failed.Add(1)
			} else {
				p.succeeded.Add(1)
			}
			t.result <- taskResult{data: out, err: err}
		}(t)
	}
}

// Submit enqueues a decompression task. Enqueue is non-blocking: if the
// queue is full, it returns ErrQueueFull immediately so the caller can
// decode inline. The returned channel receives exactly one result.
func (p *Pool) Submit(ctx context.Context, data []byte, declaredEncoding string) (<-chan taskResult, error) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.stopped.Load() {
		p.rejected.Add(1)
		return nil, ErrStopped
	}

	t := task{data: data, encoding: declaredEncoding, result: make(chan taskResult, 1)}

	select {
	case p.queue <- t:
		p.submitted.Add(1)
		p.recordQueueDepth()
		return t.result, nil
	default:
		p.rejected.Add(1)
		return nil, ErrQueueFull
	}
}

// Decompress submits a task and blocks until it completes or ctx is
// canceled, falling back to ErrQueueFull/ErrStopped exactly like Submit
// when the task cannot be enqueued at all.
func (p *Pool) Decompress(ctx context.Context, data []byte, declaredEncoding string) ([]byte, error) {
	resultCh, err := p.Submit(ctx, data, declaredEncoding)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-resultCh:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) recordQueueDepth() {
	depth := int64(len(p.queue))
	for {
		hw := p.queueHighWater.Load()
		if depth <= hw {
			return
		}
		if p.queueHighWater.CompareAndSwap(hw, depth) {
			return
		}
	}
}

// Stats returns a snapshot of pool telemetry.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:      p.submitted.Load(),
		Succeeded:      p.succeeded.Load(),
		Failed:         p.failed.Load(),
		Rejected:       p.rejected.Load(),
		QueueDepth:     int64(len(p.queue)),
		QueueHighWater: p.queueHighWater.Load(),
		Workers:        p.workers,
	}
}

// Stop drains the queue and stops accepting new tasks. It blocks until
// all in-flight and already-queued tasks have been processed.
func (p *Pool) Stop() {
	p.closeMu.Lock()
	if p.stopped.CompareAndSwap(false, true) {
		close(p.queue)
	}
	p.closeMu.Unlock()
	p.wg.Wait()
}
