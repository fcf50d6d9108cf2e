package tasmota

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// defaultMaxConcurrency bounds in-flight jobs when no limit is configured.
const defaultMaxConcurrency = 8

// Job is one unit of message handling for a single device.
type Job func(ctx context.Context)

// Queue runs jobs serially per key and concurrently across keys.
//
// Jobs submitted under the same key (the device mac) run one at a time in
// submission order, so updates to one device apply in broker arrival order.
// Jobs for different keys overlap, bounded by a weighted semaphore. Submit
// never blocks, which keeps the paho delivery goroutine free.
type Queue struct {
	sem *semaphore.Weighted

	// pending holds queued jobs per key. A key is present for as long as
	// its drain goroutine runs, even when its slice is empty.
	pending map[string][]Job
	closed  bool
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger Logger
}

// NewQueue creates a queue whose jobs receive a context derived from ctx.
func NewQueue(ctx context.Context, maxConcurrency int, logger Logger) *Queue {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	if logger == nil {
		logger = noopLogger{}
	}
	qctx, cancel := context.WithCancel(ctx)
	return &Queue{
		sem:     semaphore.NewWeighted(int64(maxConcurrency)),
		pending: make(map[string][]Job),
		ctx:     qctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Submit queues job behind any earlier jobs for key.
func (q *Queue) Submit(key string, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	jobs, active := q.pending[key]
	q.pending[key] = append(jobs, job)
	if !active {
		q.wg.Add(1)
		go q.drain(key)
	}
	return nil
}

// Wait blocks until every submitted job has finished. It must not race
// with Submit.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close stops accepting jobs, cancels the job context and waits for the
// drain goroutines to exit. Queued jobs that have not started are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// Active returns the number of keys with queued or running work.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) drain(key string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		jobs[0] = nil
		q.pending[key] = jobs[1:]
		q.mu.Unlock()

		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			// Shutting down: discard what is left for this key.
			q.mu.Lock()
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		q.run(key, job)
		q.sem.Release(1)
	}
}

func (q *Queue) run(key string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("dispatch job panicked", "key", key, "panic", fmt.Sprint(r))
		}
	}()
	job(q.ctx)
}
