package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/casedesk/internal/types"
)

var (
	ErrQueueNotStarted = errors.New("queue not started")
	ErrQueueStopped    = errors.New("queue stopped")
)

// Queue manages per-lane FIFO channels with a global concurrency semaphore.
// Jobs within a lane run one after another; the semaphore limits how many
// lanes make progress at once.
type Queue struct {
	lanes     map[types.LaneKey]chan *Job
	semaphore *semaphore.Weighted
	processor func(*Job) error
	active    atomic.Int64
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent jobs to execute
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	q := &Queue{
		lanes:     make(map[types.LaneKey]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
	q.processor = q.exec
	return q
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// jobs to finish. Jobs still waiting in a lane fail with ErrQueueStopped.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()

	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, lane := range q.lanes {
		q.drain(lane)
	}
}

// Enqueue adds a Job to its lane, creating the lane (and its goroutine) on
// first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil {
		return ErrQueueNotStarted
	}
	if q.stopped {
		return ErrQueueStopped
	}

	lane, exists := q.lanes[job.Lane]
	if !exists {
		lane = make(chan *Job, 100)
		q.lanes[job.Lane] = lane
		q.wg.Add(1)
		go q.processLane(job.Lane, lane)
	}

	select {
	case lane <- job:
		return nil
	default:
		return fmt.Errorf("queue full for lane %s", job.Lane)
	}
}

// processLane drains a single lane, acquiring a semaphore slot before
// running each job synchronously.
func (q *Queue) processLane(key types.LaneKey, lane chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				job.abort(ErrQueueStopped)
				q.drain(lane)
				return
			}
			q.active.Add(1)
			job.Ctx = q.ctx
			job.start()
			err := q.processor(job)
			if err != nil {
				slog.Error("job failed", "job_id", string(job.ID), "lane", string(key), "job", job.Name, "error", err)
			}
			job.finish(err)
			q.active.Add(-1)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			q.drain(lane)
			return
		}
	}
}

// drain fails every job left in a lane once the queue is shutting down.
func (q *Queue) drain(lane chan *Job) {
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			job.abort(ErrQueueStopped)
		default:
			return
		}
	}
}

func (q *Queue) exec(job *Job) error {
	if job.Exec == nil {
		return nil
	}
	return job.Exec(job.Ctx)
}

// WaitIdle blocks until no jobs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// SetProcessor replaces the function invoked for each dequeued Job.
func (q *Queue) SetProcessor(fn func(*Job) error) {
	q.processor = fn
}
