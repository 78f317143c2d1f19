// Package gateway runs the network side of the thread subsystem. Every
// case gets its own FIFO lanes so that two sends on one case are queued
// rather than interleaved, while a status change on the same case runs on
// a separate lane and is free to overlap with them.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/casedesk/internal/types"
)

const (
	laneComments = "comments"
	laneStatus   = "status"
	laneRefresh  = "refresh"
)

// CommentLane is the lane all comment sends of one case share.
func CommentLane(kind types.CaseKind, id types.CaseID) types.LaneKey {
	return types.NewLaneKey(string(kind), string(id), laneComments)
}

// StatusLane is the lane for status updates of one case.
func StatusLane(kind types.CaseKind, id types.CaseID) types.LaneKey {
	return types.NewLaneKey(string(kind), string(id), laneStatus)
}

// RefreshLane is the lane for background refetches of one case.
func RefreshLane(kind types.CaseKind, id types.CaseID) types.LaneKey {
	return types.NewLaneKey(string(kind), string(id), laneRefresh)
}

// Gateway owns the job queue and the retry policy used by reconciliation
// fetches.
type Gateway struct {
	Queue *Queue
	Retry *RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New creates a Gateway with the given concurrency limit for simultaneous
// jobs across all lanes.
func New(maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	return &Gateway{
		Queue: NewQueue(concurrency),
		Retry: DefaultRetryPolicy(),
	}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context and waits for running jobs to return.
func (g *Gateway) Stop() {
	g.once.Do(func() {
		if g.cancel != nil {
			g.cancel()
		}
		g.Queue.Stop()
	})
}

// SubmitOption configures a Job before it is enqueued.
type SubmitOption func(*Job)

// WithOnAbort registers fn to undo optimistic work when the job is
// dropped without running.
func WithOnAbort(fn func(err error)) SubmitOption {
	return func(j *Job) {
		j.OnAbort = fn
	}
}

// Submit wraps exec in a Job on lane and enqueues it.
func (g *Gateway) Submit(lane types.LaneKey, name string, exec func(ctx context.Context) error, opts ...SubmitOption) (*Job, error) {
	job := NewJob(lane, name, exec)
	for _, opt := range opts {
		opt(job)
	}
	if err := g.Queue.Enqueue(job); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", name, err)
	}
	return job, nil
}
