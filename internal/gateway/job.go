package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/user/casedesk/internal/types"
)

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// Job is one unit of network work bound to a lane.
type Job struct {
	ID        types.JobID
	Lane      types.LaneKey
	Name      string
	Exec      func(ctx context.Context) error
	CreatedAt time.Time
	// OnAbort runs when the queue fails the job without ever running Exec
	// (shutdown, cancelled context), before Wait returns.
	OnAbort   func(err error)

	Ctx context.Context

	mu        sync.Mutex
	status    JobStatus
	startedAt *time.Time
	endedAt   *time.Time
	err       error
	done      chan struct{}
}

// NewJob creates a Job in the Queued state.
func NewJob(lane types.LaneKey, name string, exec func(ctx context.Context) error) *Job {
	return &Job{
		ID:        types.NewJobID(),
		Lane:      lane,
		Name:      name,
		Exec:      exec,
		CreatedAt: time.Now(),
		status:    JobQueued,
		done:      make(chan struct{}),
	}
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err returns the error the job finished with, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done is closed once the job has finished, successfully or not.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.status = JobRunning
	j.startedAt = &now
}

// abort fails a job that never started.
func (j *Job) abort(err error) {
	if j.OnAbort != nil {
		j.OnAbort(err)
	}
	j.finish(err)
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	now := time.Now()
	j.endedAt = &now
	j.err = err
	if err != nil {
		j.status = JobFailed
	} else {
		j.status = JobComplete
	}
	j.mu.Unlock()
	close(j.done)
}
