// Package taskdb persists the binary reduction-tree of proving tasks that
// the Planner materializes for one job, and exposes the work-queue API
// that stream workers claim tasks from. It plays the Task DB role from
// the pipeline design: tasks are stored on the stream the caller already
// resolved, with lease-based claim, automatic requeue of expired leases,
// and dependency countdown on completion.
package taskdb

import (
	"context"
	"time"

	"github.com/oriys/zkrelay/internal/domain"
)

// Status is the lifecycle state of a persisted task.
type Status string

const (
	StatusPending Status = "pending" // prereqs not all satisfied yet
	StatusReady   Status = "ready"   // prereqs satisfied, awaiting a worker
	StatusRunning Status = "running" // claimed by a worker, lease outstanding
	StatusDone    Status = "done"
	StatusFailed  Status = "failed" // retries exhausted
)

// Record is a task as stored and returned by Claim.
type Record struct {
	ID             string
	JobID          string
	Name           string
	Stream         domain.Stream
	Payload        []byte
	Status         Status
	UnresolvedDeps int
	Attempt        int
	MaxRetries     int
	LeaseOwner     string
	LeaseExpiresAt time.Time
	CreatedAt      time.Time
}

// TaskDB is the persistence and work-queue interface the Planner Feeder
// writes to and the EPP worker pools read from.
type TaskDB interface {
	// CreateTask inserts a task with its prerequisite names already
	// resolved to a dependency count; the caller (Planner Feeder) is
	// responsible for creating prerequisite tasks first, since the
	// reduction tree is built bottom-up.
	CreateTask(ctx context.Context, t domain.Task) (string, error)

	// Claim atomically claims one ready task on the given stream (or a
	// task whose lease has expired), returning nil, nil if none is
	// available. leaseOwner identifies the calling worker for debugging
	// and for detecting a worker that died mid-task.
	Claim(ctx context.Context, stream domain.Stream, leaseOwner string, leaseDuration time.Duration) (*Record, error)

	// Complete marks a task done and decrements the dependency count of
	// every task that names it as a prerequisite, promoting any that
	// reach zero to ready.
	Complete(ctx context.Context, taskID string) error

	// Fail records a failed attempt. If the task's attempt count is
	// still under its configured retry budget it is requeued to ready;
	// otherwise it is marked failed and returns ErrRetriesExhausted so
	// the caller can abort the job.
	Fail(ctx context.Context, taskID string, cause error) error

	// JobTasks returns every task recorded for a job, for diagnostics
	// and tests.
	JobTasks(ctx context.Context, jobID string) ([]Record, error)

	Close() error
}
