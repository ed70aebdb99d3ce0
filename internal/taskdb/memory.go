package taskdb

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/zkrelay/internal/domain"
)

// MemoryTaskDB is an in-process TaskDB used by unit tests for the
// planner, feeder, and orchestrator, which need a TaskDB without a
// Postgres instance.
type MemoryTaskDB struct {
	mu    sync.Mutex
	tasks map[string]*Record
	deps  map[string][]string // prereq "jobID/name" -> dependent task ids
}

func NewMemoryTaskDB() *MemoryTaskDB {
	return &MemoryTaskDB{
		tasks: make(map[string]*Record),
		deps:  make(map[string][]string),
	}
}

func (m *MemoryTaskDB) Close() error { return nil }

func (m *MemoryTaskDB) CreateTask(ctx context.Context, t domain.Task) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	status := StatusPending
	if len(t.Prereqs) == 0 {
		status = StatusReady
	}
	r := &Record{
		ID:             id,
		JobID:          t.JobID,
		Name:           t.Name,
		Stream:         t.Stream,
		Payload:        []byte(t.Payload),
		Status:         status,
		UnresolvedDeps: len(t.Prereqs),
		MaxRetries:     t.Retries,
		CreatedAt:      time.Now().UTC(),
	}
	m.tasks[id] = r

	for _, p := range t.Prereqs {
		key := t.JobID + "/" + p
		m.deps[key] = append(m.deps[key], id)
	}
	return id, nil
}

func (m *MemoryTaskDB) Claim(ctx context.Context, stream domain.Stream, leaseOwner string, leaseDuration time.Duration) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, r := range m.tasks {
		if r.Stream != stream {
			continue
		}
		if r.Status == StatusReady || (r.Status == StatusRunning && r.LeaseExpiresAt.Before(now)) {
			r.Status = StatusRunning
			r.LeaseOwner = leaseOwner
			r.LeaseExpiresAt = now.Add(leaseDuration)
			r.Attempt++
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryTaskDB) Complete(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.tasks[taskID]
	if !ok {
		return nil
	}
	r.Status = StatusDone

	key := r.JobID + "/" + r.Name
	for _, depID := range m.deps[key] {
		dep := m.tasks[depID]
		if dep == nil || dep.Status != StatusPending {
			continue
		}
		dep.UnresolvedDeps--
		if dep.UnresolvedDeps <= 0 {
			dep.Status = StatusReady
		}
	}
	return nil
}

func (m *MemoryTaskDB) Fail(ctx context.Context, taskID string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.tasks[taskID]
	if !ok {
		return nil
	}
	if r.Attempt > r.MaxRetries {
		r.Status = StatusFailed
		return ErrRetriesExhausted
	}
	r.Status = StatusReady
	r.LeaseOwner = ""
	return nil
}

func (m *MemoryTaskDB) JobTasks(ctx context.Context, jobID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, r := range m.tasks {
		if r.JobID == jobID {
			out = append(out, *r)
		}
	}
	return out, nil
}
