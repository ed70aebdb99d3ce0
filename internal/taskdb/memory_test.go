package taskdb

import (
	"context"
	"testing"
	"time"

	"github.com/oriys/zkrelay/internal/domain"
)

func TestMemoryTaskDB_ReadyWithNoPrereqs(t *testing.T) {
	db := NewMemoryTaskDB()
	ctx := context.Background()

	id, err := db.CreateTask(ctx, domain.Task{JobID: "job1", Name: "segment-0", Stream: domain.StreamPROVE})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	rec, err := db.Claim(ctx, domain.StreamPROVE, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if rec == nil || rec.ID != id {
		t.Fatalf("expected to claim %s, got %+v", id, rec)
	}
	if rec.Status != StatusRunning {
		t.Fatalf("expected running status, got %s", rec.Status)
	}
}

func TestMemoryTaskDB_PendingUntilDepsResolve(t *testing.T) {
	db := NewMemoryTaskDB()
	ctx := context.Background()

	segID, _ := db.CreateTask(ctx, domain.Task{JobID: "job1", Name: "segment-0", Stream: domain.StreamPROVE})
	joinID, err := db.CreateTask(ctx, domain.Task{
		JobID: "job1", Name: "join-0", Stream: domain.StreamPROVE,
		Prereqs: []string{"segment-0"},
	})
	if err != nil {
		t.Fatalf("CreateTask(join) failed: %v", err)
	}

	// The join must not be claimable yet.
	rec, _ := db.Claim(ctx, domain.StreamPROVE, "w1", time.Minute)
	if rec == nil || rec.ID != segID {
		t.Fatalf("expected to claim the segment task first, got %+v", rec)
	}

	if joined, _ := db.Claim(ctx, domain.StreamPROVE, "w1", time.Minute); joined != nil {
		t.Fatalf("join task should not be ready before its prereq completes, got %+v", joined)
	}

	if err := db.Complete(ctx, segID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	rec2, err := db.Claim(ctx, domain.StreamPROVE, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim(join) failed: %v", err)
	}
	if rec2 == nil || rec2.ID != joinID {
		t.Fatalf("expected join task to become ready after its prereq completed, got %+v", rec2)
	}
}

func TestMemoryTaskDB_FailRequeuesUntilRetriesExhausted(t *testing.T) {
	db := NewMemoryTaskDB()
	ctx := context.Background()

	id, _ := db.CreateTask(ctx, domain.Task{JobID: "job1", Name: "t1", Stream: domain.StreamAUX, Retries: 1})

	rec, _ := db.Claim(ctx, domain.StreamAUX, "w1", time.Minute)
	if rec == nil {
		t.Fatalf("expected to claim task")
	}
	if err := db.Fail(ctx, id, nil); err != nil {
		t.Fatalf("expected first failure to requeue without error, got %v", err)
	}

	rec2, _ := db.Claim(ctx, domain.StreamAUX, "w1", time.Minute)
	if rec2 == nil {
		t.Fatalf("expected task to be reclaimable after requeue")
	}
	if err := db.Fail(ctx, id, nil); err != ErrRetriesExhausted {
		t.Fatalf("expected ErrRetriesExhausted after exceeding retries, got %v", err)
	}

	tasks, _ := db.JobTasks(ctx, "job1")
	if len(tasks) != 1 || tasks[0].Status != StatusFailed {
		t.Fatalf("expected task to be marked failed, got %+v", tasks)
	}
}
