package epp

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/oriys/zkrelay/internal/domain"
	"github.com/oriys/zkrelay/internal/planner"
	"github.com/oriys/zkrelay/internal/taskdb"
)

func TestPlannerFeeder_PersistsSegmentsAndFinalize(t *testing.T) {
	db := taskdb.NewMemoryTaskDB()
	p := planner.New(planner.Config{JobID: "job-1"})
	feeder := &PlannerFeeder{TaskDB: db, Planner: p}

	idxIn := make(chan int, 2)
	idxIn <- 0
	idxIn <- 1
	close(idxIn)

	keccakDone := make(chan struct{})
	close(keccakDone)
	var counter atomic.Uint64

	if err := feeder.Run(context.Background(), idxIn, keccakDone, &counter, 0, domain.CompressionNone); err != nil {
		t.Fatalf("Run: %v", err)
	}

	tasks, err := db.JobTasks(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("JobTasks: %v", err)
	}
	names := map[string]bool{}
	for _, task := range tasks {
		names[task.Name] = true
	}
	for _, want := range []string{"0", "1", "2", "finalize"} {
		if !names[want] {
			t.Fatalf("expected task %s to be persisted, got %v", want, tasks)
		}
	}
}

func TestPlannerFeeder_PreflightCreatesNoTasks(t *testing.T) {
	db := taskdb.NewMemoryTaskDB()
	p := planner.New(planner.Config{JobID: "job-1"})
	feeder := &PlannerFeeder{TaskDB: db, Planner: p, Preflight: true}

	idxIn := make(chan int, 1)
	idxIn <- 0
	close(idxIn)

	keccakDone := make(chan struct{})
	close(keccakDone)
	var counter atomic.Uint64

	if err := feeder.Run(context.Background(), idxIn, keccakDone, &counter, 0, domain.CompressionNone); err != nil {
		t.Fatalf("Run: %v", err)
	}

	tasks, err := db.JobTasks(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("JobTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected zero tasks in preflight mode, got %v", tasks)
	}
}
