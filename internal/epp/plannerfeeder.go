package epp

import (
	"context"
	"sync/atomic"

	"github.com/oriys/zkrelay/internal/domain"
	"github.com/oriys/zkrelay/internal/planner"
	"github.com/oriys/zkrelay/internal/taskdb"
)

// PlannerFeeder is the I/O harness around the pure Planner: it turns each
// segment index arriving on idxIn into a Planner call, persists whatever
// tasks the Planner emits, and — once the index queue closes and the
// keccak queue has fully drained — runs Finish and persists the
// finalize/resolve/snark sub-protocol.
type PlannerFeeder struct {
	TaskDB  taskdb.TaskDB
	Planner *planner.Planner

	// Preflight mirrors exec_only mode: segment indices are consumed and
	// discarded, the Planner is never invoked, and Finish is never called.
	Preflight bool
}

// Run consumes idxIn until it closes, then waits on keccakDone (closed by
// the Coprocessor Sidecar once its own queue has drained) before reading
// counter and calling Finish. assumptionCount is known up front from the
// job descriptor and does not change during the run.
func (f *PlannerFeeder) Run(ctx context.Context, idxIn <-chan int, keccakDone <-chan struct{}, counter *atomic.Uint64, assumptionCount int, compress domain.CompressionLevel) error {
	for idx := range idxIn {
		if f.Preflight {
			continue
		}

		task := f.Planner.EnqueueSegment(idx)
		if _, err := f.TaskDB.CreateTask(ctx, task); err != nil {
			return domain.NewError(domain.KindTaskDB, "planner_feeder", err)
		}
	}

	if f.Preflight {
		return nil
	}

	select {
	case <-keccakDone:
	case <-ctx.Done():
		return domain.NewError(domain.KindIO, "planner_feeder", ctx.Err())
	}

	tasks, err := f.Planner.Finish(assumptionCount, int(counter.Load()), compress)
	if err != nil {
		return domain.NewError(domain.KindPlanner, "planner_feeder", err)
	}

	for _, task := range tasks {
		if _, err := f.TaskDB.CreateTask(ctx, task); err != nil {
			return domain.NewError(domain.KindTaskDB, "planner_feeder", err)
		}
	}
	return nil
}
