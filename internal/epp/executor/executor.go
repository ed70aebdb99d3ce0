// Package executor defines the VM Executor contract consumed by the
// Orchestrator and a reference implementation that drives a guest runner
// process over a length-prefixed JSON protocol on a Unix domain socket.
package executor

import (
	"context"
	"io"

	"github.com/oriys/zkrelay/internal/domain"
)

// ExecutionEnv carries everything the Orchestrator hands to one run: the
// guest program's input, any assumption receipts it may resolve, the
// effective cycle limit (in 2^20-cycle units, 0 meaning unlimited), the
// segment-size parameter, a sink for guest stdout/stderr, and the two
// callbacks the executor must invoke synchronously as it streams output.
type ExecutionEnv struct {
	InputBytes  []byte
	Assumptions []domain.AssumptionReceipt
	CycleLimit  uint64
	Po2         uint32
	Stdout      io.Writer

	// OnSegment is invoked once per emitted segment, in order, before the
	// executor continues. The segment's Body must not be retained by the
	// executor past the call: ownership transfers to the callback.
	OnSegment func(domain.Segment) error

	// OnKeccak is invoked once per coprocessor request, synchronously, in
	// the order the guest issued them.
	OnKeccak func(domain.KeccakRequest) error
}

// Executor is the blocking producer the Orchestrator drives. A call to Run
// blocks the calling goroutine for the lifetime of the guest session; the
// Orchestrator is responsible for running it on a dedicated goroutine so it
// does not starve the cooperative workers downstream of the segment and
// keccak queues.
type Executor interface {
	Run(ctx context.Context, programBytes []byte, env ExecutionEnv) (domain.SessionSummary, error)
}
