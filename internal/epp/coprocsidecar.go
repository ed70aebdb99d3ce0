package epp

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/oriys/zkrelay/internal/cache"
	"github.com/oriys/zkrelay/internal/domain"
	"github.com/oriys/zkrelay/internal/taskdb"
)

// CoprocessorSidecar drains the executor's keccak-request channel. Each
// request is assigned a monotonic counter value, its input bytes are
// staged, and a coproc-stream task carrying only the request's metadata
// is created — the counter value itself has no correctness impact beyond
// producing a unique, durable task name.
type CoprocessorSidecar struct {
	Cache   cache.Cache
	TaskDB  taskdb.TaskDB
	Streams domain.StreamPolicy
	JobID   string
	TTL     int64

	// Counter is shared with the Planner Feeder, which reads it (via Load)
	// only after this channel has closed, per the finalize sequencing
	// rule in the concurrency model.
	Counter *atomic.Uint64
}

// Run consumes reqIn until it closes. It returns the first fatal error
// encountered, continuing to drain the channel afterward so the executor
// thread is never left blocked on a full queue.
func (s *CoprocessorSidecar) Run(ctx context.Context, reqIn <-chan domain.KeccakRequest) error {
	var firstErr error
	for req := range reqIn {
		if firstErr != nil {
			continue
		}

		n := s.Counter.Add(1) - 1

		key := domain.CoprocCacheKey(s.JobID, req.ClaimDigest)
		if err := s.Cache.Set(ctx, key, req.Input, ttlDuration(s.TTL)); err != nil {
			firstErr = domain.NewError(domain.KindIO, "coproc_sidecar", fmt.Errorf("stage keccak input for %s: %w", req.ClaimDigest, err))
			continue
		}

		task := domain.Task{
			JobID:  s.JobID,
			Name:   "keccak_" + strconv.FormatUint(n, 10),
			Stream: s.Streams.Resolve(domain.StreamCOPROC),
			Payload: domain.MustMarshal(domain.KeccakPayload{
				ClaimDigest: req.ClaimDigest,
				ControlRoot: req.ControlRoot,
				Po2:         req.Po2,
			}),
		}
		if _, err := s.TaskDB.CreateTask(ctx, task); err != nil {
			firstErr = domain.NewError(domain.KindTaskDB, "coproc_sidecar", fmt.Errorf("create keccak_%d task: %w", n, err))
		}
	}
	return firstErr
}
