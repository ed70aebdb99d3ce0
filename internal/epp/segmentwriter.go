package epp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oriys/zkrelay/internal/cache"
	"github.com/oriys/zkrelay/internal/domain"
)

// SegmentWriter drains the executor's segment channel, stages each segment
// in the Hot Cache, and forwards the segment index downstream to the
// Planner Feeder. It is the single writer for its job's segment indices,
// so downstream consumers see them in the order the executor emitted them.
type SegmentWriter struct {
	Cache  cache.Cache
	JobID  string
	TTL    int64 // seconds; 0 uses the cache's configured default
	Skip   bool  // exec_only preflight: drain without staging or forwarding
}

// Run consumes segIn until it is closed, staging each segment and pushing
// its index onto idxOut, then closes idxOut to cascade the shutdown
// signal to the Planner Feeder. It returns the first staging error, if
// any, after draining the remainder of segIn so the executor never blocks
// on a full channel post-failure.
func (w *SegmentWriter) Run(ctx context.Context, segIn <-chan domain.Segment, idxOut chan<- int) error {
	defer close(idxOut)

	var firstErr error
	for seg := range segIn {
		if firstErr != nil || w.Skip {
			continue
		}

		body, err := json.Marshal(seg)
		if err != nil {
			firstErr = domain.NewError(domain.KindIO, "segment_writer", fmt.Errorf("serialize segment %d: %w", seg.Index, err))
			continue
		}

		key := domain.SegmentCacheKey(w.JobID, seg.Index)
		if err := w.Cache.Set(ctx, key, body, ttlDuration(w.TTL)); err != nil {
			firstErr = domain.NewError(domain.KindIO, "segment_writer", fmt.Errorf("stage segment %d: %w", seg.Index, err))
			continue
		}

		select {
		case idxOut <- seg.Index:
		case <-ctx.Done():
			firstErr = domain.NewError(domain.KindIO, "segment_writer", ctx.Err())
		}
	}
	return firstErr
}
