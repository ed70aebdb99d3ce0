package epp

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/zkrelay/internal/blobstore"
	"github.com/oriys/zkrelay/internal/cache"
	"github.com/oriys/zkrelay/internal/domain"
	"github.com/oriys/zkrelay/internal/epp/executor"
	"github.com/oriys/zkrelay/internal/epp/runstore"
	"github.com/oriys/zkrelay/internal/logging"
	"github.com/oriys/zkrelay/internal/metrics"
	"github.com/oriys/zkrelay/internal/observability"
	"github.com/oriys/zkrelay/internal/pkg/crypto"
	"github.com/oriys/zkrelay/internal/planner"
	"github.com/oriys/zkrelay/internal/taskdb"
)

// elfMagic is the four-byte prefix every guest program must carry.
var elfMagic = []byte{0x7F, 0x45, 0x4C, 0x46}

var errNoELFMagic = errors.New("epp: program bytes do not begin with the ELF magic")

// Orchestrator drives one job end to end: preflight validation, staging,
// running the VM Executor, and materializing the Planner's reduction tree
// into the Task DB. Construct one per job run; it holds no state across
// calls to Run.
type Orchestrator struct {
	Cache     cache.Cache
	Blobs     blobstore.Client
	TaskDB    taskdb.TaskDB
	Executor  executor.Executor
	RunStore  runstore.Store
	Streams   domain.StreamPolicy
	Metrics   *metrics.Metrics

	GlobalCycleLimit   uint64
	DefaultPo2         uint32
	SegmentQueueSize   int
	KeccakQueueSize    int
	IndexQueueSize     int
	SegmentTTL         int64
	DefaultTTL         int64
	DefaultRetries     int
	DefaultTimeout     time.Duration
	BaseResolveTimeout time.Duration
}

// Run executes job from start to finish, returning the summary counters
// the caller reports back to whoever submitted the job.
func (o *Orchestrator) Run(ctx context.Context, job domain.Job) (domain.RunResult, error) {
	ctx, span := observability.StartSpan(ctx, "epp.orchestrator.run", observability.AttrJobID.String(job.ID))
	defer span.End()

	started := time.Now()
	result, err := o.run(ctx, job)

	o.recordRun(ctx, job, started, result, err)

	outcome := "ok"
	if err != nil {
		observability.SetSpanError(span, err)
		if kind, ok := domain.KindOf(err); ok {
			outcome = string(kind)
		} else {
			outcome = "unknown_error"
		}
	} else {
		observability.SetSpanOK(span)
	}
	o.Metrics.RecordRun(outcome, time.Since(started).Seconds(), result.Segments)

	return result, err
}

func (o *Orchestrator) recordRun(ctx context.Context, job domain.Job, started time.Time, result domain.RunResult, runErr error) {
	durationMs := time.Since(started).Milliseconds()

	logEntry := &logging.RequestLog{
		RequestID:  job.ID,
		Component:  "orchestrator",
		DurationMs: durationMs,
		Success:    runErr == nil,
		Segments:   result.Segments,
	}
	if runErr != nil {
		logEntry.Error = runErr.Error()
	}
	logging.Default().Log(logEntry)

	if o.RunStore == nil {
		return
	}
	rec := runstore.Run{
		JobID:        job.ID,
		StartedAt:    started,
		FinishedAt:   time.Now(),
		SegmentCount: result.Segments,
		UserCycles:   result.UserCycles,
		TotalCycles:  result.TotalCycles,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := o.RunStore.RecordRun(ctx, rec); err != nil {
		logging.Op().Warn("failed to record run", "job_id", job.ID, "error", err)
	}
}

func (o *Orchestrator) run(ctx context.Context, job domain.Job) (domain.RunResult, error) {
	programBytes, err := o.Blobs.Get(ctx, domain.ImageBlobKey(job.ImageKey))
	if err != nil {
		return domain.RunResult{}, domain.NewError(domain.KindIO, "orchestrator", err)
	}
	if len(programBytes) < 4 || !bytes.Equal(programBytes[:4], elfMagic) {
		return domain.RunResult{}, domain.NewError(domain.KindValidation, "orchestrator", errNoELFMagic)
	}
	imageID := crypto.HashBytes(programBytes)
	if imageID != job.ImageKey {
		return domain.RunResult{}, domain.NewError(domain.KindValidation, "orchestrator", domain.ErrImageMismatch)
	}

	if err := o.Cache.Set(ctx, domain.ImageIDCacheKey(job.ID), []byte(imageID), ttlDuration(o.DefaultTTL)); err != nil {
		return domain.RunResult{}, domain.NewError(domain.KindIO, "orchestrator", err)
	}

	inputBytes, err := o.Blobs.Get(ctx, domain.InputBlobKey(job.InputKey))
	if err != nil {
		return domain.RunResult{}, domain.NewError(domain.KindIO, "orchestrator", err)
	}

	receipts := make([]domain.AssumptionReceipt, 0, len(job.Assumptions))
	for _, id := range job.Assumptions {
		raw, err := o.Blobs.Get(ctx, domain.AssumptionBlobKey(id))
		if err != nil {
			return domain.RunResult{}, domain.NewError(domain.KindIO, "orchestrator", err)
		}
		receipt, err := domain.DecodeAssumptionReceipt(raw)
		if err != nil {
			return domain.RunResult{}, domain.NewError(domain.KindValidation, "orchestrator", err)
		}
		if receipt.Variant != domain.ReceiptVariantSuccinct {
			return domain.RunResult{}, domain.NewError(domain.KindValidation, "orchestrator", domain.ErrUnsupportedVariant)
		}
		if err := o.Cache.Set(ctx, domain.ReceiptCacheKey(job.ID, receipt.ClaimDigest), raw, ttlDuration(o.DefaultTTL)); err != nil {
			return domain.RunResult{}, domain.NewError(domain.KindIO, "orchestrator", err)
		}
		receipts = append(receipts, receipt)
	}

	effectiveLimit := domain.EffectiveCycleLimit(o.GlobalCycleLimit, job.CycleLimit)
	po2 := o.DefaultPo2

	segCh := make(chan domain.Segment, o.SegmentQueueSize)
	keccakCh := make(chan domain.KeccakRequest, o.KeccakQueueSize)
	idxCh := make(chan int, o.IndexQueueSize)
	keccakDone := make(chan struct{})
	var keccakCounter atomic.Uint64

	var stdout bytes.Buffer
	var summary domain.SessionSummary

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(segCh)
		defer close(keccakCh)

		s, err := o.Executor.Run(gctx, programBytes, executor.ExecutionEnv{
			InputBytes:  inputBytes,
			Assumptions: receipts,
			CycleLimit:  effectiveLimit,
			Po2:         po2,
			Stdout:      &stdout,
			OnSegment: func(seg domain.Segment) error {
				select {
				case segCh <- seg:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			},
			OnKeccak: func(req domain.KeccakRequest) error {
				select {
				case keccakCh <- req:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			},
		})
		if err != nil {
			return err
		}
		summary = s
		return nil
	})

	writer := &SegmentWriter{Cache: o.Cache, JobID: job.ID, TTL: o.SegmentTTL, Skip: job.Preflight}
	g.Go(func() error {
		return writer.Run(gctx, segCh, idxCh)
	})

	sidecar := &CoprocessorSidecar{
		Cache:   o.Cache,
		TaskDB:  o.TaskDB,
		Streams: o.Streams,
		JobID:   job.ID,
		TTL:     o.SegmentTTL,
		Counter: &keccakCounter,
	}
	g.Go(func() error {
		defer close(keccakDone)
		return sidecar.Run(gctx, keccakCh)
	})

	p := planner.New(planner.Config{
		JobID:              job.ID,
		Streams:            o.Streams,
		DefaultRetries:     o.DefaultRetries,
		DefaultTimeout:     o.DefaultTimeout,
		BaseResolveTimeout: o.BaseResolveTimeout,
	})
	feeder := &PlannerFeeder{TaskDB: o.TaskDB, Planner: p, Preflight: job.Preflight}
	g.Go(func() error {
		return feeder.Run(gctx, idxCh, keccakDone, &keccakCounter, len(job.Assumptions), job.Compress)
	})

	if err := g.Wait(); err != nil {
		return domain.RunResult{}, err
	}

	if err := o.Blobs.Put(ctx, domain.ExecLogBlobKey(job.ID), stdout.Bytes()); err != nil {
		return domain.RunResult{}, domain.NewError(domain.KindIO, "orchestrator", err)
	}

	if len(summary.Journal) > 0 {
		if job.Preflight {
			if err := o.Blobs.Put(ctx, domain.PreflightJournalBlobKey(job.ID), summary.Journal); err != nil {
				return domain.RunResult{}, domain.NewError(domain.KindIO, "orchestrator", err)
			}
		} else {
			if err := o.Cache.Set(ctx, domain.JournalCacheKey(job.ID), summary.Journal, ttlDuration(o.DefaultTTL)); err != nil {
				return domain.RunResult{}, domain.NewError(domain.KindIO, "orchestrator", err)
			}
		}
	} else {
		logging.Op().Warn("session summary missing journal", "job_id", job.ID)
	}

	return domain.RunResult{
		Segments:        summary.SegmentCount,
		UserCycles:      summary.UserCycles,
		TotalCycles:     summary.TotalCycles,
		AssumptionCount: len(job.Assumptions),
	}, nil
}
