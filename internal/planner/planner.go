// Package planner implements the pure reduction-tree algorithm that turns
// a stream of segment indices into a binary tree of Join tasks rooted at
// a single Finalize task. It performs no I/O: every public method returns
// the task descriptors it wants created, in the order they must be
// persisted so that a task's prerequisites always already exist. The
// caller (internal/epp's Planner Feeder) owns persistence.
package planner

import (
	"strconv"
	"time"

	"github.com/oriys/zkrelay/internal/domain"
)

// Config holds the per-job parameters the Planner needs beyond the
// segment stream itself.
type Config struct {
	JobID              string
	Streams            domain.StreamPolicy
	DefaultRetries     int
	DefaultTimeout     time.Duration
	BaseResolveTimeout time.Duration
}

// Planner is the explicit pending-forest: task numbers are assigned in
// strictly increasing order, and `pending` holds the current bottom-most
// unreduced level of the forest, left to right. Using a flat slice of
// numbers instead of a tree of pointers keeps the whole state trivially
// comparable in tests and rules out any possibility of a cyclic or
// self-referential node.
type Planner struct {
	cfg     Config
	next    uint64
	pending []uint64
}

// New returns a Planner ready to accept segments for cfg.JobID.
func New(cfg Config) *Planner {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.BaseResolveTimeout == 0 {
		cfg.BaseResolveTimeout = time.Minute
	}
	return &Planner{cfg: cfg}
}

func (p *Planner) nextTaskNumber() uint64 {
	n := p.next
	p.next++
	return n
}

func name(n uint64) string {
	return strconv.FormatUint(n, 10)
}

// EnqueueSegment records one executor-assigned segment index and returns
// the single Segment task it produces. Joins are never emitted here: the
// reduction tree is built once, in Finish, once the full leaf count for
// the job is known. This keeps tree shape deterministic and independent
// of how segments happen to be paced by the executor.
func (p *Planner) EnqueueSegment(segmentIndex int) domain.Task {
	taskNum := p.nextTaskNumber()
	p.pending = append(p.pending, taskNum)

	return domain.Task{
		JobID:   p.cfg.JobID,
		Name:    name(taskNum),
		Stream:  p.cfg.Streams.Resolve(domain.StreamPROVE),
		Payload: domain.MustMarshal(domain.ProvePayload{Index: segmentIndex}),
		Retries: p.cfg.DefaultRetries,
		Timeout: int(p.cfg.DefaultTimeout.Seconds()),
	}
}

// ErrNoSegments is returned by Finish when no segment was ever enqueued;
// a job with zero segments has nothing to finalize.
var ErrNoSegments = domain.ErrNoSegments

// Finish reduces the pending forest to a single root with level-order
// Join tasks, then appends the Resolve/Finalize/Snark sub-protocol tasks.
// assumptionCount and keccakCount must both reflect their final values:
// the caller is responsible for snapshotting keccakCount only after the
// upstream keccak queue has been fully drained and closed.
func (p *Planner) Finish(assumptionCount, keccakCount int, compress domain.CompressionLevel) ([]domain.Task, error) {
	if len(p.pending) == 0 {
		return nil, ErrNoSegments
	}

	var tasks []domain.Task

	level := p.pending
	for len(level) > 1 {
		var next []uint64
		i := 0
		for i+1 < len(level) {
			left, right := level[i], level[i+1]
			joinNum := p.nextTaskNumber()
			tasks = append(tasks, domain.Task{
				JobID:   p.cfg.JobID,
				Name:    name(joinNum),
				Stream:  p.cfg.Streams.Resolve(domain.StreamJOIN),
				Payload: domain.MustMarshal(domain.JoinPayload{Idx: joinNum, Left: left, Right: right}),
				Prereqs: []string{name(left), name(right)},
				Retries: p.cfg.DefaultRetries,
				Timeout: int(p.cfg.DefaultTimeout.Seconds()),
			})
			next = append(next, joinNum)
			i += 2
		}
		if i < len(level) {
			next = append(next, level[i])
		}
		level = next
	}
	root := level[0]

	finalizePrereq := name(root)
	k := assumptionCount + keccakCount
	if k > 0 {
		prereqs := make([]string, 0, keccakCount+1)
		prereqs = append(prereqs, name(root))
		for i := 0; i < keccakCount; i++ {
			prereqs = append(prereqs, "keccak_"+strconv.Itoa(i))
		}
		tasks = append(tasks, domain.Task{
			JobID:   p.cfg.JobID,
			Name:    "resolve",
			Stream:  p.cfg.Streams.Resolve(domain.StreamJOIN),
			Payload: domain.MustMarshal(domain.ResolvePayload{MaxIdx: root}),
			Prereqs: prereqs,
			Retries: p.cfg.DefaultRetries,
			Timeout: int((time.Duration(k) * p.cfg.BaseResolveTimeout).Seconds()),
		})
		finalizePrereq = "resolve"
	}

	tasks = append(tasks, domain.Task{
		JobID:   p.cfg.JobID,
		Name:    "finalize",
		Stream:  domain.StreamAUX,
		Payload: domain.MustMarshal(domain.FinalizePayload{MaxIdx: root}),
		Prereqs: []string{finalizePrereq},
		Retries: p.cfg.DefaultRetries,
		Timeout: int(p.cfg.DefaultTimeout.Seconds()),
	})

	if compress != domain.CompressionNone {
		tasks = append(tasks, domain.Task{
			JobID:   p.cfg.JobID,
			Name:    "snark",
			Stream:  domain.StreamSNARK,
			Payload: domain.MustMarshal(domain.SnarkPayload{Receipt: p.cfg.JobID, CompressType: compress}),
			Prereqs: []string{"finalize"},
			Retries: p.cfg.DefaultRetries,
			Timeout: int(p.cfg.DefaultTimeout.Seconds()),
		})
	}

	return tasks, nil
}
