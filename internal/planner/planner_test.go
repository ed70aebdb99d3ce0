package planner

import (
	"encoding/json"
	"testing"

	"github.com/oriys/zkrelay/internal/domain"
)

func newPlanner() *Planner {
	return New(Config{JobID: "job-1"})
}

func taskNames(tasks []domain.Task) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	return names
}

func decodeProve(t *testing.T, task domain.Task) domain.ProvePayload {
	t.Helper()
	var p domain.ProvePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		t.Fatalf("decode ProvePayload: %v", err)
	}
	return p
}

func decodeJoin(t *testing.T, task domain.Task) domain.JoinPayload {
	t.Helper()
	var p domain.JoinPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		t.Fatalf("decode JoinPayload: %v", err)
	}
	return p
}

// A single segment, no assumptions, no keccak: one Segment, zero Join,
// one Finalize rooted directly at the segment's own task number.
func TestPlanner_SingleSegment(t *testing.T) {
	p := newPlanner()

	seg := p.EnqueueSegment(0)
	if seg.Name != "0" || seg.Stream != domain.StreamPROVE || len(seg.Prereqs) != 0 {
		t.Fatalf("unexpected segment task: %+v", seg)
	}

	tasks, err := p.Finish(0, 0, domain.CompressionNone)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected exactly one task (finalize), got %v", taskNames(tasks))
	}
	fin := tasks[0]
	if fin.Name != "finalize" || fin.Stream != domain.StreamAUX {
		t.Fatalf("unexpected finalize task: %+v", fin)
	}
	if len(fin.Prereqs) != 1 || fin.Prereqs[0] != "0" {
		t.Fatalf("expected finalize to depend on segment 0, got %v", fin.Prereqs)
	}
}

// Four segments, two assumptions, Succinct compression, no keccak
// requests: three joins reducing the balanced tree (0,1)->4, (2,3)->5,
// (4,5)->6, a resolve gated on the root join only (assumptions contribute
// to the resolve timeout scaling but never mint keccak_i prereqs of their
// own), a finalize gated on resolve, and a snark gated on finalize.
func TestPlanner_FourSegmentsTwoAssumptionsSuccinct(t *testing.T) {
	p := newPlanner()

	for i := 0; i < 4; i++ {
		seg := p.EnqueueSegment(i)
		if seg.Name != itoa(i) {
			t.Fatalf("segment %d got task name %s", i, seg.Name)
		}
	}

	tasks, err := p.Finish(2, 0, domain.CompressionSuccinct)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	// joins 4,5,6; resolve; finalize; snark
	wantNames := []string{"4", "5", "6", "resolve", "finalize", "snark"}
	if got := taskNames(tasks); !equalStrings(got, wantNames) {
		t.Fatalf("unexpected task emission order: %v", got)
	}

	join4, join5, join6 := tasks[0], tasks[1], tasks[2]
	if p4 := decodeJoin(t, join4); p4.Left != 0 || p4.Right != 1 || p4.Idx != 4 {
		t.Fatalf("join 4 payload wrong: %+v", p4)
	}
	if p5 := decodeJoin(t, join5); p5.Left != 2 || p5.Right != 3 || p5.Idx != 5 {
		t.Fatalf("join 5 payload wrong: %+v", p5)
	}
	if p6 := decodeJoin(t, join6); p6.Left != 4 || p6.Right != 5 || p6.Idx != 6 {
		t.Fatalf("join 6 payload wrong: %+v", p6)
	}
	for _, j := range []domain.Task{join4, join5, join6} {
		if j.Stream != domain.StreamPROVE {
			t.Fatalf("implicit stream policy should fold joins into PROVE, got %s", j.Stream)
		}
	}

	resolve := tasks[3]
	wantResolvePrereqs := []string{"6"}
	if !equalStrings(resolve.Prereqs, wantResolvePrereqs) {
		t.Fatalf("resolve prereqs = %v, want %v", resolve.Prereqs, wantResolvePrereqs)
	}

	finalize := tasks[4]
	if len(finalize.Prereqs) != 1 || finalize.Prereqs[0] != "resolve" {
		t.Fatalf("finalize should depend solely on resolve, got %v", finalize.Prereqs)
	}

	snark := tasks[5]
	if len(snark.Prereqs) != 1 || snark.Prereqs[0] != "finalize" {
		t.Fatalf("snark should depend solely on finalize, got %v", snark.Prereqs)
	}
	var sp domain.SnarkPayload
	if err := json.Unmarshal(snark.Payload, &sp); err != nil {
		t.Fatalf("decode snark payload: %v", err)
	}
	if sp.CompressType != domain.CompressionSuccinct || sp.Receipt != "job-1" {
		t.Fatalf("unexpected snark payload: %+v", sp)
	}
}

// An odd leaf count carries the unpaired node forward to the next level
// instead of being dropped or paired with itself.
func TestPlanner_OddSegmentCountCarriesLeafForward(t *testing.T) {
	p := newPlanner()
	for i := 0; i < 3; i++ {
		p.EnqueueSegment(i)
	}

	tasks, err := p.Finish(0, 0, domain.CompressionNone)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	// level0 [0,1,2] -> join(0,1)=3, carry 2 -> level1 [3,2] -> join(3,2)=4 (root)
	wantNames := []string{"3", "4", "finalize"}
	if got := taskNames(tasks); !equalStrings(got, wantNames) {
		t.Fatalf("unexpected task emission order: %v", got)
	}
	if p3 := decodeJoin(t, tasks[0]); p3.Left != 0 || p3.Right != 1 {
		t.Fatalf("join 3 wrong: %+v", p3)
	}
	if p4 := decodeJoin(t, tasks[1]); p4.Left != 3 || p4.Right != 2 {
		t.Fatalf("join 4 wrong: %+v", p4)
	}
	finalize := tasks[2]
	if finalize.Prereqs[0] != "4" {
		t.Fatalf("finalize should root at 4, got %v", finalize.Prereqs)
	}
}

// Zero segments is an error: there is nothing to finalize.
func TestPlanner_NoSegmentsIsError(t *testing.T) {
	p := newPlanner()
	if _, err := p.Finish(0, 0, domain.CompressionNone); err != ErrNoSegments {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
}

// A join is never emitted before both of its children have been emitted:
// verify that every Prereq name in the returned slice names a task that
// was emitted earlier, and that each segment task carries the executor
// index it was enqueued with.
func TestPlanner_JoinNeverPrecedesItsChildren(t *testing.T) {
	p := newPlanner()
	for i := 0; i < 7; i++ {
		seg := p.EnqueueSegment(i)
		if got := decodeProve(t, seg).Index; got != i {
			t.Fatalf("segment %d carries wrong executor index %d", i, got)
		}
	}

	tasks, err := p.Finish(0, 0, domain.CompressionNone)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	emitted := map[string]bool{}
	for i := 0; i < 7; i++ {
		emitted[itoa(i)] = true
	}
	for _, task := range tasks {
		for _, prereq := range task.Prereqs {
			if !emitted[prereq] {
				t.Fatalf("task %s references prereq %s before it was emitted", task.Name, prereq)
			}
		}
		emitted[task.Name] = true
	}
}

// exec_only preflight: the Feeder never calls EnqueueSegment or Finish at
// all, so a freshly constructed Planner that nobody touches produces
// nothing. This is really a statement about the Feeder's wiring, but we
// pin the zero-value behavior here: Finish on an untouched Planner must
// fail closed rather than silently emit a finalize with no root.
func TestPlanner_UntouchedPlannerFinishFailsClosed(t *testing.T) {
	p := newPlanner()
	if _, err := p.Finish(0, 0, domain.CompressionNone); err != ErrNoSegments {
		t.Fatalf("expected ErrNoSegments for an untouched planner, got %v", err)
	}
}

// K == 0 (no assumptions, no keccak requests): finalize depends directly
// on the root join, no resolve task is created.
func TestPlanner_NoResolveWhenKIsZero(t *testing.T) {
	p := newPlanner()
	p.EnqueueSegment(0)
	p.EnqueueSegment(1)

	tasks, err := p.Finish(0, 0, domain.CompressionNone)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	wantNames := []string{"2", "finalize"}
	if got := taskNames(tasks); !equalStrings(got, wantNames) {
		t.Fatalf("unexpected tasks: %v", got)
	}
	if tasks[1].Prereqs[0] != "2" {
		t.Fatalf("finalize should root directly at the join, got %v", tasks[1].Prereqs)
	}
}

// Keccak-only K (no assumptions): resolve's timeout scales with
// base_resolve_timeout * K and its keccak prereqs are numbered from zero.
func TestPlanner_ResolveTimeoutScalesWithK(t *testing.T) {
	p := New(Config{JobID: "job-1", BaseResolveTimeout: 10_000_000_000}) // 10s
	p.EnqueueSegment(0)

	tasks, err := p.Finish(0, 3, domain.CompressionNone)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	resolve := tasks[0]
	if resolve.Name != "resolve" {
		t.Fatalf("expected resolve first, got %s", resolve.Name)
	}
	if resolve.Timeout != 30 {
		t.Fatalf("expected resolve timeout 30s (base 10s * K=3), got %d", resolve.Timeout)
	}
	want := []string{"0", "keccak_0", "keccak_1", "keccak_2"}
	if !equalStrings(resolve.Prereqs, want) {
		t.Fatalf("resolve prereqs = %v, want %v", resolve.Prereqs, want)
	}
}

// CompressionNone never produces a snark task, regardless of K.
func TestPlanner_NoSnarkWhenCompressionNone(t *testing.T) {
	p := newPlanner()
	p.EnqueueSegment(0)

	tasks, err := p.Finish(1, 0, domain.CompressionNone)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	for _, task := range tasks {
		if task.Name == "snark" {
			t.Fatalf("did not expect a snark task when compression is none")
		}
	}
}

// Explicit stream mode keeps Join tasks on the JOIN stream rather than
// folding them into PROVE.
func TestPlanner_ExplicitStreamsKeepsJoinDistinct(t *testing.T) {
	p := New(Config{JobID: "job-1", Streams: domain.StreamPolicy{ExplicitStreams: true}})
	p.EnqueueSegment(0)
	p.EnqueueSegment(1)

	tasks, err := p.Finish(0, 0, domain.CompressionNone)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if tasks[0].Stream != domain.StreamJOIN {
		t.Fatalf("expected join to stay on JOIN stream, got %s", tasks[0].Stream)
	}
}

func itoa(i int) string {
	return string(rune('0' + i))
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
