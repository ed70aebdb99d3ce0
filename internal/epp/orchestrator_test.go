package epp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/oriys/zkrelay/internal/blobstore"
	"github.com/oriys/zkrelay/internal/cache"
	"github.com/oriys/zkrelay/internal/domain"
	"github.com/oriys/zkrelay/internal/epp/executor"
	"github.com/oriys/zkrelay/internal/epp/runstore"
	"github.com/oriys/zkrelay/internal/pkg/crypto"
	"github.com/oriys/zkrelay/internal/taskdb"
)

func newTestOrchestrator(t *testing.T, program []byte) (*Orchestrator, *blobstore.MemoryClient, string) {
	t.Helper()
	blobs := blobstore.NewMemoryClient()
	imageID := crypto.HashBytes(program)
	if err := blobs.Put(context.Background(), domain.ImageBlobKey(imageID), program); err != nil {
		t.Fatalf("seed image: %v", err)
	}
	if err := blobs.Put(context.Background(), domain.InputBlobKey("input-1"), []byte("guest input")); err != nil {
		t.Fatalf("seed input: %v", err)
	}

	o := &Orchestrator{
		Cache:              cache.NewInMemoryCache(),
		Blobs:              blobs,
		TaskDB:             taskdb.NewMemoryTaskDB(),
		RunStore:           runstore.NewMemoryStore(),
		SegmentQueueSize:   4,
		KeccakQueueSize:    4,
		IndexQueueSize:     4,
		DefaultRetries:     3,
	}
	return o, blobs, imageID
}

func validELF() []byte {
	return append([]byte{0x7F, 0x45, 0x4C, 0x46}, []byte("rest of program bytes")...)
}

func TestOrchestrator_HappyPath(t *testing.T) {
	program := validELF()
	o, blobs, imageID := newTestOrchestrator(t, program)
	o.Executor = &executor.Fake{
		Segments: []domain.Segment{{Index: 0, Body: []byte("s0")}, {Index: 1, Body: []byte("s1")}},
		Stdout:   []byte("hello from guest\n"),
		Summary: domain.SessionSummary{
			SegmentCount: 2,
			UserCycles:   1000,
			TotalCycles:  1024,
			Journal:      []byte("journal bytes"),
		},
	}

	job := domain.Job{ID: "job-1", ImageKey: imageID, InputKey: "input-1", Compress: domain.CompressionNone}

	result, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Segments != 2 || result.UserCycles != 1000 || result.TotalCycles != 1024 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if _, err := blobs.Get(context.Background(), domain.ExecLogBlobKey("job-1")); err != nil {
		t.Fatalf("expected exec log blob written: %v", err)
	}

	if _, err := o.Cache.Get(context.Background(), domain.JournalCacheKey("job-1")); err != nil {
		t.Fatalf("expected journal staged in cache: %v", err)
	}

	tasks, err := o.TaskDB.JobTasks(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("JobTasks: %v", err)
	}
	names := map[string]bool{}
	for _, task := range tasks {
		names[task.Name] = true
	}
	for _, want := range []string{"0", "1", "2", "finalize"} {
		if !names[want] {
			t.Fatalf("expected task %s, got %v", want, tasks)
		}
	}

	runs := o.RunStore.(*runstore.MemoryStore).Runs()
	if len(runs) != 1 || runs[0].JobID != "job-1" || runs[0].Error != "" {
		t.Fatalf("unexpected run records: %+v", runs)
	}
}

func TestOrchestrator_ELFMagicMismatchIsFatal(t *testing.T) {
	program := []byte("not an elf at all")
	o, _, imageID := newTestOrchestrator(t, program)
	o.Executor = &executor.Fake{}

	job := domain.Job{ID: "job-2", ImageKey: imageID, InputKey: "input-1"}
	_, err := o.Run(context.Background(), job)
	if err == nil {
		t.Fatal("expected error for non-ELF program bytes")
	}
	kind, ok := domain.KindOf(err)
	if !ok || kind != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOrchestrator_ImageIDMismatchIsFatal(t *testing.T) {
	program := validELF()
	o, _, _ := newTestOrchestrator(t, program)
	o.Executor = &executor.Fake{}

	job := domain.Job{ID: "job-3", ImageKey: "not-the-real-hash", InputKey: "input-1"}
	_, err := o.Run(context.Background(), job)
	if err == nil {
		t.Fatal("expected error for mismatched image id")
	}
	kind, ok := domain.KindOf(err)
	if !ok || kind != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOrchestrator_NonSuccinctAssumptionIsFatal(t *testing.T) {
	program := validELF()
	o, blobs, imageID := newTestOrchestrator(t, program)
	o.Executor = &executor.Fake{}

	raw, err := json.Marshal(struct {
		ClaimDigest string                `json:"claim_digest"`
		Variant     domain.ReceiptVariant `json:"variant"`
		Bytes       []byte                `json:"bytes"`
	}{ClaimDigest: "a1", Variant: domain.ReceiptVariantComposite, Bytes: []byte("x")})
	if err != nil {
		t.Fatalf("marshal assumption wire: %v", err)
	}
	if err := blobs.Put(context.Background(), domain.AssumptionBlobKey("a1"), raw); err != nil {
		t.Fatalf("seed assumption: %v", err)
	}

	job := domain.Job{ID: "job-4", ImageKey: imageID, InputKey: "input-1", Assumptions: []string{"a1"}}
	_, err = o.Run(context.Background(), job)
	if err == nil {
		t.Fatal("expected error for non-succinct assumption receipt")
	}
	kind, ok := domain.KindOf(err)
	if !ok || kind != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOrchestrator_PreflightSkipsProvingTasksAndWritesBlobJournal(t *testing.T) {
	program := validELF()
	o, blobs, imageID := newTestOrchestrator(t, program)
	o.Executor = &executor.Fake{
		Segments: []domain.Segment{{Index: 0, Body: []byte("s0")}},
		Summary: domain.SessionSummary{
			SegmentCount: 1,
			UserCycles:   10,
			TotalCycles:  12,
			Journal:      []byte("preflight journal"),
		},
	}

	job := domain.Job{ID: "job-5", ImageKey: imageID, InputKey: "input-1", Preflight: true}
	result, err := o.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Segments != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if _, err := blobs.Get(context.Background(), domain.PreflightJournalBlobKey("job-5")); err != nil {
		t.Fatalf("expected preflight journal blob written: %v", err)
	}
	if _, err := o.Cache.Get(context.Background(), domain.JournalCacheKey("job-5")); err != cache.ErrNotFound {
		t.Fatalf("expected no cache journal in preflight mode, err=%v", err)
	}

	tasks, err := o.TaskDB.JobTasks(context.Background(), "job-5")
	if err != nil {
		t.Fatalf("JobTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks persisted in preflight mode, got %v", tasks)
	}
}
