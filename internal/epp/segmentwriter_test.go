package epp

import (
	"context"
	"testing"

	"github.com/oriys/zkrelay/internal/cache"
	"github.com/oriys/zkrelay/internal/domain"
)

func TestSegmentWriter_StagesAndForwardsInOrder(t *testing.T) {
	c := cache.NewInMemoryCache()
	w := &SegmentWriter{Cache: c, JobID: "job-1"}

	segIn := make(chan domain.Segment, 4)
	idxOut := make(chan int, 4)
	for i := 0; i < 3; i++ {
		segIn <- domain.Segment{Index: i, Body: []byte("segment body")}
	}
	close(segIn)

	if err := w.Run(context.Background(), segIn, idxOut); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got []int
	for idx := range idxOut {
		got = append(got, idx)
	}
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("expected indices [0 1 2] in order, got %v", got)
	}

	for i := 0; i < 3; i++ {
		key := domain.SegmentCacheKey("job-1", i)
		if _, err := c.Get(context.Background(), key); err != nil {
			t.Fatalf("expected segment %d staged, get failed: %v", i, err)
		}
	}
}

func TestSegmentWriter_PreflightSkipsStagingAndForwarding(t *testing.T) {
	c := cache.NewInMemoryCache()
	w := &SegmentWriter{Cache: c, JobID: "job-1", Skip: true}

	segIn := make(chan domain.Segment, 2)
	idxOut := make(chan int, 2)
	segIn <- domain.Segment{Index: 0, Body: []byte("x")}
	close(segIn)

	if err := w.Run(context.Background(), segIn, idxOut); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := <-idxOut; ok {
		t.Fatalf("expected no forwarded indices in preflight mode")
	}
	if _, err := c.Get(context.Background(), domain.SegmentCacheKey("job-1", 0)); err != cache.ErrNotFound {
		t.Fatalf("expected segment not staged in preflight mode, err=%v", err)
	}
}
