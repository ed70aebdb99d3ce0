package blobstore

import (
	"context"
	"testing"
)

func TestMemoryClient_PutAndGet(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	if err := c.Put(ctx, "elf/abc", []byte("image bytes")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := c.Get(ctx, "elf/abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "image bytes" {
		t.Fatalf("expected 'image bytes', got %q", got)
	}
}

func TestMemoryClient_GetMissing(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryClient_Exists(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	ok, err := c.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("expected false before Put, got ok=%v err=%v", ok, err)
	}

	c.Put(ctx, "k", []byte("v"))

	ok, err = c.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected true after Put, got ok=%v err=%v", ok, err)
	}
}
