package queue

import (
	"context"
	"testing"

	"github.com/dataforge/fetcher/internal/kvstore"
	"github.com/dataforge/fetcher/internal/model"
)

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(nil)
	q := New(store, "run-1", nil)

	n, err := q.Enqueue(ctx, []model.RequestMeta{
		{URL: "https://a"}, {URL: "https://b"}, {URL: "https://c"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if n != 3 {
		t.Fatalf("Enqueue returned %d, want 3", n)
	}

	size, err := q.Size(ctx)
	if err != nil || size != 3 {
		t.Fatalf("Size() = %d, %v, want 3, nil", size, err)
	}

	got, err := q.Dequeue(ctx, 2)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(got) != 2 || got[0].URL != "https://a" || got[1].URL != "https://b" {
		t.Fatalf("Dequeue(2) = %+v, want [a b] in order", got)
	}

	rest, err := q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(rest) != 1 || rest[0].URL != "https://c" {
		t.Fatalf("Dequeue(10) = %+v, want [c]", rest)
	}

	if size, _ := q.Size(ctx); size != 0 {
		t.Fatalf("expected empty queue, size = %d", size)
	}
}

func TestQueueDequeueEmpty(t *testing.T) {
	ctx := context.Background()
	q := New(kvstore.NewMemoryStore(nil), "run-empty", nil)

	got, err := q.Dequeue(ctx, 5)
	if err != nil {
		t.Fatalf("Dequeue on empty queue: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no items, got %d", len(got))
	}
}

func TestQueueEnqueueEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	q := New(kvstore.NewMemoryStore(nil), "run-1", nil)

	n, err := q.Enqueue(ctx, nil)
	if err != nil || n != 0 {
		t.Fatalf("Enqueue(nil) = %d, %v, want 0, nil", n, err)
	}
}

func TestQueuePeekDoesNotRemove(t *testing.T) {
	ctx := context.Background()
	q := New(kvstore.NewMemoryStore(nil), "run-1", nil)

	if _, err := q.Enqueue(ctx, []model.RequestMeta{{URL: "https://a"}, {URL: "https://b"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	peeked, err := q.Peek(ctx, 1)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if len(peeked) != 1 || peeked[0].URL != "https://a" {
		t.Fatalf("Peek(1) = %+v", peeked)
	}

	if size, _ := q.Size(ctx); size != 2 {
		t.Fatalf("Peek must not remove items, size = %d", size)
	}
}

func TestQueueClear(t *testing.T) {
	ctx := context.Background()
	q := New(kvstore.NewMemoryStore(nil), "run-1", nil)

	if _, err := q.Enqueue(ctx, []model.RequestMeta{{URL: "https://a"}, {URL: "https://b"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	removed, err := q.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 2 {
		t.Fatalf("Clear() removed = %d, want 2", removed)
	}
	if size, _ := q.Size(ctx); size != 0 {
		t.Fatalf("expected empty queue after Clear, size = %d", size)
	}
}

func TestQueueRecoversFromCounterDrift(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(nil)
	q := New(store, "run-1", nil)

	if _, err := q.Enqueue(ctx, []model.RequestMeta{{URL: "https://a"}, {URL: "https://b"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Simulate a crash mid-write: size counter says 5 but only 2 items
	// actually exist in the store.
	if err := store.Put(ctx, "fetch:run-1:size", "5", 0); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// A fresh Queue forces ensureRecovered to run against the corrupted
	// counters on its first operation.
	q2 := New(store, "run-1", nil)
	size, err := q2.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 2 {
		t.Fatalf("expected recovery to reconcile size to observed item count 2, got %d", size)
	}
}

func TestQueueEnqueueFailsOnClosedStore(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(nil)
	q := New(store, "run-1", nil)

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := q.Enqueue(ctx, []model.RequestMeta{{URL: "https://a"}}); err == nil {
		t.Fatalf("expected Enqueue to fail once the backing store is closed")
	}
}
