package locator

import (
	"context"
	"testing"

	"github.com/dataforge/fetcher/internal/model"
)

func TestRequestParameterLocatorBatchesUpToMax(t *testing.T) {
	ctx := context.Background()
	requests := make([]model.RequestMeta, 15)
	for i := range requests {
		requests[i] = model.RequestMeta{URL: "https://example.com/item"}
	}
	l := NewRequestParameterLocator("params", requests)

	batch1, err := l.GetNextURLs(ctx, nil)
	if err != nil {
		t.Fatalf("GetNextURLs: %v", err)
	}
	if len(batch1) != maxBatchSize {
		t.Fatalf("batch1 = %d, want %d", len(batch1), maxBatchSize)
	}

	batch2, err := l.GetNextURLs(ctx, nil)
	if err != nil {
		t.Fatalf("GetNextURLs: %v", err)
	}
	if len(batch2) != 5 {
		t.Fatalf("batch2 = %d, want 5", len(batch2))
	}

	batch3, err := l.GetNextURLs(ctx, nil)
	if err != nil {
		t.Fatalf("GetNextURLs: %v", err)
	}
	if len(batch3) != 0 {
		t.Fatalf("expected exhaustion, got %d", len(batch3))
	}
}

func TestRequestParameterLocatorHandleURLProcessedIsNoop(t *testing.T) {
	l := NewRequestParameterLocator("params", nil)
	if err := l.HandleURLProcessed(context.Background(), model.RequestMeta{}, nil, nil); err != nil {
		t.Fatalf("HandleURLProcessed: %v", err)
	}
}
