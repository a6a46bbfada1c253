package locator

import (
	"context"
	"errors"
	"testing"

	"github.com/dataforge/fetcher/internal/kvstore"
	"github.com/dataforge/fetcher/internal/model"
)

func TestSingleHttpBundleLocatorSkipsProcessedURLs(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(nil)
	urls := []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}
	l := NewSingleHttpBundleLocator("single", "single-locator", store, urls)

	refs, err := l.GetNextBundleRefs(ctx, nil, 10)
	if err != nil {
		t.Fatalf("GetNextBundleRefs: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected all 3 urls on first pass, got %d", len(refs))
	}

	if err := l.HandleBundleProcessed(ctx, refs[0], nil); err != nil {
		t.Fatalf("HandleBundleProcessed: %v", err)
	}

	refs2, err := l.GetNextBundleRefs(ctx, nil, 10)
	if err != nil {
		t.Fatalf("GetNextBundleRefs second pass: %v", err)
	}
	if len(refs2) != 2 {
		t.Fatalf("expected the processed url to be skipped, got %d refs", len(refs2))
	}
	for _, r := range refs2 {
		if r.PrimaryURL == refs[0].PrimaryURL {
			t.Fatalf("processed url %q reappeared", r.PrimaryURL)
		}
	}
}

func TestSingleHttpBundleLocatorRespectsWanted(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(nil)
	urls := []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}
	l := NewSingleHttpBundleLocator("single", "single-locator", store, urls)

	refs, err := l.GetNextBundleRefs(ctx, nil, 2)
	if err != nil {
		t.Fatalf("GetNextBundleRefs: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected exactly 2 refs, got %d", len(refs))
	}
}

func TestSingleHttpBundleLocatorHandleBundleErrorDoesNotMarkProcessed(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(nil)
	urls := []string{"https://example.com/a"}
	l := NewSingleHttpBundleLocator("single", "single-locator", store, urls)

	refs, _ := l.GetNextBundleRefs(ctx, nil, 1)
	if err := l.HandleBundleError(ctx, refs[0], errors.New("fetch failed"), nil); err != nil {
		t.Fatalf("HandleBundleError: %v", err)
	}

	refs2, err := l.GetNextBundleRefs(ctx, nil, 1)
	if err != nil {
		t.Fatalf("GetNextBundleRefs: %v", err)
	}
	if len(refs2) != 1 {
		t.Fatalf("a failed url must remain eligible for retry, got %d refs", len(refs2))
	}
}
