package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/protocol"
	"github.com/dataforge/fetcher/internal/storage"
)

type stubLocator struct {
	name      string
	hookErr   error
	hookCalls []model.BundleRef
	mu        sync.Mutex
}

func (s *stubLocator) Name() string { return s.name }

func (s *stubLocator) OnBundleCompleteHook(ref model.BundleRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hookCalls = append(s.hookCalls, ref)
	return s.hookErr
}

type plainLocator struct{ name string }

func (p *plainLocator) Name() string { return p.name }

type fakeNotifier struct {
	mu        sync.Mutex
	published []model.BundleRef
	failWith  error
}

func (f *fakeNotifier) Publish(ctx context.Context, ref model.BundleRef, recipeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.published = append(f.published, ref)
	return nil
}

func TestHttpBundleLoaderLoadStoresAndNotifies(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	sink := storage.NewFileSink(dir, "", nil)
	notifier := &fakeNotifier{}
	hookLocator := &stubLocator{name: "hook-locator"}
	plain := &plainLocator{name: "plain-locator"}

	mgr := protocol.NewHttpManager(nil)
	l := NewHttpBundleLoader("test-http", mgr, protocol.HttpProtocolConfig{Name: "test-http"}, sink, notifier, nil)

	recipe := &model.FetcherRecipe{RecipeID: "recipe-1", BundleLocators: []model.BundleLocator{hookLocator, plain}}
	runCtx := model.NewFetchRunContext("run-1", model.AppConfig{})

	refs, err := l.Load(ctx, model.RequestMeta{URL: srv.URL + "/data.txt"}, recipe, runCtx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected one ref, got %d", len(refs))
	}
	if refs[0].ResourcesCount != 1 {
		t.Fatalf("ResourcesCount = %d, want 1", refs[0].ResourcesCount)
	}
	if runCtx.ProcessedCount() != 1 {
		t.Fatalf("ProcessedCount = %d, want 1", runCtx.ProcessedCount())
	}

	bidDir := filepath.Join(dir, string(refs[0].BID))
	if _, err := os.Stat(filepath.Join(bidDir, "data.txt")); err != nil {
		t.Fatalf("expected resource file: %v", err)
	}

	notifier.mu.Lock()
	gotPublished := len(notifier.published)
	notifier.mu.Unlock()
	if gotPublished != 1 {
		t.Fatalf("expected one published completion, got %d", gotPublished)
	}

	hookLocator.mu.Lock()
	gotHooks := len(hookLocator.hookCalls)
	hookLocator.mu.Unlock()
	if gotHooks != 1 {
		t.Fatalf("expected completion hook invoked once, got %d", gotHooks)
	}
}

func TestHttpBundleLoaderRequestFailureStartsNoBundle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sink := storage.NewFileSink(dir, "", nil)

	mgr := protocol.NewHttpManager(nil)
	l := NewHttpBundleLoader("test-http", mgr, protocol.HttpProtocolConfig{Name: "test-http"}, sink, nil, nil)

	recipe := &model.FetcherRecipe{RecipeID: "recipe-1"}
	runCtx := model.NewFetchRunContext("run-1", model.AppConfig{})

	_, err := l.Load(ctx, model.RequestMeta{URL: "http://127.0.0.1:0/unreachable"}, recipe, runCtx)
	if err == nil {
		t.Fatalf("expected an error for an unreachable host")
	}
	if runCtx.ProcessedCount() != 0 {
		t.Fatalf("ProcessedCount = %d, want 0 after a pre-stream failure", runCtx.ProcessedCount())
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("ReadDir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no bundle directories created, got %v", entries)
	}
}

func TestHttpBundleLoaderPublishFailurePropagates(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	sink := storage.NewFileSink(dir, "", nil)
	notifier := &fakeNotifier{failWith: errors.New("send failed")}

	mgr := protocol.NewHttpManager(nil)
	l := NewHttpBundleLoader("test-http", mgr, protocol.HttpProtocolConfig{Name: "test-http"}, sink, notifier, nil)

	recipe := &model.FetcherRecipe{RecipeID: "recipe-1"}
	runCtx := model.NewFetchRunContext("run-1", model.AppConfig{})

	_, err := l.Load(ctx, model.RequestMeta{URL: srv.URL + "/x"}, recipe, runCtx)
	if err == nil {
		t.Fatalf("expected publish failure to propagate")
	}
}

func TestResourceNameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com/data/report.csv": "report.csv",
		"https://example.com/":                "body",
		"https://example.com":                 "body",
		"not a url\x7f":                        "body",
	}
	for in, want := range cases {
		if got := resourceNameFromURL(in); got != want {
			t.Fatalf("resourceNameFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunCompletionHooksSwallowsErrorsAndSkipsNonHookLocators(t *testing.T) {
	failing := &stubLocator{name: "failing", hookErr: errors.New("boom")}
	ok := &stubLocator{name: "ok"}
	plain := &plainLocator{name: "plain"}

	ref := model.BundleRef{BID: model.NewBID()}
	RunCompletionHooks(ref, []model.BundleLocator{failing, ok, plain}, nil)

	failing.mu.Lock()
	failingCalls := len(failing.hookCalls)
	failing.mu.Unlock()
	ok.mu.Lock()
	okCalls := len(ok.hookCalls)
	ok.mu.Unlock()

	if failingCalls != 1 || okCalls != 1 {
		t.Fatalf("expected both hook-capable locators invoked once, got failing=%d ok=%d", failingCalls, okCalls)
	}
}
