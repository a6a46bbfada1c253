// Package model defines the value objects that flow through the fetcher
// pipeline: RequestMeta, ResourceMeta, BundleRef, FetcherRecipe, and
// FetchRunContext.
package model

import (
	"fmt"
	"sync"
)

// RequestMeta describes one unit of locator-produced work: a URL to fetch,
// its crawl depth, an optional referer, arbitrary headers, and a bag of
// locator-private flags. It is serialized to JSON for queue storage.
type RequestMeta struct {
	URL     string                 `json:"url"`
	Depth   int                    `json:"depth"`
	Referer string                 `json:"referer,omitempty"`
	Headers map[string]string      `json:"headers,omitempty"`
	Flags   map[string]interface{} `json:"flags,omitempty"`
}

// Validate enforces the RequestMeta invariants (non-empty URL,
// non-negative depth).
func (r RequestMeta) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("request meta: url must not be empty")
	}
	if r.Depth < 0 {
		return fmt.Errorf("request meta: depth must be non-negative, got %d", r.Depth)
	}
	return nil
}

// ResourceMeta is attached to each resource stored inside a bundle.
type ResourceMeta struct {
	URL         string            `json:"url"`
	Status      *int              `json:"status,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Note        string            `json:"note,omitempty"`
}

// StatusValid reports whether Status, if set, is a plausible HTTP status.
func (m ResourceMeta) StatusValid() bool {
	return m.Status == nil || (*m.Status >= 100 && *m.Status <= 599)
}

// BundleRef is created by a locator or loader once a bundle's identity is
// known. It is owned by the pipeline until the completion callback fires.
type BundleRef struct {
	BID            BID                    `json:"bid"`
	PrimaryURL     string                 `json:"primary_url"`
	ResourcesCount int                    `json:"resources_count"`
	StorageKey     string                 `json:"storage_key,omitempty"`
	Meta           map[string]interface{} `json:"meta,omitempty"`
}

// BundleLocator is the identity every locator of a recipe exposes. The
// work-producing and outcome-handling capabilities are separate interfaces
// in internal/locator (RequestLocator, BundleFlavorLocator, CompletionHook).
type BundleLocator interface {
	Name() string
}

// FetcherRecipe is immutable configuration: an ID, an ordered list of
// locators, and exactly one loader.
type FetcherRecipe struct {
	RecipeID       string
	BundleLocators []BundleLocator
	BundleLoader   interface{} // loader.BundleLoader; interface{} here to avoid an import cycle with internal/loader
}

// Validate checks FetcherRecipe's build-time invariants.
func (r FetcherRecipe) Validate() error {
	if r.RecipeID == "" {
		return fmt.Errorf("recipe: recipe_id must not be empty")
	}
	if len(r.BundleLocators) == 0 {
		return fmt.Errorf("recipe %q: at least one bundle locator is required", r.RecipeID)
	}
	if r.BundleLoader == nil {
		return fmt.Errorf("recipe %q: bundle_loader is required", r.RecipeID)
	}
	return nil
}

// FetchRunContext is the mutable run-scoped state threaded through one
// execution of the scheduler: the run ID, application-level collaborators,
// a free-form shared map, and guarded counters.
type FetchRunContext struct {
	RunID string

	// AppConfig carries the external collaborators the core requires
	// interfaces for (credential lookup, KV store, storage) without
	// depending on their concrete implementations.
	AppConfig AppConfig

	Shared map[string]interface{}

	mu             sync.Mutex
	processedCount int
	errors         []string
}

// AppConfig groups the application-level collaborators a run needs.
// Concrete types live in internal/kvstore, internal/storage, and the
// credential provider is supplied by the CLI layer.
type AppConfig struct {
	CredentialProvider CredentialProvider
	KVStore            interface{} // kvstore.Store
	Storage             interface{} // storage.BundleStorage
}

// CredentialProvider resolves named credentials (basic auth pairs, OAuth
// client secrets, etc). A concrete AWS Secrets Manager or environment-backed
// implementation lives outside the core.
type CredentialProvider interface {
	Lookup(name string) (map[string]string, bool)
}

// NewFetchRunContext builds a FetchRunContext for runID.
func NewFetchRunContext(runID string, appConfig AppConfig) *FetchRunContext {
	return &FetchRunContext{
		RunID:     runID,
		AppConfig: appConfig,
		Shared:    make(map[string]interface{}),
	}
}

// IncProcessed bumps the processed counter by one, guarded by its own
// mutex since loaders running in concurrent worker goroutines call it.
func (c *FetchRunContext) IncProcessed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processedCount++
}

// ProcessedCount returns the current processed count.
func (c *FetchRunContext) ProcessedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processedCount
}

// AddError appends a worker-captured error message to the run's error
// list, guarded by the same mutex discipline as the counter.
func (c *FetchRunContext) AddError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, msg)
}

// Errors returns a copy of the accumulated error messages.
func (c *FetchRunContext) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.errors))
	copy(out, c.errors)
	return out
}

// FetchResult is returned once a scheduler run completes.
type FetchResult struct {
	ProcessedCount int
	Errors         []string
	Context        *FetchRunContext
}
