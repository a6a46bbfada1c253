// Package storage implements the bundle storage pipeline: a chain of
// stream-transforming decorators terminated by an object-store sink.
// Decorators share the BundleStorage/BundleStorageContext contract so
// they compose transparently; hook invocation and notification
// publishing (the rest of what "complete" describes) are orchestrated by
// the loader immediately after Complete succeeds, not by storage itself,
// keeping the stream-transform concern separate from the
// pipeline-completion concern.
package storage

import (
	"context"
	"io"
	"sync"

	"github.com/dataforge/fetcher/internal/model"
)

// BundleStorage is the pipeline's storage contract: discover a BID for
// prospective metadata, open a context to stream one bundle's resources,
// and (optionally) recover in-flight state at run start.
type BundleStorage interface {
	BundleFound(ctx context.Context, metadata map[string]interface{}) (model.BID, error)
	StartBundle(ctx context.Context, ref model.BundleRef, recipe *model.FetcherRecipe) (BundleStorageContext, error)
	OnRunStart(ctx context.Context, runCtx *model.FetchRunContext) error
}

// BundleStorageContext streams resources into one bundle and finalizes
// it. Complete is idempotent: a second call after success is a no-op; a
// second call after failure re-attempts from the failed step.
type BundleStorageContext interface {
	AddResource(ctx context.Context, name string, meta model.ResourceMeta, stream io.Reader) error
	Complete(ctx context.Context, meta map[string]interface{}) error
	Ref() model.BundleRef
}

// completionState tracks the idempotent-complete bookkeeping every
// terminal context and decorator context shares.
type completionState struct {
	mu        sync.Mutex
	completed bool
}

func (c *completionState) alreadyDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

func (c *completionState) markDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = true
}

// StoredObject describes one object written to the sink, recorded for
// the terminating bundles/{bid}/metadata.json manifest.
type StoredObject struct {
	Key         string `json:"key"`
	ResourceName string `json:"resource_name"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  *int   `json:"status_code,omitempty"`
	DerivedFrom string `json:"derived_from,omitempty"`
}
