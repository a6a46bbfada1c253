// Package locator implements the Bundle Locators: resumable work
// generators that emit request or bundle-ref work items and record
// per-item progress durably in the key-value store. Locators are defined
// as small capability-set interfaces rather than a class hierarchy, the
// same tagged-variant idiom the teacher framework uses for its discovery
// backends.
package locator

import (
	"context"
	"fmt"
	"time"

	"github.com/dataforge/fetcher/internal/kvstore"
	"github.com/dataforge/fetcher/internal/model"
)

// RequestLocator is the request-flavor contract: it hands the scheduler
// raw RequestMeta values to enqueue.
type RequestLocator interface {
	model.BundleLocator
	GetNextURLs(ctx context.Context, runCtx *model.FetchRunContext) ([]model.RequestMeta, error)
	HandleURLProcessed(ctx context.Context, request model.RequestMeta, refs []model.BundleRef, runCtx *model.FetchRunContext) error
}

// BundleFlavorLocator is the bundle-flavor contract: it mints BundleRefs
// directly, bypassing the request queue.
type BundleFlavorLocator interface {
	model.BundleLocator
	GetNextBundleRefs(ctx context.Context, runCtx *model.FetchRunContext, wanted int) ([]model.BundleRef, error)
	HandleBundleProcessed(ctx context.Context, ref model.BundleRef, runCtx *model.FetchRunContext) error
	HandleBundleError(ctx context.Context, ref model.BundleRef, err error, runCtx *model.FetchRunContext) error
}

// CompletionHook is an optional extra capability: a locator that wants to
// be notified once a bundle finishes notification, not just storage.
type CompletionHook interface {
	OnBundleCompleteHook(ref model.BundleRef) error
}

// Default TTLs for locator-owned keyspace entries: processed markers
// ~7d, results ~30d, errors ~24h.
const (
	ProcessedTTL = 7 * 24 * time.Hour
	ResultTTL    = 30 * 24 * time.Hour
	ErrorTTL     = 24 * time.Hour
)

// processedKey, resultKey, errorKey, stateKey build the {prefix}:...
// keyspace shared by every locator implementation in this package.
func processedKey(prefix, id string) string { return fmt.Sprintf("%s:processed:%s", prefix, id) }
func resultKey(prefix, id string) string     { return fmt.Sprintf("%s:results:%s", prefix, id) }
func errorKey(prefix, id string) string      { return fmt.Sprintf("%s:errors:%s", prefix, id) }
func stateKey(prefix, name string) string    { return fmt.Sprintf("%s:state:%s", prefix, name) }
func mtimeKey(prefix, id string) string      { return fmt.Sprintf("%s:processed_mtime:%s", prefix, id) }

// isProcessed checks the {prefix}:processed:{id} marker.
func isProcessed(ctx context.Context, store kvstore.Store, prefix, id string) (bool, error) {
	return store.Exists(ctx, processedKey(prefix, id))
}

// markProcessed writes the {prefix}:processed:{id} marker with the
// package's default processed TTL.
func markProcessed(ctx context.Context, store kvstore.Store, prefix, id string) error {
	return store.Put(ctx, processedKey(prefix, id), time.Now().UTC().Format(time.RFC3339), ProcessedTTL)
}
