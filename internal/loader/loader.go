// Package loader implements the Bundle Loader contract: streaming one
// work item's bytes from a protocol manager into a Bundle Storage
// Context, then finalizing the bundle and fanning out completion hooks
// and the notification publish.
package loader

import (
	"context"

	"github.com/dataforge/fetcher/internal/locator"
	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/storage"
)

// BundleLoader is the pipeline's loader contract. FetcherRecipe.BundleLoader
// holds this as interface{} (to avoid an import cycle between internal/model
// and internal/loader); callers type-assert it back to BundleLoader.
type BundleLoader interface {
	Load(ctx context.Context, req model.RequestMeta, recipe *model.FetcherRecipe, runCtx *model.FetchRunContext) ([]model.BundleRef, error)
}

// CompletionNotifier is the loader's view of the notification publisher
// (internal/notify). A Publish error is returned from the loader's Load;
// durability of the pending record is handled on the publisher's side.
type CompletionNotifier interface {
	Publish(ctx context.Context, ref model.BundleRef, recipeID string) error
}

// RunCompletionHooks invokes OnBundleCompleteHook on every locator that
// exposes the CompletionHook capability. Per-hook errors are logged and
// swallowed so one misbehaving locator can't fail the bundle that
// already completed successfully. Exported so the scheduler can re-run
// hooks after internal/notify replays a pending record on startup.
func RunCompletionHooks(ref model.BundleRef, locators []model.BundleLocator, logger logging.Logger) {
	logger = newLogger(logger)
	for _, l := range locators {
		hook, ok := l.(locator.CompletionHook)
		if !ok {
			continue
		}
		if err := hook.OnBundleCompleteHook(ref); err != nil {
			logger.Warn("completion hook failed", logging.Fields{"locator": l.Name(), "bid": string(ref.BID), "error": err.Error()})
		}
	}
}

// publishCompletion fires the notification publish after storage.Complete
// succeeds. A publish failure is returned to the caller rather than
// swallowed: the bundle is already durably stored, but the publisher's
// own durable pending record stays in place for a later run's
// on_run_start replay, so the caller must surface the failure as a
// processing error for this item rather than treat it as delivered.
func publishCompletion(ctx context.Context, notifier CompletionNotifier, ref model.BundleRef, recipeID string) error {
	if notifier == nil {
		return nil
	}
	return notifier.Publish(ctx, ref, recipeID)
}

func newLogger(logger logging.Logger) logging.Logger {
	if logger == nil {
		return logging.NoOpLogger{}
	}
	return logger
}

// finalize runs storage.Complete, stamps resourcesCount onto the ref
// storage captured at StartBundle, then notifies and runs completion
// hooks in that order, since a hook that reacts to completion should see
// the notification as already sent.
func finalize(ctx context.Context, sctx storage.BundleStorageContext, meta map[string]interface{}, resourcesCount int, recipe *model.FetcherRecipe, notifier CompletionNotifier, logger logging.Logger) (model.BundleRef, error) {
	if err := sctx.Complete(ctx, meta); err != nil {
		return model.BundleRef{}, err
	}
	ref := sctx.Ref()
	ref.ResourcesCount = resourcesCount
	if err := publishCompletion(ctx, notifier, ref, recipe.RecipeID); err != nil {
		return ref, err
	}
	RunCompletionHooks(ref, recipe.BundleLocators, logger)
	return ref, nil
}
