// Package scheduler implements the fetcher scheduler: a locator
// goroutine that keeps the persistent queue topped up and a pool of
// worker goroutines that drain it through the recipe's loader.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dataforge/fetcher/internal/loader"
	"github.com/dataforge/fetcher/internal/locator"
	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/notify"
	"github.com/dataforge/fetcher/internal/ocerrors"
	"github.com/dataforge/fetcher/internal/queue"
	"github.com/dataforge/fetcher/internal/storage"
)

// pollInterval is how long an idle locator or worker sleeps before
// checking again.
const pollInterval = 100 * time.Millisecond

// Plan is one call to Scheduler.Run: the recipe to execute, the run's
// mutable context, worker concurrency, and the queue depth the locator
// goroutine tries to maintain.
type Plan struct {
	Recipe          *model.FetcherRecipe
	RunCtx          *model.FetchRunContext
	Concurrency     int
	TargetQueueSize int

	// Notifier, if set, is replayed for pending completion records
	// before the run starts.
	Notifier notify.Publisher
}

// Scheduler drives one Plan to completion.
type Scheduler struct {
	queue  *queue.Queue
	logger logging.Logger
}

// New builds a Scheduler backed by q.
func New(q *queue.Queue, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Scheduler{queue: q, logger: logger}
}

func (s *Scheduler) validate(plan Plan) (loader.BundleLoader, storage.BundleStorage, error) {
	if plan.RunCtx == nil || plan.RunCtx.RunID == "" {
		return nil, nil, fmt.Errorf("scheduler: run_id is required: %w", ocerrors.ErrInvalidConfiguration)
	}
	if plan.Recipe == nil {
		return nil, nil, fmt.Errorf("scheduler: recipe is required: %w", ocerrors.ErrInvalidConfiguration)
	}
	if err := plan.Recipe.Validate(); err != nil {
		return nil, nil, fmt.Errorf("scheduler: %w: %w", err, ocerrors.ErrInvalidConfiguration)
	}
	if plan.RunCtx.AppConfig.KVStore == nil {
		return nil, nil, fmt.Errorf("scheduler: app_config.kv_store is required: %w", ocerrors.ErrMissingConfiguration)
	}
	if plan.RunCtx.AppConfig.Storage == nil {
		return nil, nil, fmt.Errorf("scheduler: app_config.storage is required: %w", ocerrors.ErrMissingConfiguration)
	}

	bundleLoader, ok := plan.Recipe.BundleLoader.(loader.BundleLoader)
	if !ok {
		return nil, nil, fmt.Errorf("scheduler: recipe %q: bundle_loader does not implement loader.BundleLoader: %w", plan.Recipe.RecipeID, ocerrors.ErrInvalidConfiguration)
	}
	bundleStorage, ok := plan.RunCtx.AppConfig.Storage.(storage.BundleStorage)
	if !ok {
		return nil, nil, fmt.Errorf("scheduler: recipe %q: app_config.storage does not implement storage.BundleStorage: %w", plan.Recipe.RecipeID, ocerrors.ErrInvalidConfiguration)
	}
	return bundleLoader, bundleStorage, nil
}

// Run executes plan to completion: locator goroutine plus N worker
// goroutines, returning the accumulated FetchResult.
func (s *Scheduler) Run(ctx context.Context, plan Plan) (*model.FetchResult, error) {
	bundleLoader, bundleStorage, err := s.validate(plan)
	if err != nil {
		return nil, err
	}

	concurrency := plan.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	target := plan.TargetQueueSize
	if target <= 0 {
		target = concurrency * 2
	}

	if err := bundleStorage.OnRunStart(ctx, plan.RunCtx); err != nil {
		return nil, fmt.Errorf("scheduler: storage.on_run_start: %w", err)
	}

	if plan.Notifier != nil {
		replayed, err := plan.Notifier.ReplayPending(ctx, plan.Recipe.RecipeID)
		if err != nil {
			s.logger.Warn("scheduler: pending-notification replay failed", logging.Fields{"recipe_id": plan.Recipe.RecipeID, "error": err.Error()})
		}
		for _, ref := range replayed {
			loader.RunCompletionHooks(ref, plan.Recipe.BundleLocators, s.logger)
		}
	}

	s.logger.Info("FETCHER_RUN_STARTED", logging.Fields{"run_id": plan.RunCtx.RunID, "recipe_id": plan.Recipe.RecipeID, "concurrency": concurrency})

	var locatorDone sync.WaitGroup
	completion := newCompletionFlag()

	locatorDone.Add(1)
	go func() {
		defer locatorDone.Done()
		s.runLocators(ctx, plan, completion)
	}()

	var workers sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		workers.Add(1)
		go func(workerID int) {
			defer workers.Done()
			s.runWorker(ctx, workerID, plan, bundleLoader, completion)
		}(i)
	}

	locatorDone.Wait()
	s.logger.Info("LOCATOR_THREAD_COMPLETED", logging.Fields{"run_id": plan.RunCtx.RunID})
	workers.Wait()

	if err := s.queue.Close(); err != nil {
		s.logger.Warn("scheduler: queue close failed", logging.Fields{"error": err.Error()})
	}

	return &model.FetchResult{
		ProcessedCount: plan.RunCtx.ProcessedCount(),
		Errors:         plan.RunCtx.Errors(),
		Context:        plan.RunCtx,
	}, nil
}

// completionFlag is a simple broadcast-once signal the locator goroutine
// raises when every locator in the recipe has reported exhaustion.
type completionFlag struct {
	mu   sync.RWMutex
	done bool
}

func newCompletionFlag() *completionFlag { return &completionFlag{} }

func (f *completionFlag) set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = true
}

func (f *completionFlag) isSet() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.done
}

// runLocators advances through plan.Recipe.BundleLocators in order,
// topping up the queue toward plan.TargetQueueSize, and raises completion
// once every locator has reported exhaustion.
func (s *Scheduler) runLocators(ctx context.Context, plan Plan, completion *completionFlag) {
	locators := plan.Recipe.BundleLocators
	target := plan.TargetQueueSize
	if target <= 0 {
		target = plan.Concurrency * 2
	}

	idx := 0
	for idx < len(locators) {
		select {
		case <-ctx.Done():
			completion.set()
			return
		default:
		}

		size, err := s.queue.Size(ctx)
		if err != nil {
			s.logger.Warn("scheduler: queue size check failed", logging.Fields{"error": err.Error()})
			time.Sleep(pollInterval)
			continue
		}
		if size >= target {
			time.Sleep(pollInterval)
			continue
		}

		advanced := s.pollLocator(ctx, locators[idx], plan, target-size)
		if advanced {
			idx++
		} else {
			time.Sleep(pollInterval)
		}
	}
	completion.set()
}

// pollLocator asks one locator for its next batch of work. It returns
// true when the locator reported exhaustion (empty batch) or a terminal
// error, signaling the caller to advance to the next locator.
func (s *Scheduler) pollLocator(ctx context.Context, bl model.BundleLocator, plan Plan, wanted int) bool {
	switch l := bl.(type) {
	case locator.RequestLocator:
		items, err := l.GetNextURLs(ctx, plan.RunCtx)
		if err != nil {
			s.logger.Warn("scheduler: locator error, advancing", logging.Fields{"locator": l.Name(), "error": err.Error()})
			return true
		}
		if len(items) == 0 {
			return true
		}
		if _, err := s.queue.Enqueue(ctx, items); err != nil {
			s.logger.Warn("scheduler: enqueue failed", logging.Fields{"locator": l.Name(), "error": err.Error()})
		}
		return false

	case locator.BundleFlavorLocator:
		refs, err := l.GetNextBundleRefs(ctx, plan.RunCtx, wanted)
		if err != nil {
			s.logger.Warn("scheduler: locator error, advancing", logging.Fields{"locator": l.Name(), "error": err.Error()})
			return true
		}
		if len(refs) == 0 {
			return true
		}
		items := make([]model.RequestMeta, 0, len(refs))
		for _, ref := range refs {
			items = append(items, model.RequestMeta{
				URL: ref.PrimaryURL,
				Flags: map[string]interface{}{
					"bundle_bid":  string(ref.BID),
					"bundle_meta": ref.Meta,
				},
			})
		}
		if _, err := s.queue.Enqueue(ctx, items); err != nil {
			s.logger.Warn("scheduler: enqueue failed", logging.Fields{"locator": l.Name(), "error": err.Error()})
		}
		return false

	default:
		s.logger.Warn("scheduler: locator exposes neither RequestLocator nor BundleFlavorLocator, skipping", logging.Fields{"locator": bl.Name()})
		return true
	}
}

// runWorker loops dequeue(1) -> load -> handle_*_processed until the
// queue is empty and completion has been raised.
func (s *Scheduler) runWorker(ctx context.Context, workerID int, plan Plan, bundleLoader loader.BundleLoader, completion *completionFlag) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		items, err := s.queue.Dequeue(ctx, 1)
		if err != nil {
			s.logger.Warn("scheduler: dequeue failed", logging.Fields{"worker": workerID, "error": err.Error()})
			time.Sleep(pollInterval)
			continue
		}
		if len(items) == 0 {
			if completion.isSet() {
				size, err := s.queue.Size(ctx)
				if err == nil && size == 0 {
					return
				}
			}
			time.Sleep(pollInterval)
			continue
		}

		req := items[0]
		s.logger.Debug("WORKER_PROCESS_URL", logging.Fields{"worker": workerID, "url": req.URL})

		refs, err := bundleLoader.Load(ctx, req, plan.Recipe, plan.RunCtx)
		if err != nil {
			plan.RunCtx.AddError(fmt.Sprintf("Error processing request %s: %v", req.URL, err))
			continue
		}

		dispatchProcessed(ctx, plan.Recipe.BundleLocators, req, refs, plan.RunCtx, s.logger)
	}
}

// dispatchProcessed fires handle_url_processed/handle_bundle_processed on
// every locator exposing the matching capability.
func dispatchProcessed(ctx context.Context, locators []model.BundleLocator, req model.RequestMeta, refs []model.BundleRef, runCtx *model.FetchRunContext, logger logging.Logger) {
	for _, bl := range locators {
		if rl, ok := bl.(locator.RequestLocator); ok {
			if err := rl.HandleURLProcessed(ctx, req, refs, runCtx); err != nil {
				logger.Warn("scheduler: handle_url_processed failed", logging.Fields{"locator": bl.Name(), "url": req.URL, "error": err.Error()})
			}
		}
		if bfl, ok := bl.(locator.BundleFlavorLocator); ok {
			for _, ref := range refs {
				if err := bfl.HandleBundleProcessed(ctx, ref, runCtx); err != nil {
					logger.Warn("scheduler: handle_bundle_processed failed", logging.Fields{"locator": bl.Name(), "bid": string(ref.BID), "error": err.Error()})
				}
			}
		}
	}
}
