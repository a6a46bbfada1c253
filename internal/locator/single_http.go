package locator

import (
	"context"

	"github.com/dataforge/fetcher/internal/kvstore"
	"github.com/dataforge/fetcher/internal/model"
)

// SingleHttpBundleLocator walks a static URL list, minting one BundleRef
// per URL not already marked processed in the key-value store under
// {prefix}:processed:{url}.
type SingleHttpBundleLocator struct {
	name   string
	prefix string
	store  kvstore.Store
	urls   []string
}

// NewSingleHttpBundleLocator builds a locator over a fixed list of URLs,
// namespacing its durable state under prefix.
func NewSingleHttpBundleLocator(name, prefix string, store kvstore.Store, urls []string) *SingleHttpBundleLocator {
	cp := make([]string, len(urls))
	copy(cp, urls)
	return &SingleHttpBundleLocator{name: name, prefix: prefix, store: store, urls: cp}
}

func (l *SingleHttpBundleLocator) Name() string { return l.name }

// GetNextBundleRefs scans the static URL list for up to wanted unprocessed
// URLs and mints a BundleRef for each.
func (l *SingleHttpBundleLocator) GetNextBundleRefs(ctx context.Context, _ *model.FetchRunContext, wanted int) ([]model.BundleRef, error) {
	if wanted <= 0 {
		wanted = 1
	}

	out := make([]model.BundleRef, 0, wanted)
	for _, url := range l.urls {
		if len(out) >= wanted {
			break
		}
		done, err := isProcessed(ctx, l.store, l.prefix, url)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		out = append(out, model.BundleRef{
			BID:        model.NewBID(),
			PrimaryURL: url,
		})
	}
	return out, nil
}

// HandleBundleProcessed marks the bundle's URL as processed.
func (l *SingleHttpBundleLocator) HandleBundleProcessed(ctx context.Context, ref model.BundleRef, _ *model.FetchRunContext) error {
	return markProcessed(ctx, l.store, l.prefix, ref.PrimaryURL)
}

// HandleBundleError records the failure under {prefix}:errors:{url} but
// does not mark the URL processed, so it is retried on the next run.
func (l *SingleHttpBundleLocator) HandleBundleError(ctx context.Context, ref model.BundleRef, err error, _ *model.FetchRunContext) error {
	return l.store.Put(ctx, errorKey(l.prefix, ref.PrimaryURL), err.Error(), ErrorTTL)
}
