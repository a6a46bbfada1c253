package storage

import (
	"context"
	"io"
	"sync"

	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
)

// Inspector observes the second leg of a teed stream: archive decorators
// plug in here to extract derived resources while the first leg streams
// unmodified into the inner storage.
type Inspector func(ctx context.Context, inner BundleStorageContext, name string, meta model.ResourceMeta, r io.Reader) error

// TeeDecorator wraps a storage so every AddResource call is teed into two
// independent readers: one goes straight to the inner storage under the
// original name, the other is handed to Inspect for derived-resource
// extraction. Bypass skips the split entirely when the resource is
// already in its terminal form.
type TeeDecorator struct {
	inner   BundleStorage
	inspect Inspector
	bypass  func(name string, meta model.ResourceMeta) bool
	logger  logging.Logger
}

// NewTeeDecorator builds a TeeDecorator. bypass, if non-nil, is checked
// before teeing; when it returns true, AddResource passes the stream
// straight through to inner with no inspection.
func NewTeeDecorator(inner BundleStorage, inspect Inspector, bypass func(name string, meta model.ResourceMeta) bool, logger logging.Logger) *TeeDecorator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &TeeDecorator{inner: inner, inspect: inspect, bypass: bypass, logger: logger}
}

func (d *TeeDecorator) BundleFound(ctx context.Context, metadata map[string]interface{}) (model.BID, error) {
	return d.inner.BundleFound(ctx, metadata)
}

func (d *TeeDecorator) StartBundle(ctx context.Context, ref model.BundleRef, recipe *model.FetcherRecipe) (BundleStorageContext, error) {
	innerCtx, err := d.inner.StartBundle(ctx, ref, recipe)
	if err != nil {
		return nil, err
	}
	return &teeContext{decorator: d, inner: innerCtx}, nil
}

func (d *TeeDecorator) OnRunStart(ctx context.Context, runCtx *model.FetchRunContext) error {
	return d.inner.OnRunStart(ctx, runCtx)
}

type teeContext struct {
	decorator *TeeDecorator
	inner     BundleStorageContext
}

func (c *teeContext) Ref() model.BundleRef { return c.inner.Ref() }

func (c *teeContext) AddResource(ctx context.Context, name string, meta model.ResourceMeta, stream io.Reader) error {
	if c.decorator.bypass != nil && c.decorator.bypass(name, meta) {
		return c.inner.AddResource(ctx, name, meta, stream)
	}
	if c.decorator.inspect == nil {
		return c.inner.AddResource(ctx, name, meta, stream)
	}

	legs := fanOut(stream, 2)

	var wg sync.WaitGroup
	var storeErr, inspectErr error
	wg.Add(2)

	go func() {
		defer wg.Done()
		storeErr = c.inner.AddResource(ctx, name, meta, legs[0])
	}()
	go func() {
		defer wg.Done()
		inspectErr = c.decorator.inspect(ctx, c.inner, name, meta, legs[1])
	}()
	wg.Wait()

	if storeErr != nil {
		return storeErr
	}
	if inspectErr != nil {
		c.decorator.logger.Warn("tee inspection failed", logging.Fields{"resource": name, "error": inspectErr.Error()})
	}
	return nil
}

func (c *teeContext) Complete(ctx context.Context, meta map[string]interface{}) error {
	return c.inner.Complete(ctx, meta)
}
