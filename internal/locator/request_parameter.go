package locator

import (
	"context"
	"sync"

	"github.com/dataforge/fetcher/internal/model"
)

// maxBatchSize is the batched-up-to-10-per-call limit.
const maxBatchSize = 10

// RequestParameterLocator serves a static, in-memory list of RequestMeta
// values in batches, marking itself exhausted once the list is drained.
// It owns no durable state; the list itself is the only configuration.
type RequestParameterLocator struct {
	name string

	mu      sync.Mutex
	pending []model.RequestMeta
}

// NewRequestParameterLocator builds a locator serving requests in order.
func NewRequestParameterLocator(name string, requests []model.RequestMeta) *RequestParameterLocator {
	cp := make([]model.RequestMeta, len(requests))
	copy(cp, requests)
	return &RequestParameterLocator{name: name, pending: cp}
}

func (l *RequestParameterLocator) Name() string { return l.name }

// GetNextURLs returns up to maxBatchSize requests from the head of the
// list, or an empty slice once exhausted.
func (l *RequestParameterLocator) GetNextURLs(_ context.Context, _ *model.FetchRunContext) ([]model.RequestMeta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil, nil
	}

	n := maxBatchSize
	if n > len(l.pending) {
		n = len(l.pending)
	}
	batch := l.pending[:n]
	l.pending = l.pending[n:]

	out := make([]model.RequestMeta, n)
	copy(out, batch)
	return out, nil
}

// HandleURLProcessed is a no-op: this locator tracks no per-request state.
func (l *RequestParameterLocator) HandleURLProcessed(_ context.Context, _ model.RequestMeta, _ []model.BundleRef, _ *model.FetchRunContext) error {
	return nil
}
