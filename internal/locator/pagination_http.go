package locator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dataforge/fetcher/internal/kvstore"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/retry"
)

const dateLayout = "2006-01-02"

// PageFetcher issues one page request for date/cursor and returns the
// URLs found plus the cursor to use for the next page of the same date.
type PageFetcher func(ctx context.Context, date, cursor string) (urls []string, nextCursor string, err error)

// paginationState is the durable {current_date, current_cursor,
// initialized} record persisted under {prefix}:state:pagination.
type paginationState struct {
	CurrentDate   string `json:"current_date"`
	CurrentCursor string `json:"current_cursor"`
	Initialized   bool   `json:"initialized"`

	pendingNextCursor string // scratch space for the in-flight fetch's reported next cursor; not persisted
}

// PaginationHttpBundleLocator walks a date range day by day, paging
// through each day via PageFetcher until the cursor goes steady (signals
// the day is exhausted) or a page returns zero records, at which point it
// rolls forward to the next date.
type PaginationHttpBundleLocator struct {
	name          string
	prefix        string
	store         kvstore.Store
	startDate     string
	endDate       string
	initialCursor string
	fetch         PageFetcher
	retryCfg      retry.Config
}

// NewPaginationHttpBundleLocator builds a locator covering [startDate,
// endDate] (inclusive, "YYYY-MM-DD"), using initialCursor ("*" is typical)
// as the first cursor of each date.
func NewPaginationHttpBundleLocator(name, prefix string, store kvstore.Store, startDate, endDate, initialCursor string, fetch PageFetcher) *PaginationHttpBundleLocator {
	return &PaginationHttpBundleLocator{
		name:          name,
		prefix:        prefix,
		store:         store,
		startDate:     startDate,
		endDate:       endDate,
		initialCursor: initialCursor,
		fetch:         fetch,
		retryCfg:      retry.Operation(),
	}
}

func (l *PaginationHttpBundleLocator) Name() string { return l.name }

func (l *PaginationHttpBundleLocator) loadState(ctx context.Context) (paginationState, error) {
	raw, ok, err := l.store.Get(ctx, stateKey(l.prefix, "pagination"), "")
	if err != nil {
		return paginationState{}, err
	}
	if !ok {
		return paginationState{CurrentDate: l.startDate, CurrentCursor: l.initialCursor, Initialized: true}, nil
	}
	var st paginationState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return paginationState{}, fmt.Errorf("pagination locator %q: decode state: %w", l.name, err)
	}
	return st, nil
}

func (l *PaginationHttpBundleLocator) saveState(ctx context.Context, st paginationState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return l.store.Put(ctx, stateKey(l.prefix, "pagination"), string(data), 0)
}

func nextDate(date string) (string, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, 1).Format(dateLayout), nil
}

// GetNextBundleRefs fetches exactly one page for the locator's current
// (date, cursor) position, advancing state per the steady-cursor
// rollover rule, and mints a BundleRef per URL returned.
func (l *PaginationHttpBundleLocator) GetNextBundleRefs(ctx context.Context, _ *model.FetchRunContext, _ int) ([]model.BundleRef, error) {
	st, err := l.loadState(ctx)
	if err != nil {
		return nil, err
	}

	if st.CurrentDate > l.endDate {
		return nil, nil
	}

	type page struct {
		urls   []string
		cursor string
	}
	result, err := retry.ExecuteValue(ctx, l.retryCfg, func() (page, error) {
		urls, cursor, err := l.fetch(ctx, st.CurrentDate, st.CurrentCursor)
		if err != nil {
			return page{}, err
		}
		return page{urls: urls, cursor: cursor}, nil
	})
	if err != nil {
		return nil, err
	}
	urls := result.urls
	st.pendingNextCursor = result.cursor

	if len(urls) == 0 {
		advanced, derr := nextDate(st.CurrentDate)
		if derr != nil {
			return nil, fmt.Errorf("pagination locator %q: advance date: %w", l.name, derr)
		}
		st.CurrentDate = advanced
		st.CurrentCursor = l.initialCursor
		if err := l.saveState(ctx, st); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if st.pendingNextCursor == st.CurrentCursor {
		advanced, derr := nextDate(st.CurrentDate)
		if derr != nil {
			return nil, fmt.Errorf("pagination locator %q: advance date: %w", l.name, derr)
		}
		st.CurrentDate = advanced
		st.CurrentCursor = l.initialCursor
	} else {
		st.CurrentCursor = st.pendingNextCursor
	}
	if err := l.saveState(ctx, st); err != nil {
		return nil, err
	}

	refs := make([]model.BundleRef, 0, len(urls))
	for _, u := range urls {
		refs = append(refs, model.BundleRef{BID: model.NewBID(), PrimaryURL: u})
	}
	return refs, nil
}

// HandleBundleProcessed is a no-op beyond the state already advanced in
// GetNextBundleRefs: this locator tracks position, not per-URL markers.
func (l *PaginationHttpBundleLocator) HandleBundleProcessed(_ context.Context, _ model.BundleRef, _ *model.FetchRunContext) error {
	return nil
}

// HandleBundleError records the failure but leaves locator position
// advanced; pagination does not retry individual pages once consumed.
func (l *PaginationHttpBundleLocator) HandleBundleError(ctx context.Context, ref model.BundleRef, err error, _ *model.FetchRunContext) error {
	return l.store.Put(ctx, errorKey(l.prefix, ref.PrimaryURL), err.Error(), ErrorTTL)
}
