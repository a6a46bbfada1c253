// Package queue implements the persistent request queue: a FIFO of
// serialized RequestMeta backed by a kvstore.Store, namespaced per run,
// with crash recovery. Only the recovery variant ships; the simpler
// happy-path queue algorithm is folded into this type's normal read/
// write path rather than kept as a second type.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dataforge/fetcher/internal/kvstore"
	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/ocerrors"
)

// Queue is a FIFO of model.RequestMeta namespaced under fetch:{runID}.
type Queue struct {
	store  kvstore.Store
	runID  string
	logger logging.Logger

	mu               sync.Mutex
	recoveryChecked  bool
	needsRecovery    bool
}

// New builds a Queue for one run. Recovery runs lazily on first use so
// construction never touches the store.
func New(store kvstore.Store, runID string, logger logging.Logger) *Queue {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Queue{store: store, runID: runID, logger: logger}
}

func (q *Queue) nsKey(suffix string) string {
	return fmt.Sprintf("fetch:%s:%s", q.runID, suffix)
}

func (q *Queue) itemKey(id int64) string {
	return q.nsKey(fmt.Sprintf("items:%d", id))
}

// ensureRecovered runs the one-time-per-process reconciliation: scan
// items:*, and if the observed item count or next_id (highest item id
// plus one) disagrees with the stored size/next_id counters, rewrite the
// counters from the scan.
// Must be called with mu held.
func (q *Queue) ensureRecovered(ctx context.Context) error {
	if q.recoveryChecked && !q.needsRecovery {
		return nil
	}

	itemPrefix := q.nsKey("items:")
	keys, err := q.store.Scan(ctx, itemPrefix)
	if err != nil {
		return fmt.Errorf("queue recovery: scan: %w", err)
	}

	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		idStr := strings.TrimPrefix(k, itemPrefix)
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	storedNextIDStr, _, _ := q.store.Get(ctx, q.nsKey("next_id"), "0")
	storedSizeStr, _, _ := q.store.Get(ctx, q.nsKey("size"), "0")
	storedNextID, _ := strconv.ParseInt(storedNextIDStr, 10, 64)
	storedSize, _ := strconv.ParseInt(storedSizeStr, 10, 64)

	var observedNextID, observedSize int64
	if len(ids) == 0 {
		observedNextID = storedNextID
		observedSize = 0
	} else {
		observedNextID = ids[len(ids)-1] + 1
		observedSize = int64(len(ids))
	}

	if observedSize != storedSize || observedNextID != storedNextID || (len(ids) == 0 && storedSize != 0) {
		q.logger.Warn("queue recovery: rewriting counters", logging.Fields{
			"run_id":          q.runID,
			"stored_size":     storedSize,
			"observed_size":   observedSize,
			"stored_next_id":  storedNextID,
			"observed_next_id": observedNextID,
		})
		if err := q.store.Put(ctx, q.nsKey("size"), strconv.FormatInt(observedSize, 10), 0); err != nil {
			return fmt.Errorf("queue recovery: write size: %w", err)
		}
		if err := q.store.Put(ctx, q.nsKey("next_id"), strconv.FormatInt(observedNextID, 10), 0); err != nil {
			return fmt.Errorf("queue recovery: write next_id: %w", err)
		}
	}

	q.recoveryChecked = true
	q.needsRecovery = false
	return nil
}

func (q *Queue) readCounters(ctx context.Context) (nextID, size int64, err error) {
	nextStr, _, err := q.store.Get(ctx, q.nsKey("next_id"), "0")
	if err != nil {
		return 0, 0, err
	}
	sizeStr, _, err := q.store.Get(ctx, q.nsKey("size"), "0")
	if err != nil {
		return 0, 0, err
	}
	nextID, _ = strconv.ParseInt(nextStr, 10, 64)
	size, _ = strconv.ParseInt(sizeStr, 10, 64)
	return nextID, size, nil
}

// Enqueue serializes and appends items to the tail of the queue, returning
// the count actually written. An empty iterable enqueues zero items. On
// any write failure, items already written in this call are deleted
// (compensating action) before the error is returned, and counters are
// only advanced once every write succeeded.
func (q *Queue) Enqueue(ctx context.Context, items []model.RequestMeta) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.ensureRecovered(ctx); err != nil {
		return 0, err
	}

	nextID, size, err := q.readCounters(ctx)
	if err != nil {
		return 0, err
	}

	written := make([]int64, 0, len(items))
	id := nextID
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			q.rollback(ctx, written)
			return 0, fmt.Errorf("queue enqueue: marshal: %w", err)
		}
		if err := q.store.Put(ctx, q.itemKey(id), string(data), 0); err != nil {
			q.rollback(ctx, written)
			q.needsRecovery = true
			return 0, fmt.Errorf("queue enqueue: write item %d: %w", id, ocerrors.ErrStorageFailed)
		}
		written = append(written, id)
		id++
	}

	newNextID := id
	newSize := size + int64(len(items))
	if err := q.store.Put(ctx, q.nsKey("next_id"), strconv.FormatInt(newNextID, 10), 0); err != nil {
		q.needsRecovery = true
		return 0, fmt.Errorf("queue enqueue: write next_id: %w", ocerrors.ErrStorageFailed)
	}
	if err := q.store.Put(ctx, q.nsKey("size"), strconv.FormatInt(newSize, 10), 0); err != nil {
		q.needsRecovery = true
		return 0, fmt.Errorf("queue enqueue: write size: %w", ocerrors.ErrStorageFailed)
	}

	return len(items), nil
}

func (q *Queue) rollback(ctx context.Context, ids []int64) {
	for _, id := range ids {
		_ = q.store.Delete(ctx, q.itemKey(id))
	}
}

// Dequeue pops up to maxItems from the head of the queue in FIFO order.
// maxItems <= 0 returns an empty list.
func (q *Queue) Dequeue(ctx context.Context, maxItems int) ([]model.RequestMeta, error) {
	if maxItems <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.ensureRecovered(ctx); err != nil {
		return nil, err
	}

	nextID, size, err := q.readCounters(ctx)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	startID := nextID - size
	count := maxItems
	if int64(count) > size {
		count = int(size)
	}

	out := make([]model.RequestMeta, 0, count)
	for i := 0; i < count; i++ {
		id := startID + int64(i)
		raw, ok, err := q.store.Get(ctx, q.itemKey(id), "")
		if err != nil {
			q.needsRecovery = true
			return nil, fmt.Errorf("queue dequeue: read item %d: %w", id, ocerrors.ErrStorageFailed)
		}
		if !ok {
			q.needsRecovery = true
			return nil, fmt.Errorf("queue dequeue: item %d missing: %w", id, ocerrors.ErrQueueCorrupt)
		}

		var item model.RequestMeta
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("queue dequeue: deserialize item %d: %w", id, ocerrors.ErrStorageFailed)
		}

		if err := q.store.Delete(ctx, q.itemKey(id)); err != nil {
			q.needsRecovery = true
			return nil, fmt.Errorf("queue dequeue: delete item %d: %w", id, ocerrors.ErrStorageFailed)
		}

		out = append(out, item)
	}

	newSize := size - int64(len(out))
	if err := q.store.Put(ctx, q.nsKey("size"), strconv.FormatInt(newSize, 10), 0); err != nil {
		q.needsRecovery = true
		return nil, fmt.Errorf("queue dequeue: write size: %w", ocerrors.ErrStorageFailed)
	}

	return out, nil
}

// Size returns the current queue length.
func (q *Queue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.ensureRecovered(ctx); err != nil {
		return 0, err
	}
	_, size, err := q.readCounters(ctx)
	return int(size), err
}

// Peek returns up to maxItems from the head without removing them.
func (q *Queue) Peek(ctx context.Context, maxItems int) ([]model.RequestMeta, error) {
	if maxItems <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.ensureRecovered(ctx); err != nil {
		return nil, err
	}

	nextID, size, err := q.readCounters(ctx)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	startID := nextID - size
	count := maxItems
	if int64(count) > size {
		count = int(size)
	}

	out := make([]model.RequestMeta, 0, count)
	for i := 0; i < count; i++ {
		id := startID + int64(i)
		raw, ok, err := q.store.Get(ctx, q.itemKey(id), "")
		if err != nil || !ok {
			break
		}
		var item model.RequestMeta
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("queue peek: deserialize item %d: %w", id, ocerrors.ErrStorageFailed)
		}
		out = append(out, item)
	}
	return out, nil
}

// Clear empties the queue, returning the number of items removed.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.ensureRecovered(ctx); err != nil {
		return 0, err
	}

	nextID, size, err := q.readCounters(ctx)
	if err != nil {
		return 0, err
	}
	startID := nextID - size
	for i := int64(0); i < size; i++ {
		_ = q.store.Delete(ctx, q.itemKey(startID+i))
	}
	if err := q.store.Put(ctx, q.nsKey("size"), "0", 0); err != nil {
		return 0, err
	}
	return int(size), nil
}

// Close is a no-op: the backing store's lifecycle is managed by its
// owner, not the queue.
func (q *Queue) Close() error { return nil }
