package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dataforge/fetcher/internal/logging"
)

// MemoryStore is a single-process, mutex-guarded implementation of Store,
// grounded on the teacher framework's core.MemoryStore: a map of entries
// each carrying an optional expiry, checked lazily on read.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]memEntry
	closed bool
	logger logging.Logger
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore(logger logging.Logger) *MemoryStore {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &MemoryStore{data: make(map[string]memEntry), logger: logger}
}

func (m *MemoryStore) Get(_ context.Context, key string, defaultValue string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}

	e, ok := m.data[key]
	if !ok {
		return defaultValue, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		return defaultValue, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.data[key] = memEntry{value: value, expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key, "")
	return ok, err
}

func (m *MemoryStore) Scan(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	now := time.Now()
	var keys []string
	for k, e := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) RangeGet(_ context.Context, from, to string, limit int) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	now := time.Now()
	var keys []string
	for k, e := range m.data {
		if k < from {
			continue
		}
		if to != "" && k >= to {
			continue
		}
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = m.data[k].value
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
