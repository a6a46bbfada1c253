// Package kvstore provides the durable get/put/delete/scan/range
// key-value contract that backs the persistent request queue
// and locator state, plus in-memory and Redis-backed implementations.
package kvstore

import (
	"context"
	"time"
)

// Store is the key-value contract every backend implements. Values are
// opaque string payloads; callers that need structured values serialize
// with encoding/json before Put and deserialize after Get.
type Store interface {
	// Get returns the value for key, or (defaultValue, false, nil) if the
	// key is absent or expired.
	Get(ctx context.Context, key string, defaultValue string) (string, bool, error)

	// Put stores value under key. ttl of zero means no expiry. TTL
	// enforcement is best-effort.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Scan returns all keys with the given prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// RangeGet returns key/value pairs with keys in [from, to) in
	// lexicographic order. An empty to means "no upper bound". limit <= 0
	// means "no limit".
	RangeGet(ctx context.Context, from, to string, limit int) (map[string]string, error)

	Close() error
}

// ErrClosed is returned by operations on a closed store.
type storeClosedError struct{}

func (storeClosedError) Error() string { return "kvstore: store is closed" }

var ErrClosed error = storeClosedError{}
