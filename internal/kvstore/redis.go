package kvstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/ocerrors"
)

// RedisStore implements Store over a go-redis client, namespacing every
// key and optionally isolating onto its own logical DB the way the
// teacher framework's core.RedisClient does for its subsystems.
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    logging.Logger
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	URL       string // redis://host:port/db
	DB        int    // overrides the DB segment of URL when in 0..15
	Namespace string
	Logger    logging.Logger
}

// NewRedisStore connects to Redis and verifies reachability with a Ping,
// matching the teacher's "test connection at construction time" idiom.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("redis store: url is required: %w", ocerrors.ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("redis store: invalid url: %w", ocerrors.ErrInvalidConfiguration)
	}
	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		opts.Logger.Error("redis connection failed", logging.Fields{"error": err.Error()})
		return nil, fmt.Errorf("redis store: connect: %w", ocerrors.ErrConnectionFailed)
	}

	return &RedisStore{client: client, namespace: opts.Namespace, logger: opts.Logger}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client (used by
// tests against miniredis, and by components that share one connection
// pool across several namespaced stores).
func NewRedisStoreFromClient(client *redis.Client, namespace string, logger logging.Logger) *RedisStore {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &RedisStore{client: client, namespace: namespace, logger: logger}
}

func (r *RedisStore) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *RedisStore) Get(ctx context.Context, key string, defaultValue string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return defaultValue, false, nil
	}
	if err != nil {
		return defaultValue, false, fmt.Errorf("redis store get %q: %w", key, ocerrors.ErrStorageFailed)
	}
	return v, true, nil
}

func (r *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis store put %q: %w", key, ocerrors.ErrStorageFailed)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis store delete %q: %w", key, ocerrors.ErrStorageFailed)
	}
	return nil
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis store exists %q: %w", key, ocerrors.ErrStorageFailed)
	}
	return n > 0, nil
}

func (r *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	pattern := r.key(prefix) + "*"
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, r.stripNamespace(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis store scan %q: %w", prefix, ocerrors.ErrStorageFailed)
	}
	return keys, nil
}

func (r *RedisStore) RangeGet(ctx context.Context, from, to string, limit int) (map[string]string, error) {
	// Redis has no native lexicographic key range query outside sorted
	// sets; the queue and locator key spaces are small enough per-run
	// that a SCAN + in-process filter is the pragmatic choice here, same
	// tradeoff the teacher's redis_registry.go makes for ad-hoc lookups.
	allKeys, err := r.Scan(ctx, "")
	if err != nil {
		return nil, err
	}
	sort.Strings(allKeys)

	out := make(map[string]string)
	for _, k := range allKeys {
		if k < from {
			continue
		}
		if to != "" && k >= to {
			continue
		}
		v, ok, err := r.Get(ctx, k, "")
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *RedisStore) stripNamespace(k string) string {
	if r.namespace == "" {
		return k
	}
	prefix := r.namespace + ":"
	if len(k) > len(prefix) && k[:len(prefix)] == prefix {
		return k[len(prefix):]
	}
	return k
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
