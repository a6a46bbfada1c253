package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedisStore(t *testing.T, namespace string) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStoreFromClient(client, namespace, nil)
}

func TestRedisStoreGetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t, "fetcher")

	if _, ok, err := s.Get(ctx, "k1", "default"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v", ok, err)
	}

	if err := s.Put(ctx, "k1", "v1", 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := s.Get(ctx, "k1", "default")
	if err != nil || !ok || v != "v1" {
		t.Fatalf("Get(k1) = %q, %v, %v", v, ok, err)
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists, _ := s.Exists(ctx, "k1"); exists {
		t.Fatalf("expected k1 gone after Delete")
	}
}

func TestRedisStoreNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	a := NewRedisStoreFromClient(client, "ns-a", nil)
	b := NewRedisStoreFromClient(client, "ns-b", nil)

	if err := a.Put(ctx, "shared-key", "from-a", 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "shared-key", ""); ok {
		t.Fatalf("namespace b should not see namespace a's key")
	}
}

func TestRedisStoreScanStripsNamespace(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t, "fetch")

	for _, k := range []string{"items:1", "items:2", "other:1"} {
		if err := s.Put(ctx, k, "v", 0); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	keys, err := s.Scan(ctx, "items:")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Scan(items:) returned %d keys, want 2: %v", len(keys), keys)
	}
	for _, k := range keys {
		if k != "items:1" && k != "items:2" {
			t.Fatalf("unexpected key in scan result (namespace not stripped?): %q", k)
		}
	}
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t, "fetcher")

	if err := s.Put(ctx, "k", "v", 20*time.Millisecond); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if exists, _ := s.Exists(ctx, "k"); !exists {
		t.Fatalf("expected k to exist immediately")
	}

	time.Sleep(50 * time.Millisecond)

	if exists, _ := s.Exists(ctx, "k"); exists {
		t.Fatalf("expected k to have expired")
	}
}

func TestNewRedisStoreRejectsEmptyURL(t *testing.T) {
	if _, err := NewRedisStore(RedisStoreOptions{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
