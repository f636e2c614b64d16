package grants

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(RedisCacheConfig{
		URL: "redis://" + mr.Addr(),
		TTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestRedisCache_RoundTrip(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	if _, ok, err := cache.GetNames(ctx, "user-1"); err != nil || ok {
		t.Fatalf("GetNames on empty cache = ok=%v err=%v, want miss", ok, err)
	}

	names := []string{"Manager", "Viewer"}
	if err := cache.SetNames(ctx, "user-1", names); err != nil {
		t.Fatalf("SetNames failed: %v", err)
	}

	got, ok, err := cache.GetNames(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("GetNames = ok=%v err=%v, want hit", ok, err)
	}
	if len(got) != 2 || got[0] != "Manager" || got[1] != "Viewer" {
		t.Errorf("GetNames = %v, want %v", got, names)
	}
}

func TestRedisCache_Invalidate(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	if err := cache.SetNames(ctx, "user-1", []string{"Manager"}); err != nil {
		t.Fatalf("SetNames failed: %v", err)
	}
	if err := cache.Invalidate(ctx, "user-1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	if _, ok, _ := cache.GetNames(ctx, "user-1"); ok {
		t.Error("GetNames hit after Invalidate")
	}
	if mr.Exists("effective:sets:user-1") {
		t.Error("redis key survived Invalidate")
	}
}

func TestRedisCache_L1ServesWithoutRedis(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	if err := cache.SetNames(ctx, "user-1", []string{"Manager"}); err != nil {
		t.Fatalf("SetNames failed: %v", err)
	}

	// With redis gone, the in-process layer still answers.
	mr.Close()
	got, ok, err := cache.GetNames(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("GetNames after redis down = ok=%v err=%v, want L1 hit", ok, err)
	}
	if len(got) != 1 || got[0] != "Manager" {
		t.Errorf("GetNames = %v, want [Manager]", got)
	}
}

func TestRedisCache_CorruptEntryIsAMiss(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	// Written behind the cache's back, so the L1 layer has no copy.
	mr.Set("effective:sets:user-1", "{not json")

	_, ok, err := cache.GetNames(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetNames failed: %v", err)
	}
	if ok {
		t.Error("corrupt entry reported as a hit")
	}
	if mr.Exists("effective:sets:user-1") {
		t.Error("corrupt entry not dropped")
	}
}

func TestRedisCache_RejectsBadURL(t *testing.T) {
	if _, err := NewRedisCache(RedisCacheConfig{URL: "://bad"}); err == nil {
		t.Error("expected error for malformed redis URL")
	}
}

func TestNopCache(t *testing.T) {
	ctx := context.Background()
	var cache EffectiveCache = NopCache{}

	if err := cache.SetNames(ctx, "user-1", []string{"Manager"}); err != nil {
		t.Fatalf("SetNames failed: %v", err)
	}
	if _, ok, err := cache.GetNames(ctx, "user-1"); err != nil || ok {
		t.Errorf("NopCache GetNames = ok=%v err=%v, want permanent miss", ok, err)
	}
	if err := cache.Invalidate(ctx, "user-1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
