package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiterTest(t *testing.T) (*Limiter, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(NewRedisStore(rdb, ""), nil, nil)
	return limiter, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRedisFixedWindowBoundary(t *testing.T) {
	limiter, _, done := newRedisLimiterTest(t)
	defer done()
	ctx := context.Background()

	results := make([]Result, 0, 3)
	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "id-1", 2, time.Second)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		results = append(results, res)
	}

	if !results[0].Allowed || !results[1].Allowed {
		t.Fatalf("first two calls must be allowed: %+v", results)
	}
	if results[2].Allowed {
		t.Fatal("third call must be rejected at the boundary")
	}
}

func TestRedisWindowExpiresWithTTL(t *testing.T) {
	limiter, mr, done := newRedisLimiterTest(t)
	defer done()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Allow(ctx, "id-2", 2, time.Second); err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
	}

	mr.FastForward(2 * time.Second)

	res, err := limiter.Allow(ctx, "id-2", 2, time.Second)
	if err != nil {
		t.Fatalf("allow after expiry: %v", err)
	}
	if !res.Allowed || res.Remaining != 1 {
		t.Fatalf("expected fresh window after TTL, got %+v", res)
	}
}

func TestRedisStoreUnavailableWrapped(t *testing.T) {
	limiter, mr, done := newRedisLimiterTest(t)
	defer done()
	ctx := context.Background()

	mr.Close()

	_, err := limiter.Allow(ctx, "id-3", 2, time.Second)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
