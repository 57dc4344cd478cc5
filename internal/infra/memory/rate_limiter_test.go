package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(2, time.Minute)
	limiter.clock = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		record, ok, err := limiter.Allow(ctx, "ip-1")
		if err != nil || !ok {
			t.Fatalf("call %d should pass: ok=%v err=%v", i, ok, err)
		}
		if record.Count != int64(i) || record.Limit != 2 {
			t.Fatalf("unexpected record %+v", record)
		}
	}
	record, ok, _ := limiter.Allow(ctx, "ip-1")
	if ok {
		t.Fatalf("third call inside the window must be rejected")
	}
	if !record.ResetAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected reset %s", record.ResetAt)
	}
	if _, ok, _ := limiter.Allow(ctx, "ip-2"); !ok {
		t.Fatalf("other identifiers have their own window")
	}

	now = now.Add(time.Minute)
	if _, ok, _ := limiter.Allow(ctx, "ip-1"); !ok {
		t.Fatalf("new window should admit again")
	}
}

func TestRateLimiterConcurrentCallers(t *testing.T) {
	const limit = 5
	limiter := NewRateLimiter(limit, time.Minute)

	var passed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := limiter.Allow(context.Background(), "ip-1"); ok {
				passed.Add(1)
			}
		}()
	}
	wg.Wait()
	if passed.Load() != limit {
		t.Fatalf("expected exactly %d admitted, got %d", limit, passed.Load())
	}
}

func TestRateLimiterSweep(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	_, _, _ = limiter.Allow(context.Background(), "ip-1")
	if n := limiter.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected expired window swept, got %d", n)
	}
}
