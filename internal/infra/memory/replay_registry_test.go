package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReplayRegistryClaimOnce(t *testing.T) {
	registry := NewReplayRegistry()
	ctx := context.Background()

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := registry.Claim(ctx, "quiz-1:abc", time.Hour); ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 {
		t.Fatalf("expected a single winner, got %d", won.Load())
	}

	if err := registry.Release(ctx, "quiz-1:abc"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := registry.Claim(ctx, "quiz-1:abc", time.Hour); !ok {
		t.Fatalf("released token should be claimable")
	}
}

func TestReplayRegistryExpiry(t *testing.T) {
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	registry := NewReplayRegistry()
	registry.clock = func() time.Time { return now }
	ctx := context.Background()

	_, _ = registry.Claim(ctx, "t", time.Minute)
	now = now.Add(time.Minute)
	if ok, _ := registry.Claim(ctx, "t", time.Minute); !ok {
		t.Fatalf("expired token should be claimable")
	}
	if n := registry.Sweep(now.Add(time.Hour)); n != 1 {
		t.Fatalf("expected one token swept, got %d", n)
	}
}
