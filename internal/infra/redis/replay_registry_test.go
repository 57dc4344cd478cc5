package redis

import (
	"context"
	"testing"
	"time"
)

func TestReplayRegistry(t *testing.T) {
	mr, client := newMiniredis(t)
	registry := NewReplayRegistry(client)
	ctx := context.Background()

	ok, err := registry.Claim(ctx, "quiz-1:abc", time.Hour)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := registry.Claim(ctx, "quiz-1:abc", time.Hour); ok {
		t.Fatalf("second claim must fail")
	}
	if ttl := mr.TTL("quiz:replay:quiz-1:abc"); ttl != time.Hour {
		t.Fatalf("expected retention ttl, got %s", ttl)
	}

	if err := registry.Release(ctx, "quiz-1:abc"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := registry.Claim(ctx, "quiz-1:abc", time.Hour); !ok {
		t.Fatalf("released token should be claimable")
	}

	mr.FastForward(2 * time.Hour)
	if ok, _ := registry.Claim(ctx, "quiz-1:abc", time.Hour); !ok {
		t.Fatalf("expired token should be claimable")
	}
}
