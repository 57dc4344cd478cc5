package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayRegistry claims replay tokens with SETNX.
type ReplayRegistry struct {
	client *redis.Client
}

func NewReplayRegistry(client *redis.Client) *ReplayRegistry {
	return &ReplayRegistry{client: client}
}

func (r *ReplayRegistry) Claim(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(token), "1", ttl).Result()
}

func (r *ReplayRegistry) Release(ctx context.Context, token string) error {
	return r.client.Del(ctx, r.key(token)).Err()
}

func (r *ReplayRegistry) key(token string) string {
	return "quiz:replay:" + token
}
