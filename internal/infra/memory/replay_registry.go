package memory

import (
	"context"
	"sync"
	"time"
)

// ReplayRegistry remembers claimed replay tokens until they expire.
type ReplayRegistry struct {
	clock func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time
}

func NewReplayRegistry() *ReplayRegistry {
	return &ReplayRegistry{
		clock:  time.Now,
		tokens: make(map[string]time.Time),
	}
}

func (r *ReplayRegistry) Claim(_ context.Context, token string, ttl time.Duration) (bool, error) {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if expiresAt, ok := r.tokens[token]; ok && now.Before(expiresAt) {
		return false, nil
	}
	r.tokens[token] = now.Add(ttl)
	return true, nil
}

func (r *ReplayRegistry) Release(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
	return nil
}

// Sweep drops expired tokens.
func (r *ReplayRegistry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for token, expiresAt := range r.tokens {
		if !now.Before(expiresAt) {
			delete(r.tokens, token)
			removed++
		}
	}
	return removed
}
