package memory

import (
	"context"
	"sync"
	"time"

	"quiz-engine/internal/domain"
)

// ResultStore keeps results by quiz and replay token for ttl.
type ResultStore struct {
	ttl   time.Duration
	clock func() time.Time

	mu      sync.RWMutex
	results map[string]storedResult
}

type storedResult struct {
	result    domain.Result
	expiresAt time.Time
}

func NewResultStore(ttl time.Duration) *ResultStore {
	return &ResultStore{
		ttl:     ttl,
		clock:   time.Now,
		results: make(map[string]storedResult),
	}
}

// PutResult stores result unless the token already has one.
func (s *ResultStore) PutResult(_ context.Context, quizID, token string, result domain.Result) error {
	now := s.clock()
	key := resultKey(quizID, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.results[key]; ok && s.live(entry, now) {
		return nil
	}
	s.results[key] = storedResult{result: cloneResult(result), expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *ResultStore) GetResult(_ context.Context, quizID, token string) (domain.Result, bool, error) {
	now := s.clock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.results[resultKey(quizID, token)]
	if !ok || !s.live(entry, now) {
		return domain.Result{}, false, nil
	}
	return cloneResult(entry.result), true, nil
}

// Sweep drops expired results.
func (s *ResultStore) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.results {
		if !now.Before(entry.expiresAt) {
			delete(s.results, key)
			removed++
		}
	}
	return removed
}

func (s *ResultStore) live(entry storedResult, now time.Time) bool {
	return s.ttl <= 0 || now.Before(entry.expiresAt)
}

func resultKey(quizID, token string) string {
	return quizID + "\x00" + token
}

func cloneResult(r domain.Result) domain.Result {
	r.PerQuestion = append([]domain.QuestionResult(nil), r.PerQuestion...)
	return r
}
