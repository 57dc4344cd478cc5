package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-engine/internal/domain"
)

// ResultStore keeps result JSON under quiz:{quizID}:result:{token}. The first write wins.
type ResultStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResultStore(client *redis.Client, ttl time.Duration) *ResultStore {
	return &ResultStore{client: client, ttl: ttl}
}

func (s *ResultStore) PutResult(ctx context.Context, quizID, token string, result domain.Result) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.client.SetNX(ctx, s.key(quizID, token), doc, s.ttl).Err()
}

func (s *ResultStore) GetResult(ctx context.Context, quizID, token string) (domain.Result, bool, error) {
	doc, err := s.client.Get(ctx, s.key(quizID, token)).Bytes()
	if isNil(err) {
		return domain.Result{}, false, nil
	}
	if err != nil {
		return domain.Result{}, false, err
	}
	var result domain.Result
	if err := json.Unmarshal(doc, &result); err != nil {
		return domain.Result{}, false, fmt.Errorf("decode result %s: %w", token, err)
	}
	return result, true, nil
}

func (s *ResultStore) key(quizID, token string) string {
	return "quiz:" + quizID + ":result:" + token
}
