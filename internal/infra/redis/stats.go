package redis

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"quiz-engine/internal/domain"
)

// StatsAggregator keeps per-quiz counters in a Redis hash (HSET quiz:{quizID}:stats),
// one field per domain counter name.
type StatsAggregator struct {
	client *redis.Client
}

func NewStatsAggregator(client *redis.Client) *StatsAggregator {
	return &StatsAggregator{client: client}
}

// RecordAttempt applies every increment of one attempt in a MULTI/EXEC block.
func (a *StatsAggregator) RecordAttempt(ctx context.Context, quizID string, result domain.Result) error {
	key := a.key(quizID)
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for name, delta := range domain.AttemptCounters(result) {
			pipe.HIncrBy(ctx, key, name, delta)
		}
		return nil
	})
	return err
}

func (a *StatsAggregator) Stats(ctx context.Context, quizID string) (domain.QuizStats, error) {
	fields, err := a.client.HGetAll(ctx, a.key(quizID)).Result()
	if err != nil {
		return domain.QuizStats{}, err
	}
	counters := make(map[string]int64, len(fields))
	for name, raw := range fields {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
			counters[name] = value
		}
	}
	return domain.StatsFromCounters(quizID, counters), nil
}

func (a *StatsAggregator) key(quizID string) string {
	return "quiz:" + quizID + ":stats"
}
