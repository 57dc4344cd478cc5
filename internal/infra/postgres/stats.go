package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"quiz-engine/internal/domain"
)

type statCounter struct {
	bun.BaseModel `bun:"table:quiz_stat_counters,alias:c"`

	QuizID string `bun:"quiz_id,pk"`
	Name   string `bun:"name,pk"`
	Value  int64  `bun:"value,notnull"`
}

// StatsAggregator keeps one row per quiz counter.
type StatsAggregator struct {
	db *bun.DB
}

func NewStatsAggregator(db *bun.DB) *StatsAggregator {
	return &StatsAggregator{db: db}
}

// RecordAttempt upserts every counter of one attempt in a single statement.
func (a *StatsAggregator) RecordAttempt(ctx context.Context, quizID string, result domain.Result) error {
	counters := domain.AttemptCounters(result)
	rows := make([]statCounter, 0, len(counters))
	for name, delta := range counters {
		rows = append(rows, statCounter{QuizID: quizID, Name: name, Value: delta})
	}
	_, err := a.db.NewInsert().
		Model(&rows).
		On("CONFLICT (quiz_id, name) DO UPDATE").
		Set("value = c.value + EXCLUDED.value").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (a *StatsAggregator) Stats(ctx context.Context, quizID string) (domain.QuizStats, error) {
	var rows []statCounter
	if err := a.db.NewSelect().Model(&rows).Where("quiz_id = ?", quizID).Scan(ctx); err != nil {
		return domain.QuizStats{}, fmt.Errorf("select stats: %w", err)
	}
	counters := make(map[string]int64, len(rows))
	for _, row := range rows {
		counters[row.Name] = row.Value
	}
	return domain.StatsFromCounters(quizID, counters), nil
}
