package memory

import (
	"context"
	"sync"

	"quiz-engine/internal/domain"
)

// StatsAggregator keeps per-quiz counters in memory.
type StatsAggregator struct {
	mu    sync.RWMutex
	stats map[string]*domain.QuizStats
}

func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{stats: make(map[string]*domain.QuizStats)}
}

func (a *StatsAggregator) RecordAttempt(_ context.Context, quizID string, result domain.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats, ok := a.stats[quizID]
	if !ok {
		stats = &domain.QuizStats{QuizID: quizID, Questions: make(map[string]domain.QuestionStats)}
		a.stats[quizID] = stats
	}
	stats.Attempts++
	if result.Completed() {
		stats.Completions++
	}
	stats.Histogram[result.HistogramBucket()]++
	for _, qr := range result.PerQuestion {
		qs := stats.Questions[qr.ID]
		if qr.Answered {
			qs.Attempts++
		}
		if qr.Correct {
			qs.Correct++
		}
		stats.Questions[qr.ID] = qs
	}
	return nil
}

// Stats returns a copy of the counters; unknown quizzes report zeroes.
func (a *StatsAggregator) Stats(_ context.Context, quizID string) (domain.QuizStats, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := domain.QuizStats{QuizID: quizID, Questions: make(map[string]domain.QuestionStats)}
	stats, ok := a.stats[quizID]
	if !ok {
		return out, nil
	}
	out.Attempts = stats.Attempts
	out.Completions = stats.Completions
	out.Histogram = stats.Histogram
	for id, qs := range stats.Questions {
		out.Questions[id] = qs
	}
	return out, nil
}
