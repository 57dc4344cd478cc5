package domain

import (
	"strconv"
	"strings"
)

// Counter names shared by the key-value and SQL stats stores:
//
//	attempts, completions     attempt counters
//	h0 .. h9                  histogram deciles
//	q:{questionID}:attempts   answered count
//	q:{questionID}:correct    correct count
const (
	CounterAttempts    = "attempts"
	CounterCompletions = "completions"
	histogramPrefix    = "h"
	questionPrefix     = "q:"
)

// AttemptCounters lists the counter increments one attempt contributes.
func AttemptCounters(result Result) map[string]int64 {
	counters := map[string]int64{
		CounterAttempts: 1,
		histogramPrefix + strconv.Itoa(result.HistogramBucket()): 1,
	}
	if result.Completed() {
		counters[CounterCompletions] = 1
	}
	for _, qr := range result.PerQuestion {
		if qr.Answered {
			counters[questionPrefix+qr.ID+":attempts"]++
		}
		if qr.Correct {
			counters[questionPrefix+qr.ID+":correct"]++
		}
	}
	return counters
}

// StatsFromCounters rebuilds QuizStats from stored counters. Unknown names are ignored.
func StatsFromCounters(quizID string, counters map[string]int64) QuizStats {
	stats := QuizStats{QuizID: quizID, Questions: make(map[string]QuestionStats)}
	for name, value := range counters {
		switch {
		case name == CounterAttempts:
			stats.Attempts = value
		case name == CounterCompletions:
			stats.Completions = value
		case strings.HasPrefix(name, questionPrefix):
			rest := strings.TrimPrefix(name, questionPrefix)
			sep := strings.LastIndexByte(rest, ':')
			if sep < 0 {
				continue
			}
			id := rest[:sep]
			qs := stats.Questions[id]
			switch rest[sep+1:] {
			case "attempts":
				qs.Attempts = value
			case "correct":
				qs.Correct = value
			default:
				continue
			}
			stats.Questions[id] = qs
		case strings.HasPrefix(name, histogramPrefix):
			bucket, err := strconv.Atoi(strings.TrimPrefix(name, histogramPrefix))
			if err == nil && bucket >= 0 && bucket < HistogramBuckets {
				stats.Histogram[bucket] = value
			}
		}
	}
	return stats
}
