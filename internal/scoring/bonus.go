package scoring

import (
	"math"
	"time"

	"quiz-engine/internal/domain"
)

const (
	// StreakStep is the bonus fraction earned per consecutive correct answer.
	StreakStep = 0.1
	// MaxStreakBonus caps the streak bonus fraction.
	MaxStreakBonus = 0.5
	// MaxTimeBonus is the time bonus fraction for an instant finish.
	MaxTimeBonus = 0.1
	// DefaultTimeThreshold is the share of the time limit that still earns a time bonus.
	DefaultTimeThreshold = 0.8
)

// StreakFraction returns min(streak × 0.1, 0.5).
func StreakFraction(streak int) float64 {
	if streak <= 0 {
		return 0
	}
	return math.Min(float64(streak)*StreakStep, MaxStreakBonus)
}

// TimeFraction returns the time bonus fraction: up to 0.1, scaled linearly by
// how much of the threshold window (threshold × limit) was left unused.
func TimeFraction(elapsed, limit time.Duration, threshold float64) float64 {
	if limit <= 0 || elapsed < 0 {
		return 0
	}
	window := threshold * float64(limit)
	if window <= 0 || float64(elapsed) >= window {
		return 0
	}
	return MaxTimeBonus * (window - float64(elapsed)) / window
}

// ApplyStreakBonus adds the streak bonus. The result is a pure function of its inputs.
func (e *Engine) ApplyStreakBonus(result domain.Result, streak int) domain.Result {
	return e.applyFraction(result, StreakFraction(streak))
}

// ApplyTimeBonus adds the time bonus for finishing early.
func (e *Engine) ApplyTimeBonus(result domain.Result, elapsed, limit time.Duration) domain.Result {
	return e.applyFraction(result, TimeFraction(elapsed, limit, e.opts.Bonus.TimeThreshold))
}

func (e *Engine) applyFraction(result domain.Result, fraction float64) domain.Result {
	if fraction <= 0 {
		return result
	}
	out := result
	out.PerQuestion = append([]domain.QuestionResult(nil), result.PerQuestion...)
	out.Score = round(result.Score * (1 + fraction))
	if e.opts.Bonus.ScaleMaxScore {
		out.MaxScore = round(result.MaxScore * (1 + fraction))
	}
	return out
}
