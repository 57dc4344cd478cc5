package scoring

import (
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"quiz-engine/internal/domain"
)

// AnswerDecoder opens sealed questions. *codec.Codec satisfies it.
type AnswerDecoder interface {
	Open(q domain.Question) (domain.Question, error)
}

// BonusOptions tunes the exam-mode bonuses.
type BonusOptions struct {
	// TimeThreshold is the fraction of the time limit under which a time bonus is earned.
	TimeThreshold float64
	// ScaleMaxScore adds bonus fractions to maxScore as well as score.
	ScaleMaxScore bool
}

// Options configures an Engine.
type Options struct {
	PartialCredit bool
	Decoder       AnswerDecoder
	Bonus         BonusOptions
}

// DefaultOptions enables partial credit and keeps bonuses scaling both score and maxScore.
func DefaultOptions() Options {
	return Options{
		PartialCredit: true,
		Bonus: BonusOptions{
			TimeThreshold: DefaultTimeThreshold,
			ScaleMaxScore: true,
		},
	}
}

// Engine scores answers. It is safe for concurrent use; the only shared state
// is the cache of compiled input patterns.
type Engine struct {
	opts     Options
	patterns sync.Map // pattern -> *regexp.Regexp, nil when it does not compile
}

func NewEngine(opts Options) *Engine {
	if opts.Bonus.TimeThreshold <= 0 || opts.Bonus.TimeThreshold > 1 {
		opts.Bonus.TimeThreshold = DefaultTimeThreshold
	}
	return &Engine{opts: opts}
}

// Score grades one answer. answered is false when the user never submitted a
// value for the question; the answer is then treated as empty.
func (e *Engine) Score(q domain.Question, answer domain.Answer, answered bool) domain.QuestionResult {
	points := q.EffectivePoints()
	res := domain.QuestionResult{ID: q.ID, Max: points, Answered: answered && !answer.IsEmpty()}

	if q.Sealed() {
		if e.opts.Decoder == nil {
			return res
		}
		opened, err := e.opts.Decoder.Open(q)
		if err != nil {
			return res
		}
		q = opened
	}

	var earned float64
	var correct bool
	switch {
	case q.Type == domain.QuestionMultiple:
		earned, correct = e.scoreMultiple(q, answer, points)
	case q.Type.IsChoiceBased():
		earned, correct = scoreSingle(q, answer, points)
	case q.Type.IsPatternBased():
		earned, correct = e.scorePattern(q, answer, points)
	}
	res.Earned = round(earned)
	res.Correct = correct
	return res
}

// ScoreQuiz grades every question of the quiz; questions missing from answers score zero.
func (e *Engine) ScoreQuiz(questions []domain.Question, answers map[string]domain.Answer) domain.Result {
	result := domain.Result{
		Total:       len(questions),
		PerQuestion: make([]domain.QuestionResult, 0, len(questions)),
	}
	for _, q := range questions {
		answer, answered := answers[q.ID]
		qr := e.Score(q, answer, answered)
		result.PerQuestion = append(result.PerQuestion, qr)
		result.Score += qr.Earned
		result.MaxScore += qr.Max
		if qr.Correct {
			result.CorrectCount++
		}
	}
	result.Score = round(result.Score)
	result.MaxScore = round(result.MaxScore)
	return result
}

// GradeInput carries the attempt context used by bonuses.
type GradeInput struct {
	Streak  int
	Elapsed time.Duration
}

// Grade scores a quiz attempt and applies streak and time bonuses in exam mode.
func (e *Engine) Grade(quiz domain.Quiz, answers map[string]domain.Answer, in GradeInput) domain.Result {
	result := e.ScoreQuiz(quiz.Questions, answers)
	if !quiz.IsExam() {
		return result
	}
	result = e.ApplyStreakBonus(result, in.Streak)
	return e.ApplyTimeBonus(result, in.Elapsed, quiz.TimeLimit())
}

func scoreSingle(q domain.Question, answer domain.Answer, points float64) (float64, bool) {
	if len(answer.Values) != 1 {
		return 0, false
	}
	correct := q.CorrectChoiceIDs()
	if len(correct) != 1 {
		return 0, false
	}
	if answer.Values[0] == correct[0] {
		return points, true
	}
	return 0, false
}

func (e *Engine) scoreMultiple(q domain.Question, answer domain.Answer, points float64) (float64, bool) {
	correctSet := make(map[string]struct{})
	for _, id := range q.CorrectChoiceIDs() {
		correctSet[id] = struct{}{}
	}
	if len(correctSet) == 0 {
		return 0, false
	}

	selected := make(map[string]struct{}, len(answer.Values))
	for _, id := range answer.Values {
		selected[id] = struct{}{}
	}
	var correctSelected, incorrectSelected int
	for id := range selected {
		if _, ok := correctSet[id]; ok {
			correctSelected++
		} else {
			incorrectSelected++
		}
	}
	exact := correctSelected == len(correctSet) && incorrectSelected == 0

	if !e.opts.PartialCredit {
		if exact {
			return points, true
		}
		return 0, false
	}
	ratio := float64(correctSelected-incorrectSelected) / float64(len(correctSet))
	earned := points * math.Max(0, ratio)
	return math.Min(earned, points), exact
}

func (e *Engine) scorePattern(q domain.Question, answer domain.Answer, points float64) (float64, bool) {
	if q.Pattern == "" || len(answer.Values) == 0 {
		return 0, false
	}
	re := e.pattern(q.Pattern)
	if re == nil {
		return 0, false
	}
	text := strings.ToLower(strings.TrimSpace(answer.Text()))
	if re.MatchString(text) {
		return points, true
	}
	return 0, false
}

func (e *Engine) pattern(pattern string) *regexp.Regexp {
	if cached, ok := e.patterns.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	re, _ := domain.CompilePattern(pattern)
	actual, _ := e.patterns.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp)
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
