package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QuestionType selects how a question is scored.
type QuestionType string

const (
	QuestionSingle    QuestionType = "single"
	QuestionMultiple  QuestionType = "multiple"
	QuestionTrueFalse QuestionType = "truefalse"
	QuestionInput     QuestionType = "input"
	QuestionText      QuestionType = "text"
	QuestionCode      QuestionType = "code"
)

// IsChoiceBased reports whether the type is scored against choices rather than a pattern.
func (t QuestionType) IsChoiceBased() bool {
	switch t {
	case QuestionSingle, QuestionMultiple, QuestionTrueFalse:
		return true
	}
	return false
}

// IsPatternBased reports whether the type is scored by matching free text against a pattern.
func (t QuestionType) IsPatternBased() bool {
	switch t {
	case QuestionInput, QuestionText, QuestionCode:
		return true
	}
	return false
}

// Quiz modes. Bonuses only apply in exam mode.
const (
	ModePractice = "practice"
	ModeExam     = "exam"
)

// Choice is one selectable option of a choice-based question.
type Choice struct {
	ID      string `json:"id" yaml:"id" validate:"required"`
	Label   string `json:"label" yaml:"label"`
	Correct bool   `json:"isCorrect,omitempty" yaml:"isCorrect"`
	Hint    string `json:"hint,omitempty" yaml:"hint"`
}

// Question is an immutable quiz question. Choice-based types carry Choices,
// pattern-based types carry Pattern. A sealed question keeps its correct
// answer only in AnswerKey.
type Question struct {
	ID          string       `json:"id" yaml:"id" validate:"required"`
	Type        QuestionType `json:"type" yaml:"type" validate:"required"`
	Prompt      string       `json:"prompt" yaml:"prompt"`
	Points      float64      `json:"points,omitempty" yaml:"points" validate:"gte=0"`
	Choices     []Choice     `json:"choices,omitempty" yaml:"choices" validate:"dive"`
	Pattern     string       `json:"pattern,omitempty" yaml:"pattern"`
	Explanation string       `json:"explanation,omitempty" yaml:"explanation"`
	AnswerKey   string       `json:"answerKey,omitempty" yaml:"answerKey"`
}

// EffectivePoints returns the question weight, defaulting to 1.
func (q Question) EffectivePoints() float64 {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Sealed reports whether the correct answer is only available through AnswerKey.
func (q Question) Sealed() bool {
	return q.AnswerKey != ""
}

// CorrectChoiceIDs lists the ids of choices flagged correct, in authoring order.
func (q Question) CorrectChoiceIDs() []string {
	ids := make([]string, 0, 1)
	for _, c := range q.Choices {
		if c.Correct {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// HasChoice reports whether id names one of the question's choices.
func (q Question) HasChoice(id string) bool {
	for _, c := range q.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Quiz is a fully built, read-only collection of questions.
type Quiz struct {
	ID               string     `json:"id" yaml:"id" validate:"required"`
	Title            string     `json:"title" yaml:"title"`
	Version          int        `json:"version" yaml:"version" validate:"gte=0"`
	Mode             string     `json:"mode,omitempty" yaml:"mode" validate:"omitempty,oneof=practice exam"`
	TimeLimitSeconds int        `json:"timeLimitSeconds,omitempty" yaml:"timeLimitSeconds" validate:"gte=0"`
	Shuffle          bool       `json:"shuffle,omitempty" yaml:"shuffle"`
	Questions        []Question `json:"questions" yaml:"questions" validate:"required,min=1,dive"`
}

// TimeLimit returns the quiz time limit, zero when untimed.
func (q Quiz) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

// IsExam reports whether bonuses apply to this quiz.
func (q Quiz) IsExam() bool {
	return q.Mode == ModeExam
}

// Question looks up a question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Answer is a submitted value for one question: a single choice id, a set of
// choice ids, or free text. It round-trips through JSON in the shape it was sent.
type Answer struct {
	Values []string
	Multi  bool
}

// SingleAnswer builds an answer holding one choice id or a free-text value.
func SingleAnswer(v string) Answer {
	return Answer{Values: []string{v}}
}

// MultiAnswer builds an answer holding a set of choice ids.
func MultiAnswer(ids ...string) Answer {
	values := make([]string, len(ids))
	copy(values, ids)
	return Answer{Values: values, Multi: true}
}

// Text returns the single value of the answer, or the values joined by a comma.
func (a Answer) Text() string {
	return strings.Join(a.Values, ",")
}

// IsEmpty reports whether nothing was selected or typed.
func (a Answer) IsEmpty() bool {
	for _, v := range a.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Equal compares shape and values. A single answer with no value equals
// SingleAnswer(""), matching its JSON form.
func (a Answer) Equal(other Answer) bool {
	x, y := a.normalized(), other.normalized()
	if a.Multi != other.Multi || len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func (a Answer) normalized() []string {
	if !a.Multi && len(a.Values) == 0 {
		return []string{""}
	}
	return a.Values
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Multi {
		values := a.Values
		if values == nil {
			values = []string{}
		}
		return json.Marshal(values)
	}
	if len(a.Values) == 0 {
		return json.Marshal("")
	}
	return json.Marshal(a.Values[0])
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = SingleAnswer(s)
		return nil
	case '[':
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return err
		}
		*a = Answer{Values: values, Multi: true}
		return nil
	}
	return fmt.Errorf("answer must be a string or an array of strings")
}

// Submission is one submit action for a quiz attempt.
type Submission struct {
	QuizID     string            `json:"quizId" validate:"required"`
	Version    int               `json:"version" validate:"gte=0"`
	Answers    map[string]Answer `json:"answers" validate:"required"`
	DurationMs int64             `json:"durationMs" validate:"gte=0"`
	VariantID  string            `json:"variantId,omitempty"`
	Nonce      string            `json:"nonce" validate:"required,max=128"`
}

// Elapsed returns the reported attempt duration.
func (s Submission) Elapsed() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}

// QuestionResult is the per-question scoring breakdown.
type QuestionResult struct {
	ID       string  `json:"id"`
	Correct  bool    `json:"correct"`
	Earned   float64 `json:"earned"`
	Max      float64 `json:"max"`
	Answered bool    `json:"answered"`
}

// Result is the outcome of scoring a whole attempt.
type Result struct {
	CorrectCount int              `json:"correctCount"`
	Total        int              `json:"total"`
	Score        float64          `json:"score"`
	MaxScore     float64          `json:"maxScore"`
	PerQuestion  []QuestionResult `json:"perQuestion"`
}

// Percentage returns score relative to maxScore in [0, 100].
func (r Result) Percentage() float64 {
	if r.MaxScore <= 0 {
		return 0
	}
	pct := r.Score / r.MaxScore * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Completed reports whether every question received an answer.
func (r Result) Completed() bool {
	if len(r.PerQuestion) == 0 {
		return false
	}
	for _, q := range r.PerQuestion {
		if !q.Answered {
			return false
		}
	}
	return true
}

// HistogramBucket maps the result percentage to a decile bucket 0..9; 100% lands in 9.
func (r Result) HistogramBucket() int {
	bucket := int(r.Percentage() / 10)
	if bucket > HistogramBuckets-1 {
		bucket = HistogramBuckets - 1
	}
	return bucket
}

// RateLimitRecord is the state of one identifier's fixed window.
type RateLimitRecord struct {
	Key     string    `json:"key"`
	Count   int64     `json:"count"`
	Limit   int64     `json:"limit"`
	ResetAt time.Time `json:"resetAt"`
}

// HistogramBuckets is the number of percentage deciles tracked per quiz.
const HistogramBuckets = 10

// QuestionStats counts answers for one question across attempts.
type QuestionStats struct {
	Attempts int64 `json:"attempts"`
	Correct  int64 `json:"correct"`
}

// QuizStats aggregates submitted attempts for a quiz.
type QuizStats struct {
	QuizID      string                   `json:"quizId"`
	Attempts    int64                    `json:"attempts"`
	Completions int64                    `json:"completions"`
	Histogram   [HistogramBuckets]int64  `json:"histogram"`
	Questions   map[string]QuestionStats `json:"questions"`
}

// SessionState is the lifecycle state of a quiz attempt.
type SessionState string

const (
	StateNotStarted SessionState = "not_started"
	StateInProgress SessionState = "in_progress"
	StatePaused     SessionState = "paused"
	StateSubmitted  SessionState = "submitted"
	StateReviewing  SessionState = "reviewing"
)
