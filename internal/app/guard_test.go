package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quiz-engine/internal/app"
	"quiz-engine/internal/codec"
	"quiz-engine/internal/domain"
	"quiz-engine/internal/infra/memory"
	"quiz-engine/internal/scoring"
)

type guardFixture struct {
	guard   *app.Guard
	results *memory.ResultStore
	stats   *countingStats
	replays *memory.ReplayRegistry
}

type countingStats struct {
	*memory.StatsAggregator
	calls atomic.Int32
}

func (s *countingStats) RecordAttempt(ctx context.Context, quizID string, result domain.Result) error {
	s.calls.Add(1)
	return s.StatsAggregator.RecordAttempt(ctx, quizID, result)
}

func newGuardFixture(t *testing.T, limit int, results app.ResultStore) guardFixture {
	t.Helper()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": guardQuiz(),
	}), time.Minute)
	stats := &countingStats{StatsAggregator: memory.NewStatsAggregator()}
	replays := memory.NewReplayRegistry()
	store := memory.NewResultStore(time.Hour)
	if results == nil {
		results = store
	}
	guard := app.NewGuard(quizzes, memory.NewRateLimiter(limit, time.Minute), replays, results, stats,
		scoring.NewEngine(scoring.DefaultOptions()), app.GuardOptions{InFlightWait: time.Second})
	return guardFixture{guard: guard, results: store, stats: stats, replays: replays}
}

func TestGuardReplayReturnsStoredResult(t *testing.T) {
	f := newGuardFixture(t, 10, nil)
	ctx := context.Background()
	sub := validSubmission("abc")

	first, err := f.guard.Submit(ctx, "ip-1", sub)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.Replayed {
		t.Fatalf("first delivery is not a replay")
	}
	if first.Result.Score != 20 || first.Result.MaxScore != 25 {
		t.Fatalf("unexpected score: %+v", first.Result)
	}

	sub.Answers["q1"] = domain.SingleAnswer("a")
	second, err := f.guard.Submit(ctx, "ip-1", sub)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !second.Replayed || second.Result.Score != first.Result.Score {
		t.Fatalf("expected the stored result replayed, got %+v", second)
	}

	stats, err := f.guard.Stats(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Attempts != 1 || f.stats.calls.Load() != 1 {
		t.Fatalf("expected one recorded attempt, got %d (calls %d)", stats.Attempts, f.stats.calls.Load())
	}
}

func TestGuardConcurrentDuplicates(t *testing.T) {
	f := newGuardFixture(t, 100, nil)

	var wg sync.WaitGroup
	outcomes := make([]app.Outcome, 25)
	errs := make([]error, 25)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.guard.Submit(context.Background(), "ip-1", validSubmission("same-token"))
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i, err := range errs {
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if !outcomes[i].Replayed {
			fresh++
		}
		if outcomes[i].Result.Score != outcomes[0].Result.Score {
			t.Fatalf("all deliveries must observe one result")
		}
	}
	if fresh != 1 {
		t.Fatalf("expected exactly one fresh grading, got %d", fresh)
	}
	if f.stats.calls.Load() != 1 {
		t.Fatalf("expected RecordAttempt once, got %d", f.stats.calls.Load())
	}
}

func TestGuardRateLimitUnderConcurrency(t *testing.T) {
	const limit = 3
	f := newGuardFixture(t, limit, nil)

	var wg sync.WaitGroup
	var admitted, limited atomic.Int32
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.guard.Submit(context.Background(), "ip-1", validSubmission("nonce-"+string(rune('a'+i))))
			var rle *domain.RateLimitError
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.As(err, &rle) && errors.Is(err, domain.ErrRateLimited):
				limited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if admitted.Load() != limit || limited.Load() != 12-limit {
		t.Fatalf("expected %d admitted, got %d admitted and %d limited", limit, admitted.Load(), limited.Load())
	}
	if f.stats.calls.Load() != limit {
		t.Fatalf("rate limited submissions must not be scored or counted")
	}
}

func TestGuardRejectsInvalidSubmissionsWithoutSideEffects(t *testing.T) {
	f := newGuardFixture(t, 1, nil)
	ctx := context.Background()

	cases := map[string]struct {
		mutate func(*domain.Submission)
		target error
	}{
		"missing nonce":    {mutate: func(s *domain.Submission) { s.Nonce = "" }, target: domain.ErrValidation},
		"missing quiz":     {mutate: func(s *domain.Submission) { s.QuizID = "" }, target: domain.ErrValidation},
		"unknown quiz":     {mutate: func(s *domain.Submission) { s.QuizID = "nope" }, target: domain.ErrQuizNotFound},
		"stale version":    {mutate: func(s *domain.Submission) { s.Version = 7 }, target: domain.ErrValidation},
		"unknown question": {mutate: func(s *domain.Submission) { s.Answers["q9"] = domain.SingleAnswer("a") }, target: domain.ErrValidation},
		"unknown choice":   {mutate: func(s *domain.Submission) { s.Answers["q1"] = domain.SingleAnswer("z") }, target: domain.ErrChoiceNotFound},
		"negative time":    {mutate: func(s *domain.Submission) { s.DurationMs = -1 }, target: domain.ErrValidation},
		"set on single":    {mutate: func(s *domain.Submission) { s.Answers["q1"] = domain.MultiAnswer("a", "b") }, target: domain.ErrValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sub := validSubmission("tok-" + name)
			tc.mutate(&sub)
			if _, err := f.guard.Submit(ctx, "ip-1", sub); !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}

	if f.stats.calls.Load() != 0 {
		t.Fatalf("invalid submissions must not reach aggregates")
	}
	if _, err := f.guard.Submit(ctx, "ip-1", validSubmission("good")); err != nil {
		t.Fatalf("invalid submissions must not consume the rate limit: %v", err)
	}
}

type flakyResults struct {
	*memory.ResultStore
	failures atomic.Int32
}

func (s *flakyResults) PutResult(ctx context.Context, quizID, token string, result domain.Result) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return s.ResultStore.PutResult(ctx, quizID, token, result)
}

func TestGuardRetriesTransientPersistenceErrors(t *testing.T) {
	store := &flakyResults{ResultStore: memory.NewResultStore(time.Hour)}
	store.failures.Store(2)
	f := newGuardFixture(t, 10, store)

	if _, err := f.guard.Submit(context.Background(), "ip-1", validSubmission("abc")); err != nil {
		t.Fatalf("expected transient errors retried, got %v", err)
	}
	if _, ok, _ := store.GetResult(context.Background(), "quiz-1", "abc"); !ok {
		t.Fatalf("expected result persisted")
	}
}

func TestGuardReleasesClaimWhenPersistenceFails(t *testing.T) {
	store := &flakyResults{ResultStore: memory.NewResultStore(time.Hour)}
	store.failures.Store(100)
	f := newGuardFixture(t, 10, store)
	ctx := context.Background()

	if _, err := f.guard.Submit(ctx, "ip-1", validSubmission("abc")); err == nil {
		t.Fatalf("expected persistence failure")
	}
	if f.stats.calls.Load() != 0 {
		t.Fatalf("failed submissions must not be counted")
	}
	if ok, _ := f.replays.Claim(ctx, "quiz-1:abc", time.Hour); !ok {
		t.Fatalf("expected the replay token released for a retry")
	}
}

func TestGuardScoresSealedQuiz(t *testing.T) {
	c := codec.New("secret", "salt")
	sealed, err := c.Seal(guardQuiz())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sealed}), time.Minute)
	opts := scoring.DefaultOptions()
	opts.Decoder = c
	guard := app.NewGuard(quizzes, memory.NewRateLimiter(10, time.Minute), memory.NewReplayRegistry(),
		memory.NewResultStore(time.Hour), memory.NewStatsAggregator(), scoring.NewEngine(opts), app.GuardOptions{})

	outcome, err := guard.Submit(context.Background(), "ip-1", validSubmission("abc"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Result.Score != 20 {
		t.Fatalf("sealed content should grade like plain content, got %+v", outcome.Result)
	}
}

func TestGuardClientCannotClaimStreak(t *testing.T) {
	exam := guardQuiz()
	exam.Mode = domain.ModeExam
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": exam}), time.Minute)
	guard := app.NewGuard(quizzes, memory.NewRateLimiter(10, time.Minute), memory.NewReplayRegistry(),
		memory.NewResultStore(time.Hour), memory.NewStatsAggregator(),
		scoring.NewEngine(scoring.DefaultOptions()), app.GuardOptions{InFlightWait: time.Second})
	ctx := context.Background()

	plain, err := guard.Submit(ctx, "ip-1", validSubmission("plain"))
	if err != nil {
		t.Fatalf("plain submit: %v", err)
	}

	var claimed domain.Submission
	body := `{"quizId":"quiz-1","version":2,"durationMs":42000,"nonce":"claimed","streak":99,
		"answers":{"q1":"b","q2":["a"],"q3":" Yes "}}`
	if err := json.Unmarshal([]byte(body), &claimed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	inflated, err := guard.Submit(ctx, "ip-1", claimed)
	if err != nil {
		t.Fatalf("claimed submit: %v", err)
	}
	if plain.Result.Score != 20 || plain.Result.MaxScore != 25 {
		t.Fatalf("expected 20/25, got %v/%v", plain.Result.Score, plain.Result.MaxScore)
	}
	if inflated.Result.Score != plain.Result.Score || inflated.Result.MaxScore != plain.Result.MaxScore {
		t.Fatalf("client streak changed the score: %v/%v", inflated.Result.Score, inflated.Result.MaxScore)
	}

	// Sessions grade with the streak they tracked themselves.
	session, err := guard.SubmitSession(ctx, "s-1", validSubmission("session"), 3)
	if err != nil {
		t.Fatalf("session submit: %v", err)
	}
	if session.Result.Score != 26 || session.Result.MaxScore != 32.5 {
		t.Fatalf("expected 26/32.5 with streak 3, got %v/%v", session.Result.Score, session.Result.MaxScore)
	}
}

// guardQuiz: q1 single (10 points), q2 multiple a,c of four (10 points), q3 input (5 points).
func guardQuiz() domain.Quiz {
	return domain.Quiz{
		ID:      "quiz-1",
		Version: 2,
		Questions: []domain.Question{
			{
				ID: "q1", Type: domain.QuestionSingle, Points: 10,
				Choices: []domain.Choice{{ID: "a"}, {ID: "b", Correct: true}, {ID: "c"}},
			},
			{
				ID: "q2", Type: domain.QuestionMultiple, Points: 10,
				Choices: []domain.Choice{{ID: "a", Correct: true}, {ID: "b"}, {ID: "c", Correct: true}, {ID: "d"}},
			},
			{ID: "q3", Type: domain.QuestionInput, Points: 5, Pattern: "^yes$|^y$"},
		},
	}
}

func validSubmission(nonce string) domain.Submission {
	return domain.Submission{
		QuizID:  "quiz-1",
		Version: 2,
		Answers: map[string]domain.Answer{
			"q1": domain.SingleAnswer("b"),
			"q2": domain.MultiAnswer("a"),
			"q3": domain.SingleAnswer(" Yes "),
		},
		DurationMs: 42000,
		Nonce:      nonce,
	}
}
