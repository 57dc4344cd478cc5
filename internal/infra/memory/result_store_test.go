package memory

import (
	"context"
	"testing"
	"time"

	"quiz-engine/internal/domain"
)

func TestResultStoreKeepsFirstResult(t *testing.T) {
	store := NewResultStore(time.Hour)
	ctx := context.Background()
	first := domain.Result{CorrectCount: 1, Total: 2, Score: 10, MaxScore: 20, PerQuestion: []domain.QuestionResult{{ID: "q1", Correct: true}}}

	if err := store.PutResult(ctx, "quiz-1", "abc", first); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutResult(ctx, "quiz-1", "abc", domain.Result{Score: 99}); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, ok, err := store.GetResult(ctx, "quiz-1", "abc")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Score != 10 || len(got.PerQuestion) != 1 {
		t.Fatalf("expected first result kept, got %+v", got)
	}
	got.PerQuestion[0].Correct = false
	again, _, _ := store.GetResult(ctx, "quiz-1", "abc")
	if !again.PerQuestion[0].Correct {
		t.Fatalf("stored result must not alias caller slices")
	}

	if _, ok, _ := store.GetResult(ctx, "quiz-2", "abc"); ok {
		t.Fatalf("tokens are scoped per quiz")
	}
}

func TestResultStoreExpiry(t *testing.T) {
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	store := NewResultStore(time.Minute)
	store.clock = func() time.Time { return now }
	ctx := context.Background()

	_ = store.PutResult(ctx, "quiz-1", "abc", domain.Result{Score: 1})
	now = now.Add(2 * time.Minute)
	if _, ok, _ := store.GetResult(ctx, "quiz-1", "abc"); ok {
		t.Fatalf("expired result must not be returned")
	}
	if n := store.Sweep(now); n != 1 {
		t.Fatalf("expected expired result swept, got %d", n)
	}
}
