package redis

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-engine/internal/codec"
	"quiz-engine/internal/domain"
	"quiz-engine/internal/infra/memory"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr, client := newMiniredis(t)

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(client, loader, codec.New("secret", "salt"), time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls.Load())
	}
	if got := quiz.Questions[0].CorrectChoiceIDs(); len(got) != 1 || got[0] != "o2" {
		t.Fatalf("expected plain content from loader, got %v", got)
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get cached quiz: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}
	if got := cached.Questions[0].CorrectChoiceIDs(); len(got) != 1 || got[0] != "o2" {
		t.Fatalf("expected cached content unsealed, got %v", got)
	}

	doc, err := mr.Get("quiz:quiz-1:content")
	if err != nil {
		t.Fatalf("expected cached document: %v", err)
	}
	if strings.Contains(doc, "isCorrect") {
		t.Fatalf("cached document must be sealed: %s", doc)
	}
	if ttl := mr.TTL("quiz:quiz-1:content"); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("unexpected ttl %s", ttl)
	}
}

func TestQuizRepositoryReloadsUnreadableCache(t *testing.T) {
	mr, client := newMiniredis(t)
	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
	}

	writer := NewQuizRepository(client, loader, codec.New("old-secret", ""), time.Minute)
	if _, err := writer.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}

	rotated := NewQuizRepository(client, loader, codec.New("new-secret", ""), time.Minute)
	if _, err := rotated.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz after rotation: %v", err)
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after secret rotation, got %d", loader.calls.Load())
	}

	if err := rotated.Invalidate(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("quiz:quiz-1:content") {
		t.Fatalf("expected cache entry removed")
	}
}

type countingLoader struct {
	memory.QuizLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls.Add(1)
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:      "quiz-1",
		Version: 1,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Type:   domain.QuestionSingle,
				Prompt: "What is 2 + 2?",
				Choices: []domain.Choice{
					{ID: "o1", Label: "3"},
					{ID: "o2", Label: "4", Correct: true},
				},
				Points: 1,
			},
		},
	}
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}
