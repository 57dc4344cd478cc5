package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-engine/internal/domain"
)

// QuizLoader fetches quiz content from a backing store (content directory, Postgres).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizSealer moves correct answers in and out of answer keys. *codec.Codec satisfies it.
type QuizSealer interface {
	Seal(quiz domain.Quiz) (domain.Quiz, error)
	Unseal(quiz domain.Quiz) (domain.Quiz, []string)
}

// QuizRepository caches quizzes in Redis as JSON and falls back to a loader on cache miss.
// With a sealer configured the cached document is sealed: SET quiz:{quizID}:content {sealed json}
type QuizRepository struct {
	client *redis.Client
	loader QuizLoader
	sealer QuizSealer
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader QuizLoader, sealer QuizSealer, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		sealer: sealer,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.cached(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := r.cached(ctx, quizID); ok {
			return quiz, nil
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if err := quiz.Validate(); err != nil {
			return domain.Quiz{}, fmt.Errorf("quiz %s: %w", quizID, err)
		}

		if doc, err := r.encode(quiz); err == nil {
			// best-effort fill; a failed write only costs a reload
			_ = r.client.Set(ctx, r.contentKey(quizID), doc, r.ttlWithJitter()).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// Invalidate drops the cached document.
func (r *QuizRepository) Invalidate(ctx context.Context, quizID string) error {
	return r.client.Del(ctx, r.contentKey(quizID)).Err()
}

// cached returns the cached quiz. Entries that fail to decode or unseal
// (for example after a secret rotation) count as misses.
func (r *QuizRepository) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	doc, err := r.client.Get(ctx, r.contentKey(quizID)).Bytes()
	if err != nil {
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(doc, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	if r.sealer == nil {
		return quiz, true
	}
	opened, broken := r.sealer.Unseal(quiz)
	if len(broken) > 0 {
		return domain.Quiz{}, false
	}
	return opened, true
}

func (r *QuizRepository) encode(quiz domain.Quiz) ([]byte, error) {
	if r.sealer != nil {
		sealed, err := r.sealer.Seal(quiz)
		if err != nil {
			return nil, err
		}
		quiz = sealed
	}
	return json.Marshal(quiz)
}

func (r *QuizRepository) contentKey(quizID string) string {
	return "quiz:" + quizID + ":content"
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
