package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiz-engine/internal/domain"
)

type resultRow struct {
	bun.BaseModel `bun:"table:quiz_results,alias:r"`

	QuizID    string        `bun:"quiz_id,pk"`
	Token     string        `bun:"token,pk"`
	Result    domain.Result `bun:"result,type:jsonb,notnull"`
	CreatedAt time.Time     `bun:"created_at,notnull"`
	ExpiresAt time.Time     `bun:"expires_at,notnull"`
}

// ResultStore persists results in quiz_results. The first insert for a token wins.
type ResultStore struct {
	db    *bun.DB
	ttl   time.Duration
	clock func() time.Time
}

func NewResultStore(db *bun.DB, ttl time.Duration) *ResultStore {
	return &ResultStore{db: db, ttl: ttl, clock: time.Now}
}

func (s *ResultStore) PutResult(ctx context.Context, quizID, token string, result domain.Result) error {
	now := s.clock()
	row := resultRow{QuizID: quizID, Token: token, Result: result, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (quiz_id, token) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *ResultStore) GetResult(ctx context.Context, quizID, token string) (domain.Result, bool, error) {
	var row resultRow
	err := s.db.NewSelect().
		Model(&row).
		Where("quiz_id = ?", quizID).
		Where("token = ?", token).
		Where("expires_at > ?", s.clock()).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Result{}, false, nil
	}
	if err != nil {
		return domain.Result{}, false, fmt.Errorf("select result: %w", err)
	}
	return row.Result, true, nil
}

// Sweep deletes expired results.
func (s *ResultStore) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*resultRow)(nil)).
		Where("expires_at <= ?", s.clock()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
