package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"quiz-engine/internal/domain"
	"quiz-engine/internal/logger"
	"quiz-engine/internal/metrics"
	"quiz-engine/internal/scoring"
)

// RateLimiter performs an atomic fixed-window check-and-increment for an identifier.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (domain.RateLimitRecord, bool, error)
}

// ReplayRegistry claims replay tokens. Claim returns false when the token is
// already held; presence check and insert are a single atomic step.
type ReplayRegistry interface {
	Claim(ctx context.Context, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, token string) error
}

// ResultStore persists results by replay token. Storing a token twice keeps the first result.
type ResultStore interface {
	PutResult(ctx context.Context, quizID, token string, result domain.Result) error
	GetResult(ctx context.Context, quizID, token string) (domain.Result, bool, error)
}

// StatsAggregator maintains per-quiz aggregates. RecordAttempt must run once per unique token.
type StatsAggregator interface {
	RecordAttempt(ctx context.Context, quizID string, result domain.Result) error
	Stats(ctx context.Context, quizID string) (domain.QuizStats, error)
}

// GuardOptions tunes retention and retries.
type GuardOptions struct {
	// ReplayTTL bounds how long tokens and their results are remembered.
	ReplayTTL time.Duration
	// InFlightWait is how long a duplicate waits for the first delivery to store its result.
	InFlightWait time.Duration
	// PersistRetries is the retry budget for result and stats writes.
	PersistRetries uint64
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

const (
	DefaultReplayTTL      = 24 * time.Hour
	DefaultInFlightWait   = 2 * time.Second
	DefaultPersistRetries = 3
)

// Outcome is the guard's answer to a submission.
type Outcome struct {
	Result   domain.Result `json:"result"`
	Replayed bool          `json:"replayed"`
}

// Guard admits submissions: validation, rate limiting, replay detection,
// scoring, persistence and aggregation, in that order.
type Guard struct {
	quizzes QuizRepository
	limiter RateLimiter
	replays ReplayRegistry
	results ResultStore
	stats   StatsAggregator
	engine  *scoring.Engine
	opts    GuardOptions
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewGuard(quizzes QuizRepository, limiter RateLimiter, replays ReplayRegistry, results ResultStore, stats StatsAggregator, engine *scoring.Engine, opts GuardOptions) *Guard {
	if opts.ReplayTTL <= 0 {
		opts.ReplayTTL = DefaultReplayTTL
	}
	if opts.InFlightWait <= 0 {
		opts.InFlightWait = DefaultInFlightWait
	}
	if opts.PersistRetries == 0 {
		opts.PersistRetries = DefaultPersistRetries
	}
	log := logger.OrNop(opts.Logger)
	return &Guard{
		quizzes: quizzes,
		limiter: limiter,
		replays: replays,
		results: results,
		stats:   stats,
		engine:  engine,
		opts:    opts,
		log:     log.Named("guard"),
		metrics: opts.Metrics,
	}
}

var errResultPending = errors.New("result not stored yet")

// Submit admits one submission from identifier (session or caller address).
// Client submissions never earn a streak bonus.
func (g *Guard) Submit(ctx context.Context, identifier string, sub domain.Submission) (Outcome, error) {
	return g.admit(ctx, identifier, sub, 0)
}

// SubmitSession admits a submission built by a server-side session, graded
// with the streak that session tracked.
func (g *Guard) SubmitSession(ctx context.Context, sessionID string, sub domain.Submission, streak int) (Outcome, error) {
	return g.admit(ctx, sessionID, sub, max(streak, 0))
}

func (g *Guard) admit(ctx context.Context, identifier string, sub domain.Submission, streak int) (Outcome, error) {
	start := time.Now()
	log := g.log.With(zap.String("quiz_id", sub.QuizID), zap.String("identifier", identifier))

	quiz, err := g.validate(ctx, sub)
	if err != nil {
		log.Debug("submission rejected", zap.Error(err))
		g.metrics.Submission(metrics.OutcomeInvalid)
		return Outcome{}, err
	}

	if identifier == "" {
		identifier = "anonymous"
	}
	record, ok, err := g.limiter.Allow(ctx, identifier)
	if err != nil {
		g.metrics.Submission(metrics.OutcomeFailed)
		return Outcome{}, fmt.Errorf("rate limit: %w", err)
	}
	if !ok {
		log.Debug("submission rate limited", zap.Int64("count", record.Count), zap.Time("reset_at", record.ResetAt))
		g.metrics.Submission(metrics.OutcomeRateLimited)
		return Outcome{}, &domain.RateLimitError{Record: record}
	}

	log = log.With(zap.String("nonce", sub.Nonce))
	if stored, found, err := g.results.GetResult(ctx, sub.QuizID, sub.Nonce); err != nil {
		g.metrics.Submission(metrics.OutcomeFailed)
		return Outcome{}, fmt.Errorf("lookup result: %w", err)
	} else if found {
		log.Debug("submission replayed")
		g.metrics.Submission(metrics.OutcomeReplayed)
		return Outcome{Result: stored, Replayed: true}, nil
	}

	token := replayToken(sub)
	claimed, err := g.replays.Claim(ctx, token, g.opts.ReplayTTL)
	if err != nil {
		g.metrics.Submission(metrics.OutcomeFailed)
		return Outcome{}, fmt.Errorf("claim replay token: %w", err)
	}
	if !claimed {
		stored, err := g.awaitResult(ctx, sub)
		if err != nil {
			log.Debug("duplicate submission still in flight")
			g.metrics.Submission(metrics.OutcomeInFlight)
			return Outcome{}, err
		}
		g.metrics.Submission(metrics.OutcomeReplayed)
		return Outcome{Result: stored, Replayed: true}, nil
	}

	result := g.engine.Grade(quiz, sub.Answers, scoring.GradeInput{Streak: streak, Elapsed: sub.Elapsed()})

	if err := g.retry(ctx, "put result", func() error {
		return g.results.PutResult(ctx, sub.QuizID, sub.Nonce, result)
	}); err != nil {
		if rerr := g.replays.Release(context.WithoutCancel(ctx), token); rerr != nil {
			log.Warn("release replay token", zap.Error(rerr))
		}
		g.metrics.Submission(metrics.OutcomeFailed)
		return Outcome{}, fmt.Errorf("store result: %w", err)
	}

	if err := g.retry(ctx, "record attempt", func() error {
		return g.stats.RecordAttempt(ctx, sub.QuizID, result)
	}); err != nil {
		log.Error("record attempt", zap.Error(err))
	}

	g.metrics.ObserveGrade(start)
	g.metrics.Submission(metrics.OutcomeAccepted)
	log.Debug("submission accepted", zap.Float64("score", result.Score), zap.Float64("max_score", result.MaxScore))
	return Outcome{Result: result}, nil
}

// Stats returns the aggregates of a quiz.
func (g *Guard) Stats(ctx context.Context, quizID string) (domain.QuizStats, error) {
	if _, err := g.quizzes.GetQuiz(ctx, quizID); err != nil {
		return domain.QuizStats{}, err
	}
	return g.stats.Stats(ctx, quizID)
}

// validate checks the payload against the quiz without side effects.
func (g *Guard) validate(ctx context.Context, sub domain.Submission) (domain.Quiz, error) {
	if err := sub.ValidateShape(); err != nil {
		return domain.Quiz{}, err
	}
	quiz, err := g.quizzes.GetQuiz(ctx, sub.QuizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if sub.Version != quiz.Version {
		return domain.Quiz{}, domain.Invalid("version", "quiz %s is at version %d, got %d", quiz.ID, quiz.Version, sub.Version)
	}
	for id, answer := range sub.Answers {
		q, ok := quiz.Question(id)
		if !ok {
			return domain.Quiz{}, domain.Invalid("answers", "unknown question id %q", id)
		}
		if err := CheckAnswer(q, answer); err != nil {
			return domain.Quiz{}, err
		}
	}
	return quiz, nil
}

// awaitResult polls for the result stored by the delivery holding the token.
func (g *Guard) awaitResult(ctx context.Context, sub domain.Submission) (domain.Result, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = g.opts.InFlightWait

	var stored domain.Result
	err := backoff.Retry(func() error {
		result, found, err := g.results.GetResult(ctx, sub.QuizID, sub.Nonce)
		if err != nil {
			return err
		}
		if !found {
			return errResultPending
		}
		stored = result
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return domain.Result{}, fmt.Errorf("%w: %s", domain.ErrSubmissionInFlight, sub.Nonce)
	}
	return stored, nil
}

// retry runs a storage write with exponential backoff. Context errors are not retried.
func (g *Guard) retry(ctx context.Context, what string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second

	return backoff.RetryNotify(func() error {
		err := op()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, g.opts.PersistRetries), ctx), func(err error, wait time.Duration) {
		g.log.Warn("retrying "+what, zap.Error(err), zap.Duration("wait", wait))
	})
}

func replayToken(sub domain.Submission) string {
	return sub.QuizID + ":" + sub.Nonce
}
