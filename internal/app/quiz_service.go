package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-engine/internal/domain"
	"quiz-engine/internal/events"
	"quiz-engine/internal/logger"
	"quiz-engine/internal/metrics"
	"quiz-engine/internal/scoring"
)

// SessionRepository abstracts where live attempts are kept (in-memory, Redis-marked, etc).
type SessionRepository interface {
	Save(session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Sealer strips correct answers from quiz content sent to clients.
type Sealer interface {
	Seal(quiz domain.Quiz) (domain.Quiz, error)
}

// ServiceOptions carries the collaborators shared by every session.
type ServiceOptions struct {
	Engine       *scoring.Engine
	Sealer       Sealer
	Events       events.Publisher
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	TickInterval time.Duration
	Clock        func() time.Time
	// SubmitTimeout bounds the guard call made when a session submits.
	SubmitTimeout time.Duration
}

// QuizService contains the core quiz use cases.
type QuizService struct {
	sessions SessionRepository
	quizzes  QuizRepository
	guard    *Guard
	opts     ServiceOptions
	log      *zap.Logger
}

func NewQuizService(sessions SessionRepository, quizzes QuizRepository, guard *Guard, opts ServiceOptions) *QuizService {
	if opts.Engine == nil {
		opts.Engine = scoring.NewEngine(scoring.DefaultOptions())
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}
	log := logger.OrNop(opts.Logger)
	return &QuizService{
		sessions: sessions,
		quizzes:  quizzes,
		guard:    guard,
		opts:     opts,
		log:      log.Named("quiz"),
	}
}

// Quiz returns quiz content safe to send to clients: sealed when a sealer is configured.
func (s *QuizService) Quiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	s.emit(ctx, events.QuizView, quizID, "", nil)
	if s.opts.Sealer == nil {
		return quiz, nil
	}
	return s.opts.Sealer.Seal(quiz)
}

// Start creates an attempt for a quiz and moves it to InProgress.
func (s *QuizService) Start(ctx context.Context, quizID string) (SessionView, error) {
	// Users cannot start unknown quizzes.
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return SessionView{}, err
	}

	session := NewSession(uuid.NewString(), quiz, s.opts.Engine, SessionOptions{
		Clock:        s.opts.Clock,
		TickInterval: s.opts.TickInterval,
		OnSubmit:     s.onSubmit,
	})
	view, err := session.Start()
	s.opts.Metrics.Transition("start", err == nil)
	if err != nil {
		session.Close()
		return SessionView{}, err
	}
	s.sessions.Save(session)
	s.emit(ctx, events.QuizStart, quizID, session.ID(), map[string]any{"timed": view.Timed})
	return view, nil
}

// Session returns the current snapshot of an attempt.
func (s *QuizService) Session(_ context.Context, sessionID string) (SessionView, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return SessionView{}, domain.ErrSessionNotFound
	}
	return session.Snapshot(), nil
}

// Answer records the answer of the current question.
func (s *QuizService) Answer(ctx context.Context, sessionID string, answer domain.Answer) (SessionView, error) {
	view, err := s.apply(sessionID, "answer", func(session *Session) (SessionView, error) {
		return session.Answer(answer)
	})
	if err == nil {
		s.emit(ctx, events.QuizSelectChoice, view.QuizID, sessionID, map[string]any{"questionId": view.QuestionID})
	}
	return view, err
}

// Navigate moves within an attempt. action is "next", "prev" or "goto".
func (s *QuizService) Navigate(_ context.Context, sessionID, action string, index int) (SessionView, error) {
	return s.apply(sessionID, action, func(session *Session) (SessionView, error) {
		switch action {
		case "next":
			return session.Next()
		case "prev":
			return session.Prev()
		case "goto":
			return session.GoTo(index)
		}
		return session.Snapshot(), domain.Invalid("action", "unknown navigation %q", action)
	})
}

func (s *QuizService) Pause(_ context.Context, sessionID string) (SessionView, error) {
	return s.apply(sessionID, "pause", (*Session).Pause)
}

func (s *QuizService) Resume(_ context.Context, sessionID string) (SessionView, error) {
	return s.apply(sessionID, "resume", (*Session).Resume)
}

// Reveal returns feedback for the current question.
func (s *QuizService) Reveal(ctx context.Context, sessionID string) (Feedback, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return Feedback{}, domain.ErrSessionNotFound
	}
	fb, err := session.Reveal()
	s.opts.Metrics.Transition("reveal", err == nil)
	if err == nil {
		s.emit(ctx, events.QuizRevealQuestion, session.QuizID(), sessionID, map[string]any{"questionId": fb.QuestionID})
	}
	return fb, err
}

// Submit grades and freezes the attempt. Persistence and aggregation go through the guard.
func (s *QuizService) Submit(_ context.Context, sessionID string) (domain.Result, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.Result{}, domain.ErrSessionNotFound
	}
	result, err := session.Submit()
	s.opts.Metrics.Transition("submit", err == nil)
	return result, err
}

// Review opens the read-only review of a submitted attempt.
func (s *QuizService) Review(ctx context.Context, sessionID string) (Review, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return Review{}, domain.ErrSessionNotFound
	}
	review, err := session.Review()
	s.opts.Metrics.Transition("review", err == nil)
	if err == nil {
		s.emit(ctx, events.QuizReviewOpen, session.QuizID(), sessionID, nil)
	}
	return review, err
}

// Restart clears a finished attempt and starts it again.
func (s *QuizService) Restart(ctx context.Context, sessionID string) (SessionView, error) {
	view, err := s.apply(sessionID, "restart", func(session *Session) (SessionView, error) {
		if _, err := session.Restart(); err != nil {
			return session.Snapshot(), err
		}
		return session.Start()
	})
	if err == nil {
		s.emit(ctx, events.QuizStart, view.QuizID, sessionID, map[string]any{"restart": true})
	}
	return view, err
}

// Subscribe returns a channel that receives snapshots of an attempt.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *QuizService) Subscribe(_ context.Context, sessionID string) (<-chan SessionView, func(), error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// Abandon stops an attempt and forgets it.
func (s *QuizService) Abandon(_ context.Context, sessionID string) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.Close()
	s.sessions.Delete(sessionID)
	return nil
}

// SubmitExternal admits a submission produced outside a server-side session.
func (s *QuizService) SubmitExternal(ctx context.Context, identifier string, sub domain.Submission) (Outcome, error) {
	outcome, err := s.guard.Submit(ctx, identifier, sub)
	if err == nil && !outcome.Replayed {
		s.emit(ctx, events.QuizFinish, sub.QuizID, "", finishAttributes(outcome.Result))
	}
	return outcome, err
}

// Track forwards a client-side analytics event such as quiz.copy_mdx.
func (s *QuizService) Track(ctx context.Context, ev events.Event) error {
	if !events.Known(ev.Type) {
		return domain.Invalid("type", "unknown event type %q", ev.Type)
	}
	if ev.QuizID == "" {
		return domain.Invalid("quizId", "required")
	}
	if ev.At.IsZero() {
		ev.At = s.opts.Clock()
	}
	if err := s.opts.Events.Publish(ctx, ev); err != nil {
		s.log.Debug("publish event", zap.String("type", ev.Type), zap.Error(err))
	}
	return nil
}

// Stats returns the aggregates of a quiz.
func (s *QuizService) Stats(ctx context.Context, quizID string) (domain.QuizStats, error) {
	return s.guard.Stats(ctx, quizID)
}

func (s *QuizService) apply(sessionID, action string, fn func(*Session) (SessionView, error)) (SessionView, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return SessionView{}, domain.ErrSessionNotFound
	}
	view, err := fn(session)
	s.opts.Metrics.Transition(action, err == nil)
	return view, err
}

// onSubmit hands a finished attempt to the guard so it is stored and counted
// like any API submission.
func (s *QuizService) onSubmit(ev SubmitEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SubmitTimeout)
	defer cancel()

	log := s.log.With(zap.String("session_id", ev.SessionID), zap.String("quiz_id", ev.Submission.QuizID))
	if s.guard != nil {
		if _, err := s.guard.SubmitSession(ctx, ev.SessionID, ev.Submission, ev.Streak); err != nil {
			log.Error("persist session submission", zap.Error(err))
		}
	}
	attrs := finishAttributes(ev.Result)
	attrs["implicit"] = ev.Implicit
	s.emit(ctx, events.QuizFinish, ev.Submission.QuizID, ev.SessionID, attrs)
	log.Info("session submitted", zap.Float64("score", ev.Result.Score), zap.Bool("implicit", ev.Implicit))
}

func (s *QuizService) emit(ctx context.Context, typ, quizID, sessionID string, attrs map[string]any) {
	ev := events.Event{Type: typ, QuizID: quizID, SessionID: sessionID, Attributes: attrs, At: s.opts.Clock()}
	if err := s.opts.Events.Publish(ctx, ev); err != nil {
		s.log.Debug("publish event", zap.String("type", typ), zap.Error(err))
	}
}

func finishAttributes(result domain.Result) map[string]any {
	return map[string]any{
		"score":      result.Score,
		"maxScore":   result.MaxScore,
		"percentage": result.Percentage(),
	}
}
