package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quiz-engine/internal/logger"
)

// Analytics event types. Delivery is fire-and-forget; quiz logic never depends on it.
const (
	QuizView           = "quiz.view"
	QuizStart          = "quiz.start"
	QuizSelectChoice   = "quiz.select_choice"
	QuizRevealQuestion = "quiz.reveal_question"
	QuizFinish         = "quiz.finish"
	QuizReviewOpen     = "quiz.review_open"
	QuizCopyMDX        = "quiz.copy_mdx"
	QuizAdminSave      = "quiz.admin.save"
)

var known = map[string]bool{
	QuizView: true, QuizStart: true, QuizSelectChoice: true, QuizRevealQuestion: true,
	QuizFinish: true, QuizReviewOpen: true, QuizCopyMDX: true, QuizAdminSave: true,
}

// Known reports whether typ belongs to the event taxonomy.
func Known(typ string) bool {
	return known[typ]
}

// Event is one analytics signal.
type Event struct {
	Type       string         `json:"type"`
	QuizID     string         `json:"quizId"`
	SessionID  string         `json:"sessionId,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	At         time.Time      `json:"at"`
}

// Publisher delivers analytics events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher writes events to a zap logger.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: logger.OrNop(log).Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Info(ev.Type,
		zap.String("quiz_id", ev.QuizID),
		zap.String("session_id", ev.SessionID),
		zap.Any("attributes", ev.Attributes),
		zap.Time("at", ev.At),
	)
	return nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
