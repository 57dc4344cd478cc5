package app

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-engine/internal/domain"
	"quiz-engine/internal/scoring"
)

// SessionOptions wires a session to its clock, timer and submit hook.
type SessionOptions struct {
	// Clock defaults to time.Now.
	Clock func() time.Time
	// TickInterval drives the internal countdown of timed quizzes. Zero
	// disables the internal ticker; Tick can then be called by the owner.
	TickInterval time.Duration
	// Rand shuffles question order when the quiz asks for it.
	Rand *rand.Rand
	// NewNonce generates the replay token of each submit. Defaults to a UUID.
	NewNonce func() string
	// OnSubmit runs exactly once per attempt, after the session moved to
	// Submitted and outside the session lock.
	OnSubmit func(SubmitEvent)
}

// SubmitEvent describes a completed attempt.
type SubmitEvent struct {
	SessionID  string
	Submission domain.Submission
	Streak     int
	Result     domain.Result
	Implicit   bool
}

// SessionView is a read-only snapshot of an attempt.
type SessionView struct {
	ID          string                   `json:"id"`
	QuizID      string                   `json:"quizId"`
	State       domain.SessionState      `json:"state"`
	Index       int                      `json:"index"`
	Total       int                      `json:"total"`
	QuestionID  string                   `json:"questionId,omitempty"`
	Order       []string                 `json:"order,omitempty"`
	Answers     map[string]domain.Answer `json:"answers"`
	RemainingMs int64                    `json:"remainingMs,omitempty"`
	Timed       bool                     `json:"timed"`
	Streak      int                      `json:"streak"`
	StartedAt   time.Time                `json:"startedAt,omitempty"`
	Result      *domain.Result           `json:"result,omitempty"`
}

// Feedback is the correctness reveal of the current question.
type Feedback struct {
	QuestionID     string                `json:"questionId"`
	Result         domain.QuestionResult `json:"result"`
	CorrectChoices []string              `json:"correctChoices,omitempty"`
	Explanation    string                `json:"explanation,omitempty"`
}

// ReviewItem pairs a question with what was answered and how it scored.
type ReviewItem struct {
	Question domain.Question       `json:"question"`
	Answer   *domain.Answer        `json:"answer,omitempty"`
	Result   domain.QuestionResult `json:"result"`
}

// Review is the read-only exposure of a submitted attempt.
type Review struct {
	SessionID string        `json:"sessionId"`
	Result    domain.Result `json:"result"`
	Items     []ReviewItem  `json:"items"`
}

// Session is the state machine of one quiz attempt:
//
//	NotStarted -> InProgress <-> Paused -> Submitted -> Reviewing
//	Submitted|Reviewing -> NotStarted (restart)
//
// Every transition runs under the session mutex, which is the attempt's
// serialization boundary.
type Session struct {
	id        string
	quiz      domain.Quiz
	engine    *scoring.Engine
	clock     func() time.Time
	interval  time.Duration
	rnd       *rand.Rand
	newNonce  func() string
	onSubmit  func(SubmitEvent)
	createdAt time.Time

	mu          sync.Mutex
	state       domain.SessionState
	order       []int
	index       int
	answers     map[string]domain.Answer
	scored      map[string]bool
	streak      int
	startedAt   time.Time
	activeSince time.Time
	active      time.Duration
	remaining   time.Duration
	result      *domain.Result
	timerGen    uint64
	stopTimer   chan struct{}
	subscribers map[chan SessionView]struct{}
}

// NewSession creates an attempt in NotStarted for an already validated quiz.
func NewSession(id string, quiz domain.Quiz, engine *scoring.Engine, opts SessionOptions) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewNonce == nil {
		opts.NewNonce = uuid.NewString
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(opts.Clock().UnixNano()))
	}
	return &Session{
		id:          id,
		quiz:        quiz,
		engine:      engine,
		clock:       opts.Clock,
		interval:    opts.TickInterval,
		rnd:         opts.Rand,
		newNonce:    opts.NewNonce,
		onSubmit:    opts.OnSubmit,
		createdAt:   opts.Clock(),
		state:       domain.StateNotStarted,
		answers:     make(map[string]domain.Answer),
		scored:      make(map[string]bool),
		subscribers: make(map[chan SessionView]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) QuizID() string { return s.quiz.ID }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start moves NotStarted -> InProgress, fixing the question order and the clock.
func (s *Session) Start() (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateNotStarted {
		return s.viewLocked(), s.illegal("start")
	}

	s.order = s.questionOrder()
	s.index = 0
	now := s.clock()
	s.startedAt = now
	s.activeSince = now
	s.active = 0
	s.remaining = s.quiz.TimeLimit()
	s.state = domain.StateInProgress
	s.startTimerLocked()
	return s.broadcastLocked(), nil
}

// Next moves to the following question.
func (s *Session) Next() (SessionView, error) { return s.move("next", 1) }

// Prev moves to the previous question.
func (s *Session) Prev() (SessionView, error) { return s.move("prev", -1) }

// GoTo jumps to a question position.
func (s *Session) GoTo(index int) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateInProgress {
		return s.viewLocked(), s.illegal("navigate")
	}
	if index < 0 || index >= len(s.order) {
		return s.viewLocked(), domain.Invalid("index", "%d outside [0,%d)", index, len(s.order))
	}
	s.index = index
	return s.broadcastLocked(), nil
}

func (s *Session) move(action string, delta int) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateInProgress {
		return s.viewLocked(), s.illegal(action)
	}
	next := s.index + delta
	if next < 0 || next >= len(s.order) {
		return s.viewLocked(), domain.Invalid("index", "no %s question", action)
	}
	s.index = next
	return s.broadcastLocked(), nil
}

// Answer upserts the answer of the current question and updates the streak.
func (s *Session) Answer(answer domain.Answer) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateInProgress {
		return s.viewLocked(), s.illegal("answer")
	}
	q := s.currentLocked()
	if err := CheckAnswer(q, answer); err != nil {
		return s.viewLocked(), err
	}

	s.answers[q.ID] = answer
	qr := s.engine.Score(q, answer, true)
	switch {
	case !qr.Correct:
		s.streak = 0
		s.scored[q.ID] = false
	case !s.scored[q.ID]:
		s.streak++
		s.scored[q.ID] = true
	}
	return s.broadcastLocked(), nil
}

// Reveal returns correctness feedback for the current question without changing state.
func (s *Session) Reveal() (Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Exam attempts get feedback only after submit.
	if s.state != domain.StateInProgress || s.quiz.IsExam() {
		return Feedback{}, s.illegal("reveal")
	}
	q := s.currentLocked()
	answer, answered := s.answers[q.ID]
	fb := Feedback{
		QuestionID:  q.ID,
		Result:      s.engine.Score(q, answer, answered),
		Explanation: q.Explanation,
	}
	if q.Type.IsChoiceBased() {
		fb.CorrectChoices = q.CorrectChoiceIDs()
	}
	return fb, nil
}

// Pause stops the clock. Ticks while paused have no effect.
func (s *Session) Pause() (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateInProgress {
		return s.viewLocked(), s.illegal("pause")
	}
	s.stopTimerLocked()
	s.active += s.clock().Sub(s.activeSince)
	s.state = domain.StatePaused
	return s.broadcastLocked(), nil
}

// Resume restarts the clock after a pause.
func (s *Session) Resume() (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StatePaused {
		return s.viewLocked(), s.illegal("resume")
	}
	s.activeSince = s.clock()
	s.state = domain.StateInProgress
	s.startTimerLocked()
	return s.broadcastLocked(), nil
}

// Tick advances the countdown by d. It only has an effect while InProgress
// on a timed quiz; reaching zero submits the attempt exactly once.
func (s *Session) Tick(d time.Duration) {
	s.tick(0, d)
}

func (s *Session) tick(gen uint64, d time.Duration) {
	s.mu.Lock()
	if s.state != domain.StateInProgress || s.quiz.TimeLimit() <= 0 || (gen != 0 && gen != s.timerGen) {
		s.mu.Unlock()
		return
	}
	s.remaining -= d
	if s.remaining > 0 {
		s.broadcastLocked()
		s.mu.Unlock()
		return
	}
	s.remaining = 0
	ev := s.submitLocked(true)
	s.mu.Unlock()
	s.fire(ev)
}

// Submit grades the attempt once and freezes it. Calls after the first
// return the frozen result and do nothing else.
func (s *Session) Submit() (domain.Result, error) {
	s.mu.Lock()
	switch s.state {
	case domain.StateSubmitted, domain.StateReviewing:
		result := *s.result
		s.mu.Unlock()
		return result, nil
	case domain.StateNotStarted:
		s.mu.Unlock()
		return domain.Result{}, s.illegal("submit")
	}
	ev := s.submitLocked(false)
	result := *s.result
	s.mu.Unlock()
	s.fire(ev)
	return result, nil
}

// submitLocked performs the InProgress|Paused -> Submitted transition.
func (s *Session) submitLocked(implicit bool) *SubmitEvent {
	if s.state != domain.StateInProgress && s.state != domain.StatePaused {
		return nil
	}
	if s.state == domain.StateInProgress {
		s.active += s.clock().Sub(s.activeSince)
	}
	s.stopTimerLocked()

	durationMs := s.active.Milliseconds()
	result := s.engine.Grade(s.quiz, s.answers, scoring.GradeInput{
		Streak:  s.streak,
		Elapsed: time.Duration(durationMs) * time.Millisecond,
	})
	s.result = &result
	s.state = domain.StateSubmitted
	s.broadcastLocked()

	sub := domain.Submission{
		QuizID:     s.quiz.ID,
		Version:    s.quiz.Version,
		Answers:    copyAnswers(s.answers),
		DurationMs: durationMs,
		Nonce:      s.newNonce(),
	}
	return &SubmitEvent{
		SessionID:  s.id,
		Submission: sub,
		Streak:     s.streak,
		Result:     result,
		Implicit:   implicit,
	}
}

func (s *Session) fire(ev *SubmitEvent) {
	if ev != nil && s.onSubmit != nil {
		s.onSubmit(*ev)
	}
}

// Review moves Submitted -> Reviewing and exposes correctness and explanations.
func (s *Session) Review() (Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateSubmitted && s.state != domain.StateReviewing {
		return Review{}, s.illegal("review")
	}
	if s.state == domain.StateSubmitted {
		s.state = domain.StateReviewing
		s.broadcastLocked()
	}

	review := Review{SessionID: s.id, Result: *s.result, Items: make([]ReviewItem, 0, len(s.quiz.Questions))}
	for i, q := range s.quiz.Questions {
		item := ReviewItem{Question: q}
		if answer, ok := s.answers[q.ID]; ok {
			a := answer
			item.Answer = &a
		}
		if i < len(s.result.PerQuestion) {
			item.Result = s.result.PerQuestion[i]
		}
		review.Items = append(review.Items, item)
	}
	return review, nil
}

// Restart returns a finished attempt to NotStarted with answers, streak and result cleared.
func (s *Session) Restart() (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateSubmitted && s.state != domain.StateReviewing {
		return s.viewLocked(), s.illegal("restart")
	}
	s.stopTimerLocked()
	s.state = domain.StateNotStarted
	s.order = nil
	s.index = 0
	s.answers = make(map[string]domain.Answer)
	s.scored = make(map[string]bool)
	s.streak = 0
	s.startedAt = time.Time{}
	s.active = 0
	s.remaining = 0
	s.result = nil
	return s.broadcastLocked(), nil
}

// Close stops the internal timer and ends every subscription.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// Subscribe returns a channel of snapshots, primed with the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan SessionView, func()) {
	ch := make(chan SessionView, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- s.viewLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// broadcastLocked pushes the current view to subscribers. A slow subscriber
// loses its oldest pending snapshot rather than blocking the session.
func (s *Session) broadcastLocked() SessionView {
	view := s.viewLocked()
	for ch := range s.subscribers {
		select {
		case ch <- view:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
	return view
}

// Snapshot returns the current view.
func (s *Session) Snapshot() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) startTimerLocked() {
	if s.interval <= 0 || s.quiz.TimeLimit() <= 0 {
		return
	}
	s.timerGen++
	gen := s.timerGen
	stop := make(chan struct{})
	s.stopTimer = stop
	interval := s.interval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.tick(gen, interval)
			}
		}
	}()
}

// stopTimerLocked cancels the ticker and invalidates ticks already in flight.
func (s *Session) stopTimerLocked() {
	if s.stopTimer != nil {
		close(s.stopTimer)
		s.stopTimer = nil
	}
	s.timerGen++
}

func (s *Session) questionOrder() []int {
	if s.quiz.Shuffle {
		return s.rnd.Perm(len(s.quiz.Questions))
	}
	order := make([]int, len(s.quiz.Questions))
	for i := range order {
		order[i] = i
	}
	return order
}

func (s *Session) currentLocked() domain.Question {
	return s.quiz.Questions[s.order[s.index]]
}

func (s *Session) illegal(action string) error {
	return &domain.TransitionError{From: s.state, Action: action}
}

func (s *Session) viewLocked() SessionView {
	view := SessionView{
		ID:        s.id,
		QuizID:    s.quiz.ID,
		State:     s.state,
		Index:     s.index,
		Total:     len(s.quiz.Questions),
		Answers:   copyAnswers(s.answers),
		Timed:     s.quiz.TimeLimit() > 0,
		Streak:    s.streak,
		StartedAt: s.startedAt,
	}
	if len(s.order) > 0 {
		view.QuestionID = s.quiz.Questions[s.order[s.index]].ID
		view.Order = make([]string, len(s.order))
		for i, idx := range s.order {
			view.Order[i] = s.quiz.Questions[idx].ID
		}
	}
	if view.Timed {
		view.RemainingMs = s.remaining.Milliseconds()
		if s.state == domain.StateNotStarted {
			view.RemainingMs = s.quiz.TimeLimit().Milliseconds()
		}
	}
	if s.result != nil {
		r := *s.result
		view.Result = &r
	}
	return view
}

// CheckAnswer verifies that an answer fits the question type: choice ids
// must exist and single-choice questions take exactly one id.
func CheckAnswer(q domain.Question, answer domain.Answer) error {
	if !q.Type.IsChoiceBased() {
		if answer.Multi {
			return domain.Invalid("answers["+q.ID+"]", "%s question takes free text", q.Type)
		}
		return nil
	}
	if q.Type != domain.QuestionMultiple && len(answer.Values) > 1 {
		return domain.Invalid("answers["+q.ID+"]", "%s question takes one choice", q.Type)
	}
	for _, id := range answer.Values {
		if !q.HasChoice(id) {
			return fmt.Errorf("%w: %q in question %s", domain.ErrChoiceNotFound, id, q.ID)
		}
	}
	return nil
}

func copyAnswers(in map[string]domain.Answer) map[string]domain.Answer {
	out := make(map[string]domain.Answer, len(in))
	for k, v := range in {
		out[k] = domain.Answer{Values: append([]string(nil), v.Values...), Multi: v.Multi}
	}
	return out
}
