package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionNotFound is returned when a quiz attempt does not exist or was abandoned.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a referenced question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrChoiceNotFound indicates a submitted choice ID is invalid.
	ErrChoiceNotFound = errors.New("choice not found")
	// ErrValidation marks malformed submissions and quiz definitions.
	ErrValidation = errors.New("validation failed")
	// ErrRateLimited means the caller must back off before submitting again.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrIllegalTransition is returned for actions that are invalid in the current session state.
	ErrIllegalTransition = errors.New("illegal session transition")
	// ErrDecode indicates a malformed answer token.
	ErrDecode = errors.New("answer token decode failed")
	// ErrSubmissionInFlight means another request holds the replay token and has not stored a result yet.
	ErrSubmissionInFlight = errors.New("submission already in flight")
)

// ValidationError names the field and the constraint it violated.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Constraint
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Constraint)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Constraint: fmt.Sprintf(format, args...)}
}

// RateLimitError carries the window state of a rejected caller.
type RateLimitError struct {
	Record RateLimitRecord
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d/%d, resets at %s",
		e.Record.Key, e.Record.Count, e.Record.Limit, e.Record.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter is the time left until the window resets.
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	d := e.Record.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TransitionError reports an action attempted from a state that does not allow it.
type TransitionError struct {
	From   SessionState
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }
