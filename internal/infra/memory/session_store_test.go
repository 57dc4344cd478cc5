package memory

import (
	"testing"
	"time"

	"quiz-engine/internal/app"
	"quiz-engine/internal/scoring"
)

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore(time.Hour)
	session := app.NewSession("s-1", sampleQuiz(), scoring.NewEngine(scoring.DefaultOptions()), app.SessionOptions{})

	store.Save(session)
	if got, ok := store.Get("s-1"); !ok || got != session {
		t.Fatalf("expected session present")
	}

	store.Delete("s-1")
	if _, ok := store.Get("s-1"); ok {
		t.Fatalf("expected session removed")
	}
}

func TestSessionStoreSweep(t *testing.T) {
	created := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	store := NewSessionStore(time.Hour)
	engine := scoring.NewEngine(scoring.DefaultOptions())
	store.Save(app.NewSession("old", sampleQuiz(), engine, app.SessionOptions{Clock: func() time.Time { return created }}))
	store.Save(app.NewSession("new", sampleQuiz(), engine, app.SessionOptions{Clock: func() time.Time { return created.Add(50 * time.Minute) }}))

	if n := store.Sweep(created.Add(90 * time.Minute)); n != 1 {
		t.Fatalf("expected one session swept, got %d", n)
	}
	if _, ok := store.Get("old"); ok {
		t.Fatalf("expected old session gone")
	}
	if store.Len() != 1 {
		t.Fatalf("expected one session left, got %d", store.Len())
	}
}
