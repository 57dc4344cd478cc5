package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-engine/internal/app"
	"quiz-engine/internal/codec"
	"quiz-engine/internal/domain"
	"quiz-engine/internal/infra/memory"
	"quiz-engine/internal/scoring"
)

func TestWebSocketAttemptFlow(t *testing.T) {
	server := newTestServer(t, WSOptions{})
	conn := dial(t, server, "quizId=quiz-1")

	var view app.SessionView
	readUntil(t, conn, "session", &view)
	if view.ID == "" || view.State != domain.StateInProgress {
		t.Fatalf("unexpected session: %+v", view)
	}

	send(t, conn, "answer", map[string]any{"answer": "o2"})
	readUntil(t, conn, "answer", &view)
	if view.Streak != 1 {
		t.Fatalf("expected streak 1, got %+v", view)
	}

	send(t, conn, "submit", nil)
	var result domain.Result
	readUntil(t, conn, "submit", &result)
	if result.Score != 1 || result.CorrectCount != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	send(t, conn, "next", nil)
	var failure errorPayload
	readUntil(t, conn, "error", &failure)
	if failure.Code != "illegal_transition" {
		t.Fatalf("expected illegal transition, got %+v", failure)
	}
}

func TestWebSocketReattach(t *testing.T) {
	server := newTestServer(t, WSOptions{})
	first := dial(t, server, "quizId=quiz-1")
	var view app.SessionView
	readUntil(t, first, "session", &view)

	second := dial(t, server, "sessionId="+view.ID)
	var again app.SessionView
	readUntil(t, second, "session", &again)
	if again.ID != view.ID {
		t.Fatalf("expected the same session, got %s", again.ID)
	}

	send(t, first, "answer", map[string]any{"answer": "o1"})
	var pushed app.SessionView
	for pushed.Answers["q1"].IsEmpty() {
		readUntil(t, second, "state", &pushed)
	}
}

func TestWebSocketThrottle(t *testing.T) {
	server := newTestServer(t, WSOptions{MessagesPerSecond: 0.001, Burst: 1})
	conn := dial(t, server, "quizId=quiz-1")
	readUntil(t, conn, "session", nil)

	send(t, conn, "pause", nil)
	readUntil(t, conn, "pause", nil)
	send(t, conn, "resume", nil)
	var failure errorPayload
	readUntil(t, conn, "error", &failure)
	if failure.Code != "rate_limited" {
		t.Fatalf("expected throttled message, got %+v", failure)
	}
}

func TestWebSocketRejectsMissingParams(t *testing.T) {
	server := newTestServer(t, WSOptions{})
	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestEnqueueStopsWhenWriterGone(t *testing.T) {
	send := make(chan outboundMessage, 1)
	writerDone := make(chan struct{})

	if !enqueue(send, writerDone, outboundMessage{Type: "session"}) {
		t.Fatalf("expected buffered send to succeed")
	}
	close(writerDone)

	result := make(chan bool, 1)
	go func() { result <- enqueue(send, writerDone, outboundMessage{Type: "state"}) }()
	select {
	case ok := <-result:
		if ok {
			t.Fatalf("expected enqueue to report a stopped writer")
		}
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked on a full queue after the writer stopped")
	}
}

func newTestService() *app.QuizService {
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": sampleQuiz(),
	}), time.Minute)
	engine := scoring.NewEngine(scoring.DefaultOptions())
	guard := app.NewGuard(quizRepo, memory.NewRateLimiter(2, time.Minute), memory.NewReplayRegistry(),
		memory.NewResultStore(time.Hour), memory.NewStatsAggregator(), engine, app.GuardOptions{})
	return app.NewQuizService(memory.NewSessionStore(time.Hour), quizRepo, guard, app.ServiceOptions{
		Engine: engine,
		Sealer: codec.New("secret", ""),
	})
}

func newTestServer(t *testing.T, opts WSOptions) *httptest.Server {
	t.Helper()
	service := newTestService()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(service, opts).ServeWS)
	NewAPIHandler(service, nil).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil skips pushed messages of other types until typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, out any) {
	t.Helper()
	for i := 0; i < 20; i++ {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		if msg.Type != typ {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(msg.Payload, out); err != nil {
				t.Fatalf("decode %s: %v", typ, err)
			}
		}
		return
	}
	t.Fatalf("no %s message received", typ)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Sample",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Type:   domain.QuestionSingle,
				Prompt: "Pick the right option",
				Choices: []domain.Choice{
					{ID: "o1", Label: "Wrong"},
					{ID: "o2", Label: "Right", Correct: true},
				},
				Points: 1,
			},
		},
	}
}
