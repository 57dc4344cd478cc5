package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quiz-engine/internal/app"
	"quiz-engine/internal/domain"
	"quiz-engine/internal/events"
	"quiz-engine/internal/logger"
)

// WSOptions tunes the per-connection message throttle.
type WSOptions struct {
	Logger            *zap.Logger
	MessagesPerSecond float64
	Burst             int
}

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
	log      *zap.Logger
	limit    rate.Limit
	burst    int
}

func NewWSHandler(service *app.QuizService, opts WSOptions) *WSHandler {
	log := logger.OrNop(opts.Logger)
	limit := rate.Limit(opts.MessagesPerSecond)
	if opts.MessagesPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 10
	}
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:   log.Named("ws"),
		limit: limit,
		burst: burst,
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Answer domain.Answer `json:"answer"`
}

type gotoPayload struct {
	Index int `json:"index"`
}

type trackPayload struct {
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ServeWS upgrades HTTP requests to websockets and drives one quiz attempt.
// quizId starts a new attempt; sessionId reattaches to a live one.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	sessionID := r.URL.Query().Get("sessionId")
	if quizID == "" && sessionID == "" {
		http.Error(w, "missing quizId or sessionId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	var view app.SessionView
	if sessionID != "" {
		view, err = h.service.Session(ctx, sessionID)
	} else {
		view, err = h.service.Start(ctx, quizID)
	}
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorFor(err)})
		return
	}
	sessionID = view.ID
	log := h.log.With(zap.String("session_id", sessionID), zap.String("quiz_id", view.QuizID))

	updates, cancel, err := h.service.Subscribe(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorFor(err)})
		return
	}
	defer cancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches conn for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: "state", Payload: update}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	limiter := rate.NewLimiter(h.limit, h.burst)
	ok := enqueue(send, writerDone, outboundMessage{Type: "session", Payload: view})
	for ok {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if !limiter.Allow() {
			ok = enqueue(send, writerDone, outboundMessage{Type: "error", Payload: errorPayload{Message: "too many messages", Code: "rate_limited"}})
			continue
		}
		payload, err := h.dispatch(r, sessionID, view.QuizID, inbound)
		if err != nil {
			log.Debug("ws action rejected", zap.String("type", inbound.Type), zap.Error(err))
			ok = enqueue(send, writerDone, outboundMessage{Type: "error", Payload: errorFor(err)})
			continue
		}
		ok = enqueue(send, writerDone, outboundMessage{Type: inbound.Type, Payload: payload})
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// enqueue hands msg to the writer. It reports false once the writer has
// stopped, so callers never block on a dead connection.
func enqueue(send chan<- outboundMessage, writerDone <-chan struct{}, msg outboundMessage) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

func (h *WSHandler) dispatch(r *http.Request, sessionID, quizID string, inbound inboundMessage) (any, error) {
	ctx := r.Context()
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return nil, domain.Invalid("payload", "invalid answer payload")
		}
		return h.service.Answer(ctx, sessionID, payload.Answer)
	case "next", "prev":
		return h.service.Navigate(ctx, sessionID, inbound.Type, 0)
	case "goto":
		var payload gotoPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return nil, domain.Invalid("payload", "invalid goto payload")
		}
		return h.service.Navigate(ctx, sessionID, "goto", payload.Index)
	case "pause":
		return h.service.Pause(ctx, sessionID)
	case "resume":
		return h.service.Resume(ctx, sessionID)
	case "reveal":
		return h.service.Reveal(ctx, sessionID)
	case "submit":
		return h.service.Submit(ctx, sessionID)
	case "review":
		return h.service.Review(ctx, sessionID)
	case "restart":
		return h.service.Restart(ctx, sessionID)
	case "track":
		var payload trackPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return nil, domain.Invalid("payload", "invalid track payload")
		}
		err := h.service.Track(ctx, events.Event{
			Type:       payload.Type,
			QuizID:     quizID,
			SessionID:  sessionID,
			Attributes: payload.Attributes,
		})
		return nil, err
	}
	return nil, domain.Invalid("type", "unsupported message type %q", inbound.Type)
}

func errorFor(err error) errorPayload {
	return errorPayload{Message: err.Error(), Code: errorCode(err)}
}
