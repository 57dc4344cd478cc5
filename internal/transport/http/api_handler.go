package http

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"quiz-engine/internal/app"
	"quiz-engine/internal/domain"
	"quiz-engine/internal/events"
	"quiz-engine/internal/logger"
)

const maxBodyBytes = 1 << 20

// APIHandler serves the stateless quiz endpoints: content, submissions, stats and client events.
type APIHandler struct {
	service *app.QuizService
	log     *zap.Logger
	now     func() time.Time
}

func NewAPIHandler(service *app.QuizService, log *zap.Logger) *APIHandler {
	return &APIHandler{service: service, log: logger.OrNop(log).Named("api"), now: time.Now}
}

// Register mounts the routes on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/quizzes/{quizID}", h.getQuiz)
	mux.HandleFunc("POST /api/quizzes/{quizID}/submissions", h.submit)
	mux.HandleFunc("GET /api/quizzes/{quizID}/stats", h.stats)
	mux.HandleFunc("POST /api/events", h.track)
}

func (h *APIHandler) getQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.service.Quiz(r.Context(), r.PathValue("quizID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *APIHandler) submit(w http.ResponseWriter, r *http.Request) {
	var sub domain.Submission
	if err := decodeBody(w, r, &sub); err != nil {
		h.writeError(w, err)
		return
	}
	sub.QuizID = r.PathValue("quizID")

	outcome, err := h.service.SubmitExternal(r.Context(), h.callerIdentifier(r), sub)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("X-Quiz-Replayed", strconv.FormatBool(outcome.Replayed))
	writeJSON(w, http.StatusOK, outcome)
}

func (h *APIHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), r.PathValue("quizID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *APIHandler) track(w http.ResponseWriter, r *http.Request) {
	var ev events.Event
	if err := decodeBody(w, r, &ev); err != nil {
		h.writeError(w, err)
		return
	}
	ev.At = time.Time{}
	if err := h.service.Track(r.Context(), ev); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var rle *domain.RateLimitError
	if errors.As(err, &rle) {
		secs := int(math.Ceil(rle.RetryAfter(h.now()).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
		writeJSON(w, status, errorPayload{Message: "internal error", Code: errorCode(err)})
		return
	}
	writeJSON(w, status, errorFor(err))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Invalid("body", "%v", err)
	}
	return nil
}

// callerIdentifier keys the rate limiter. The session header only counts when
// it names a live server-issued session; anything else falls back to the peer address.
func (h *APIHandler) callerIdentifier(r *http.Request) string {
	if id := r.Header.Get("X-Session-ID"); id != "" {
		if _, err := h.service.Session(r.Context(), id); err == nil {
			return "session:" + id
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrChoiceNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrSubmissionInFlight):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrChoiceNotFound):
		return "choice_not_found"
	case errors.Is(err, domain.ErrQuestionNotFound):
		return "question_not_found"
	case errors.Is(err, domain.ErrDecode):
		return "decode"
	case errors.Is(err, domain.ErrQuizNotFound):
		return "quiz_not_found"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, domain.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, domain.ErrSubmissionInFlight):
		return "in_flight"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	}
	return "internal"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
