package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
)

// HostHandler is the host-facing control surface: create a room, start the
// game, pace it manually, force-end it, and read standings and results.
type HostHandler struct {
	service *app.Service
}

func NewHostHandler(service *app.Service) *HostHandler {
	return &HostHandler{service: service}
}

// Register wires the host routes onto the mux.
func (h *HostHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", h.createSession)
	mux.HandleFunc("GET /sessions/{id}", h.getSession)
	mux.HandleFunc("POST /sessions/{id}/start", h.start)
	mux.HandleFunc("POST /sessions/{id}/reveal", h.reveal)
	mux.HandleFunc("POST /sessions/{id}/next", h.next)
	mux.HandleFunc("POST /sessions/{id}/end", h.end)
	mux.HandleFunc("GET /sessions/{id}/leaderboard", h.leaderboard)
	mux.HandleFunc("GET /sessions/{id}/results", h.results)
}

type createSessionRequest struct {
	QuizID string `json:"quizId"`
}

type sessionResponse struct {
	ID                   string `json:"id"`
	QuizID               string `json:"quizId"`
	RoomCode             string `json:"roomCode"`
	Phase                string `json:"phase"`
	Status               string `json:"status"`
	CurrentQuestionIndex int    `json:"currentQuestionIndex"`
}

func (h *HostHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuizID == "" {
		writeError(w, http.StatusBadRequest, "missing quizId")
		return
	}
	sess, err := h.service.CreateSession(r.Context(), req.QuizID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *HostHandler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

type startRequest struct {
	AllowEmpty bool `json:"allowEmpty"`
}

func (h *HostHandler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := h.service.Start(r.Context(), r.PathValue("id"), req.AllowEmpty); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HostHandler) reveal(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reveal(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HostHandler) next(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Next(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HostHandler) end(w http.ResponseWriter, r *http.Request) {
	if err := h.service.End(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HostHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.LiveLeaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *HostHandler) results(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Results(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func toSessionResponse(sess domain.Session) sessionResponse {
	return sessionResponse{
		ID:                   sess.ID,
		QuizID:               sess.QuizID,
		RoomCode:             sess.RoomCode,
		Phase:                string(sess.Phase),
		Status:               string(sess.Status),
		CurrentQuestionIndex: sess.CurrentQuestionIndex,
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrParticipantNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoQuestions),
		errors.Is(err, domain.ErrNoParticipants),
		errors.Is(err, domain.ErrInvalidPhase),
		errors.Is(err, domain.ErrSessionFinished):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRoomCodeExhausted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("host api error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
