// Package api exposes the engine's inbound operations over a small JSON
// API: serve an exam in its deterministic per-room/per-attempt order, save
// submissions, score results, and trigger answer-key acquisition.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"examkey/internal/llm"
	"examkey/internal/model"
	"examkey/internal/random"
	"examkey/internal/scoring"
	"examkey/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	fetcher *llm.Fetcher
}

// New creates a Handler. fetcher may be nil when no text-generation
// backends are configured; the answer-key endpoint then reports 503.
func New(s *store.Store, f *llm.Fetcher) *Handler {
	return &Handler{store: s, fetcher: f}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/rooms", h.handleCreateRoom)
	r.Get("/api/rooms/{roomCode}", h.handleGetRoom)
	r.Post("/api/exams/{hashID}/attempts", h.handleCreateAttempt)
	r.Get("/api/exams/{hashID}", h.handleExam)
	r.Post("/api/exams/{hashID}/submissions", h.handleSubmit)
	r.Get("/api/exams/{hashID}/result", h.handleResult)
	r.Post("/api/exams/{hashID}/answer-keys", h.handleFetchAnswerKeys)
}

type examView struct {
	HashID           string         `json:"hash_id"`
	Title            string         `json:"title"`
	TimeLimitSeconds int            `json:"time_limit_seconds"`
	TotalQuestions   int            `json:"total_questions"`
	NumberPass       int            `json:"number_pass"`
	Questions        []questionView `json:"questions"`
}

type questionView struct {
	ID      int64              `json:"id"`
	Type    model.QuestionType `json:"type"`
	Body    string             `json:"question"`
	Choices []choiceView       `json:"choices"`
}

type choiceView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string     `json:"name"`
		StartsAt *time.Time `json:"starts_at"`
		EndsAt   *time.Time `json:"ends_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	room, err := h.store.CreateRoom(r.Context(), req.Name, req.StartsAt, req.EndsAt)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.store.GetRoomByCode(r.Context(), chi.URLParam(r, "roomCode"))
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) handleCreateAttempt(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req struct {
		RoomCode    string `json:"room_code"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var roomID *int64
	if req.RoomCode != "" {
		room, err := h.store.GetRoomByCode(r.Context(), req.RoomCode)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !room.Started() {
			http.Error(w, "room has not started yet", http.StatusConflict)
			return
		}
		roomID = &room.ID
	}

	attempt, err := h.store.FindOrCreateAttempt(r.Context(), sess.ID, roomID, req.DisplayName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, attempt)
}

// handleExam serves the exam in the order this candidate should see it:
// same room, same seed, same paper; outside a room the order is stable per
// attempt; without either, the persisted order stands.
func (h *Handler) handleExam(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var (
		roomID int64
		token  = r.URL.Query().Get("attempt")
	)
	if token != "" {
		attempt, err := h.store.GetAttemptByToken(r.Context(), sess.ID, token)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "attempt not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if attempt.RoomID != nil {
			roomID = *attempt.RoomID
		}
	}

	questions, err := h.store.QuestionsForSession(r.Context(), sess.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	seed, seeded := random.SessionSeed(roomID, token)
	if seeded {
		questions = random.Shuffle(seed, questions)
	}

	view := examView{
		HashID:           sess.HashID,
		Title:            sess.Title,
		TimeLimitSeconds: sess.TimeLimitSeconds,
		TotalQuestions:   sess.TotalQuestions,
		NumberPass:       sess.NumberPass,
		Questions:        make([]questionView, 0, len(questions)),
	}
	for _, q := range questions {
		choices, err := h.store.ChoicesForQuestion(r.Context(), q.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if seeded {
			choices = random.Shuffle(random.ChoiceSeed(seed, q.ID), choices)
		}
		qv := questionView{
			ID:      q.ExternalQuestionID,
			Type:    q.Type,
			Body:    q.Body,
			Choices: make([]choiceView, 0, len(choices)),
		}
		for _, c := range choices {
			qv.Choices = append(qv.Choices, choiceView{ID: c.Key, Label: c.Label})
		}
		view.Questions = append(view.Questions, qv)
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req struct {
		AttemptToken string             `json:"attempt_token"`
		Answers      []model.Submission `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	attempt, err := h.store.GetAttemptByToken(r.Context(), sess.ID, req.AttemptToken)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "attempt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if attempt.RoomID != nil {
		room, err := h.store.GetRoom(r.Context(), *attempt.RoomID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if room.Expired() {
			http.Error(w, "room has ended", http.StatusConflict)
			return
		}
	}

	if err := h.store.SaveSubmissions(r.Context(), attempt.ID, req.Answers); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": len(req.Answers)})
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	attempt, err := h.store.GetAttemptByToken(r.Context(), sess.ID, r.URL.Query().Get("attempt"))
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "attempt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	subs, err := store.Submissions(attempt)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	canonical, explanations, err := h.store.CanonicalForSession(r.Context(), sess.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result := scoring.Score(subs, canonical, explanations)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleFetchAnswerKeys(w http.ResponseWriter, r *http.Request) {
	if h.fetcher == nil {
		http.Error(w, "no text-generation backends configured", http.StatusServiceUnavailable)
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	report, err := h.fetcher.FetchSession(r.Context(), sess.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("answer-key fetch finished",
		"session", sess.HashID, "total", report.Total, "success", report.Success, "failed", len(report.Errors))
	writeJSON(w, http.StatusOK, report)
}

// session resolves the {hashID} route param, writing the error response
// itself when the session cannot be loaded.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (model.ExamSession, bool) {
	sess, err := h.store.GetSessionByHash(r.Context(), chi.URLParam(r, "hashID"))
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "exam not found", http.StatusNotFound)
		return model.ExamSession{}, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return model.ExamSession{}, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
