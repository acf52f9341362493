package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/viva"
)

type startSessionRequest struct {
	AssignmentID int64             `json:"assignment_id" validate:"required,gt=0"`
	Type         model.SessionType `json:"session_type" validate:"omitempty,oneof=mock final"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	user := model.UserFromContext(r.Context())
	res, err := h.viva.Start(r.Context(), viva.StartRequest{
		AssignmentID: req.AssignmentID,
		StudentID:    user.ID,
		Type:         req.Type,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f model.SessionFilter
	if v := q.Get("assignment_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrBadID")
			return
		}
		f.AssignmentID = id
	}
	if v := model.SessionStatus(q.Get("status")); v != "" {
		if !v.Valid() {
			writeError(w, r, http.StatusBadRequest, "ErrInvalidInput")
			return
		}
		f.Status = v
	}
	if v := model.SessionType(q.Get("session_type")); v != "" {
		if v != model.SessionMock && v != model.SessionFinal {
			writeError(w, r, http.StatusBadRequest, "ErrInvalidInput")
			return
		}
		f.Type = v
	}

	user := model.UserFromContext(r.Context())
	switch user.Role {
	case model.UserRoleStudent:
		f.StudentID = user.ID
	case model.UserRoleTeacher:
		f.TeacherID = user.ID
	}

	sessions, err := h.viva.List(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []model.VivaSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// loadSession fetches a session and checks that the current user may see it.
// Sessions the user may not see are reported as missing.
func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*model.VivaSession, bool) {
	id, ok := idParam(w, r, "sessionID")
	if !ok {
		return nil, false
	}
	sess, err := h.viva.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	allowed, err := h.canSeeStudentWork(model.UserFromContext(r.Context()), sess.StudentID, sess.AssignmentID)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	if !allowed {
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
		return nil, false
	}
	return sess, true
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleRespond accepts the recorded answer to the pending question as the
// multipart field "audio". The format comes from the "format" field or the
// file name.
func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	file, format, ok := h.formFile(w, r, "audio")
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()
	defer file.Close()

	res, err := h.viva.Respond(r.Context(), sess.ID, viva.Answer{Reader: file, Format: format})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	if err := h.viva.Abandon(r.Context(), sess.ID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type overrideRequest struct {
	Score   *float64 `json:"score" validate:"required,gte=0,lte=100"`
	Comment string   `json:"comment" validate:"max=4000"`
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	user := model.UserFromContext(r.Context())
	if err := h.viva.Override(r.Context(), sess.ID, user.ID, *req.Score, req.Comment); err != nil {
		fail(w, r, err)
		return
	}
	updated, err := h.viva.Get(r.Context(), sess.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleOverrideAnswer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadID")
		return
	}
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.viva.OverrideAnswer(r.Context(), sess.ID, seq, *req.Score, req.Comment); err != nil {
		fail(w, r, err)
		return
	}
	updated, err := h.viva.Get(r.Context(), sess.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleListLLMCalls(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	calls, err := h.store.ListLLMCalls(sess.ID)
	if err != nil {
		fail(w, r, fmt.Errorf("list llm calls: %w", err))
		return
	}
	if calls == nil {
		calls = []model.LLMCall{}
	}
	writeJSON(w, http.StatusOK, calls)
}

type practiceRequest struct {
	AssignmentID int64  `json:"assignment_id" validate:"required,gt=0"`
	Difficulty   string `json:"difficulty_preference" validate:"omitempty,oneof=easier similar harder"`
	Count        int    `json:"question_count" validate:"omitempty,gte=1,lte=10"`
}

// handleMockQuestions returns practice questions for self-study. They are
// not stored and never reveal the assignment's viva questions.
func (h *Handler) handleMockQuestions(w http.ResponseWriter, r *http.Request) {
	var req practiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	qs, err := h.viva.Practice(r.Context(), viva.PracticeRequest{
		AssignmentID: req.AssignmentID,
		Difficulty:   req.Difficulty,
		Count:        req.Count,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": qs})
}
