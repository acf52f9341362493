package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
	"github.com/pavelanni/viva/internal/viva"
)

type submissionAnswerRequest struct {
	QuestionID int64  `json:"question_id" validate:"required,gt=0"`
	Text       string `json:"text" validate:"max=20000"`
}

type createSubmissionRequest struct {
	Status  model.SubmissionStatus    `json:"status" validate:"omitempty,oneof=draft submitted"`
	Answers []submissionAnswerRequest `json:"answers" validate:"dive"`
}

type updateSubmissionRequest struct {
	Answers []submissionAnswerRequest `json:"answers" validate:"dive"`
}

// submissionAnswers converts request answers, rejecting questions that are
// not part of the assignment.
func submissionAnswers(a *model.Assignment, req []submissionAnswerRequest) ([]model.SubmissionAnswer, bool) {
	known := make(map[int64]bool, len(a.Questions))
	for _, q := range a.Questions {
		known[q.ID] = true
	}
	out := make([]model.SubmissionAnswer, 0, len(req))
	for _, ans := range req {
		if !known[ans.QuestionID] {
			return nil, false
		}
		out = append(out, model.SubmissionAnswer{QuestionID: ans.QuestionID, Text: ans.Text})
	}
	return out, true
}

func (h *Handler) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := idParam(w, r, "assignmentID")
	if !ok {
		return
	}
	var req createSubmissionRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.store.GetAssignment(assignmentID)
	if err != nil {
		fail(w, r, fmt.Errorf("get assignment: %w", err))
		return
	}
	if a == nil || !a.Active {
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
		return
	}
	answers, ok := submissionAnswers(a, req.Answers)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrUnknownQuestion")
		return
	}

	user := model.UserFromContext(r.Context())
	id, err := h.store.CreateSubmission(model.Submission{
		AssignmentID: assignmentID,
		StudentID:    user.ID,
		Status:       req.Status,
		Answers:      answers,
	})
	if err != nil {
		fail(w, r, fmt.Errorf("create submission: %w", err))
		return
	}
	h.writeSubmission(w, r, http.StatusCreated, id)
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	var f model.SubmissionFilter
	if v := r.URL.Query().Get("assignment_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrBadID")
			return
		}
		f.AssignmentID = id
	}
	user := model.UserFromContext(r.Context())
	switch user.Role {
	case model.UserRoleStudent:
		f.StudentID = user.ID
	case model.UserRoleTeacher:
		f.TeacherID = user.ID
	}

	list, err := h.store.ListSubmissions(f)
	if err != nil {
		fail(w, r, fmt.Errorf("list submissions: %w", err))
		return
	}
	if list == nil {
		list = []model.Submission{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubmission(w, r)
	if !ok {
		return
	}
	h.writeSubmission(w, r, http.StatusOK, sub.ID)
}

// handleUpdateSubmission replaces the answers of the student's own draft.
func (h *Handler) handleUpdateSubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubmission(w, r)
	if !ok {
		return
	}
	var req updateSubmissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.store.GetAssignment(sub.AssignmentID)
	if err != nil {
		fail(w, r, fmt.Errorf("get assignment: %w", err))
		return
	}
	if a == nil {
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
		return
	}
	answers, ok := submissionAnswers(a, req.Answers)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrUnknownQuestion")
		return
	}

	err = h.store.UpdateSubmissionAnswers(sub.ID, answers)
	if errors.Is(err, store.ErrConflict) {
		writeError(w, r, http.StatusConflict, "ErrSubmitted")
		return
	}
	if err != nil {
		fail(w, r, fmt.Errorf("update submission: %w", err))
		return
	}
	h.writeSubmission(w, r, http.StatusOK, sub.ID)
}

func (h *Handler) handleSubmitSubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubmission(w, r)
	if !ok {
		return
	}
	err := h.store.MarkSubmitted(sub.ID)
	if errors.Is(err, store.ErrConflict) {
		writeError(w, r, http.StatusConflict, "ErrSubmitted")
		return
	}
	if err != nil {
		fail(w, r, fmt.Errorf("submit: %w", err))
		return
	}
	h.writeSubmission(w, r, http.StatusOK, sub.ID)
}

// handleSubmissionMedia attaches a recorded explanation to a draft. The
// recording is uploaded as the multipart field "file".
func (h *Handler) handleSubmissionMedia(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.loadSubmission(w, r)
	if !ok {
		return
	}
	file, format, ok := h.formFile(w, r, "file")
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()
	defer file.Close()

	user := model.UserFromContext(r.Context())
	asset, err := h.viva.AddSubmissionMedia(r.Context(), sub.ID, user.ID, viva.Answer{Reader: file, Format: format})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// loadSubmission fetches a submission the current user may see. Students may
// only reach their own work; others' work is reported as missing.
func (h *Handler) loadSubmission(w http.ResponseWriter, r *http.Request) (*model.Submission, bool) {
	id, ok := idParam(w, r, "submissionID")
	if !ok {
		return nil, false
	}
	sub, err := h.store.GetSubmission(id)
	if err != nil {
		fail(w, r, fmt.Errorf("get submission: %w", err))
		return nil, false
	}
	if sub == nil {
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
		return nil, false
	}
	allowed, err := h.canSeeStudentWork(model.UserFromContext(r.Context()), sub.StudentID, sub.AssignmentID)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	if !allowed {
		// Do not reveal other students' work exists.
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
		return nil, false
	}
	return sub, true
}

// writeSubmission sends a submission with its answers and recordings.
func (h *Handler) writeSubmission(w http.ResponseWriter, r *http.Request, status int, id int64) {
	sub, err := h.store.GetSubmission(id)
	if err != nil {
		fail(w, r, fmt.Errorf("get submission: %w", err))
		return
	}
	if sub == nil {
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
		return
	}
	if sub.Media, err = h.store.ListMediaAssets(model.OwnerSubmission, sub.ID); err != nil {
		fail(w, r, fmt.Errorf("list media: %w", err))
		return
	}
	writeJSON(w, status, sub)
}

// canSeeStudentWork reports whether the user may read a student's work on an
// assignment: the student themself, the assignment's teacher, or an admin.
func (h *Handler) canSeeStudentWork(user *model.User, studentID, assignmentID int64) (bool, error) {
	switch user.Role {
	case model.UserRoleAdmin:
		return true, nil
	case model.UserRoleStudent:
		return user.ID == studentID, nil
	case model.UserRoleTeacher:
		a, err := h.store.GetAssignment(assignmentID)
		if err != nil {
			return false, fmt.Errorf("get assignment: %w", err)
		}
		return a != nil && a.TeacherID == user.ID, nil
	}
	return false, nil
}
