package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
)

type questionRequest struct {
	Text     string `json:"text" validate:"required,max=4000"`
	Points   int    `json:"points" validate:"gte=0,lte=1000"`
	Required bool   `json:"required"`
}

type vivaQuestionRequest struct {
	Text             string           `json:"text" validate:"required,max=4000"`
	Category         string           `json:"category" validate:"max=100"`
	Difficulty       model.Difficulty `json:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	ExpectedKeywords []string         `json:"expected_keywords" validate:"max=50,dive,required"`
	Rubric           string           `json:"rubric" validate:"max=4000"`
	Priority         int              `json:"priority" validate:"gte=0,lte=100"`
}

type createAssignmentRequest struct {
	Title            string                `json:"title" validate:"required,max=200"`
	Description      string                `json:"description" validate:"max=10000"`
	Instructions     string                `json:"instructions" validate:"max=10000"`
	Topic            string                `json:"topic" validate:"max=200"`
	Concept          string                `json:"concept" validate:"max=200"`
	Difficulty       model.Difficulty      `json:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	AllowMockViva    bool                  `json:"allow_mock_viva"`
	MaxVivaQuestions int                   `json:"max_viva_questions" validate:"gte=0,lte=50"`
	TimeLimitMinutes int                   `json:"time_limit_minutes" validate:"gte=0"`
	DueDate          *time.Time            `json:"due_date"`
	Questions        []questionRequest     `json:"questions" validate:"dive"`
	VivaQuestions    []vivaQuestionRequest `json:"viva_questions" validate:"dive"`
}

func (h *Handler) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req createAssignmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	user := model.UserFromContext(r.Context())

	a := model.Assignment{
		TeacherID:        user.ID,
		Title:            req.Title,
		Description:      req.Description,
		Instructions:     req.Instructions,
		Topic:            req.Topic,
		Concept:          req.Concept,
		Difficulty:       req.Difficulty,
		AllowMockViva:    req.AllowMockViva,
		MaxVivaQuestions: req.MaxVivaQuestions,
		TimeLimitMinutes: req.TimeLimitMinutes,
		DueDate:          req.DueDate,
	}
	for _, q := range req.Questions {
		a.Questions = append(a.Questions, model.AssignmentQuestion{Text: q.Text, Points: q.Points, Required: q.Required})
	}
	for _, vq := range req.VivaQuestions {
		a.VivaQuestions = append(a.VivaQuestions, model.VivaQuestion{
			Text:             vq.Text,
			Category:         vq.Category,
			Difficulty:       vq.Difficulty,
			ExpectedKeywords: vq.ExpectedKeywords,
			Rubric:           vq.Rubric,
			Priority:         vq.Priority,
		})
	}

	id, err := h.store.CreateAssignment(a)
	if err != nil {
		fail(w, r, fmt.Errorf("create assignment: %w", err))
		return
	}
	created, err := h.store.GetAssignment(id)
	if err != nil {
		fail(w, r, fmt.Errorf("get assignment: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleImportAssignments loads a JSON file of assignments uploaded as the
// multipart field "file". Re-uploading identical content is a no-op.
func (h *Handler) handleImportAssignments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrNoFile")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		fail(w, r, err)
		return
	}

	user := model.UserFromContext(r.Context())
	n, err := h.store.ImportAssignments(header.Filename, data, user.ID)
	if errors.Is(err, store.ErrAlreadyImported) {
		writeError(w, r, http.StatusConflict, "UploadDuplicate")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrImport")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"imported": n})
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var teacherID int64
	if user.Role == model.UserRoleTeacher {
		teacherID = user.ID
	}
	list, err := h.store.ListAssignments(teacherID)
	if err != nil {
		fail(w, r, fmt.Errorf("list assignments: %w", err))
		return
	}

	out := []model.Assignment{}
	for _, a := range list {
		if user.Role == model.UserRoleStudent && !a.Active {
			continue
		}
		out = append(out, a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "assignmentID")
	if !ok {
		return
	}
	a, err := h.store.GetAssignment(id)
	if err != nil {
		fail(w, r, fmt.Errorf("get assignment: %w", err))
		return
	}
	user := model.UserFromContext(r.Context())
	if a == nil || (user.Role == model.UserRoleStudent && !a.Active) {
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
		return
	}
	switch user.Role {
	case model.UserRoleStudent:
		// Viva questions are never shown to students.
		a.VivaQuestions = nil
	case model.UserRoleTeacher:
		if a.TeacherID != user.ID {
			writeError(w, r, http.StatusForbidden, "ErrForbidden")
			return
		}
	}
	writeJSON(w, http.StatusOK, a)
}
