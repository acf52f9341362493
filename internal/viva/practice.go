package viva

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/model"
)

// DefaultPracticeCount is used when a practice request names no count.
const DefaultPracticeCount = 5

// Practice difficulty preferences, relative to the assignment's level.
const (
	PracticeEasier  = "easier"
	PracticeSimilar = "similar"
	PracticeHarder  = "harder"
)

var difficultyLevels = []model.Difficulty{
	model.DifficultyBeginner,
	model.DifficultyIntermediate,
	model.DifficultyAdvanced,
}

// PracticeRequest asks for practice questions on an assignment.
type PracticeRequest struct {
	AssignmentID int64
	Difficulty   string
	Count        int
}

// Practice generates practice questions for an assignment that allows mock
// vivas. Nothing is stored.
func (o *Orchestrator) Practice(ctx context.Context, req PracticeRequest) ([]model.PracticeQuestion, error) {
	if req.Count == 0 {
		req.Count = DefaultPracticeCount
	}
	if req.Count < 1 || req.Count > llm.MaxPracticeQuestions {
		return nil, fmt.Errorf("question count %d: %w", req.Count, ErrInvalidInput)
	}

	a, err := o.store.GetAssignment(req.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("assignment %d: %w", req.AssignmentID, ErrNotFound)
	}
	if !a.Active {
		return nil, fmt.Errorf("assignment %d is closed: %w", req.AssignmentID, ErrInvalidState)
	}
	if !a.AllowMockViva {
		return nil, fmt.Errorf("practice is disabled for assignment %d: %w", req.AssignmentID, ErrInvalidState)
	}

	level, err := shiftDifficulty(a.Difficulty, req.Difficulty)
	if err != nil {
		return nil, err
	}

	ic := interviewContext(a, nil, model.SessionMock, 0)
	qs, err := o.questions.Practice(ctx, ic, level, req.Count)
	if err != nil {
		return nil, collaboratorError(ctx, "practice questions", err)
	}
	slog.Info("practice questions generated", "assignment_id", a.ID, "difficulty", level, "count", len(qs))
	return qs, nil
}

// shiftDifficulty moves one level from base in the preferred direction,
// staying within the known levels.
func shiftDifficulty(base model.Difficulty, pref string) (model.Difficulty, error) {
	idx := 1
	for i, d := range difficultyLevels {
		if d == base {
			idx = i
		}
	}
	switch pref {
	case "", PracticeSimilar:
	case PracticeEasier:
		idx = max(idx-1, 0)
	case PracticeHarder:
		idx = min(idx+1, len(difficultyLevels)-1)
	default:
		return "", fmt.Errorf("difficulty preference %q: %w", pref, ErrInvalidInput)
	}
	return difficultyLevels[idx], nil
}
