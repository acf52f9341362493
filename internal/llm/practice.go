package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pavelanni/viva/internal/llm/prompts"
	"github.com/pavelanni/viva/internal/model"
)

// PurposePractice labels practice question calls in the call log.
const PurposePractice = "practice"

// MaxPracticeQuestions caps one practice request.
const MaxPracticeQuestions = 10

var practiceSchema = &Schema{
	Name:        "viva-practice",
	Description: "Practice questions for an oral examination",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question":            map[string]any{"type": "string"},
						"expected_keywords":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"follow_up_questions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"scoring_criteria":    map[string]any{"type": "string"},
					},
					"required":             []any{"question", "expected_keywords", "follow_up_questions", "scoring_criteria"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []any{"questions"},
		"additionalProperties": false,
	},
}

type practiceResponse struct {
	Questions []model.PracticeQuestion `json:"questions"`
}

// Practice generates count practice questions at the given difficulty. Only
// the assignment's public description is sent; the question bank and the
// student's work stay out of the prompt.
func (iv *Interviewer) Practice(ctx context.Context, ic model.InterviewContext, difficulty model.Difficulty, count int) ([]model.PracticeQuestion, error) {
	if count < 1 || count > MaxPracticeQuestions {
		return nil, fmt.Errorf("practice question count %d out of range 1..%d", count, MaxPracticeQuestions)
	}
	ctx = WithPurpose(ctx, PurposePractice)

	system, err := prompts.BuildPracticePrompt(prompts.NewPracticeData(ic, difficulty, count))
	if err != nil {
		return nil, fmt.Errorf("build practice prompt: %w", err)
	}

	resp, err := iv.provider.Generate(ctx, Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: fmt.Sprintf("Write %d practice questions.", count)}},
		Schema:      practiceSchema,
		Check:       func(raw json.RawMessage) error { return checkPractice(raw, count) },
		MaxTokens:   max(iv.maxTokens, 2048),
		Temperature: iv.temperature,
	})
	if err != nil {
		return nil, err
	}
	var out practiceResponse
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return nil, &ErrInvalidResponse{Content: resp.Content, Err: err}
	}
	for i := range out.Questions {
		out.Questions[i].Question = strings.TrimSpace(out.Questions[i].Question)
	}
	return out.Questions, nil
}

func checkPractice(raw json.RawMessage, count int) error {
	var out practiceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if len(out.Questions) != count {
		return fmt.Errorf("got %d practice questions, want %d", len(out.Questions), count)
	}
	for i, q := range out.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("practice question %d is empty", i)
		}
	}
	return nil
}
