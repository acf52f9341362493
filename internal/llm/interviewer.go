package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/viva/internal/llm/prompts"
	"github.com/pavelanni/viva/internal/model"
)

// PurposeInterview labels interview calls in the call log.
const PurposeInterview = "interview"

var openingSchema = &Schema{
	Name:        "viva-opening",
	Description: "The first question of an oral examination",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string"},
		},
		"required":             []any{"question"},
		"additionalProperties": false,
	},
}

var turnSchema = &Schema{
	Name:        "viva-turn",
	Description: "Score for the latest answer and the next step of an oral examination",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score":         map[string]any{"type": "number"},
			"final":         map[string]any{"type": "boolean"},
			"next_question": map[string]any{"type": "string"},
			"per_question_scores": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "number"},
			},
			"feedback": map[string]any{"type": "string"},
		},
		"required":             []any{"score", "final", "next_question", "per_question_scores", "feedback"},
		"additionalProperties": false,
	},
}

type openingResponse struct {
	Question string `json:"question"`
}

type turnResponse struct {
	Score             float64   `json:"score"`
	Final             bool      `json:"final"`
	NextQuestion      string    `json:"next_question"`
	PerQuestionScores []float64 `json:"per_question_scores"`
	Feedback          string    `json:"feedback"`
}

// Interviewer asks questions and scores transcribed answers through an LLM.
type Interviewer struct {
	provider    Provider
	variant     prompts.PromptVariant
	maxTokens   int
	temperature float64
}

// NewInterviewer creates an Interviewer. Prompt templates must be loaded.
// Time limits belong to the provider's retry policy so that every attempt
// gets its own deadline.
func NewInterviewer(p Provider, variant prompts.PromptVariant, cfg Config) *Interviewer {
	return &Interviewer{
		provider:    p,
		variant:     variant,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Next returns the opening question when turns is empty. Otherwise it scores
// the latest turn and either asks the next question or finishes with a score
// for every turn.
func (iv *Interviewer) Next(ctx context.Context, ic model.InterviewContext, turns []model.Turn) (*model.TurnDecision, error) {
	ctx = WithPurpose(ctx, PurposeInterview)

	data := prompts.NewInterviewData(ic, turns)
	system, err := prompts.BuildSystemPrompt(iv.variant, data)
	if err != nil {
		return nil, fmt.Errorf("build system prompt: %w", err)
	}
	user, err := prompts.BuildInterviewPrompt(data)
	if err != nil {
		return nil, fmt.Errorf("build interview prompt: %w", err)
	}

	req := Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: user}},
		MaxTokens:   iv.maxTokens,
		Temperature: iv.temperature,
	}

	if len(turns) == 0 {
		req.Schema = openingSchema
		req.Check = checkOpening
		resp, err := iv.provider.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		var out openingResponse
		if err := json.Unmarshal(resp.Content, &out); err != nil {
			return nil, &ErrInvalidResponse{Content: resp.Content, Err: err}
		}
		return &model.TurnDecision{NextQuestion: strings.TrimSpace(out.Question)}, nil
	}

	limitReached := len(turns) >= ic.MaxQuestions
	req.Schema = turnSchema
	req.Check = func(raw json.RawMessage) error {
		return checkTurn(raw, len(turns), limitReached)
	}
	resp, err := iv.provider.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	var out turnResponse
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return nil, &ErrInvalidResponse{Content: resp.Content, Err: err}
	}

	score := out.Score
	decision := &model.TurnDecision{Score: &score}
	if out.Final {
		decision.Final = true
		decision.PerQuestionScores = out.PerQuestionScores
		decision.Feedback = strings.TrimSpace(out.Feedback)
	} else {
		decision.NextQuestion = strings.TrimSpace(out.NextQuestion)
	}
	return decision, nil
}

func checkOpening(raw json.RawMessage) error {
	var out openingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if strings.TrimSpace(out.Question) == "" {
		return errors.New("empty opening question")
	}
	return nil
}

// checkTurn enforces what the schema cannot: score ranges, a question when
// continuing, and exactly one final score per answer when finishing. When the
// question limit is reached a non-final answer is tolerated; the caller
// finishes the session from the per-turn scores.
func checkTurn(raw json.RawMessage, answered int, limitReached bool) error {
	var out turnResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if !validScore(out.Score) {
		return fmt.Errorf("score %v out of range", out.Score)
	}
	if !out.Final {
		if !limitReached && strings.TrimSpace(out.NextQuestion) == "" {
			return errors.New("missing next question")
		}
		return nil
	}
	if len(out.PerQuestionScores) != answered {
		return fmt.Errorf("got %d final scores for %d answers", len(out.PerQuestionScores), answered)
	}
	for i, s := range out.PerQuestionScores {
		if !validScore(s) {
			return fmt.Errorf("final score %d: %v out of range", i, s)
		}
	}
	return nil
}

func validScore(s float64) bool {
	return s >= 0 && s <= 100
}
