package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/viva/internal/model"
)

//go:embed templates/*.txt
var DefaultFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents an interviewer strictness variant.
type PromptVariant string

const (
	// PromptStrict grades harshly and probes every gap.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default interviewer.
	PromptStandard PromptVariant = "standard"
	// PromptLenient gives partial credit generously.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce          sync.Once
	loadErr           error
	systemTemplates   map[PromptVariant]*template.Template
	interviewTemplate *template.Template
	practiceTemplate  *template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// InterviewData holds template data for interview prompts.
type InterviewData struct {
	Title          string
	Description    string
	Topic          string
	Concept        string
	Difficulty     string
	SessionType    string
	MaxQuestions   int
	Answered       int
	Remaining      int
	Opening        bool
	VivaQuestions  []model.VivaQuestion
	WrittenAnswers []model.WrittenAnswer
	Turns          []TurnData
}

// TurnData is one answered question as shown to the interviewer.
type TurnData struct {
	Number   int
	Question string
	Answer   string
}

// PracticeData holds template data for practice question prompts. It
// carries no question bank and no student work.
type PracticeData struct {
	Title       string
	Description string
	Topic       string
	Concept     string
	Difficulty  string
	Count       int
}

// Load loads prompt templates from fsys. Only the first call has effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		systemTemplates = make(map[PromptVariant]*template.Template)

		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			file := "templates/system_" + string(v) + ".txt"
			tmpl, err := parseFile(fsys, file)
			if err != nil {
				loadErr = err
				return
			}
			systemTemplates[v] = tmpl
		}

		if interviewTemplate, loadErr = parseFile(fsys, "templates/interview.txt"); loadErr != nil {
			return
		}
		practiceTemplate, loadErr = parseFile(fsys, "templates/practice.txt")
	})
	return loadErr
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.New("failed to read prompt file " + name + ": " + err.Error())
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, errors.New("failed to parse prompt template " + name + ": " + err.Error())
	}
	return tmpl, nil
}

// NewInterviewData collects template data from the interview context and
// the answered turns. Student text is sanitized here.
func NewInterviewData(ic model.InterviewContext, turns []model.Turn) InterviewData {
	data := InterviewData{
		Title:         ic.Title,
		Description:   ic.Description,
		Topic:         ic.Topic,
		Concept:       ic.Concept,
		Difficulty:    string(ic.Difficulty),
		SessionType:   string(ic.SessionType),
		MaxQuestions:  ic.MaxQuestions,
		Answered:      len(turns),
		Remaining:     max(ic.MaxQuestions-len(turns), 0),
		Opening:       len(turns) == 0,
		VivaQuestions: ic.VivaQuestions,
	}
	for _, wa := range ic.WrittenAnswers {
		data.WrittenAnswers = append(data.WrittenAnswers, model.WrittenAnswer{
			Question: wa.Question,
			Answer:   sanitizeAnswer(wa.Answer),
		})
	}
	for i, t := range turns {
		data.Turns = append(data.Turns, TurnData{
			Number:   i + 1,
			Question: t.Question,
			Answer:   sanitizeAnswer(t.Transcript),
		})
	}
	return data
}

// BuildSystemPrompt renders the interviewer instructions for a variant.
func BuildSystemPrompt(variant PromptVariant, data InterviewData) (string, error) {
	if systemTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := systemTemplates[variant]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	return execute(tmpl, data)
}

// BuildInterviewPrompt renders the assignment, written work, and transcript
// history the interviewer decides on.
func BuildInterviewPrompt(data InterviewData) (string, error) {
	if interviewTemplate == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	return execute(interviewTemplate, data)
}

// NewPracticeData collects template data for practice questions.
func NewPracticeData(ic model.InterviewContext, difficulty model.Difficulty, count int) PracticeData {
	return PracticeData{
		Title:       ic.Title,
		Description: ic.Description,
		Topic:       ic.Topic,
		Concept:     ic.Concept,
		Difficulty:  string(difficulty),
		Count:       count,
	}
}

// BuildPracticePrompt renders the instructions for generating practice
// questions.
func BuildPracticePrompt(data PracticeData) (string, error) {
	if practiceTemplate == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	return execute(practiceTemplate, data)
}

func execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > 10000 {
		runes := []rune(answer)
		runes = runes[:10000]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
