package model

import "time"

// Difficulty represents an assignment or viva question difficulty level.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Assignment is a piece of written work with visible questions and hidden
// viva questions that seed the oral interview.
type Assignment struct {
	ID               int64                `json:"id"`
	TeacherID        int64                `json:"teacher_id"`
	Title            string               `json:"title"`
	Description      string               `json:"description"`
	Instructions     string               `json:"instructions,omitempty"`
	Topic            string               `json:"topic,omitempty"`
	Concept          string               `json:"concept,omitempty"`
	Difficulty       Difficulty           `json:"difficulty"`
	AllowMockViva    bool                 `json:"allow_mock_viva"`
	MaxVivaQuestions int                  `json:"max_viva_questions"` // 0 means the server default
	TimeLimitMinutes int                  `json:"time_limit_minutes,omitempty"`
	DueDate          *time.Time           `json:"due_date,omitempty"`
	Active           bool                 `json:"active"`
	CreatedAt        time.Time            `json:"created_at"`
	Questions        []AssignmentQuestion `json:"questions"`
	VivaQuestions    []VivaQuestion       `json:"viva_questions,omitempty"`
}

// AssignmentQuestion is a question shown to students in the written part.
type AssignmentQuestion struct {
	ID           int64  `json:"id"`
	AssignmentID int64  `json:"assignment_id"`
	Seq          int    `json:"seq"`
	Text         string `json:"text"`
	Points       int    `json:"points"`
	Required     bool   `json:"required"`
}

// VivaQuestion is a hidden question that guides the interviewer.
type VivaQuestion struct {
	ID               int64      `json:"id"`
	AssignmentID     int64      `json:"assignment_id"`
	Text             string     `json:"text"`
	Category         string     `json:"category,omitempty"`
	Difficulty       Difficulty `json:"difficulty"`
	ExpectedKeywords []string   `json:"expected_keywords,omitempty"`
	Rubric           string     `json:"rubric,omitempty"`
	Priority         int        `json:"priority"`
}

// SubmissionStatus is the state of a written submission.
type SubmissionStatus string

const (
	SubmissionDraft     SubmissionStatus = "draft"
	SubmissionSubmitted SubmissionStatus = "submitted"
)

// Submission is a student's written work for an assignment.
type Submission struct {
	ID           int64              `json:"id"`
	AssignmentID int64              `json:"assignment_id"`
	StudentID    int64              `json:"student_id"`
	Status       SubmissionStatus   `json:"status"`
	Answers      []SubmissionAnswer `json:"answers"`
	CreatedAt    time.Time          `json:"created_at"`
	SubmittedAt  *time.Time         `json:"submitted_at,omitempty"`
	Media        []MediaAsset       `json:"media,omitempty"`
}

// SubmissionFilter narrows submission listings. Zero values mean no filtering.
type SubmissionFilter struct {
	AssignmentID int64
	StudentID    int64
	TeacherID    int64
}

// SubmissionAnswer is the answer to one visible assignment question.
type SubmissionAnswer struct {
	QuestionID int64  `json:"question_id"`
	Text       string `json:"text"`
}

// AssignmentImport is used for loading assignments from JSON.
type AssignmentImport struct {
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Instructions     string         `json:"instructions"`
	Topic            string         `json:"topic"`
	Concept          string         `json:"concept"`
	Difficulty       Difficulty     `json:"difficulty"`
	AllowMockViva    bool           `json:"allow_mock_viva"`
	MaxVivaQuestions int            `json:"max_viva_questions"`
	Questions        []string       `json:"questions"`
	VivaQuestions    []VivaQuestion `json:"viva_questions"`
}
