package model

import (
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle state of a viva session.
type SessionStatus string

const (
	StatusNotStarted SessionStatus = "not_started"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusAbandoned  SessionStatus = "abandoned"
)

// transitions lists every allowed forward move. Anything absent is rejected.
var transitions = map[SessionStatus][]SessionStatus{
	StatusNotStarted: {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusAbandoned},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From SessionStatus
	To   SessionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move session from %s to %s", e.From, e.To)
}

// SessionType distinguishes practice interviews from graded ones.
type SessionType string

const (
	SessionMock  SessionType = "mock"
	SessionFinal SessionType = "final"
)

// VivaSession is one oral interview of a student about an assignment.
type VivaSession struct {
	ID              int64            `json:"id"`
	AssignmentID    int64            `json:"assignment_id"`
	StudentID       int64            `json:"student_id"`
	SubmissionID    *int64           `json:"submission_id,omitempty"`
	Type            SessionType      `json:"session_type"`
	Status          SessionStatus    `json:"status"`
	MaxQuestions    int              `json:"max_questions"`
	PendingQuestion string           `json:"pending_question,omitempty"`
	Answers         []QuestionAnswer `json:"answers"`
	AggregateScore  *float64         `json:"aggregate_score,omitempty"`
	Feedback        string           `json:"feedback,omitempty"`
	TeacherScore    *float64         `json:"teacher_score,omitempty"`
	TeacherComment  string           `json:"teacher_comment,omitempty"`
	ReviewedBy      *int64           `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// VisibleScore is the score shown to the student: the teacher override when
// present, otherwise the AI aggregate.
func (s *VivaSession) VisibleScore() *float64 {
	if s.TeacherScore != nil {
		return s.TeacherScore
	}
	return s.AggregateScore
}

// Turns returns the answered history in interview order.
func (s *VivaSession) Turns() []Turn {
	turns := make([]Turn, 0, len(s.Answers))
	for _, a := range s.Answers {
		turns = append(turns, Turn{Seq: a.Seq, Question: a.Question, Transcript: a.Transcript})
	}
	return turns
}

// QuestionAnswer is one turn of the interview.
type QuestionAnswer struct {
	ID             int64     `json:"id"`
	SessionID      int64     `json:"session_id"`
	Seq            int       `json:"seq"`
	Question       string    `json:"question"`
	MediaAssetID   string    `json:"media_asset_id,omitempty"`
	Transcript     string    `json:"transcript"`
	Score          *float64  `json:"score,omitempty"`
	FinalScore     *float64  `json:"final_score,omitempty"` // set on completion; Score is never rewritten
	TeacherScore   *float64  `json:"teacher_score,omitempty"`
	TeacherComment string    `json:"teacher_comment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MediaOwner names the kind of record a media asset belongs to.
type MediaOwner string

const (
	OwnerQuestionAnswer MediaOwner = "question_answer"
	OwnerSubmission     MediaOwner = "submission"
)

// MediaAsset is a stored audio or video file.
type MediaAsset struct {
	ID              string     `json:"id"`
	OwnerType       MediaOwner `json:"owner_type"`
	OwnerID         int64      `json:"owner_id"`
	UploadedBy      int64      `json:"uploaded_by"`
	Path            string     `json:"path"`
	Format          string     `json:"format"`
	MimeType        string     `json:"mime_type"`
	SizeBytes       int64      `json:"size_bytes"`
	DurationSeconds float64    `json:"duration_seconds"`
	Checksum        string     `json:"checksum"`
	TranscriptPath  string     `json:"transcript_path,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SessionFilter narrows session listings. Zero values mean no filtering.
type SessionFilter struct {
	StudentID    int64
	TeacherID    int64
	AssignmentID int64
	Type         SessionType
	Status       SessionStatus
}
