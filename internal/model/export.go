package model

import "time"

// VivaExport is the top-level JSON structure for viva result export.
type VivaExport struct {
	ExportedAt    time.Time       `json:"exported_at"`
	PromptVariant string          `json:"prompt_variant"`
	Results       []StudentResult `json:"results"`
}

// StudentResult holds one student's viva session data for export.
type StudentResult struct {
	ExternalID     string        `json:"external_id"`
	DisplayName    string        `json:"display_name"`
	Assignment     string        `json:"assignment"`
	SessionNumber  int           `json:"session_number"`
	SessionType    SessionType   `json:"session_type"`
	Status         SessionStatus `json:"status"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Turns          []TurnResult  `json:"turns"`
	AggregateScore *float64      `json:"aggregate_score,omitempty"`
	TeacherScore   *float64      `json:"teacher_score,omitempty"`
	Feedback       string        `json:"feedback,omitempty"`
}

// TurnResult holds per-turn data for export.
type TurnResult struct {
	Seq          int      `json:"seq"`
	Question     string   `json:"question"`
	Transcript   string   `json:"transcript"`
	Score        *float64 `json:"score,omitempty"`
	FinalScore   *float64 `json:"final_score,omitempty"`
	TeacherScore *float64 `json:"teacher_score,omitempty"`
}
