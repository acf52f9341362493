package model

// InterviewContext is everything the question generator knows about the
// assignment and the student's written work.
type InterviewContext struct {
	Title          string
	Description    string
	Topic          string
	Concept        string
	Difficulty     Difficulty
	SessionType    SessionType
	MaxQuestions   int
	VivaQuestions  []VivaQuestion
	WrittenAnswers []WrittenAnswer
}

// WrittenAnswer pairs a visible question with the student's written answer.
type WrittenAnswer struct {
	Question string
	Answer   string
}

// Turn is one answered question as seen by the question generator.
type Turn struct {
	Seq        int
	Question   string
	Transcript string
}

// TurnDecision is the question generator's verdict after a turn.
type TurnDecision struct {
	// Final is set when the interviewer wants to stop.
	Final bool
	// NextQuestion is the question to ask next when Final is false.
	NextQuestion string
	// Score grades the latest answer, 0 to 100. Nil for the opening question.
	Score *float64
	// PerQuestionScores grades every answered turn when Final is set.
	PerQuestionScores []float64
	// Feedback summarises the whole interview when Final is set.
	Feedback string
}

// PracticeQuestion is a generated question for self-study before a viva.
// Practice questions are not stored.
type PracticeQuestion struct {
	Question          string   `json:"question"`
	ExpectedKeywords  []string `json:"expected_keywords"`
	FollowUpQuestions []string `json:"follow_up_questions"`
	ScoringCriteria   string   `json:"scoring_criteria"`
}

// Transcript is the output of the speech-to-text service.
type Transcript struct {
	Text       string              `json:"text"`
	Language   string              `json:"language,omitempty"`
	Duration   float64             `json:"duration,omitempty"`
	Confidence float64             `json:"confidence,omitempty"`
	Segments   []TranscriptSegment `json:"segments,omitempty"`
}

// TranscriptSegment is a timed fragment of a transcript.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
