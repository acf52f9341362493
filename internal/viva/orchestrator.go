// Package viva runs oral interviews: it sequences the question generator and
// the transcriber, persists every turn, and scores completed sessions.
package viva

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
	"github.com/pavelanni/viva/internal/transcribe"
)

// QuestionGenerator decides the next step of an interview. With no turns it
// returns the opening question. Practice writes self-study questions.
type QuestionGenerator interface {
	Next(ctx context.Context, ic model.InterviewContext, turns []model.Turn) (*model.TurnDecision, error)
	Practice(ctx context.Context, ic model.InterviewContext, difficulty model.Difficulty, count int) ([]model.PracticeQuestion, error)
}

// MediaStore keeps answer recordings.
type MediaStore interface {
	Save(ctx context.Context, r io.Reader, format string) (*model.MediaAsset, error)
	Open(a *model.MediaAsset) (*os.File, error)
	Delete(a *model.MediaAsset) error
	AttachTranscript(a *model.MediaAsset, t *model.Transcript) error
	ReadTranscript(a *model.MediaAsset) (*model.Transcript, error)
}

// Orchestrator owns the lifecycle of viva sessions.
type Orchestrator struct {
	store        *store.Store
	media        MediaStore
	transcriber  transcribe.Transcriber
	questions    QuestionGenerator
	maxQuestions int
}

// New creates an Orchestrator. maxQuestions is the interview length used
// when an assignment does not set its own.
func New(st *store.Store, media MediaStore, t transcribe.Transcriber, q QuestionGenerator, maxQuestions int) *Orchestrator {
	if maxQuestions <= 0 {
		maxQuestions = 5
	}
	return &Orchestrator{
		store:        st,
		media:        media,
		transcriber:  t,
		questions:    q,
		maxQuestions: maxQuestions,
	}
}

// StartRequest identifies who is interviewed about what.
type StartRequest struct {
	AssignmentID int64
	StudentID    int64
	Type         model.SessionType
}

// StartResult is a freshly started session and its first question.
type StartResult struct {
	SessionID    int64  `json:"session_id"`
	Question     string `json:"question"`
	MaxQuestions int    `json:"max_questions"`
}

// Start asks the question generator for the opening question and, only if
// that succeeds, creates an in-progress session holding it.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	a, err := o.store.GetAssignment(req.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("assignment %d: %w", req.AssignmentID, ErrNotFound)
	}
	if len(a.VivaQuestions) == 0 {
		return nil, fmt.Errorf("assignment %d has no viva questions: %w", req.AssignmentID, ErrNotFound)
	}
	if !a.Active {
		return nil, fmt.Errorf("assignment %d is closed: %w", req.AssignmentID, ErrInvalidState)
	}

	if req.Type == "" {
		req.Type = model.SessionFinal
	}
	switch req.Type {
	case model.SessionFinal:
	case model.SessionMock:
		if !a.AllowMockViva {
			return nil, fmt.Errorf("mock sessions are disabled for assignment %d: %w", req.AssignmentID, ErrInvalidState)
		}
	default:
		return nil, fmt.Errorf("session type %q: %w", req.Type, ErrInvalidInput)
	}

	maxQuestions := o.maxQuestions
	if a.MaxVivaQuestions > 0 {
		maxQuestions = a.MaxVivaQuestions
	}

	sub, err := o.store.LatestSubmission(a.ID, req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}

	ic := interviewContext(a, sub, req.Type, maxQuestions)
	ic.WrittenAnswers = append(ic.WrittenAnswers, o.recordedExplanations(sub)...)
	d, err := o.questions.Next(ctx, ic, nil)
	if err != nil {
		return nil, collaboratorError(ctx, "question generation", err)
	}

	sess := model.VivaSession{
		AssignmentID:    a.ID,
		StudentID:       req.StudentID,
		Type:            req.Type,
		MaxQuestions:    maxQuestions,
		PendingQuestion: d.NextQuestion,
	}
	if sub != nil {
		sess.SubmissionID = &sub.ID
	}
	id, err := o.store.StartVivaSession(sess)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	slog.Info("viva session started",
		"session_id", id,
		"assignment_id", a.ID,
		"student_id", req.StudentID,
		"type", req.Type,
		"max_questions", maxQuestions,
	)
	return &StartResult{SessionID: id, Question: d.NextQuestion, MaxQuestions: maxQuestions}, nil
}

// Answer is one recorded response to the pending question.
type Answer struct {
	Reader io.Reader
	Format string
}

// TurnResult is the outcome of a consumed turn.
type TurnResult struct {
	SessionID      int64    `json:"session_id"`
	Seq            int      `json:"seq"`
	Transcript     string   `json:"transcript"`
	Completed      bool     `json:"completed"`
	NextQuestion   string   `json:"next_question,omitempty"`
	AggregateScore *float64 `json:"aggregate_score,omitempty"`
	Feedback       string   `json:"feedback,omitempty"`
}

// Respond consumes one turn: it stores the recording, transcribes it, and
// asks the question generator whether to continue. If a collaborator fails
// the session is left exactly as it was and the call may be repeated.
func (o *Orchestrator) Respond(ctx context.Context, sessionID int64, ans Answer) (*TurnResult, error) {
	if err := o.store.ClaimTurn(sessionID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, o.claimError(sessionID)
		}
		return nil, fmt.Errorf("claim turn: %w", err)
	}
	consumed := false
	defer func() {
		if consumed {
			return
		}
		if err := o.store.ReleaseTurn(sessionID); err != nil {
			slog.Error("failed to release turn", "session_id", sessionID, "error", err)
		}
	}()

	sess, err := o.store.GetVivaSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	a, err := o.store.GetAssignment(sess.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("assignment %d: %w", sess.AssignmentID, ErrNotFound)
	}
	var sub *model.Submission
	if sess.SubmissionID != nil {
		if sub, err = o.store.GetSubmission(*sess.SubmissionID); err != nil {
			return nil, fmt.Errorf("get submission: %w", err)
		}
	}

	asset, err := o.media.Save(ctx, ans.Reader, ans.Format)
	if err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}
	asset.UploadedBy = sess.StudentID
	keep := false
	defer func() {
		if keep {
			return
		}
		if err := o.media.Delete(asset); err != nil {
			slog.Error("failed to delete unused media", "id", asset.ID, "error", err)
		}
	}()

	transcript, err := o.transcribe(ctx, asset)
	if err != nil {
		return nil, err
	}
	if err := o.media.AttachTranscript(asset, transcript); err != nil {
		return nil, fmt.Errorf("attach transcript: %w", err)
	}

	seq := len(sess.Answers)
	turns := append(sess.Turns(), model.Turn{
		Seq:        seq,
		Question:   sess.PendingQuestion,
		Transcript: transcript.Text,
	})

	ic := interviewContext(a, sub, sess.Type, sess.MaxQuestions)
	ic.WrittenAnswers = append(ic.WrittenAnswers, o.recordedExplanations(sub)...)
	d, err := o.questions.Next(llm.WithSession(ctx, sessionID), ic, turns)
	if err != nil {
		return nil, collaboratorError(ctx, "question generation", err)
	}
	if d.Score == nil {
		return nil, &CollaboratorError{Name: "question generation", Err: errors.New("no score for the answer")}
	}
	if d.Final && len(d.PerQuestionScores) != len(turns) {
		return nil, &CollaboratorError{
			Name: "question generation",
			Err:  fmt.Errorf("%d final scores for %d answers", len(d.PerQuestionScores), len(turns)),
		}
	}

	rec := store.TurnRecord{
		SessionID: sessionID,
		Answer: model.QuestionAnswer{
			Seq:          seq,
			Question:     sess.PendingQuestion,
			MediaAssetID: asset.ID,
			Transcript:   transcript.Text,
			Score:        d.Score,
		},
		Asset: asset,
	}
	result := &TurnResult{SessionID: sessionID, Seq: seq, Transcript: transcript.Text}

	limitReached := len(turns) >= sess.MaxQuestions
	if d.Final || limitReached {
		scores := d.PerQuestionScores
		if !d.Final {
			if scores, err = turnScores(sess.Answers, *d.Score); err != nil {
				return nil, err
			}
		}
		agg := Aggregate(scores)
		rec.Completion = &store.Completion{Scores: scores, Aggregate: agg, Feedback: d.Feedback}
		result.Completed = true
		result.AggregateScore = &agg
		result.Feedback = d.Feedback
	} else {
		rec.NextQuestion = d.NextQuestion
		result.NextQuestion = d.NextQuestion
	}

	if err := o.store.RecordTurn(rec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("record turn: %w", ErrInvalidState)
		}
		return nil, fmt.Errorf("record turn: %w", err)
	}
	consumed = true
	keep = true

	if result.Completed {
		slog.Info("viva session completed", "session_id", sessionID, "answers", len(turns), "aggregate", *result.AggregateScore)
	} else {
		slog.Info("viva turn recorded", "session_id", sessionID, "seq", seq)
	}
	return result, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, asset *model.MediaAsset) (*model.Transcript, error) {
	f, err := o.media.Open(asset)
	if err != nil {
		return nil, fmt.Errorf("open answer: %w", err)
	}
	defer f.Close()

	t, err := o.transcriber.Transcribe(ctx, transcribe.Audio{
		Reader:   f,
		Filename: filepath.Base(asset.Path),
		Format:   asset.Format,
	})
	if err != nil {
		return nil, collaboratorError(ctx, "transcription", err)
	}
	if t == nil {
		// Silence.
		t = &model.Transcript{}
	}
	return t, nil
}

// claimError explains why a turn could not be claimed.
func (o *Orchestrator) claimError(sessionID int64) error {
	sess, err := o.store.GetVivaSession(sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	if sess.Status != model.StatusInProgress {
		return fmt.Errorf("session %d is %s: %w", sessionID, sess.Status, ErrInvalidState)
	}
	return fmt.Errorf("session %d already has an answer in progress: %w", sessionID, ErrInvalidState)
}

// turnScores collects the per-turn scores when the question limit ends an
// interview the generator did not finish itself.
func turnScores(answers []model.QuestionAnswer, latest float64) ([]float64, error) {
	scores := make([]float64, 0, len(answers)+1)
	for _, a := range answers {
		if a.Score == nil {
			return nil, fmt.Errorf("answer %d has no score", a.Seq)
		}
		scores = append(scores, *a.Score)
	}
	return append(scores, latest), nil
}

func collaboratorError(ctx context.Context, name string, err error) error {
	// The caller went away; nothing to report to them.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Warn("collaborator failed", "collaborator", name, "error", err)
	return &CollaboratorError{Name: name, Err: err}
}

// Abandon ends an in-progress session without a score. It fails while a
// turn is in flight.
func (o *Orchestrator) Abandon(ctx context.Context, sessionID int64) error {
	sess, err := o.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !model.CanTransition(sess.Status, model.StatusAbandoned) {
		return fmt.Errorf("%w: %w", ErrInvalidState, &model.TransitionError{From: sess.Status, To: model.StatusAbandoned})
	}
	if err := o.store.AbandonVivaSession(sessionID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("session %d has an answer in progress: %w", sessionID, ErrInvalidState)
		}
		return fmt.Errorf("abandon session: %w", err)
	}
	slog.Info("viva session abandoned", "session_id", sessionID)
	return nil
}

// Override stores a teacher's score for a completed session next to the AI
// aggregate.
func (o *Orchestrator) Override(ctx context.Context, sessionID, teacherID int64, score float64, comment string) error {
	if !ValidScore(score) {
		return fmt.Errorf("score %v must be between 0 and 100: %w", score, ErrInvalidInput)
	}
	sess, err := o.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != model.StatusCompleted {
		return fmt.Errorf("session %d is %s: %w", sessionID, sess.Status, ErrInvalidState)
	}
	if err := o.store.SetSessionOverride(sessionID, teacherID, score, comment); err != nil {
		return fmt.Errorf("override session: %w", err)
	}
	slog.Info("viva score overridden", "session_id", sessionID, "teacher_id", teacherID, "score", score)
	return nil
}

// OverrideAnswer stores a teacher's score for one answer of a completed session.
func (o *Orchestrator) OverrideAnswer(ctx context.Context, sessionID int64, seq int, score float64, comment string) error {
	if !ValidScore(score) {
		return fmt.Errorf("score %v must be between 0 and 100: %w", score, ErrInvalidInput)
	}
	sess, err := o.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != model.StatusCompleted {
		return fmt.Errorf("session %d is %s: %w", sessionID, sess.Status, ErrInvalidState)
	}
	if seq < 0 || seq >= len(sess.Answers) {
		return fmt.Errorf("answer %d of session %d: %w", seq, sessionID, ErrNotFound)
	}
	if err := o.store.SetAnswerOverride(sessionID, seq, score, comment); err != nil {
		return fmt.Errorf("override answer: %w", err)
	}
	return nil
}

// Get returns a session with its answers.
func (o *Orchestrator) Get(_ context.Context, sessionID int64) (*model.VivaSession, error) {
	sess, err := o.store.GetVivaSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	return sess, nil
}

// List returns sessions matching the filter without their answers.
func (o *Orchestrator) List(_ context.Context, f model.SessionFilter) ([]model.VivaSession, error) {
	return o.store.ListVivaSessions(f)
}

// interviewContext gathers what the question generator knows about the
// assignment and the student's written work.
func interviewContext(a *model.Assignment, sub *model.Submission, t model.SessionType, maxQuestions int) model.InterviewContext {
	ic := model.InterviewContext{
		Title:         a.Title,
		Description:   a.Description,
		Topic:         a.Topic,
		Concept:       a.Concept,
		Difficulty:    a.Difficulty,
		SessionType:   t,
		MaxQuestions:  maxQuestions,
		VivaQuestions: a.VivaQuestions,
	}
	if sub == nil {
		return ic
	}
	questions := make(map[int64]string, len(a.Questions))
	for _, q := range a.Questions {
		questions[q.ID] = q.Text
	}
	for _, ans := range sub.Answers {
		ic.WrittenAnswers = append(ic.WrittenAnswers, model.WrittenAnswer{
			Question: questions[ans.QuestionID],
			Answer:   ans.Text,
		})
	}
	return ic
}
