package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

const sessionColumns = `id, assignment_id, student_id, submission_id, session_type, status, max_questions,
	pending_question, aggregate_score, feedback, teacher_score, teacher_comment, reviewed_by, reviewed_at,
	created_at, started_at, completed_at`

func scanSession(row interface{ Scan(...any) error }) (*model.VivaSession, error) {
	var v model.VivaSession
	err := row.Scan(&v.ID, &v.AssignmentID, &v.StudentID, &v.SubmissionID, &v.Type, &v.Status, &v.MaxQuestions,
		&v.PendingQuestion, &v.AggregateScore, &v.Feedback, &v.TeacherScore, &v.TeacherComment, &v.ReviewedBy,
		&v.ReviewedAt, &v.CreatedAt, &v.StartedAt, &v.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// StartVivaSession creates a session in not_started and moves it to
// in_progress with its first pending question, in one transaction.
func (s *Store) StartVivaSession(v model.VivaSession) (int64, error) {
	if !model.CanTransition(model.StatusNotStarted, model.StatusInProgress) {
		return 0, &model.TransitionError{From: model.StatusNotStarted, To: model.StatusInProgress}
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.Exec(
		`INSERT INTO viva_sessions (assignment_id, student_id, submission_id, session_type, status, max_questions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.AssignmentID, v.StudentID, v.SubmissionID, v.Type, model.StatusNotStarted, v.MaxQuestions, now,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	res, err = tx.Exec(
		`UPDATE viva_sessions SET status = ?, pending_question = ?, started_at = ? WHERE id = ? AND status = ?`,
		model.StatusInProgress, v.PendingQuestion, now, id, model.StatusNotStarted,
	)
	if err != nil {
		return 0, err
	}
	if err := expectOneRow(res); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// GetVivaSession returns a session with its answers in interview order, or
// nil if there is none.
func (s *Store) GetVivaSession(id int64) (*model.VivaSession, error) {
	v, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM viva_sessions WHERE id = ?`, id))
	if err != nil || v == nil {
		return v, err
	}
	if v.Answers, err = s.GetQuestionAnswers(id); err != nil {
		return nil, err
	}
	return v, nil
}

// ListVivaSessions returns sessions matching the filter, newest first,
// without their answers.
func (s *Store) ListVivaSessions(f model.SessionFilter) ([]model.VivaSession, error) {
	var where []string
	var args []any
	if f.StudentID != 0 {
		where = append(where, `student_id = ?`)
		args = append(args, f.StudentID)
	}
	if f.TeacherID != 0 {
		where = append(where, `assignment_id IN (SELECT id FROM assignments WHERE teacher_id = ?)`)
		args = append(args, f.TeacherID)
	}
	if f.AssignmentID != 0 {
		where = append(where, `assignment_id = ?`)
		args = append(args, f.AssignmentID)
	}
	if f.Type != "" {
		where = append(where, `session_type = ?`)
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, f.Status)
	}
	query := `SELECT ` + sessionColumns + ` FROM viva_sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.VivaSession
	for rows.Next() {
		v, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// GetQuestionAnswers returns the answers of a session ordered by seq.
func (s *Store) GetQuestionAnswers(sessionID int64) ([]model.QuestionAnswer, error) {
	rows, err := s.db.Query(
		`SELECT `+answerColumns+` FROM question_answers WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	answers := []model.QuestionAnswer{}
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, *a)
	}
	return answers, rows.Err()
}

// ClaimTurn marks a turn as in flight. It fails with ErrConflict when the
// session is not in progress or another turn already holds the claim.
func (s *Store) ClaimTurn(sessionID int64) error {
	res, err := s.db.Exec(
		`UPDATE viva_sessions SET turn_in_flight = 1 WHERE id = ? AND status = ? AND turn_in_flight = 0`,
		sessionID, model.StatusInProgress,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// ReleaseTurn drops the in-flight claim without changing anything else.
func (s *Store) ReleaseTurn(sessionID int64) error {
	_, err := s.db.Exec(`UPDATE viva_sessions SET turn_in_flight = 0 WHERE id = ?`, sessionID)
	return err
}

// ResetTurnClaims clears claims left behind by a crashed process.
func (s *Store) ResetTurnClaims() (int64, error) {
	res, err := s.db.Exec(`UPDATE viva_sessions SET turn_in_flight = 0 WHERE turn_in_flight = 1`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Completion carries the final result of an interview.
type Completion struct {
	Scores    []float64 // one per answer, seq order, including the new one
	Aggregate float64
	Feedback  string
}

// TurnRecord is everything persisted for one consumed turn.
type TurnRecord struct {
	SessionID    int64
	Answer       model.QuestionAnswer
	Asset        *model.MediaAsset
	NextQuestion string
	Completion   *Completion
}

// RecordTurn appends an answer, stores its media asset, and either sets the
// next pending question or completes the session. Completion stores the
// final per-answer scores without touching the scores given turn by turn. The turn claim is released
// in the same transaction. The answer's seq must equal the current answer
// count so that seq values stay contiguous.
func (s *Store) RecordTurn(rec TurnRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM question_answers WHERE session_id = ?`, rec.SessionID).Scan(&count); err != nil {
		return err
	}
	if rec.Answer.Seq != count {
		return fmt.Errorf("answer seq %d does not follow %d existing answers: %w", rec.Answer.Seq, count, ErrConflict)
	}

	now := time.Now()
	res, err := tx.Exec(
		`INSERT INTO question_answers (session_id, seq, question, media_asset_id, transcript, score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Answer.Seq, rec.Answer.Question, rec.Answer.MediaAssetID, rec.Answer.Transcript,
		rec.Answer.Score, now,
	)
	if err != nil {
		return err
	}
	answerID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if rec.Asset != nil {
		asset := *rec.Asset
		asset.OwnerType = model.OwnerQuestionAnswer
		asset.OwnerID = answerID
		if err := insertMediaAsset(tx, asset); err != nil {
			return fmt.Errorf("insert media asset: %w", err)
		}
	}

	if rec.Completion == nil {
		res, err = tx.Exec(
			`UPDATE viva_sessions SET pending_question = ?, turn_in_flight = 0 WHERE id = ? AND status = ?`,
			rec.NextQuestion, rec.SessionID, model.StatusInProgress,
		)
		if err != nil {
			return err
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
		return tx.Commit()
	}

	c := rec.Completion
	if len(c.Scores) != count+1 {
		return fmt.Errorf("completion has %d scores for %d answers", len(c.Scores), count+1)
	}
	// The per-turn score stays as recorded; the final judgment goes next to it.
	for seq, score := range c.Scores {
		if _, err := tx.Exec(
			`UPDATE question_answers SET final_score = ? WHERE session_id = ? AND seq = ?`,
			score, rec.SessionID, seq,
		); err != nil {
			return err
		}
	}
	res, err = tx.Exec(
		`UPDATE viva_sessions SET status = ?, pending_question = '', turn_in_flight = 0,
			aggregate_score = ?, feedback = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		model.StatusCompleted, c.Aggregate, c.Feedback, now, rec.SessionID, model.StatusInProgress,
	)
	if err != nil {
		return err
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// AbandonVivaSession moves an in-progress session with no turn in flight to abandoned.
func (s *Store) AbandonVivaSession(sessionID int64) error {
	res, err := s.db.Exec(
		`UPDATE viva_sessions SET status = ?, pending_question = '', completed_at = ?
		 WHERE id = ? AND status = ? AND turn_in_flight = 0`,
		model.StatusAbandoned, time.Now(), sessionID, model.StatusInProgress,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// SetSessionOverride stores a teacher's score next to the AI aggregate of a
// completed session.
func (s *Store) SetSessionOverride(sessionID, teacherID int64, score float64, comment string) error {
	res, err := s.db.Exec(
		`UPDATE viva_sessions SET teacher_score = ?, teacher_comment = ?, reviewed_by = ?, reviewed_at = ?
		 WHERE id = ? AND status = ?`,
		score, comment, teacherID, time.Now(), sessionID, model.StatusCompleted,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// SetAnswerOverride stores a teacher's score for one answer of a completed session.
func (s *Store) SetAnswerOverride(sessionID int64, seq int, score float64, comment string) error {
	res, err := s.db.Exec(
		`UPDATE question_answers SET teacher_score = ?, teacher_comment = ?
		 WHERE session_id = ? AND seq = ?
		   AND session_id IN (SELECT id FROM viva_sessions WHERE status = ?)`,
		score, comment, sessionID, seq, model.StatusCompleted,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// GetQuestionAnswer returns one answer by ID, or nil if there is none.
func (s *Store) GetQuestionAnswer(id int64) (*model.QuestionAnswer, error) {
	a, err := scanAnswer(s.db.QueryRow(`SELECT `+answerColumns+` FROM question_answers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

const answerColumns = `id, session_id, seq, question, media_asset_id, transcript, score, final_score,
	teacher_score, teacher_comment, created_at`

func scanAnswer(row interface{ Scan(...any) error }) (*model.QuestionAnswer, error) {
	var a model.QuestionAnswer
	if err := row.Scan(&a.ID, &a.SessionID, &a.Seq, &a.Question, &a.MediaAssetID, &a.Transcript,
		&a.Score, &a.FinalScore, &a.TeacherScore, &a.TeacherComment, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
