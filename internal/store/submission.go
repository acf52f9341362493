package store

import (
	"database/sql"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

// CreateSubmission stores a written submission and its answers. Submissions
// created with status submitted get submitted_at set.
func (s *Store) CreateSubmission(sub model.Submission) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if sub.Status == "" {
		sub.Status = model.SubmissionDraft
	}
	now := time.Now()
	var submittedAt *time.Time
	if sub.Status == model.SubmissionSubmitted {
		submittedAt = &now
	}
	res, err := tx.Exec(
		`INSERT INTO submissions (assignment_id, student_id, status, created_at, submitted_at) VALUES (?, ?, ?, ?, ?)`,
		sub.AssignmentID, sub.StudentID, sub.Status, now, submittedAt,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, a := range sub.Answers {
		if _, err := tx.Exec(
			`INSERT INTO submission_answers (submission_id, question_id, text) VALUES (?, ?, ?)`,
			id, a.QuestionID, a.Text,
		); err != nil {
			return 0, err
		}
	}
	return id, tx.Commit()
}

// MarkSubmitted moves a draft submission to submitted.
func (s *Store) MarkSubmitted(id int64) error {
	res, err := s.db.Exec(
		`UPDATE submissions SET status = ?, submitted_at = ? WHERE id = ? AND status = ?`,
		model.SubmissionSubmitted, time.Now(), id, model.SubmissionDraft,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// GetSubmission returns a submission with its answers, or nil if there is none.
func (s *Store) GetSubmission(id int64) (*model.Submission, error) {
	var sub model.Submission
	err := s.db.QueryRow(
		`SELECT id, assignment_id, student_id, status, created_at, submitted_at FROM submissions WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.AssignmentID, &sub.StudentID, &sub.Status, &sub.CreatedAt, &sub.SubmittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sub.Answers, err = s.getSubmissionAnswers(id); err != nil {
		return nil, err
	}
	return &sub, nil
}

// LatestSubmission returns the student's most recent submitted work for an
// assignment, or nil if there is none. Drafts are ignored.
func (s *Store) LatestSubmission(assignmentID, studentID int64) (*model.Submission, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM submissions WHERE assignment_id = ? AND student_id = ? AND status = ?
		 ORDER BY id DESC LIMIT 1`,
		assignmentID, studentID, model.SubmissionSubmitted,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetSubmission(id)
}

// UpdateSubmissionAnswers replaces the answers of a draft submission. It
// returns ErrConflict when the submission is missing or already submitted.
func (s *Store) UpdateSubmissionAnswers(id int64, answers []model.SubmissionAnswer) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status model.SubmissionStatus
	err = tx.QueryRow(`SELECT status FROM submissions WHERE id = ?`, id).Scan(&status)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == sql.ErrNoRows || status != model.SubmissionDraft {
		return ErrConflict
	}
	if _, err := tx.Exec(`DELETE FROM submission_answers WHERE submission_id = ?`, id); err != nil {
		return err
	}
	for _, a := range answers {
		if _, err := tx.Exec(
			`INSERT INTO submission_answers (submission_id, question_id, text) VALUES (?, ?, ?)`,
			id, a.QuestionID, a.Text,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListSubmissions returns matching submissions without answers, oldest first.
func (s *Store) ListSubmissions(f model.SubmissionFilter) ([]model.Submission, error) {
	q := `SELECT s.id, s.assignment_id, s.student_id, s.status, s.created_at, s.submitted_at
		FROM submissions s JOIN assignments a ON a.id = s.assignment_id WHERE 1 = 1`
	var args []any
	if f.AssignmentID != 0 {
		q += ` AND s.assignment_id = ?`
		args = append(args, f.AssignmentID)
	}
	if f.StudentID != 0 {
		q += ` AND s.student_id = ?`
		args = append(args, f.StudentID)
	}
	if f.TeacherID != 0 {
		q += ` AND a.teacher_id = ?`
		args = append(args, f.TeacherID)
	}
	rows, err := s.db.Query(q+` ORDER BY s.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.AssignmentID, &sub.StudentID, &sub.Status, &sub.CreatedAt, &sub.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) getSubmissionAnswers(submissionID int64) ([]model.SubmissionAnswer, error) {
	rows, err := s.db.Query(
		`SELECT question_id, text FROM submission_answers WHERE submission_id = ? ORDER BY id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SubmissionAnswer
	for rows.Next() {
		var a model.SubmissionAnswer
		if err := rows.Scan(&a.QuestionID, &a.Text); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
