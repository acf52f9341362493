package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

const assignmentColumns = `id, teacher_id, title, description, instructions, topic, concept, difficulty,
	allow_mock_viva, max_viva_questions, time_limit_minutes, due_date, active, created_at`

func scanAssignment(row interface{ Scan(...any) error }) (*model.Assignment, error) {
	var a model.Assignment
	err := row.Scan(&a.ID, &a.TeacherID, &a.Title, &a.Description, &a.Instructions, &a.Topic, &a.Concept,
		&a.Difficulty, &a.AllowMockViva, &a.MaxVivaQuestions, &a.TimeLimitMinutes, &a.DueDate, &a.Active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAssignment stores an assignment together with its visible and viva questions.
func (s *Store) CreateAssignment(a model.Assignment) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if a.Difficulty == "" {
		a.Difficulty = model.DifficultyIntermediate
	}
	res, err := tx.Exec(
		`INSERT INTO assignments (teacher_id, title, description, instructions, topic, concept, difficulty,
			allow_mock_viva, max_viva_questions, time_limit_minutes, due_date, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TeacherID, a.Title, a.Description, a.Instructions, a.Topic, a.Concept, a.Difficulty,
		a.AllowMockViva, a.MaxVivaQuestions, a.TimeLimitMinutes, a.DueDate, true, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, q := range a.Questions {
		points := q.Points
		if points == 0 {
			points = 10
		}
		if _, err := tx.Exec(
			`INSERT INTO assignment_questions (assignment_id, seq, text, points, required) VALUES (?, ?, ?, ?, ?)`,
			id, i, q.Text, points, q.Required,
		); err != nil {
			return 0, fmt.Errorf("insert question %d: %w", i, err)
		}
	}

	for i, vq := range a.VivaQuestions {
		keywords, err := json.Marshal(vq.ExpectedKeywords)
		if err != nil {
			return 0, err
		}
		if vq.Difficulty == "" {
			vq.Difficulty = a.Difficulty
		}
		if vq.Priority == 0 {
			vq.Priority = 1
		}
		if _, err := tx.Exec(
			`INSERT INTO viva_questions (assignment_id, text, category, difficulty, expected_keywords, rubric, priority)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, vq.Text, vq.Category, vq.Difficulty, string(keywords), vq.Rubric, vq.Priority,
		); err != nil {
			return 0, fmt.Errorf("insert viva question %d: %w", i, err)
		}
	}

	return id, tx.Commit()
}

// GetAssignment returns an assignment with its questions, or nil if there is none.
func (s *Store) GetAssignment(id int64) (*model.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRow(`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id))
	if err != nil || a == nil {
		return a, err
	}
	if a.Questions, err = s.getAssignmentQuestions(id); err != nil {
		return nil, err
	}
	if a.VivaQuestions, err = s.GetVivaQuestions(id); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssignments returns assignments without their questions. A non-zero
// teacherID restricts the list to that teacher's assignments.
func (s *Store) ListAssignments(teacherID int64) ([]model.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments`
	var args []any
	if teacherID != 0 {
		query += ` WHERE teacher_id = ?`
		args = append(args, teacherID)
	}
	query += ` ORDER BY id DESC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SetAssignmentActive opens or closes an assignment for new sessions.
func (s *Store) SetAssignmentActive(id int64, active bool) error {
	res, err := s.db.Exec(`UPDATE assignments SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *Store) getAssignmentQuestions(assignmentID int64) ([]model.AssignmentQuestion, error) {
	rows, err := s.db.Query(
		`SELECT id, assignment_id, seq, text, points, required FROM assignment_questions
		 WHERE assignment_id = ? ORDER BY seq`, assignmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AssignmentQuestion
	for rows.Next() {
		var q model.AssignmentQuestion
		if err := rows.Scan(&q.ID, &q.AssignmentID, &q.Seq, &q.Text, &q.Points, &q.Required); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// GetVivaQuestions returns the hidden viva questions for an assignment,
// highest priority first.
func (s *Store) GetVivaQuestions(assignmentID int64) ([]model.VivaQuestion, error) {
	rows, err := s.db.Query(
		`SELECT id, assignment_id, text, category, difficulty, expected_keywords, rubric, priority
		 FROM viva_questions WHERE assignment_id = ? ORDER BY priority DESC, id`, assignmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.VivaQuestion
	for rows.Next() {
		var q model.VivaQuestion
		var keywords string
		if err := rows.Scan(&q.ID, &q.AssignmentID, &q.Text, &q.Category, &q.Difficulty, &keywords, &q.Rubric, &q.Priority); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywords), &q.ExpectedKeywords); err != nil {
			return nil, fmt.Errorf("decode keywords for viva question %d: %w", q.ID, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// AssignmentCount returns the number of assignments in the database.
func (s *Store) AssignmentCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM assignments`).Scan(&count)
	return count, err
}
