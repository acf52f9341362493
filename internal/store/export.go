package store

import (
	"fmt"

	"github.com/pavelanni/viva/internal/model"
)

// ExportAllSessions builds export-ready student results from all sessions.
func (s *Store) ExportAllSessions() ([]model.StudentResult, error) {
	sessions, err := s.ListVivaSessions(model.SessionFilter{})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	// Sessions come newest first; number them per student oldest first.
	studentSessionCount := make(map[int64]int)
	numbers := make([]int, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- {
		studentSessionCount[sessions[i].StudentID]++
		numbers[i] = studentSessionCount[sessions[i].StudentID]
	}

	titles := make(map[int64]string)
	var results []model.StudentResult
	for i, sess := range sessions {
		full, err := s.GetVivaSession(sess.ID)
		if err != nil {
			return nil, fmt.Errorf("get session %d: %w", sess.ID, err)
		}

		user, err := s.GetUserByID(sess.StudentID)
		if err != nil {
			return nil, fmt.Errorf("get user %d: %w", sess.StudentID, err)
		}
		var externalID, displayName string
		if user != nil {
			externalID = user.ExternalID
			displayName = user.DisplayName
		}

		title, ok := titles[sess.AssignmentID]
		if !ok {
			a, err := s.GetAssignment(sess.AssignmentID)
			if err != nil {
				return nil, fmt.Errorf("get assignment %d: %w", sess.AssignmentID, err)
			}
			if a != nil {
				title = a.Title
			}
			titles[sess.AssignmentID] = title
		}

		var turns []model.TurnResult
		for _, a := range full.Answers {
			turns = append(turns, model.TurnResult{
				Seq:          a.Seq,
				Question:     a.Question,
				Transcript:   a.Transcript,
				Score:        a.Score,
				FinalScore:   a.FinalScore,
				TeacherScore: a.TeacherScore,
			})
		}

		results = append(results, model.StudentResult{
			ExternalID:     externalID,
			DisplayName:    displayName,
			Assignment:     title,
			SessionNumber:  numbers[i],
			SessionType:    full.Type,
			Status:         full.Status,
			StartedAt:      full.StartedAt,
			CompletedAt:    full.CompletedAt,
			Turns:          turns,
			AggregateScore: full.AggregateScore,
			TeacherScore:   full.TeacherScore,
			Feedback:       full.Feedback,
		})
	}

	return results, nil
}
