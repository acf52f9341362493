package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/viva/internal/model"
)

// ErrAlreadyImported is returned when the same assignments file content was
// imported before under the same name.
var ErrAlreadyImported = errors.New("store: file already imported")

// ImportAssignments parses a JSON array of assignments and stores them for
// the given teacher. The file hash is recorded under name so an identical
// file is not imported twice.
func (s *Store) ImportAssignments(name string, data []byte, teacherID int64) (int, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	stored, err := s.GetImportedFileHash(name)
	if err != nil {
		return 0, fmt.Errorf("check import status: %w", err)
	}
	if stored == hash {
		return 0, ErrAlreadyImported
	}
	if stored != "" {
		slog.Warn("assignments file changed since last import, importing as new assignments", "name", name)
	}

	var imports []model.AssignmentImport
	if err := json.Unmarshal(data, &imports); err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}

	for i, ai := range imports {
		if ai.Title == "" {
			return i, fmt.Errorf("assignment %d in %s has no title", i, name)
		}
		a := model.Assignment{
			TeacherID:        teacherID,
			Title:            ai.Title,
			Description:      ai.Description,
			Instructions:     ai.Instructions,
			Topic:            ai.Topic,
			Concept:          ai.Concept,
			Difficulty:       ai.Difficulty,
			AllowMockViva:    ai.AllowMockViva,
			MaxVivaQuestions: ai.MaxVivaQuestions,
			VivaQuestions:    ai.VivaQuestions,
		}
		for _, q := range ai.Questions {
			a.Questions = append(a.Questions, model.AssignmentQuestion{Text: q})
		}
		if _, err := s.CreateAssignment(a); err != nil {
			return i, fmt.Errorf("insert assignment %q: %w", ai.Title, err)
		}
	}

	if err := s.SetImportedFileHash(name, hash); err != nil {
		return len(imports), fmt.Errorf("record import: %w", err)
	}
	slog.Info("imported assignments", "name", name, "count", len(imports), "teacher_id", teacherID)
	return len(imports), nil
}
