package store

import (
	"time"

	"github.com/pavelanni/viva/internal/model"
)

// InsertLLMCall records one request to the question generation provider.
func (s *Store) InsertLLMCall(c model.LLMCall) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO llm_calls (session_id, purpose, model, latency_ms, input_tokens, output_tokens, success,
			request, response, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Purpose, c.Model, c.LatencyMs, c.InputTokens, c.OutputTokens, c.Success,
		c.Request, c.Response, c.Error, c.CreatedAt,
	)
	return err
}

// ListLLMCalls returns the recorded calls for a session in order.
func (s *Store) ListLLMCalls(sessionID int64) ([]model.LLMCall, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, purpose, model, latency_ms, input_tokens, output_tokens, success,
			request, response, error, created_at
		 FROM llm_calls WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LLMCall
	for rows.Next() {
		var c model.LLMCall
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Purpose, &c.Model, &c.LatencyMs, &c.InputTokens,
			&c.OutputTokens, &c.Success, &c.Request, &c.Response, &c.Error, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
