package store

import (
	"time"
)

// RevokeToken records a token ID as logged out until it would have expired anyway.
func (s *Store) RevokeToken(tokenID string, userID int64, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO revoked_tokens (id, user_id, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		tokenID, userID, expiresAt,
	)
	return err
}

// IsTokenRevoked reports whether the token ID has been revoked.
func (s *Store) IsTokenRevoked(tokenID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM revoked_tokens WHERE id = ?`, tokenID).Scan(&count)
	return count > 0, err
}

// CleanupRevokedTokens removes revocations for tokens that have expired.
func (s *Store) CleanupRevokedTokens() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM revoked_tokens WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
