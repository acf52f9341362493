package store

import (
	"database/sql"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

const mediaColumns = `id, owner_type, owner_id, uploaded_by, path, format, mime_type, size_bytes,
	duration_seconds, checksum, transcript_path, created_at`

func insertMediaAsset(e execer, m model.MediaAsset) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := e.Exec(
		`INSERT INTO media_assets (`+mediaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OwnerType, m.OwnerID, m.UploadedBy, m.Path, m.Format, m.MimeType, m.SizeBytes,
		m.DurationSeconds, m.Checksum, m.TranscriptPath, m.CreatedAt,
	)
	return err
}

func scanMediaAsset(row interface{ Scan(...any) error }) (*model.MediaAsset, error) {
	var m model.MediaAsset
	err := row.Scan(&m.ID, &m.OwnerType, &m.OwnerID, &m.UploadedBy, &m.Path, &m.Format, &m.MimeType,
		&m.SizeBytes, &m.DurationSeconds, &m.Checksum, &m.TranscriptPath, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMediaAsset records a stored media file.
func (s *Store) InsertMediaAsset(m model.MediaAsset) error {
	return insertMediaAsset(s.db, m)
}

// GetMediaAsset returns a media asset by ID, or nil if there is none.
func (s *Store) GetMediaAsset(id string) (*model.MediaAsset, error) {
	return scanMediaAsset(s.db.QueryRow(`SELECT `+mediaColumns+` FROM media_assets WHERE id = ?`, id))
}

// ListMediaAssets returns the assets owned by one record.
func (s *Store) ListMediaAssets(owner model.MediaOwner, ownerID int64) ([]model.MediaAsset, error) {
	rows, err := s.db.Query(
		`SELECT `+mediaColumns+` FROM media_assets WHERE owner_type = ? AND owner_id = ? ORDER BY created_at`,
		owner, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.MediaAsset
	for rows.Next() {
		m, err := scanMediaAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DeleteMediaAsset removes the asset record. The caller deletes the file.
func (s *Store) DeleteMediaAsset(id string) error {
	res, err := s.db.Exec(`DELETE FROM media_assets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}
