// Package media stores recorded answers and their transcripts on disk.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/viva/internal/model"
)

var (
	// ErrUnsupportedFormat is returned for formats outside the allow-list.
	ErrUnsupportedFormat = errors.New("unsupported media format")
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("media file too large")
	// ErrEmpty is returned for an upload with no content.
	ErrEmpty = errors.New("empty media file")
	// ErrNoTranscript is returned when an asset was never transcribed.
	ErrNoTranscript = errors.New("media has no transcript")
)

const (
	dirAudio       = "audio"
	dirVideo       = "video"
	dirTranscripts = "transcripts"
)

type formatInfo struct {
	dir  string
	mime string
}

var formats = map[string]formatInfo{
	"mp3":  {dirAudio, "audio/mpeg"},
	"wav":  {dirAudio, "audio/wav"},
	"m4a":  {dirAudio, "audio/mp4"},
	"ogg":  {dirAudio, "audio/ogg"},
	"mp4":  {dirVideo, "video/mp4"},
	"webm": {dirVideo, "video/webm"},
	"avi":  {dirVideo, "video/x-msvideo"},
}

// Supported reports whether format is on the allow-list.
func Supported(format string) bool {
	_, ok := formats[strings.ToLower(format)]
	return ok
}

// FormatFromFilename returns the lowercased extension of name without the dot.
func FormatFromFilename(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Config configures a Store.
type Config struct {
	Root        string
	MaxSizeMB   int
	FFprobePath string // empty disables duration probing
}

// Store keeps media files under a root directory, one subdirectory per kind.
type Store struct {
	root     string
	maxBytes int64
	ffprobe  string
}

// New creates the media root and its subdirectories.
func New(cfg Config) (*Store, error) {
	for _, dir := range []string{dirAudio, dirVideo, dirTranscripts} {
		if err := os.MkdirAll(filepath.Join(cfg.Root, dir), 0o750); err != nil {
			return nil, fmt.Errorf("create media dir: %w", err)
		}
	}
	maxMB := cfg.MaxSizeMB
	if maxMB <= 0 {
		maxMB = 100
	}
	return &Store{
		root:     cfg.Root,
		maxBytes: int64(maxMB) << 20,
		ffprobe:  cfg.FFprobePath,
	}, nil
}

// MaxBytes returns the per-file size limit.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Save writes r to a new file and returns the asset describing it. The
// asset has no owner yet. On any error nothing is left on disk.
func (s *Store) Save(ctx context.Context, r io.Reader, format string) (*model.MediaAsset, error) {
	format = strings.ToLower(format)
	info, ok := formats[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	id := uuid.NewString()
	rel := filepath.Join(info.dir, id+"."+format)
	full := filepath.Join(s.root, rel)

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create media file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > s.maxBytes {
		err = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	if err == nil && n == 0 {
		err = ErrEmpty
	}
	if err != nil {
		os.Remove(full)
		return nil, err
	}

	asset := &model.MediaAsset{
		ID:        id,
		Path:      rel,
		Format:    format,
		MimeType:  info.mime,
		SizeBytes: n,
		Checksum:  hex.EncodeToString(h.Sum(nil)),
		CreatedAt: time.Now(),
	}
	if s.ffprobe != "" {
		d, err := s.probeDuration(ctx, full)
		if err != nil {
			slog.Warn("ffprobe failed", "path", rel, "error", err)
		} else {
			asset.DurationSeconds = d
		}
	}

	slog.Info("saved media", "id", id, "format", format, "size", n)
	return asset, nil
}

// Open opens a stored file for reading.
func (s *Store) Open(a *model.MediaAsset) (*os.File, error) {
	full, err := s.resolve(a.Path)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Delete removes an asset's file and its transcript. Missing files are not
// an error.
func (s *Store) Delete(a *model.MediaAsset) error {
	var errs []error
	for _, p := range []string{a.Path, a.TranscriptPath} {
		if p == "" {
			continue
		}
		full, err := s.resolve(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AttachTranscript writes the transcript next to the media and records its
// path on the asset.
func (s *Store) AttachTranscript(a *model.MediaAsset, t *model.Transcript) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	rel := filepath.Join(dirTranscripts, a.ID+".json")
	if err := os.WriteFile(filepath.Join(s.root, rel), data, 0o640); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	a.TranscriptPath = rel
	return nil
}

// ReadTranscript loads the transcript written by AttachTranscript.
func (s *Store) ReadTranscript(a *model.MediaAsset) (*model.Transcript, error) {
	if a.TranscriptPath == "" {
		return nil, ErrNoTranscript
	}
	full, err := s.resolve(a.TranscriptPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoTranscript
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	var t model.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return &t, nil
}

// resolve turns a stored relative path into a path under the root.
func (s *Store) resolve(rel string) (string, error) {
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("media path %q escapes the media root", rel)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *Store) probeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, s.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}
