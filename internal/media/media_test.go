package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/viva/internal/model"
)

func newTestStore(t *testing.T, maxMB int) *Store {
	t.Helper()
	s, err := New(Config{Root: t.TempDir(), MaxSizeMB: maxMB})
	require.NoError(t, err)
	return s
}

func TestSaveAndOpen(t *testing.T) {
	s := newTestStore(t, 1)

	a, err := s.Save(context.Background(), strings.NewReader("answer audio"), "WEBM")
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("answer audio"))
	assert.Equal(t, hex.EncodeToString(sum[:]), a.Checksum)
	assert.Equal(t, "webm", a.Format)
	assert.Equal(t, "video/webm", a.MimeType)
	assert.Equal(t, int64(12), a.SizeBytes)
	assert.Equal(t, filepath.Join("video", a.ID+".webm"), a.Path)

	f, err := s.Open(a)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "answer audio", string(data))
}

func TestSaveRejects(t *testing.T) {
	s := newTestStore(t, 1)

	_, err := s.Save(context.Background(), strings.NewReader("x"), "exe")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	big := strings.NewReader(strings.Repeat("a", (1<<20)+1))
	_, err = s.Save(context.Background(), big, "mp3")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = s.Save(context.Background(), strings.NewReader(""), "mp3")
	assert.ErrorIs(t, err, ErrEmpty)

	entries, err := os.ReadDir(filepath.Join(s.root, dirAudio))
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads must not leave files behind")
}

func TestTranscriptAndDelete(t *testing.T) {
	s := newTestStore(t, 1)

	a, err := s.Save(context.Background(), strings.NewReader("audio"), "wav")
	require.NoError(t, err)
	_, err = s.ReadTranscript(a)
	assert.ErrorIs(t, err, ErrNoTranscript)

	require.NoError(t, s.AttachTranscript(a, &model.Transcript{Text: "hello", Segments: []model.TranscriptSegment{{End: 1, Text: "hello"}}}))
	assert.Equal(t, filepath.Join("transcripts", a.ID+".json"), a.TranscriptPath)

	data, err := os.ReadFile(filepath.Join(s.root, a.TranscriptPath))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"text": "hello"`)

	tr, err := s.ReadTranscript(a)
	require.NoError(t, err)
	assert.Equal(t, "hello", tr.Text)
	require.Len(t, tr.Segments, 1)

	require.NoError(t, s.Delete(a))
	_, err = os.Stat(filepath.Join(s.root, a.Path))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.root, a.TranscriptPath))
	assert.True(t, os.IsNotExist(err))

	// Deleting again is fine.
	assert.NoError(t, s.Delete(a))
	_, err = s.ReadTranscript(a)
	assert.ErrorIs(t, err, ErrNoTranscript)
}

func TestOpenRejectsEscapingPath(t *testing.T) {
	s := newTestStore(t, 1)
	_, err := s.Open(&model.MediaAsset{Path: "../etc/passwd"})
	assert.Error(t, err)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "m4a", FormatFromFilename("Answer.M4A"))
	assert.Equal(t, "", FormatFromFilename("noext"))
	assert.True(t, Supported("MP4"))
	assert.False(t, Supported("flac"))
}
