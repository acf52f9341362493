package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/retry"
)

func newTestWhisper(t *testing.T, handler http.HandlerFunc) *Whisper {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	w, err := NewWhisper(Config{APIKey: "test-key", BaseURL: server.URL + "/v1", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return w
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}
}

func TestWhisper_VerboseJSON(t *testing.T) {
	var gotPath, gotFile, gotFormat string
	w := newTestWhisper(t, func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFormat = r.FormValue("response_format")
		if f, hdr, err := r.FormFile("file"); err == nil {
			gotFile = hdr.Filename
			f.Close()
		}
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(map[string]any{
			"task":     "transcribe",
			"language": "english",
			"duration": 4.2,
			"text":     " Goroutines have small growable stacks. ",
			"segments": []map[string]any{
				{"id": 0, "start": 0.0, "end": 2.0, "text": " Goroutines have", "avg_logprob": -0.1},
				{"id": 1, "start": 2.0, "end": 4.2, "text": " small growable stacks.", "avg_logprob": -0.3},
			},
		})
	})

	tr, err := w.Transcribe(context.Background(), Audio{
		Reader:   strings.NewReader("fake audio"),
		Filename: "answer.webm",
		Format:   "webm",
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/audio/transcriptions", gotPath)
	assert.Equal(t, "answer.webm", gotFile)
	assert.Equal(t, "verbose_json", gotFormat)
	assert.Equal(t, "Goroutines have small growable stacks.", tr.Text)
	assert.Equal(t, "english", tr.Language)
	assert.InDelta(t, 4.2, tr.Duration, 1e-9)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, "small growable stacks.", tr.Segments[1].Text)
	assert.InDelta(t, 0.8187, tr.Confidence, 1e-3)
}

func TestWhisper_Silence(t *testing.T) {
	w := newTestWhisper(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(map[string]any{"text": "", "segments": []any{}})
	})

	tr, err := w.Transcribe(context.Background(), Audio{Reader: strings.NewReader("x"), Filename: "a.wav"})
	require.NoError(t, err)
	assert.Equal(t, "", tr.Text)
	assert.Zero(t, tr.Confidence)
}

func TestWhisper_ServerError(t *testing.T) {
	w := newTestWhisper(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(rw).Encode(map[string]any{"error": map[string]any{"message": "overloaded"}})
	})

	_, err := w.Transcribe(context.Background(), Audio{Reader: strings.NewReader("x"), Filename: "a.wav"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewWhisper_RequiresKeyOrURL(t *testing.T) {
	_, err := NewWhisper(Config{})
	assert.Error(t, err)
}

type countingTranscriber struct {
	fail  int
	calls int
	reads []string
}

func (c *countingTranscriber) Transcribe(_ context.Context, a Audio) (*model.Transcript, error) {
	c.calls++
	b, _ := io.ReadAll(a.Reader)
	c.reads = append(c.reads, string(b))
	if c.calls <= c.fail {
		return nil, ErrUnavailable
	}
	return &model.Transcript{Text: string(b)}, nil
}

func TestRetrying_RereadsAudio(t *testing.T) {
	inner := &countingTranscriber{fail: 1}
	tr, err := WithRetry(inner, fastRetry()).Transcribe(context.Background(), Audio{Reader: bytes.NewReader([]byte("audio"))})
	require.NoError(t, err)
	assert.Equal(t, "audio", tr.Text)
	assert.Equal(t, []string{"audio", "audio"}, inner.reads)
}

func TestRetrying_GivesUp(t *testing.T) {
	inner := &countingTranscriber{fail: 5}
	_, err := WithRetry(inner, fastRetry()).Transcribe(context.Background(), Audio{Reader: bytes.NewReader([]byte("audio"))})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, inner.calls)
}

func TestRetrying_UnseekableNotRetried(t *testing.T) {
	inner := &countingTranscriber{fail: 1}
	_, err := WithRetry(inner, fastRetry()).Transcribe(context.Background(), Audio{Reader: io.NopCloser(strings.NewReader("audio"))})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, inner.calls)
}

func TestRetrying_SlowAttemptRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(map[string]any{"text": "second time lucky"})
	}))
	t.Cleanup(server.Close)

	w, err := NewWhisper(Config{APIKey: "test-key", BaseURL: server.URL + "/v1", Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	tr, err := WithRetry(w, fastRetry()).Transcribe(context.Background(), Audio{
		Reader:   bytes.NewReader([]byte("audio")),
		Filename: "answer.wav",
	})
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", tr.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetrying_CallerDeadlineNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	w, err := NewWhisper(Config{APIKey: "test-key", BaseURL: server.URL + "/v1", Timeout: 5 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = WithRetry(w, fastRetry()).Transcribe(ctx, Audio{Reader: bytes.NewReader([]byte("audio")), Filename: "a.wav"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMock(t *testing.T) {
	m := NewMock(MockResult{Text: "hello"}, MockResult{Err: errors.New("boom")})

	tr, err := m.Transcribe(context.Background(), Audio{})
	require.NoError(t, err)
	assert.Equal(t, "hello", tr.Text)

	_, err = m.Transcribe(context.Background(), Audio{})
	assert.EqualError(t, err, "boom")

	_, err = m.Transcribe(context.Background(), Audio{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, m.CallCount())
}
