// Package transcribe turns recorded answers into text.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/retry"
)

// ErrUnavailable is returned when the speech-to-text service cannot be reached
// or rejects the request.
var ErrUnavailable = errors.New("transcription service unavailable")

// Audio is one recorded answer.
type Audio struct {
	Reader   io.Reader
	Filename string // used by the service to detect the container format
	Format   string // mp3, wav, m4a, webm, mp4, ...
}

// Transcriber converts audio into a transcript. Silence yields an empty
// Text and no error.
type Transcriber interface {
	Transcribe(ctx context.Context, a Audio) (*model.Transcript, error)
}

// Config configures the Whisper transcriber.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string // ISO-639-1 hint, empty for auto-detect
	Timeout  time.Duration
}

// Whisper implements Transcriber with the OpenAI audio transcription API or
// any server speaking the same protocol.
type Whisper struct {
	client   *openai.Client
	model    string
	language string
	timeout  time.Duration
}

// NewWhisper creates a Whisper transcriber.
func NewWhisper(cfg Config) (*Whisper, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("transcription API key is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	m := cfg.Model
	if m == "" {
		m = openai.Whisper1
	}
	return &Whisper{
		client:   openai.NewClientWithConfig(config),
		model:    m,
		language: cfg.Language,
		timeout:  cfg.Timeout,
	}, nil
}

// Transcribe sends one request. The configured timeout applies to this call
// alone, so a Retrying wrapper gives each attempt a full budget.
func (w *Whisper) Transcribe(ctx context.Context, a Audio) (*model.Transcript, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: a.Filename,
		Reader:   a.Reader,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: w.language,
	})
	if err != nil {
		// Keep the cause visible so an expired attempt can be told apart
		// from a cancelled request.
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	t := &model.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
	}
	var logprob float64
	for _, s := range resp.Segments {
		t.Segments = append(t.Segments, model.TranscriptSegment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
		logprob += s.AvgLogprob
	}
	if n := len(resp.Segments); n > 0 {
		t.Confidence = math.Exp(logprob / float64(n))
	}

	slog.Debug("transcribed answer",
		"format", a.Format,
		"duration", t.Duration,
		"chars", len(t.Text),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return t, nil
}

// Retrying retries a Transcriber per cfg. The audio must be seekable so that
// a second attempt can re-read it from the start.
type Retrying struct {
	inner  Transcriber
	config retry.Config
}

// WithRetry wraps a Transcriber with retry logic.
func WithRetry(t Transcriber, cfg retry.Config) *Retrying {
	return &Retrying{inner: t, config: cfg}
}

func (r *Retrying) Transcribe(ctx context.Context, a Audio) (*model.Transcript, error) {
	seeker, _ := a.Reader.(io.Seeker)
	attempt := 0
	return retry.Do(ctx, r.config, nil, func(ctx context.Context) (*model.Transcript, error) {
		if attempt > 0 {
			if seeker == nil {
				return nil, &retry.Permanent{Err: fmt.Errorf("%w: audio cannot be re-read for retry", ErrUnavailable)}
			}
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, &retry.Permanent{Err: err}
			}
		}
		attempt++
		return r.inner.Transcribe(ctx, a)
	})
}
