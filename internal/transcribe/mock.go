package transcribe

import (
	"context"
	"io"
	"sync"

	"github.com/pavelanni/viva/internal/model"
)

// MockResult is a canned transcription result.
type MockResult struct {
	Text string
	Err  error
}

// Mock is a deterministic Transcriber for tests. It returns canned results
// in FIFO order and ErrUnavailable once they run out.
type Mock struct {
	mu      sync.Mutex
	results []MockResult
	calls   int
}

// NewMock creates a Mock with the given canned results.
func NewMock(results ...MockResult) *Mock {
	return &Mock{results: results}
}

func (m *Mock) Transcribe(_ context.Context, a Audio) (*model.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if a.Reader != nil {
		_, _ = io.Copy(io.Discard, a.Reader)
	}
	if len(m.results) == 0 {
		return nil, ErrUnavailable
	}
	r := m.results[0]
	m.results = m.results[1:]
	if r.Err != nil {
		return nil, r.Err
	}
	return &model.Transcript{Text: r.Text}, nil
}

// Add appends a canned result to the queue.
func (m *Mock) Add(r MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
}

// CallCount returns the number of Transcribe calls made.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
