package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/viva/internal/model"
)

type recorderFunc func(model.LLMCall) error

func (f recorderFunc) InsertLLMCall(c model.LLMCall) error { return f(c) }

func TestLoggingProvider_RecordsCalls(t *testing.T) {
	var calls []model.LLMCall
	rec := recorderFunc(func(c model.LLMCall) error {
		calls = append(calls, c)
		return nil
	})
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"ok":true}`), Usage: Usage{InputTokens: 7, OutputTokens: 3}},
		MockResponse{Err: &ErrProviderUnavailable{Err: errors.New("down")}},
	)
	p := WithLogging(mock, rec)

	ctx := WithSession(WithPurpose(context.Background(), PurposeInterview), 42)
	req := Request{System: "sys", Messages: []Message{{Role: RoleUser, Content: "hello"}}}
	if _, err := p.Generate(ctx, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Generate(ctx, req); err == nil {
		t.Fatal("expected error on second call")
	}

	if len(calls) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(calls))
	}
	first := calls[0]
	if !first.Success || first.InputTokens != 7 || first.Purpose != PurposeInterview {
		t.Errorf("unexpected first call: %+v", first)
	}
	if first.SessionID == nil || *first.SessionID != 42 {
		t.Errorf("expected session 42, got %v", first.SessionID)
	}
	if !strings.Contains(first.Request, "[system]\nsys") || !strings.Contains(first.Request, "[user]\nhello") {
		t.Errorf("unexpected serialized request: %q", first.Request)
	}
	if calls[1].Success || calls[1].Error == "" {
		t.Errorf("expected failed call with error, got %+v", calls[1])
	}
}

func TestLoggingProvider_RecorderFailureIgnored(t *testing.T) {
	rec := recorderFunc(func(model.LLMCall) error { return errors.New("disk full") })
	p := WithLogging(NewMockProvider(MockResponse{Content: json.RawMessage(`{}`)}), rec)

	if _, err := p.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("recorder failure must not fail the call: %v", err)
	}
}

func TestPurposeDefaults(t *testing.T) {
	if got := PurposeFrom(context.Background()); got != "unknown" {
		t.Errorf("expected unknown, got %q", got)
	}
	if SessionFrom(context.Background()) != nil {
		t.Error("expected nil session")
	}
}
