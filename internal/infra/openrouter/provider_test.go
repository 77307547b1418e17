package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompleteSendsPromptAndReturnsContent(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "m",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  {\"question\": \"Q?\"}  "}}]
		}`))
	}))
	defer server.Close()

	p := New(Config{APIKey: "test-key", BaseURL: server.URL, HTTPClient: server.Client()})
	text, err := p.Complete(context.Background(), "mistralai/mistral-7b-instruct:free", "webdev", "easy")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != `{"question": "Q?"}` {
		t.Fatalf("unexpected content %q", text)
	}
	if got.Model != "mistralai/mistral-7b-instruct:free" || got.MaxTokens != 200 || got.Temperature != 0.7 {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || !strings.Contains(got.Messages[0].Content, "MCQ) on webdev") {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestCompleteReturnsErrorOnServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := New(Config{APIKey: "k", BaseURL: server.URL, HTTPClient: server.Client()})
	if _, err := p.Complete(context.Background(), "m", "general", "medium"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCompleteHonoursCancelledContext(t *testing.T) {
	p := New(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1", RequestsPerMinute: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Complete(ctx, "m", "general", "medium"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
