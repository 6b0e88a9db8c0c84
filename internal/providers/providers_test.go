package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/genai"
)

func init() {
	baseBackoff = time.Millisecond
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New("unknown", "model")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestNew_MissingKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	for _, p := range []string{"anthropic", "openai", "gemini", "google"} {
		if _, err := New(p, DefaultModel(p)); err == nil || errors.Is(err, ErrUnknownProvider) {
			t.Errorf("New(%q) err = %v, want missing key error", p, err)
		}
	}
}

func TestNew_Ollama(t *testing.T) {
	c, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("New(ollama) error: %v", err)
	}
	if c.Name() != "ollama" {
		t.Errorf("Name() = %q", c.Name())
	}
}

func TestOllamaEndpoint(t *testing.T) {
	tests := map[string]string{
		"":                                   "http://localhost:11434/v1/chat/completions",
		"localhost:1234":                     "http://localhost:1234/v1/chat/completions",
		"http://host:1/v1":                   "http://host:1/v1/chat/completions",
		"http://host:1/v1/chat/completions/": "http://host:1/v1/chat/completions",
	}
	for in, want := range tests {
		if got := ollamaEndpoint(in); got != want {
			t.Errorf("ollamaEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenAI_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Missing or wrong Authorization header")
		}
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Messages) != 4 || req.Messages[0].Role != "system" || req.Messages[2].Role != RoleAssistant {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "done"}}},
			Usage:   openaiUsage{TotalTokens: 50},
		})
	}))
	defer server.Close()

	o := &OpenAI{apiKey: "test-key", model: "gpt-4o", baseURL: server.URL, client: server.Client()}
	resp, err := o.Complete(context.Background(), Request{
		System: "sys",
		Messages: []Message{
			{Role: RoleUser, Content: "q1"},
			{Role: RoleAssistant, Content: "a1"},
			{Role: RoleUser, Content: "q2"},
		},
	})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if resp.Content != "done" || resp.TokensUsed != 50 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenAI_RetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch attempts.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
			return
		case 2:
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Content: "ok"}}},
		})
	}))
	defer server.Close()

	o := &OpenAI{apiKey: "k", model: "m", baseURL: server.URL, client: server.Client()}
	resp, err := o.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("Complete error after retries: %v", err)
	}
	if resp.Content != "ok" || attempts.Load() != 3 {
		t.Errorf("resp = %+v attempts = %d", resp, attempts.Load())
	}
}

func TestOpenAI_AuthErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	o := &OpenAI{apiKey: "k", model: "m", baseURL: server.URL, client: server.Client()}
	_, err := o.Complete(context.Background(), Request{})
	if !IsAuthError(err) {
		t.Errorf("err = %v, want auth error", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestAnthropic_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Error("Missing API key header")
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
			t.Errorf("messages = %v", body["messages"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"looks fine"}],
			"stop_reason":"end_turn","usage":{"input_tokens":100,"output_tokens":10}}`))
	}))
	defer server.Close()

	a := newAnthropic("test-key", "claude-test", option.WithBaseURL(server.URL))
	resp, err := a.Complete(context.Background(), Request{
		System: "sys",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
		MaxTokens: 10,
	})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if resp.Content != "looks fine" || resp.TokensUsed != 110 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAnthropic_AuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	a := newAnthropic("bad", "claude-test", option.WithBaseURL(server.URL))
	_, err := a.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if !IsAuthError(err) {
		t.Errorf("err = %v, want auth error", err)
	}
}

func TestGeminiContents_Roles(t *testing.T) {
	got := geminiContents([]Message{
		{Role: RoleUser, Content: "review this"},
		{Role: RoleAssistant, Content: "QUESTION: which tenant?"},
		{Role: RoleUser, Content: "acme"},
	})
	want := []genai.Role{genai.RoleUser, genai.RoleModel, genai.RoleUser}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, c := range got {
		if c.Role != string(want[i]) {
			t.Errorf("contents[%d].Role = %q, want %q", i, c.Role, want[i])
		}
		if len(c.Parts) != 1 || c.Parts[0].Text == "" {
			t.Errorf("contents[%d] has no text part", i)
		}
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryWithBackoff(ctx, 5, func() error {
		calls++
		cancel()
		return &rateLimitError{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestLimit(t *testing.T) {
	var calls atomic.Int32
	inner := CompleterFunc(func(context.Context, Request) (Response, error) {
		calls.Add(1)
		return Response{Content: "x"}, nil
	})
	if Limit(inner, 0, 0) == nil {
		t.Fatal("Limit with rps 0 should return the completer")
	}

	limited := Limit(inner, 1, 1)
	ctx := context.Background()
	if _, err := limited.Complete(ctx, Request{}); err != nil {
		t.Fatal(err)
	}
	// burst exhausted; the next call must wait about a second
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := limited.Complete(short, Request{}); err == nil {
		t.Error("expected rate limiter to reject call within deadline")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if limited.Name() != "func" {
		t.Errorf("Name() = %q", limited.Name())
	}
}
