package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/redstone-dev/redstone/internal/agents"
)

// TestFactory verifies New returns the adapter matching cfg.Type
func TestFactory(t *testing.T) {
	pm := NewProcessManager()
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{cfg: Config{Type: "anthropic", APIKey: "k"}},
		{cfg: Config{Type: "openai", APIKey: "k"}},
		{cfg: Config{Type: "cli", WorkDir: t.TempDir()}},
		{cfg: Config{Type: "echo"}},
		{cfg: Config{Type: "anthropic"}, wantErr: true},
		{cfg: Config{Type: "openai"}, wantErr: true},
		{cfg: Config{Type: "unknown"}, wantErr: true},
	}
	for _, tt := range tests {
		b, err := New(tt.cfg, pm)
		if tt.wantErr {
			if err == nil {
				t.Errorf("New(%+v): expected error", tt.cfg)
			}
			continue
		}
		if err != nil || b == nil {
			t.Errorf("New(%+v): %v", tt.cfg, err)
		}
	}
}

func TestAnthropicAdapter_Send(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "secret" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"model":"claude-x","stop_reason":"end_turn","content":[{"type":"text","text":"Hello "},{"type":"text","text":"world"}],"usage":{"input_tokens":12,"output_tokens":3}}`))
	}))
	defer srv.Close()

	a, err := NewAnthropicAdapter(Config{APIKey: "secret", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := a.Send(context.Background(), Request{
		Provider:    agents.ProviderAnthropic,
		Model:       "claude-x",
		System:      "be brief",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Content != "Hello world" || resp.InputTokens != 12 || resp.OutputTokens != 3 || resp.StopReason != "end_turn" {
		t.Errorf("unexpected response %+v", resp)
	}
	if got.System != "be brief" || got.MaxTokens != 4096 || got.Temperature != 0.3 || len(got.Messages) != 1 {
		t.Errorf("unexpected request body %+v", got)
	}
}

func TestOpenAIAdapter_Send(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("unexpected request %s %v", r.URL.Path, r.Header)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"model":"gpt-4o","choices":[{"message":{"content":"done"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":1}}`))
	}))
	defer srv.Close()

	a, err := NewOpenAIAdapter(Config{APIKey: "secret", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := a.Send(context.Background(), Request{
		Provider:  agents.ProviderOpenRouter,
		Model:     "gpt-4o",
		System:    "sys",
		Messages:  []Message{{Role: "user", Content: "hi"}},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Content != "done" || resp.InputTokens != 5 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.MaxTokens != 100 {
		t.Errorf("unexpected request body %+v", got)
	}
}

func TestAPIError(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	a, _ := NewAnthropicAdapter(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := a.Send(context.Background(), Request{Model: "m", Messages: []Message{{Role: "user", Content: "x"}}})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != 429 || apiErr.Message != "slow down" || !apiErr.Temporary() {
		t.Errorf("unexpected APIError %+v", apiErr)
	}

	status.Store(http.StatusBadRequest)
	_, err = a.Send(context.Background(), Request{Model: "m"})
	if !errors.As(err, &apiErr) || apiErr.Temporary() {
		t.Errorf("400 should not be temporary: %v", err)
	}
}

func TestRouter(t *testing.T) {
	var calls []agents.Provider
	record := func(name string) Func {
		return func(ctx context.Context, req Request) (Response, error) {
			calls = append(calls, req.Provider)
			return Response{Content: name}, nil
		}
	}

	r := NewRouter(nil)
	r.Register(agents.ProviderOpenAI, record("openai"))

	resp, err := r.Send(context.Background(), Request{Provider: agents.ProviderOpenAI})
	if err != nil || resp.Content != "openai" {
		t.Fatalf("routed send: %+v %v", resp, err)
	}
	if _, err := r.Send(context.Background(), Request{Provider: agents.ProviderGoogle}); !errors.Is(err, ErrNoBackend) {
		t.Errorf("expected ErrNoBackend, got %v", err)
	}

	r = NewRouter(record("fallback"))
	resp, err = r.Send(context.Background(), Request{Provider: agents.ProviderGoogle})
	if err != nil || resp.Content != "fallback" {
		t.Errorf("fallback send: %+v %v", resp, err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestEcho(t *testing.T) {
	resp, err := Echo().Send(context.Background(), Request{
		Model:    "m",
		Messages: []Message{{Role: "user", Content: "first"}, {Role: "assistant", Content: "x"}, {Role: "user", Content: "second"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "[m] second" {
		t.Errorf("Content = %q", resp.Content)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Echo().Send(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
