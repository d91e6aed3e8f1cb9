package backend

import (
	"errors"
	"fmt"
	"time"

	"github.com/redstone-dev/redstone/internal/agents"
)

// ErrNoBackend is returned when no adapter is registered for a provider.
var ErrNoBackend = errors.New("no backend for provider")

// Message is one entry of the conversation sent to a model.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is a single agent invocation.
type Request struct {
	Provider    agents.Provider
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Prompt returns the content of the last user message.
func (r Request) Prompt() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Response is the text a model produced for a Request.
type Response struct {
	Content      string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Config defines the configuration for a backend.
type Config struct {
	Type    string // "anthropic", "openai", "cli" or "echo"
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// cli only
	Command string
	Args    []string
	WorkDir string
}

// APIError is a non-2xx answer from a provider API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}
