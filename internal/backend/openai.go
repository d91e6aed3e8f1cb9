package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/redstone-dev/redstone/internal/agents"
)

// OpenAI-compatible chat completion endpoints per provider.
var openAIEndpoints = map[agents.Provider]string{
	agents.ProviderOpenAI:     "https://api.openai.com/v1",
	agents.ProviderOpenRouter: "https://openrouter.ai/api/v1",
	agents.ProviderGoogle:     "https://generativelanguage.googleapis.com/v1beta/openai",
}

// OpenAIEndpoint returns the default base URL for an OpenAI-compatible provider.
func OpenAIEndpoint(p agents.Provider) string {
	return openAIEndpoints[p]
}

// OpenAIAdapter calls an OpenAI-compatible /chat/completions endpoint.
type OpenAIAdapter struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewOpenAIAdapter creates an adapter; cfg.APIKey is required and
// cfg.BaseURL defaults to the OpenAI API.
func NewOpenAIAdapter(cfg Config) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key not configured")
	}
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = openAIEndpoints[agents.ProviderOpenAI]
	}
	return &OpenAIAdapter{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   newHTTPClient(cfg.Timeout),
	}, nil
}

// Send implements Backend. The system prompt becomes the first message.
func (a *OpenAIAdapter) Send(ctx context.Context, req Request) (Response, error) {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
	}

	body := openAIRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	headers := map[string]string{"Authorization": "Bearer " + a.apiKey}

	var oaiResp openAIResponse
	if err := postJSON(ctx, a.client, string(req.Provider), a.endpoint+"/chat/completions", headers, body, &oaiResp); err != nil {
		return Response{}, err
	}
	if len(oaiResp.Choices) == 0 {
		return Response{}, fmt.Errorf("%s: response has no choices", req.Provider)
	}

	return Response{
		Content:      oaiResp.Choices[0].Message.Content,
		Model:        oaiResp.Model,
		StopReason:   oaiResp.Choices[0].FinishReason,
		InputTokens:  oaiResp.Usage.PromptTokens,
		OutputTokens: oaiResp.Usage.CompletionTokens,
	}, nil
}

// Close releases idle connections.
func (a *OpenAIAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
