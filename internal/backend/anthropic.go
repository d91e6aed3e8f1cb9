package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	anthropicEndpoint = "https://api.anthropic.com"
	anthropicVersion  = "2023-06-01"
)

// AnthropicAdapter calls the Anthropic Messages API.
type AnthropicAdapter struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewAnthropicAdapter creates an adapter; cfg.APIKey is required.
func NewAnthropicAdapter(cfg Config) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key not configured")
	}
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = anthropicEndpoint
	}
	return &AnthropicAdapter{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   newHTTPClient(cfg.Timeout),
	}, nil
}

// Send implements Backend.
func (a *AnthropicAdapter) Send(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body := anthropicRequest{
		Model:       req.Model,
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var anthResp anthropicResponse
	if err := postJSON(ctx, a.client, "anthropic", a.endpoint+"/v1/messages", headers, body, &anthResp); err != nil {
		return Response{}, err
	}

	var content strings.Builder
	for _, c := range anthResp.Content {
		if c.Type == "text" {
			content.WriteString(c.Text)
		}
	}

	return Response{
		Content:      content.String(),
		Model:        anthResp.Model,
		StopReason:   anthResp.StopReason,
		InputTokens:  anthResp.Usage.InputTokens,
		OutputTokens: anthResp.Usage.OutputTokens,
	}, nil
}

// Close releases idle connections.
func (a *AnthropicAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
