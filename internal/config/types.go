package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the top-level server configuration.
type Config struct {
	Server       ServerConfig              `json:"server"`
	Database     DatabaseConfig            `json:"database"`
	Workspace    WorkspaceConfig           `json:"workspace"`
	Auth         AuthConfig                `json:"auth"`
	Log          LogConfig                 `json:"log"`
	Telemetry    TelemetryConfig           `json:"telemetry"`
	Providers    map[string]ProviderConfig `json:"providers"` // keyed by provider id: anthropic, openai, ...
	Agents       map[string]AgentConfig    `json:"agents"`    // keyed by agent type
	Orchestrator OrchestratorConfig        `json:"orchestrator"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr         string   `json:"addr"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
	IdleTimeout  Duration `json:"idle_timeout"`
	CORSOrigins  []string `json:"cors_origins,omitempty"`
}

type DatabaseConfig struct {
	Path string `json:"path"` // SQLite file; ":memory:" keeps everything in process
}

type WorkspaceConfig struct {
	Root        string `json:"root"` // parent of cloned working copies
	GitHubToken string `json:"github_token,omitempty"`
	AuthorName  string `json:"author_name,omitempty"`
	AuthorEmail string `json:"author_email,omitempty"`
}

// AuthConfig controls bearer token verification. With Required off, requests
// without a token run as an anonymous free-tier user.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret,omitempty"`
	Required  bool   `json:"required"`
}

type LogConfig struct {
	Level  string `json:"level"`  // zerolog level name
	Format string `json:"format"` // "console" or "json"
}

type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"` // tracing is off when empty
	ServiceName  string `json:"service_name"`
	Insecure     bool   `json:"insecure"`
}

// ProviderConfig defines how one model provider is reached.
// Multiple agents share one provider.
type ProviderConfig struct {
	Type    string   `json:"type"` // backend type: "anthropic", "openai", "cli", "echo"
	BaseURL string   `json:"base_url,omitempty"`
	APIKey  string   `json:"api_key,omitempty"`
	Timeout Duration `json:"timeout,omitempty"`
	Command string   `json:"command,omitempty"` // cli only
	Args    []string `json:"args,omitempty"`    // cli only
}

// AgentConfig overrides the model built-in stacks use for an agent type.
type AgentConfig struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// OrchestratorConfig tunes turn execution.
type OrchestratorConfig struct {
	Concurrency     int         `json:"concurrency"`
	ChunkWords      int         `json:"chunk_words"`
	HistoryMessages int         `json:"history_messages"`
	Backend         string      `json:"backend"` // "auto" uses configured providers, "echo" or "cli" route every agent there
	Retry           RetryConfig `json:"retry"`
}

type RetryConfig struct {
	InitialInterval Duration `json:"initial_interval"`
	MaxInterval     Duration `json:"max_interval"`
	MaxElapsedTime  Duration `json:"max_elapsed_time"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value) * time.Second
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}
