package config

import "time"

// DefaultConfig returns the default configuration with the built-in providers.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  Duration{30 * time.Second},
			WriteTimeout: Duration{60 * time.Second},
			IdleTimeout:  Duration{120 * time.Second},
			CORSOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Path: "redstone.db",
		},
		Workspace: WorkspaceConfig{
			Root:        "workspaces",
			AuthorName:  "Redstone",
			AuthorEmail: "redstone@localhost",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "redstone",
			Insecure:    true,
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {
				Type:    "anthropic",
				BaseURL: "https://api.anthropic.com",
			},
			"openai": {
				Type:    "openai",
				BaseURL: "https://api.openai.com/v1",
			},
			"openrouter": {
				Type:    "openai",
				BaseURL: "https://openrouter.ai/api/v1",
			},
			"google": {
				Type:    "openai",
				BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
			},
		},
		Agents: map[string]AgentConfig{},
		Orchestrator: OrchestratorConfig{
			Concurrency:     4,
			ChunkWords:      5,
			HistoryMessages: 10,
			Backend:         "auto",
			Retry: RetryConfig{
				InitialInterval: Duration{100 * time.Millisecond},
				MaxInterval:     Duration{10 * time.Second},
				MaxElapsedTime:  Duration{2 * time.Minute},
			},
		},
	}
}
