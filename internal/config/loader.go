package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Project config has the highest precedence among files
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths, then applies
// .env and the environment on top.
// Global: ~/.redstone/config.json
// Project: .redstone/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	cfg, err := Load(filepath.Join(homeDir, ".redstone", "config.json"), filepath.Join(".redstone", "config.json"))
	if err != nil {
		return nil, err
	}
	if err := LoadEnv(".env"); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads variables from a dotenv file into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

// providerKeys maps provider ids to the variables holding their API keys.
var providerKeys = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"google":     "GOOGLE_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// ApplyEnv overrides cfg with environment variables read through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("REDSTONE_ADDR", &cfg.Server.Addr)
	str("REDSTONE_DB_PATH", &cfg.Database.Path)
	str("REDSTONE_WORKSPACE_ROOT", &cfg.Workspace.Root)
	str("GITHUB_TOKEN", &cfg.Workspace.GitHubToken)
	str("REDSTONE_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("REDSTONE_LOG_LEVEL", &cfg.Log.Level)
	str("REDSTONE_LOG_FORMAT", &cfg.Log.Format)
	str("REDSTONE_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	str("REDSTONE_AGENT_BACKEND", &cfg.Orchestrator.Backend)

	if v, ok := lookup("REDSTONE_AUTH_REQUIRED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing REDSTONE_AUTH_REQUIRED: %w", err)
		}
		cfg.Auth.Required = b
	}
	if v, ok := lookup("REDSTONE_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("parsing REDSTONE_CONCURRENCY: %q is not a positive integer", v)
		}
		cfg.Orchestrator.Concurrency = n
	}
	if v, ok := lookup("REDSTONE_CORS_ORIGINS"); ok && v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}

	for id, key := range providerKeys {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		p := cfg.Providers[id]
		p.APIKey = v
		cfg.Providers[id] = p
	}
	return nil
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Scalar sections are decoded over the base; providers and agents merge by key.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	providers, agents := base.Providers, base.Agents
	base.Providers, base.Agents = nil, nil
	err = json.Unmarshal(data, base)
	loadedProviders, loadedAgents := base.Providers, base.Agents
	base.Providers, base.Agents = providers, agents
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for key, provider := range loadedProviders {
		base.Providers[key] = provider
	}
	for key, agent := range loadedAgents {
		base.Agents[key] = agent
	}
	return nil
}
