package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/backend"
	"github.com/redstone-dev/redstone/internal/config"
	"github.com/redstone-dev/redstone/internal/orchestrator"
)

func setupLogging(cfg config.LogConfig) error {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = l
	}
	zerolog.SetGlobalLevel(level)

	switch cfg.Format {
	case "", "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	case "json":
		zerolog.TimeFieldFormat = time.RFC3339Nano
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return nil
}

// buildBackend wires one adapter per configured provider. Providers without
// credentials are skipped; with none left the echo backend answers.
func buildBackend(cfg *config.Config, pm *backend.ProcessManager) (backend.Backend, error) {
	switch cfg.Orchestrator.Backend {
	case "echo":
		log.Warn().Msg("using echo backend: agents repeat their input")
		return backend.Echo(), nil

	case "cli":
		p, ok := cfg.Providers["cli"]
		if !ok || p.Command == "" {
			return nil, fmt.Errorf("cli backend selected but providers.cli.command is not configured")
		}
		return backend.New(backendConfig(p, "cli"), pm)

	case "", "auto":
		router := backend.NewRouter(nil)
		registered := 0
		for name, p := range cfg.Providers {
			if p.Type != "cli" && p.APIKey == "" {
				continue
			}
			b, err := backend.New(backendConfig(p, p.Type), pm)
			if err != nil {
				router.Close()
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
			router.Register(agents.Provider(name), b)
			registered++
			log.Info().Str("provider", name).Str("type", p.Type).Msg("provider enabled")
		}
		if registered == 0 {
			log.Warn().Msg("no provider credentials configured: using echo backend")
			return backend.NewRouter(backend.Echo()), nil
		}
		return router, nil
	}
	return nil, fmt.Errorf("unknown agent backend %q", cfg.Orchestrator.Backend)
}

func backendConfig(p config.ProviderConfig, typ string) backend.Config {
	return backend.Config{
		Type:    typ,
		BaseURL: p.BaseURL,
		APIKey:  p.APIKey,
		Timeout: p.Timeout.Duration,
		Command: p.Command,
		Args:    p.Args,
	}
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := cfg.Orchestrator
	retry := orchestrator.DefaultRetryConfig()
	if oc.Retry.InitialInterval.Duration > 0 {
		retry.InitialInterval = oc.Retry.InitialInterval.Duration
	}
	if oc.Retry.MaxInterval.Duration > 0 {
		retry.MaxInterval = oc.Retry.MaxInterval.Duration
	}
	if oc.Retry.MaxElapsedTime.Duration > 0 {
		retry.MaxElapsedTime = oc.Retry.MaxElapsedTime.Duration
	}

	out := orchestrator.Config{
		Concurrency:     oc.Concurrency,
		Retry:           retry,
		ChunkWords:      oc.ChunkWords,
		HistoryMessages: oc.HistoryMessages,
	}
	for name, ac := range cfg.Agents {
		t, err := agents.ParseType(name)
		if err != nil {
			log.Warn().Str("agent", name).Msg("ignoring model override for unknown agent type")
			continue
		}
		if out.Models == nil {
			out.Models = make(map[agents.AgentType]orchestrator.ModelOverride)
		}
		out.Models[t] = orchestrator.ModelOverride{Provider: agents.Provider(ac.Provider), Model: ac.Model}
	}
	return out
}
