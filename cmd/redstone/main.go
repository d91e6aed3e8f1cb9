// Command redstone serves the multi-agent coding assistant API.
//
// Usage:
//
//	redstone [serve]
//	redstone token --user <id> [--tier developer] [--ttl 24h]
//	redstone config init [--global] [--force]
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/redstone-dev/redstone/internal/api"
	"github.com/redstone-dev/redstone/internal/auth"
	"github.com/redstone-dev/redstone/internal/backend"
	"github.com/redstone-dev/redstone/internal/config"
	"github.com/redstone-dev/redstone/internal/events"
	"github.com/redstone-dev/redstone/internal/orchestrator"
	"github.com/redstone-dev/redstone/internal/persistence"
	"github.com/redstone-dev/redstone/internal/telemetry"
	"github.com/redstone-dev/redstone/internal/workspace"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(version, config.LoadDefault).ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("redstone failed")
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	verifier, err := newVerifier(cfg.Auth)
	if err != nil {
		return err
	}

	store, err := persistence.NewSQLiteStore(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	workspaces := workspace.NewManager(store, workspace.Options{
		Root:        cfg.Workspace.Root,
		GitHubToken: cfg.Workspace.GitHubToken,
		AuthorName:  cfg.Workspace.AuthorName,
		AuthorEmail: cfg.Workspace.AuthorEmail,
	})

	// Tracks agent CLI subprocesses so shutdown can kill them.
	pm := backend.NewProcessManager()
	agentBackend, err := buildBackend(cfg, pm)
	if err != nil {
		return err
	}
	defer agentBackend.Close()

	bus := events.NewEventBus()
	defer bus.Close()
	go auditEvents(bus.SubscribeAll(256))
	go auditWrites(bus.Subscribe(events.TopicWorkspace, 256))

	orch := orchestrator.New(orchestrator.Options{
		Store:      store,
		Backend:    agentBackend,
		Workspaces: workspaces,
		Bus:        bus,
		Config:     orchestratorConfig(cfg),
	})

	srv := api.NewServer(api.Options{
		Store:       store,
		Workspaces:  workspaces,
		Turns:       orch,
		Verifier:    verifier,
		CORSOrigins: cfg.Server.CORSOrigins,
		Version:     version,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("version", version).Msg("redstone listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	srv.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if n := orch.ActiveTurns(); n > 0 {
		log.Warn().Int("turns", n).Msg("turns still running at shutdown")
	}
	if err := pm.KillAll(); err != nil {
		log.Warn().Err(err).Msg("failed to kill agent subprocesses")
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func newVerifier(cfg config.AuthConfig) (*auth.Verifier, error) {
	if cfg.Required && cfg.JWTSecret == "" {
		return nil, errors.New("auth.required is set but no JWT secret is configured")
	}
	if cfg.JWTSecret == "" {
		log.Warn().Msg("no JWT secret configured: every caller is anonymous on the free tier")
	}
	return auth.NewVerifier(cfg.JWTSecret, cfg.Required), nil
}

// auditEvents writes one debug line per turn event.
func auditEvents(sub <-chan events.Event) {
	for e := range sub {
		log.Debug().Str("turn_id", e.TurnID()).Str("type", e.EventType()).Msg("turn event")
	}
}

// auditWrites logs every file operation applied to a workspace.
func auditWrites(sub <-chan events.Event) {
	for e := range sub {
		op, ok := e.(events.FileOperationEvent)
		if !ok {
			continue
		}
		if !op.Applied {
			log.Warn().Str("turn_id", op.TurnID()).Str("op", op.Operation).Str("path", op.Path).Str("error", op.Error).Msg("workspace write failed")
			continue
		}
		log.Info().Str("turn_id", op.TurnID()).Str("op", op.Operation).Str("path", op.Path).Msg("workspace write")
	}
}
