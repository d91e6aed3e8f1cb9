// Package api exposes sessions, workflows, workspaces and turns over HTTP
// and WebSocket.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/auth"
	"github.com/redstone-dev/redstone/internal/orchestrator"
	"github.com/redstone-dev/redstone/internal/persistence"
	"github.com/redstone-dev/redstone/internal/scheduler"
	"github.com/redstone-dev/redstone/internal/workspace"
)

// Store is the persistence the API reads and writes.
type Store interface {
	CreateSession(ctx context.Context, session *persistence.Session) error
	GetSession(ctx context.Context, sessionID string) (*persistence.Session, error)
	ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListTasks(ctx context.Context, sessionID string) ([]*scheduler.AgentTask, error)

	SaveWorkflow(ctx context.Context, wf *scheduler.Workflow) error
	GetWorkflow(ctx context.Context, workflowID string) (*scheduler.Workflow, error)
	ListWorkflows(ctx context.Context, ownerID string) ([]*scheduler.Workflow, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error
}

// Workspaces is the workspace manager surface.
type Workspaces interface {
	Create(ctx context.Context, req workspace.CreateRequest) (*persistence.Workspace, error)
	Get(ctx context.Context, workspaceID string) (*persistence.Workspace, error)
	List(ctx context.Context, ownerID string) ([]*persistence.Workspace, error)
	Rename(ctx context.Context, workspaceID, name string) (*persistence.Workspace, error)
	Delete(ctx context.Context, workspaceID string) error

	ReadFile(ctx context.Context, workspaceID, path string) (string, error)
	WriteFile(ctx context.Context, workspaceID, path, content string) error
	DeleteFile(ctx context.Context, workspaceID, path string) error
	ListFiles(ctx context.Context, workspaceID, dir string, depth int) ([]workspace.FileEntry, error)
	Search(ctx context.Context, workspaceID, query, filePattern string) ([]workspace.SearchResult, error)

	Sync(ctx context.Context, workspaceID string) (*workspace.SyncResult, error)
	Status(ctx context.Context, workspaceID string) ([]workspace.GitChange, error)
	Commit(ctx context.Context, workspaceID, message string, files []string) (string, error)
	Push(ctx context.Context, workspaceID string) error
}

// Turns runs orchestration turns.
type Turns interface {
	RunTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
	StreamTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.Turn, error)
	ResolveWorkflow(ctx context.Context, ref string, tier agents.Tier) (*scheduler.Workflow, error)
	Cancel(turnID, ownerID string) error
}

// Options wires the server's collaborators.
type Options struct {
	Store       Store
	Workspaces  Workspaces
	Turns       Turns
	Verifier    *auth.Verifier
	CORSOrigins []string
	Version     string
}

// Server holds the handlers' dependencies.
type Server struct {
	store      Store
	workspaces Workspaces
	turns      Turns
	verifier   *auth.Verifier
	origins    []string
	version    string
	hub        *Hub
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		store:      opts.Store,
		workspaces: opts.Workspaces,
		turns:      opts.Turns,
		verifier:   opts.Verifier,
		origins:    origins,
		version:    opts.Version,
		hub:        NewHub(),
	}
}

// Close disconnects every WebSocket client.
func (s *Server) Close() {
	s.hub.CloseAll()
}

// Router builds the HTTP handler with every route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(Logger)
	r.Use(Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if s.verifier != nil {
		r.Use(s.verifier.Middleware)
	}

	r.Get("/health", s.health)
	r.Get("/version", s.versionInfo)

	r.Route("/agents", func(r chi.Router) {
		r.Post("/chat", s.chat)
		r.Post("/chat/stream", s.chatStream)
		r.Get("/types", s.listAgentTypes)
		r.Get("/providers", s.listProviders)
		r.Get("/stacks", s.listStacks)
		r.Get("/stacks/{slug}", s.getStack)
		r.Post("/turns/{turnID}/cancel", s.cancelTurn)
		r.Get("/ws/{clientID}", s.serveWS)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)
			r.Get("/{sessionID}", s.getSession)
			r.Delete("/{sessionID}", s.deleteSession)
			r.Get("/{sessionID}/tasks", s.listSessionTasks)
		})
	})

	r.Route("/elastic-swarm", func(r chi.Router) {
		r.Get("/templates", s.listTemplates)
		r.Get("/agent-types", s.listAgentTypes)
		r.Get("/llm-providers", s.listProviders)
		r.Post("/validate", s.validateWorkflow)

		r.Group(func(r chi.Router) {
			r.Use(requireTier(agents.ElasticSwarmTier, "Elastic Swarm"))
			r.Post("/templates/{templateID}/use", s.useTemplate)
			r.Post("/import-yaml", s.importYAML)
			r.Get("/workflows", s.listWorkflows)
			r.Post("/workflows", s.createWorkflow)
			r.Get("/workflows/{workflowID}", s.getWorkflow)
			r.Put("/workflows/{workflowID}", s.updateWorkflow)
			r.Delete("/workflows/{workflowID}", s.deleteWorkflow)
			r.Get("/workflows/{workflowID}/export-yaml", s.exportYAML)
			r.Post("/workflows/{workflowID}/execute", s.executeWorkflow)
		})
	})

	r.Route("/workspaces", func(r chi.Router) {
		r.Get("/", s.listWorkspaces)
		r.Post("/", s.createWorkspace)
		r.Route("/{workspaceID}", func(r chi.Router) {
			r.Get("/", s.getWorkspace)
			r.Put("/", s.renameWorkspace)
			r.Delete("/", s.deleteWorkspace)

			r.Get("/files", s.listFiles)
			r.Delete("/files", s.deleteFile)
			r.Get("/files/content", s.readFile)
			r.Put("/files/content", s.writeFile)
			r.Get("/search", s.search)

			r.Get("/git/status", s.gitStatus)
			r.Post("/git/sync", s.gitSync)
			r.Post("/git/commit", s.gitCommit)
			r.Post("/git/push", s.gitPush)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "redstone"})
}

func (s *Server) versionInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": s.version, "service": "redstone"})
}

// owned reports whether id may see a record owned by ownerID.
// Records without an owner are shared.
func owned(id *auth.Identity, ownerID string) bool {
	return ownerID == "" || ownerID == id.UserID
}
