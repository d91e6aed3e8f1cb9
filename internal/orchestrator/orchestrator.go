package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/backend"
	"github.com/redstone-dev/redstone/internal/events"
	"github.com/redstone-dev/redstone/internal/persistence"
	"github.com/redstone-dev/redstone/internal/scheduler"
	"github.com/redstone-dev/redstone/internal/workspace"
)

var (
	ErrUnknownWorkflow      = errors.New("unknown workflow")
	ErrWorkspaceUnavailable = errors.New("workspace unavailable")
	ErrTurnNotFound         = errors.New("turn not found")
	ErrEmptyMessage         = errors.New("message content is empty")

	errTurnCancelled = errors.New("turn cancelled")
)

// TurnStatus is the overall outcome of a turn.
type TurnStatus string

const (
	StatusComplete  TurnStatus = "complete"  // every task completed
	StatusPartial   TurnStatus = "partial"   // some task or file write failed
	StatusError     TurnStatus = "error"     // every task failed, or the turn could not be recorded
	StatusCancelled TurnStatus = "cancelled" // stopped before all nodes ran
)

// Store is the persistence the orchestrator reads and records turns in.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*persistence.Session, error)
	AppendMessages(ctx context.Context, sessionID string, msgs ...*persistence.Message) error
	SaveTask(ctx context.Context, task *scheduler.AgentTask) error
	GetWorkflow(ctx context.Context, workflowID string) (*scheduler.Workflow, error)
}

// Workspaces is the part of the workspace manager agents use.
type Workspaces interface {
	Available(ctx context.Context, workspaceID string) error
	Get(ctx context.Context, workspaceID string) (*persistence.Workspace, error)
	ListFiles(ctx context.Context, workspaceID, dir string, depth int) ([]workspace.FileEntry, error)
	Apply(ctx context.Context, workspaceID string, ops []workspace.FileOp, onApplied func(workspace.FileResult)) ([]workspace.FileResult, error)
}

// Config tunes turn execution.
type Config struct {
	Concurrency     int         `json:"concurrency"`      // max agents running at once within a turn
	Retry           RetryConfig `json:"retry"`            // backoff around each agent call
	ChunkWords      int         `json:"chunk_words"`      // words per streamed chunk
	HistoryMessages int         `json:"history_messages"` // prior session messages given to source nodes

	// Models replaces the provider and model of built-in stack agents by type.
	Models map[agents.AgentType]ModelOverride `json:"models,omitempty"`
}

// ModelOverride selects a different model for one agent type. Empty fields keep the stack's choice.
type ModelOverride struct {
	Provider agents.Provider `json:"provider,omitempty"`
	Model    string          `json:"model,omitempty"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:     4,
		Retry:           DefaultRetryConfig(),
		ChunkWords:      5,
		HistoryMessages: 10,
	}
}

// Options wires the orchestrator's collaborators. Workspaces and Bus are optional.
type Options struct {
	Store      Store
	Backend    backend.Backend
	Workspaces Workspaces
	Bus        *events.EventBus
	Config     Config
}

// Orchestrator drives turns: one user message through one workflow graph.
type Orchestrator struct {
	store      Store
	backend    backend.Backend
	workspaces Workspaces
	bus        *events.EventBus
	breakers   *CircuitBreakerRegistry
	cfg        Config

	mu     sync.Mutex
	active map[string]activeTurn
}

type activeTurn struct {
	cancel  context.CancelFunc
	ownerID string
}

// New creates an Orchestrator. Zero Config fields take their defaults.
func New(opts Options) *Orchestrator {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = def.Retry
	}
	if cfg.ChunkWords <= 0 {
		cfg.ChunkWords = def.ChunkWords
	}
	if cfg.HistoryMessages < 0 {
		cfg.HistoryMessages = 0
	}

	return &Orchestrator{
		store:      opts.Store,
		backend:    opts.Backend,
		workspaces: opts.Workspaces,
		bus:        opts.Bus,
		breakers:   NewCircuitBreakerRegistry(),
		cfg:        cfg,
		active:     make(map[string]activeTurn),
	}
}

// TurnRequest is one user message addressed to a session.
type TurnRequest struct {
	SessionID    string
	Content      string
	ApplyChanges bool
	Tier         agents.Tier
	OwnerID      string // caller; only they may cancel the turn

	// Optional per-turn overrides of the session's bindings.
	WorkflowRef string // stack slug or workflow id
	WorkspaceID string
}

// TurnResult is the coherent outcome of a turn, partial failures included.
type TurnResult struct {
	TurnID        string                 `json:"turn_id"`
	SessionID     string                 `json:"session_id"`
	Status        TurnStatus             `json:"status"`
	Message       string                 `json:"message"`
	Agent         string                 `json:"agent"`
	Artifacts     []*Artifact            `json:"artifacts"`
	FilesModified []string               `json:"files_modified"`
	Escalations   []Escalation           `json:"escalations"`
	Warnings      []string               `json:"warnings,omitempty"`
	Tasks         []*scheduler.AgentTask `json:"tasks"`
	Error         string                 `json:"error,omitempty"`
}

// RunTurn executes a turn and blocks until it is recorded. Structural
// problems (missing session, unknown workflow, invalid graph, tier) are
// returned before anything runs; everything else is reported in the result.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	t, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx, done := o.register(ctx, t)
	defer done()
	return o.execute(ctx, t), nil
}

// Turn is a running streamed turn.
type Turn struct {
	ID        string
	SessionID string

	stream *events.Stream
	done   chan struct{}
	result *TurnResult
}

// Events returns the ordered event sequence. The channel closes after the
// terminal complete or error event.
func (t *Turn) Events() <-chan events.Event {
	return t.stream.Events()
}

// Wait blocks until the turn is recorded and returns its result.
func (t *Turn) Wait() *TurnResult {
	<-t.done
	return t.result
}

// Abandon stops event delivery. The turn itself keeps running.
func (t *Turn) Abandon() {
	t.stream.Abandon()
}

// StreamTurn starts a turn in the background and returns its event stream.
// Cancelling ctx cancels the turn the same way Cancel does.
func (o *Orchestrator) StreamTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	t, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	stream := events.NewStream()
	t.sink = stream.Emit
	h := &Turn{ID: t.id, SessionID: t.session.ID, stream: stream, done: make(chan struct{})}

	runCtx, done := o.register(ctx, t)
	go func() {
		defer close(h.done)
		defer done()
		h.result = o.execute(runCtx, t)
		stream.Close()
	}()
	return h, nil
}

// Cancel stops scheduling new nodes of a running turn. Agents already
// running finish and the turn is recorded as cancelled. A turn started for
// another owner is reported as not found.
func (o *Orchestrator) Cancel(turnID, ownerID string) error {
	o.mu.Lock()
	at, ok := o.active[turnID]
	o.mu.Unlock()
	if !ok || (at.ownerID != "" && at.ownerID != ownerID) {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	log.Info().Str("turn_id", turnID).Msg("turn cancellation requested")
	at.cancel()
	return nil
}

// ActiveTurns returns the number of turns in flight.
func (o *Orchestrator) ActiveTurns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) register(ctx context.Context, t *turn) (context.Context, func()) {
	turnID := t.id
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.active[turnID] = activeTurn{cancel: cancel, ownerID: t.req.OwnerID}
	o.mu.Unlock()

	return ctx, func() {
		o.mu.Lock()
		delete(o.active, turnID)
		o.mu.Unlock()
		cancel()
	}
}

// prepare resolves everything a turn needs without side effects.
func (o *Orchestrator) prepare(ctx context.Context, req TurnRequest) (*turn, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyMessage
	}

	session, err := o.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	ref := session.WorkflowRef
	if req.WorkflowRef != "" {
		ref = req.WorkflowRef
	}
	wf, err := o.ResolveWorkflow(ctx, ref, req.Tier)
	if err != nil {
		return nil, err
	}
	graph, err := wf.Graph()
	if err != nil {
		return nil, err
	}

	turnID := uuid.NewString()
	exec, err := scheduler.NewExecution(graph, turnID, session.ID)
	if err != nil {
		return nil, err
	}

	t := &turn{
		id:       turnID,
		req:      req,
		session:  session,
		workflow: wf,
		graph:    graph,
		exec:     exec,
		history:  history(session.Messages, o.cfg.HistoryMessages),
		bus:      o.bus,
	}
	o.bindWorkspace(ctx, t)
	return t, nil
}

// ResolveWorkflow maps a workflow reference to a runnable workflow the
// caller's tier unlocks. An empty reference selects the default stack. The
// graph is validated, so a workflow that resolves here can be executed.
func (o *Orchestrator) ResolveWorkflow(ctx context.Context, ref string, tier agents.Tier) (*scheduler.Workflow, error) {
	if ref == "" || scheduler.IsStack(ref) {
		return scheduler.ResolveStack(ref, tier)
	}

	wf, err := o.store.GetWorkflow(ctx, ref)
	if errors.Is(err, persistence.ErrWorkflowNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, ref)
	}
	if err != nil {
		return nil, err
	}

	need := max(wf.Tier, agents.ElasticSwarmTier)
	if err := agents.Require(tier, need, "workflow "+wf.Name); err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// bindWorkspace gives agents the workspace when changes are to be applied.
// An unusable workspace degrades the turn to a dry run.
func (o *Orchestrator) bindWorkspace(ctx context.Context, t *turn) {
	if !t.req.ApplyChanges {
		return
	}

	wsID := t.session.WorkspaceID
	if t.req.WorkspaceID != "" {
		wsID = t.req.WorkspaceID
	}
	var reason error
	switch {
	case wsID == "":
		reason = fmt.Errorf("%w: session has no workspace", ErrWorkspaceUnavailable)
	case o.workspaces == nil:
		reason = fmt.Errorf("%w: workspaces are not configured", ErrWorkspaceUnavailable)
	default:
		if err := o.workspaces.Available(ctx, wsID); err != nil {
			reason = fmt.Errorf("%w: %v", ErrWorkspaceUnavailable, err)
		}
	}

	var ws *persistence.Workspace
	if reason == nil {
		var err error
		if ws, err = o.workspaces.Get(ctx, wsID); err != nil {
			reason = fmt.Errorf("%w: %v", ErrWorkspaceUnavailable, err)
		}
	}
	if reason != nil {
		t.warnings = append(t.warnings, reason.Error()+"; changes were not applied")
		log.Warn().Err(reason).Str("session_id", t.session.ID).Msg("apply_changes degraded to dry run")
		return
	}

	tree, err := o.workspaces.ListFiles(ctx, wsID, "", treeDepth)
	if err != nil {
		log.Warn().Err(err).Str("workspace_id", wsID).Msg("failed to list workspace files")
	}
	t.view = &workspaceView{ws: ws, tree: tree}
}

// history converts the tail of a session into alternating model messages.
func history(msgs []*persistence.Message, limit int) []backend.Message {
	if limit <= 0 || len(msgs) == 0 {
		return nil
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	var out []backend.Message
	for _, m := range msgs {
		role := string(m.Role)
		if len(out) == 0 && role != string(persistence.RoleUser) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, backend.Message{Role: role, Content: m.Content})
	}
	return out
}
