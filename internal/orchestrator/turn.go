package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/backend"
	"github.com/redstone-dev/redstone/internal/events"
	"github.com/redstone-dev/redstone/internal/persistence"
	"github.com/redstone-dev/redstone/internal/scheduler"
	"github.com/redstone-dev/redstone/internal/workspace"
)

var tracer = otel.Tracer("github.com/redstone-dev/redstone/internal/orchestrator")

// turn is the state of one execution.
type turn struct {
	id       string
	req      TurnRequest
	session  *persistence.Session
	workflow *scheduler.Workflow
	graph    *scheduler.Graph
	exec     *scheduler.Execution
	history  []backend.Message
	view     *workspaceView // set when changes will be applied
	warnings []string

	sink func(events.Event) // streamed turns only
	bus  *events.EventBus
}

func (t *turn) emit(e events.Event) {
	if t.sink != nil {
		t.sink(e)
	}
	if t.bus != nil {
		t.bus.Publish(events.Topic(e), e)
	}
}

func (t *turn) emitStatus(task *scheduler.AgentTask) {
	t.emit(events.StatusEvent{
		Turn:      t.id,
		NodeID:    task.NodeID,
		Agent:     task.AgentType,
		Label:     task.Label,
		Status:    string(task.Status),
		Message:   task.Error,
		Timestamp: time.Now().UTC(),
	})
}

func (t *turn) emitTask(task *scheduler.AgentTask) {
	t.emit(events.TaskEvent{
		Turn:      t.id,
		Task:      task,
		Progress:  t.exec.Progress(),
		Timestamp: time.Now().UTC(),
	})
}

var words = regexp.MustCompile(`\S+\s*`)

// emitChunks streams output in groups of n words. The chunks concatenate
// back to the output exactly.
func (t *turn) emitChunks(task *scheduler.AgentTask, output string, n int) {
	lead := output[:len(output)-len(strings.TrimLeft(output, " \t\r\n"))]
	tokens := words.FindAllString(output, -1)

	for i := 0; i < len(tokens); i += n {
		end := min(i+n, len(tokens))
		chunk := strings.Join(tokens[i:end], "")
		if i == 0 {
			chunk = lead + chunk
		}
		t.emit(events.ChunkEvent{
			Turn:      t.id,
			NodeID:    task.NodeID,
			Agent:     task.AgentType,
			Role:      "agent",
			Content:   chunk,
			Timestamp: time.Now().UTC(),
		})
	}
}

// execute runs the graph, settles file edits and records the turn.
func (o *Orchestrator) execute(ctx context.Context, t *turn) *TurnResult {
	ctx, span := tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("turn.id", t.id),
		attribute.String("session.id", t.session.ID),
		attribute.String("workflow.id", t.workflow.ID),
		attribute.Int("workflow.nodes", t.graph.Len()),
		attribute.Bool("turn.apply_changes", t.req.ApplyChanges),
	))
	defer span.End()

	start := time.Now()
	log.Info().
		Str("turn_id", t.id).
		Str("session_id", t.session.ID).
		Str("workflow", t.workflow.Slug).
		Int("nodes", t.graph.Len()).
		Msg("turn started")

	cancelled := o.runWaves(ctx, t)

	var proposals []proposal
	for _, task := range t.exec.Tasks() {
		if task.Status != scheduler.TaskCompleted {
			continue
		}
		for _, op := range ParseFileOps(task.Output) {
			proposals = append(proposals, proposal{nodeID: task.NodeID, agent: task.AgentType, op: op})
		}
	}
	artifacts, escalations := resolveConflicts(t.graph, proposals)
	filesModified := o.applyArtifacts(ctx, t, artifacts, cancelled)

	result := &TurnResult{
		TurnID:        t.id,
		SessionID:     t.session.ID,
		Status:        t.status(cancelled, artifacts),
		Artifacts:     artifacts,
		FilesModified: filesModified,
		Escalations:   escalations,
		Warnings:      t.warnings,
		Tasks:         t.exec.Tasks(),
	}
	if result.Artifacts == nil {
		result.Artifacts = []*Artifact{}
	}
	if result.Escalations == nil {
		result.Escalations = []Escalation{}
	}

	msgs := t.messages(result)
	if err := o.store.AppendMessages(context.WithoutCancel(ctx), t.session.ID, msgs...); err != nil {
		log.Error().Err(err).Str("turn_id", t.id).Str("session_id", t.session.ID).Msg("failed to record turn")
		result.Status = StatusError
		result.Error = fmt.Sprintf("failed to record turn: %v", err)
	}

	span.SetAttributes(attribute.String("turn.status", string(result.Status)))
	if result.Status == StatusError {
		span.SetStatus(codes.Error, result.Error)
	}

	t.emitTerminal(result)

	log.Info().
		Str("turn_id", t.id).
		Str("status", string(result.Status)).
		Int("files_modified", len(result.FilesModified)).
		Int("escalations", len(result.Escalations)).
		Dur("duration", time.Since(start)).
		Msg("turn finished")
	return result
}

// runWaves runs every eligible node wave by wave until the graph is done.
// It reports whether the turn was cancelled. Cancellation stops new waves;
// agent calls already running finish.
func (o *Orchestrator) runWaves(ctx context.Context, t *turn) bool {
	for {
		if ctx.Err() != nil {
			o.cancelPending(ctx, t)
			return true
		}

		eligible := t.exec.Eligible()
		if len(eligible) == 0 {
			return false
		}

		var runnable []*scheduler.AgentTask
		for _, task := range eligible {
			if pred, blocked := t.exec.BlockedBy(task.NodeID); blocked {
				o.finishTask(ctx, t, task.NodeID, "", fmt.Errorf("blocked by failed %s", pred))
				continue
			}
			if err := t.exec.MarkRunning(task.NodeID); err != nil {
				log.Error().Err(err).Str("turn_id", t.id).Msg("failed to start task")
				continue
			}
			running, _ := t.exec.Get(task.NodeID)
			t.emitStatus(running)
			t.emitTask(running)
			runnable = append(runnable, running)
		}

		outcomes := make([]outcome, len(runnable))
		callCtx := context.WithoutCancel(ctx)
		var g errgroup.Group
		g.SetLimit(o.cfg.Concurrency)
		for i, task := range runnable {
			g.Go(func() error {
				outcomes[i] = o.invoke(callCtx, t, task.NodeID)
				return nil
			})
		}
		g.Wait()

		// Results are published in execution order once the wave is done,
		// so one node's chunks never interleave with another's
		for i, task := range runnable {
			o.finishTask(ctx, t, task.NodeID, outcomes[i].content, outcomes[i].err)
		}
	}
}

type outcome struct {
	content string
	err     error
}

// invoke calls the agent for one node with its predecessors' outputs.
func (o *Orchestrator) invoke(ctx context.Context, t *turn, nodeID string) outcome {
	node, _ := t.graph.Node(nodeID)

	isPred := make(map[string]bool)
	for _, p := range t.graph.Predecessors(nodeID) {
		isPred[p] = true
	}
	var preds []*scheduler.AgentTask
	for _, task := range t.exec.Tasks() {
		if isPred[task.NodeID] {
			preds = append(preds, task)
		}
	}

	var msgs []backend.Message
	if len(preds) == 0 {
		msgs = append(msgs, t.history...)
	}
	input := nodeInput(t.req.Content, preds)
	if n := len(msgs); n > 0 && msgs[n-1].Role == "user" {
		msgs[n-1].Content += "\n\n" + input
	} else {
		msgs = append(msgs, backend.Message{Role: "user", Content: input})
	}

	req := backend.Request{
		Provider:    node.Provider,
		Model:       node.Model,
		System:      systemPrompt(node, t.view),
		Messages:    msgs,
		Temperature: node.Temperature,
		MaxTokens:   t.workflow.Settings.MaxTokens,
	}
	if m, ok := o.cfg.Models[node.AgentType]; ok && t.workflow.IsBuiltin {
		if m.Provider != "" {
			req.Provider = m.Provider
		}
		if m.Model != "" {
			req.Model = m.Model
		}
	}

	ctx, span := tracer.Start(ctx, "orchestrator.agent", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("agent.type", string(node.AgentType)),
		attribute.String("agent.provider", string(req.Provider)),
		attribute.String("agent.model", req.Model),
	))
	defer span.End()

	start := time.Now()
	resp, err := sendWithRetry(ctx, o.backend, req, o.breakers.Get(string(req.Provider)), o.cfg.Retry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).
			Str("turn_id", t.id).
			Str("node_id", node.ID).
			Str("provider", string(req.Provider)).
			Msg("agent invocation failed")
		return outcome{err: err}
	}

	span.SetAttributes(
		attribute.Int("agent.input_tokens", resp.InputTokens),
		attribute.Int("agent.output_tokens", resp.OutputTokens),
	)
	log.Debug().
		Str("turn_id", t.id).
		Str("node_id", node.ID).
		Dur("duration", time.Since(start)).
		Int("output_tokens", resp.OutputTokens).
		Msg("agent completed")
	return outcome{content: resp.Content}
}

// finishTask records a node's terminal state and publishes it.
func (o *Orchestrator) finishTask(ctx context.Context, t *turn, nodeID, output string, err error) {
	if err != nil {
		if markErr := t.exec.MarkFailed(nodeID, err); markErr != nil {
			log.Error().Err(markErr).Str("turn_id", t.id).Msg("failed to mark task failed")
			return
		}
	} else if markErr := t.exec.MarkCompleted(nodeID, output, nil); markErr != nil {
		log.Error().Err(markErr).Str("turn_id", t.id).Msg("failed to mark task completed")
		return
	}

	task, _ := t.exec.Get(nodeID)
	if task.Status == scheduler.TaskCompleted {
		t.emitChunks(task, output, o.cfg.ChunkWords)
	}
	t.emitStatus(task)
	t.emitTask(task)
	o.saveTask(ctx, task)
}

// cancelPending fails every node that never started.
func (o *Orchestrator) cancelPending(ctx context.Context, t *turn) {
	for _, task := range t.exec.Tasks() {
		if task.Status == scheduler.TaskPending {
			o.finishTask(ctx, t, task.NodeID, "", errTurnCancelled)
		}
	}
	log.Info().Str("turn_id", t.id).Msg("turn cancelled")
}

func (o *Orchestrator) saveTask(ctx context.Context, task *scheduler.AgentTask) {
	if err := o.store.SaveTask(context.WithoutCancel(ctx), task); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to save task")
	}
}

// applyArtifacts writes the winning edits through the workspace manager and
// returns the applied paths. Dry runs and cancelled turns only announce them.
func (o *Orchestrator) applyArtifacts(ctx context.Context, t *turn, artifacts []*Artifact, cancelled bool) []string {
	ops, owners := winners(artifacts)
	files := []string{}
	if len(ops) == 0 {
		return files
	}

	if cancelled || t.view == nil {
		for _, a := range owners {
			t.emit(events.FileOperationEvent{
				Turn: t.id, NodeID: a.NodeID, Agent: a.Agent,
				Path: a.Path, Operation: string(a.Operation),
				Timestamp: time.Now().UTC(),
			})
		}
		return files
	}

	i := 0
	_, err := o.workspaces.Apply(context.WithoutCancel(ctx), t.view.ws.ID, ops, func(res workspace.FileResult) {
		a := owners[i]
		i++
		if res.Applied {
			a.Status = ArtifactApplied
		} else {
			a.Status = ArtifactFailed
			a.Error = res.Error
		}
		t.emit(events.FileOperationEvent{
			Turn: t.id, NodeID: a.NodeID, Agent: a.Agent,
			Path: a.Path, Operation: string(a.Operation),
			Applied: res.Applied, Error: res.Error,
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		t.warnings = append(t.warnings, fmt.Sprintf("%v: %v; remaining changes were not applied", ErrWorkspaceUnavailable, err))
		log.Warn().Err(err).Str("turn_id", t.id).Msg("failed to apply file operations")
	}

	perNode := make(map[string][]string)
	for _, a := range owners {
		if a.Status == ArtifactApplied {
			files = append(files, a.Path)
			perNode[a.NodeID] = append(perNode[a.NodeID], a.Path)
		}
	}
	for nodeID, paths := range perNode {
		if err := t.exec.RecordApplied(nodeID, paths); err != nil {
			log.Error().Err(err).Str("turn_id", t.id).Msg("failed to record applied files")
			continue
		}
		if task, ok := t.exec.Get(nodeID); ok {
			o.saveTask(ctx, task)
		}
	}
	return files
}

func (t *turn) status(cancelled bool, artifacts []*Artifact) TurnStatus {
	p := t.exec.Progress()
	switch {
	case cancelled:
		return StatusCancelled
	case p.Failed == p.Total:
		return StatusError
	case p.Failed > 0:
		return StatusPartial
	}
	for _, a := range artifacts {
		if a.Status == ArtifactFailed {
			return StatusPartial
		}
	}
	return StatusComplete
}

// messages builds the session entries for the turn: the user message, then
// one assistant message per sink node in execution order. The last one
// carries every path the turn modified. It also fills the result's summary.
func (t *turn) messages(result *TurnResult) []*persistence.Message {
	now := time.Now().UTC()
	msgs := []*persistence.Message{{
		TurnID:        t.id,
		Role:          persistence.RoleUser,
		Content:       t.req.Content,
		FilesModified: []string{},
		Timestamp:     now,
	}}

	isSink := make(map[string]bool)
	for _, id := range t.graph.Sinks() {
		isSink[id] = true
	}

	var parts []string
	for _, task := range result.Tasks {
		if !isSink[task.NodeID] {
			continue
		}
		content := task.Output
		if task.Status == scheduler.TaskFailed {
			content = fmt.Sprintf("%s failed: %s", task.Label, task.Error)
		}
		msgs = append(msgs, &persistence.Message{
			TurnID:        t.id,
			Role:          persistence.RoleAssistant,
			Content:       content,
			Agent:         task.AgentType,
			FilesModified: []string{},
			Timestamp:     now,
		})
		parts = append(parts, content)
		result.Agent = task.Label
	}
	msgs[len(msgs)-1].FilesModified = append([]string{}, result.FilesModified...)
	result.Message = strings.Join(parts, "\n\n")
	return msgs
}

// emitTerminal sends the single complete or error event of the turn.
func (t *turn) emitTerminal(result *TurnResult) {
	if result.Status == StatusError {
		msg := result.Error
		if msg == "" {
			msg = result.Message
		}
		t.emit(events.ErrorEvent{Turn: t.id, Message: msg, Timestamp: time.Now().UTC()})
		return
	}

	var escalated []string
	for _, e := range result.Escalations {
		escalated = append(escalated, e.Path)
	}
	var agent agents.AgentType
	for _, task := range result.Tasks {
		if task.Label == result.Agent {
			agent = task.AgentType
		}
	}
	t.emit(events.CompleteEvent{
		Turn:          t.id,
		SessionID:     t.session.ID,
		Status:        string(result.Status),
		Message:       result.Message,
		Agent:         agent,
		FilesModified: result.FilesModified,
		Escalations:   escalated,
		Warnings:      result.Warnings,
		Timestamp:     time.Now().UTC(),
	})
}
