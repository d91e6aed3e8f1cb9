package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/auth"
	"github.com/redstone-dev/redstone/internal/events"
	"github.com/redstone-dev/redstone/internal/orchestrator"
	"github.com/redstone-dev/redstone/internal/persistence"
	"github.com/redstone-dev/redstone/internal/scheduler"
)

// turnInput is a chat message from HTTP or WebSocket clients.
type turnInput struct {
	Content      string `json:"content"`
	SessionID    string `json:"session_id,omitempty"`
	StackSlug    string `json:"stack_slug,omitempty"`
	Stack        string `json:"stack,omitempty"` // WebSocket spelling of stack_slug
	WorkflowID   string `json:"workflow_id,omitempty"`
	WorkspaceID  string `json:"workspace_id,omitempty"`
	ApplyChanges bool   `json:"apply_changes"`
}

// workflowRef picks the graph named by the message: a custom workflow wins
// over a stack.
func (in turnInput) workflowRef() string {
	switch {
	case in.WorkflowID != "":
		return in.WorkflowID
	case in.StackSlug != "":
		return in.StackSlug
	}
	return in.Stack
}

const titleLength = 50

func sessionTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if r := []rune(title); len(r) > titleLength {
		title = string(r[:titleLength]) + "..."
	}
	return title
}

// runnableWorkflow resolves ref to a workflow the caller may run: their own
// or a built-in stack their tier unlocks. Another user's workflow is
// reported as missing.
func (s *Server) runnableWorkflow(ctx context.Context, id *auth.Identity, ref string) (*scheduler.Workflow, error) {
	wf, err := s.turns.ResolveWorkflow(ctx, ref, id.Tier)
	if err != nil {
		return nil, err
	}
	if !wf.IsBuiltin && !owned(id, wf.OwnerID) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrWorkflowNotFound, ref)
	}
	return wf, nil
}

// turnRequest resolves the session a message belongs to, creating one when
// the message names none. The workflow is checked first, so a rejected
// message leaves nothing behind.
func (s *Server) turnRequest(ctx context.Context, id *auth.Identity, in turnInput) (orchestrator.TurnRequest, error) {
	if strings.TrimSpace(in.Content) == "" {
		return orchestrator.TurnRequest{}, orchestrator.ErrEmptyMessage
	}
	if in.WorkspaceID != "" {
		if _, err := s.ownedWorkspace(ctx, id, in.WorkspaceID); err != nil {
			return orchestrator.TurnRequest{}, err
		}
	}

	req := orchestrator.TurnRequest{
		SessionID:    in.SessionID,
		Content:      in.Content,
		ApplyChanges: in.ApplyChanges,
		Tier:         id.Tier,
		OwnerID:      id.UserID,
		WorkflowRef:  in.workflowRef(),
		WorkspaceID:  in.WorkspaceID,
	}

	var sess *persistence.Session
	if in.SessionID != "" {
		var err error
		if sess, err = s.store.GetSession(ctx, in.SessionID); err != nil {
			return req, err
		}
		if !owned(id, sess.OwnerID) {
			return req, fmt.Errorf("%w: %s", persistence.ErrSessionNotFound, in.SessionID)
		}
	}

	ref := req.WorkflowRef
	if ref == "" && sess != nil {
		ref = sess.WorkflowRef
	}
	if _, err := s.runnableWorkflow(ctx, id, ref); err != nil {
		return req, err
	}
	if sess != nil {
		return req, nil
	}

	sess = &persistence.Session{
		OwnerID:     id.UserID,
		Title:       sessionTitle(in.Content),
		WorkspaceID: in.WorkspaceID,
		WorkflowRef: req.WorkflowRef,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return req, err
	}
	req.SessionID = sess.ID
	return req, nil
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var in turnInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.runTurn(w, r, in)
}

func (s *Server) runTurn(w http.ResponseWriter, r *http.Request, in turnInput) {
	req, err := s.turnRequest(r.Context(), auth.FromContext(r.Context()), in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	res, err := s.turns.RunTurn(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// chatStream runs a turn and writes its events as newline-delimited JSON.
// Closing the request cancels the turn.
func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	var in turnInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req, err := s.turnRequest(r.Context(), auth.FromContext(r.Context()), in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	turn, err := s.turns.StreamTurn(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	// A turn may outlast the server's write timeout.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Turn-Id", turn.ID)
	w.Header().Set("X-Session-Id", turn.SessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for e := range turn.Events() {
		data, err := events.Marshal(e)
		if err != nil {
			log.Error().Err(err).Str("turn_id", turn.ID).Msg("failed to encode event")
			continue
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			turn.Abandon()
			break
		}
		flusher.Flush()
	}
}

func (s *Server) cancelTurn(w http.ResponseWriter, r *http.Request) {
	turnID := chi.URLParam(r, "turnID")
	if err := s.turns.Cancel(turnID, auth.FromContext(r.Context()).UserID); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"turn_id": turnID, "cancelled": true})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	sessions, err := s.store.ListSessions(r.Context(), persistence.SessionFilter{
		OwnerID:     id.UserID,
		WorkspaceID: r.URL.Query().Get("workspace_id"),
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

type createSessionRequest struct {
	Title       string `json:"title"`
	StackSlug   string `json:"stack_slug"`
	WorkflowID  string `json:"workflow_id"`
	WorkspaceID string `json:"workspace_id"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	q := r.URL.Query()
	if req.Title == "" {
		req.Title = q.Get("title")
	}
	if req.StackSlug == "" {
		req.StackSlug = q.Get("stack_slug")
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = q.Get("workspace_id")
	}

	ctx := r.Context()
	id := auth.FromContext(ctx)
	if req.WorkspaceID != "" {
		if _, err := s.ownedWorkspace(ctx, id, req.WorkspaceID); err != nil {
			respondErr(w, r, err)
			return
		}
	}

	ref := req.StackSlug
	if req.WorkflowID != "" {
		ref = req.WorkflowID
	}
	wf, err := s.runnableWorkflow(ctx, id, ref)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	ref = wf.ID

	sess := &persistence.Session{OwnerID: id.UserID, Title: req.Title, WorkspaceID: req.WorkspaceID, WorkflowRef: ref}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// ownedSession loads a session the caller may access.
func (s *Server) ownedSession(r *http.Request) (*persistence.Session, error) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	if !owned(auth.FromContext(r.Context()), sess.OwnerID) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ownedSession(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	_, err := s.ownedSession(r)
	if errors.Is(err, persistence.ErrSessionNotFound) {
		respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
		return
	}
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := s.store.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) listSessionTasks(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ownedSession(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), sess.ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) listAgentTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, agents.All())
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, agents.Providers())
}

// stackView adds whether the caller's plan unlocks a stack.
type stackView struct {
	scheduler.Stack
	Available bool `json:"available"`
}

func (s *Server) listStacks(w http.ResponseWriter, r *http.Request) {
	tier := auth.FromContext(r.Context()).Tier
	stacks := scheduler.Stacks()
	out := make([]stackView, 0, len(stacks))
	for _, st := range stacks {
		out = append(out, stackView{Stack: st, Available: tier >= st.Tier})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) getStack(w http.ResponseWriter, r *http.Request) {
	st, err := scheduler.LookupStack(chi.URLParam(r, "slug"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	tier := auth.FromContext(r.Context()).Tier
	respondJSON(w, http.StatusOK, stackView{Stack: st, Available: tier >= st.Tier})
}
