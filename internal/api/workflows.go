package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/auth"
	"github.com/redstone-dev/redstone/internal/persistence"
	"github.com/redstone-dev/redstone/internal/scheduler"
)

// workflowRequest is the editable part of a workflow.
type workflowRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Nodes       []scheduler.Node    `json:"nodes"`
	Edges       []scheduler.Edge    `json:"edges"`
	Settings    *scheduler.Settings `json:"settings,omitempty"`
}

func (req workflowRequest) applyTo(wf *scheduler.Workflow) {
	if req.Name != "" {
		wf.Name = req.Name
		wf.Slug = scheduler.Slugify(req.Name)
	}
	wf.Description = req.Description
	wf.Nodes = req.Nodes
	wf.Edges = req.Edges
	if req.Settings != nil {
		wf.Settings = *req.Settings
	}
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, scheduler.Templates())
}

func (s *Server) useTemplate(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	wf, err := scheduler.FromTemplate(chi.URLParam(r, "templateID"), id.UserID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if name := r.URL.Query().Get("name"); name != "" {
		wf.Name = name
		wf.Slug = scheduler.Slugify(name)
	}
	if err := s.store.SaveWorkflow(r.Context(), wf); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, wf)
}

// validateWorkflow reports every problem with a graph without storing it.
func (s *Server) validateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	wf := &scheduler.Workflow{Settings: scheduler.DefaultSettings()}
	req.applyTo(wf)
	respondJSON(w, http.StatusOK, scheduler.Report(wf))
}

// importYAML accepts either a raw YAML body or JSON {"yaml_content": "..."}.
func (s *Server) importYAML(w http.ResponseWriter, r *http.Request) {
	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			YAMLContent string `json:"yaml_content"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		data = []byte(body.YAMLContent)
	} else {
		var err error
		data, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	wf, err := scheduler.ImportYAML(data)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	wf.OwnerID = auth.FromContext(r.Context()).UserID
	if err := s.store.SaveWorkflow(r.Context(), wf); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, wf)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.store.ListWorkflows(r.Context(), auth.FromContext(r.Context()).UserID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, workflows)
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "workflow name is required")
		return
	}

	id := auth.FromContext(r.Context())
	wf := &scheduler.Workflow{
		Settings: scheduler.DefaultSettings(),
		OwnerID:  id.UserID,
		Tier:     agents.ElasticSwarmTier,
	}
	req.applyTo(wf)
	if err := s.store.SaveWorkflow(r.Context(), wf); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, wf)
}

// ownedWorkflow loads a stored workflow the caller may access. Built-in
// stacks resolve to read-only copies.
func (s *Server) ownedWorkflow(r *http.Request) (*scheduler.Workflow, error) {
	workflowID := chi.URLParam(r, "workflowID")
	id := auth.FromContext(r.Context())
	if scheduler.IsStack(workflowID) {
		return scheduler.ResolveStack(workflowID, id.Tier)
	}
	wf, err := s.store.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		return nil, err
	}
	if !owned(id, wf.OwnerID) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrWorkflowNotFound, workflowID)
	}
	return wf, nil
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) updateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if wf.IsBuiltin {
		respondErr(w, r, scheduler.ErrBuiltinReadOnly)
		return
	}

	var req workflowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.applyTo(wf)
	if err := s.store.SaveWorkflow(r.Context(), wf); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if wf.IsBuiltin {
		respondErr(w, r, scheduler.ErrBuiltinReadOnly)
		return
	}
	if err := s.store.DeleteWorkflow(r.Context(), wf.ID); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) exportYAML(w http.ResponseWriter, r *http.Request) {
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	data, err := scheduler.ExportYAML(wf)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	name := wf.Slug
	if name == "" {
		name = "workflow"
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".yaml"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// executeWorkflow runs one turn through the workflow.
func (s *Server) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	var in turnInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	wf, err := s.ownedWorkflow(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	in.WorkflowID = wf.ID
	s.runTurn(w, r, in)
}
