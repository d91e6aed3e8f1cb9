package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/redstone-dev/redstone/internal/auth"
	"github.com/redstone-dev/redstone/internal/persistence"
	"github.com/redstone-dev/redstone/internal/workspace"
)

const defaultListDepth = 3

// ownedWorkspace loads a workspace the caller may access.
func (s *Server) ownedWorkspace(ctx context.Context, id *auth.Identity, workspaceID string) (*persistence.Workspace, error) {
	ws, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if !owned(id, ws.OwnerID) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrWorkspaceNotFound, workspaceID)
	}
	return ws, nil
}

// workspaceParam resolves the {workspaceID} route parameter, writing the
// error response when the caller cannot use it.
func (s *Server) workspaceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	workspaceID := chi.URLParam(r, "workspaceID")
	if _, err := s.ownedWorkspace(r.Context(), auth.FromContext(r.Context()), workspaceID); err != nil {
		respondErr(w, r, err)
		return "", false
	}
	return workspaceID, true
}

func (s *Server) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.workspaces.List(r.Context(), auth.FromContext(r.Context()).UserID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspace.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.OwnerID = auth.FromContext(r.Context()).UserID
	ws, err := s.workspaces.Create(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ws)
}

func (s *Server) getWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := s.ownedWorkspace(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "workspaceID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ws)
}

func (s *Server) renameWorkspace(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := s.workspaceParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "workspace name is required")
		return
	}
	ws, err := s.workspaces.Rename(r.Context(), workspaceID, req.Name)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ws)
}

func (s *Server) deleteWorkspace(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := s.workspaceParam(w, r)
	if !ok {
		return
	}
	if err := s.workspaces.Delete(r.Context(), workspaceID); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := s.workspaceParam(w, r)
	if !ok {
		return
	}
	depth := defaultListDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "depth must be a positive integer")
			return
		}
		depth = n
	}
	files, err := s.workspaces.ListFiles(r.Context(), workspaceID, r.URL.Query().Get("path"), depth)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, files)
}

// filePath reads the required ?path= parameter.
func filePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return "", false
	}
	return path, true
}

func (s *Server) readFile(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := s.workspaceParam(w, r)
	if !ok {
		return
	}
	path, ok := filePath(w, r)
	if !ok {
		return
	}
	content, err := s.workspaces.ReadFile(r.Context(), workspaceID, path)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"path": path, "content": content})
}

func (s *Server) writeFile(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := s.workspaceParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Path == "" {
		req.Path = r.URL.Query().Get("path")
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.workspaces.WriteFile(r.Context(), workspaceID, req.Path, req.Content); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"path": req.Path, "written": true})
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := s.workspaceParam(w, r)
	if !ok {
		return
	}
	path, ok := filePath(w, r)
	if !ok {
		return
	}
	if err := s.workspaces.DeleteFile(r.Context(), workspaceID, path); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"path": path, "deleted": true})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := s.workspaceParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		query = q.Get("q")
	}
	if query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	results, err := s.workspaces.Search(r.Context(), workspaceID, query, q.Get("file_pattern"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) gitStatus(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := s.workspaceParam(w, r)
	if !ok {
		return
	}
	changes, err := s.workspaces.Status(r.Context(), workspaceID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"changes": changes, "clean": len(changes) == 0})
}

func (s *Server) gitSync(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := s.workspaceParam(w, r)
	if !ok {
		return
	}
	res, err := s.workspaces.Sync(r.Context(), workspaceID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) gitCommit(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := s.workspaceParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string   `json:"message"`
		Files   []string `json:"files,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "commit message is required")
		return
	}
	sha, err := s.workspaces.Commit(r.Context(), workspaceID, req.Message, req.Files)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"commit": sha})
}

func (s *Server) gitPush(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := s.workspaceParam(w, r)
	if !ok {
		return
	}
	if err := s.workspaces.Push(r.Context(), workspaceID); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"pushed": true})
}
