package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/orchestrator"
	"github.com/redstone-dev/redstone/internal/persistence"
	"github.com/redstone-dev/redstone/internal/scheduler"
	"github.com/redstone-dev/redstone/internal/workspace"
)

// maxBodyBytes bounds JSON and YAML request bodies.
const maxBodyBytes = 2 << 20

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

var (
	badRequest = []error{
		scheduler.ErrCycleDetected,
		scheduler.ErrDanglingEdge,
		scheduler.ErrDuplicateNodeID,
		scheduler.ErrInvalidNode,
		scheduler.ErrNodeNotFound,
		scheduler.ErrEmptyWorkflow,
		scheduler.ErrBuiltinReadOnly,
		scheduler.ErrInvalidYAML,
		agents.ErrUnknownAgentType,
		workspace.ErrNotGitWorkspace,
		workspace.ErrPathOutsideWorkspace,
		workspace.ErrInvalidWorkspace,
		workspace.ErrFileTooLarge,
		workspace.ErrBinaryFile,
		workspace.ErrNothingToCommit,
		orchestrator.ErrEmptyMessage,
	}
	notFound = []error{
		persistence.ErrSessionNotFound,
		persistence.ErrWorkflowNotFound,
		persistence.ErrWorkspaceNotFound,
		workspace.ErrFileNotFound,
		orchestrator.ErrUnknownWorkflow,
		orchestrator.ErrTurnNotFound,
		scheduler.ErrUnknownStack,
		scheduler.ErrUnknownTemplate,
	}
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	for _, target := range notFound {
		if errors.Is(err, target) {
			return http.StatusNotFound
		}
	}
	switch {
	case errors.Is(err, agents.ErrTierRequired):
		return http.StatusForbidden
	case errors.Is(err, workspace.ErrMergeConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondErr writes err with its mapped status. Internal errors are logged
// and not echoed to the client.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, status, "internal server error")
		return
	}
	respondError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
