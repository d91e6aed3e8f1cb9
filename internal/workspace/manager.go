package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/redstone-dev/redstone/internal/locks"
	"github.com/redstone-dev/redstone/internal/persistence"
)

// errTransient marks failures worth retrying (lock contention, busy files).
var errTransient = errors.New("transient workspace error")

// Manager owns workspace records and their working copies. All mutations of
// one workspace (file writes, deletes, git operations) are serialized.
type Manager struct {
	opts    Options
	records Records
	writers *locks.KeyedLocker
}

// NewManager creates a workspace manager.
func NewManager(records Records, opts Options) *Manager {
	return &Manager{
		opts:    opts.withDefaults(),
		records: records,
		writers: locks.New(),
	}
}

// CreateRequest describes a new workspace.
type CreateRequest struct {
	OwnerID      string                    `json:"-"`
	Name         string                    `json:"name"`
	Type         persistence.WorkspaceType `json:"type"`
	GitHubRepo   string                    `json:"github_repo,omitempty"`
	GitHubBranch string                    `json:"github_branch,omitempty"`
	LocalPath    string                    `json:"local_path,omitempty"`
}

// Create registers a workspace. GitHub workspaces are cloned under the
// configured root; local workspaces must point at an existing directory.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*persistence.Workspace, error) {
	ws := &persistence.Workspace{
		ID:      uuid.NewString(),
		OwnerID: req.OwnerID,
		Name:    req.Name,
		Type:    req.Type,
	}

	switch req.Type {
	case persistence.WorkspaceGitHub:
		if req.GitHubRepo == "" {
			return nil, fmt.Errorf("%w: github_repo required for github workspace", ErrInvalidWorkspace)
		}
		if m.opts.Root == "" {
			return nil, fmt.Errorf("%w: no workspace root configured", ErrInvalidWorkspace)
		}
		ws.GitHubRepo = req.GitHubRepo
		ws.GitHubBranch = req.GitHubBranch
		if ws.GitHubBranch == "" {
			ws.GitHubBranch = "main"
		}
		ws.Path = filepath.Join(m.opts.Root, string(persistence.WorkspaceGitHub), ws.ID)
		if ws.Name == "" {
			ws.Name = repoName(req.GitHubRepo)
		}
		if err := m.clone(ctx, ws); err != nil {
			os.RemoveAll(ws.Path)
			return nil, err
		}
		now := time.Now().UTC()
		ws.LastSyncedAt = &now

	case persistence.WorkspaceLocal:
		if req.LocalPath == "" {
			return nil, fmt.Errorf("%w: local_path required for local workspace", ErrInvalidWorkspace)
		}
		abs, err := filepath.Abs(req.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWorkspace, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("%w: path does not exist: %s", ErrInvalidWorkspace, abs)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: path must be a directory: %s", ErrInvalidWorkspace, abs)
		}
		ws.LocalPath = abs
		ws.Path = abs
		if ws.Name == "" {
			ws.Name = filepath.Base(abs)
		}

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidWorkspace, req.Type)
	}

	if err := m.records.SaveWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	log.Info().Str("workspace_id", ws.ID).Str("type", string(ws.Type)).Str("path", ws.Path).Msg("workspace created")
	return ws, nil
}

// Get returns a workspace record.
func (m *Manager) Get(ctx context.Context, workspaceID string) (*persistence.Workspace, error) {
	return m.records.GetWorkspace(ctx, workspaceID)
}

// List returns the workspaces of ownerID.
func (m *Manager) List(ctx context.Context, ownerID string) ([]*persistence.Workspace, error) {
	return m.records.ListWorkspaces(ctx, ownerID)
}

// Rename changes the display name of a workspace.
func (m *Manager) Rename(ctx context.Context, workspaceID, name string) (*persistence.Workspace, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidWorkspace)
	}
	ws, err := m.records.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	ws.Name = name
	if err := m.records.SaveWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// Delete removes a workspace record. Clones under the manager root are
// removed from disk; local directories are left alone.
func (m *Manager) Delete(ctx context.Context, workspaceID string) error {
	unlock, ws, err := m.lock(ctx, workspaceID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.records.DeleteWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	if ws.Type == persistence.WorkspaceGitHub && m.opts.Root != "" && within(m.opts.Root, ws.Path) {
		if err := os.RemoveAll(ws.Path); err != nil {
			log.Warn().Err(err).Str("workspace_id", workspaceID).Msg("failed to remove working copy")
		}
	}
	return nil
}

// Available reports whether the workspace exists and its working copy is reachable.
func (m *Manager) Available(ctx context.Context, workspaceID string) error {
	ws, err := m.records.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	info, err := os.Stat(ws.Path)
	if err != nil {
		return fmt.Errorf("working copy unreachable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working copy is not a directory: %s", ws.Path)
	}
	return nil
}

// lock acquires the single-writer lock of a workspace and loads its record.
func (m *Manager) lock(ctx context.Context, workspaceID string) (func(), *persistence.Workspace, error) {
	ws, err := m.records.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, nil, err
	}
	if err := m.writers.Lock(ctx, workspaceID); err != nil {
		return nil, nil, err
	}
	return func() { m.writers.Unlock(workspaceID) }, ws, nil
}

// retry runs op with bounded exponential backoff, retrying only transient failures.
func (m *Manager) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.opts.RetryInitial
	policy.MaxInterval = m.opts.RetryMaxElapsed / 4
	policy.MaxElapsedTime = m.opts.RetryMaxElapsed

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !isTransient(err) {
			return backoff.Permanent(err)
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("retrying workspace operation")
		return err
	}, backoff.WithContext(policy, ctx))
}

func isTransient(err error) bool {
	return errors.Is(err, errTransient) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.ETXTBSY)
}

// resolve maps a workspace-relative path onto the working copy, rejecting
// anything that escapes it or reaches into .git.
func resolve(root, rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(rel, "/")))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideWorkspace, rel)
	}
	first := strings.SplitN(cleaned, string(filepath.Separator), 2)[0]
	if first == ".git" {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideWorkspace, rel)
	}
	full := filepath.Join(root, cleaned)
	if !within(root, full) {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideWorkspace, rel)
	}
	return full, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func repoName(repo string) string {
	repo = strings.TrimSuffix(strings.TrimRight(repo, "/"), ".git")
	if i := strings.LastIndexAny(repo, "/:"); i >= 0 {
		return repo[i+1:]
	}
	return repo
}
