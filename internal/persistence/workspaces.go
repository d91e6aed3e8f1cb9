package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkspaceType distinguishes git-backed from plain local workspaces.
type WorkspaceType string

const (
	WorkspaceGitHub WorkspaceType = "github"
	WorkspaceLocal  WorkspaceType = "local"
)

// Workspace is the stored record of a bound file tree.
type Workspace struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id,omitempty"`
	Name         string        `json:"name"`
	Type         WorkspaceType `json:"type"`
	GitHubRepo   string        `json:"github_repo,omitempty"`
	GitHubBranch string        `json:"github_branch,omitempty"`
	LocalPath    string        `json:"local_path,omitempty"`
	Path         string        `json:"path"` // working copy on disk
	LastSyncedAt *time.Time    `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SaveWorkspace inserts or updates a workspace record.
func (s *SQLiteStore) SaveWorkspace(ctx context.Context, ws *Workspace) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = now
	}
	ws.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, owner_id, name, type, github_repo, github_branch, local_path, path,
			last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			github_branch = excluded.github_branch,
			path = excluded.path,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at
	`, ws.ID, ws.OwnerID, ws.Name, ws.Type, ws.GitHubRepo, ws.GitHubBranch, ws.LocalPath, ws.Path,
		nullNanos(ws.LastSyncedAt), toNanos(ws.CreatedAt), toNanos(ws.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	return nil
}

// GetWorkspace loads a workspace record.
func (s *SQLiteStore) GetWorkspace(ctx context.Context, workspaceID string) (*Workspace, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, type, github_repo, github_branch, local_path, path,
			last_synced_at, created_at, updated_at
		FROM workspaces
		WHERE id = ?
	`, workspaceID)
	ws, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, workspaceID)
	}
	return ws, err
}

// ListWorkspaces returns workspaces of ownerID (all when empty) by name.
func (s *SQLiteStore) ListWorkspaces(ctx context.Context, ownerID string) ([]*Workspace, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, type, github_repo, github_branch, local_path, path,
			last_synced_at, created_at, updated_at
		FROM workspaces
		WHERE (? = '' OR owner_id = ?)
		ORDER BY name ASC, id ASC
	`, ownerID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workspaces: %w", err)
	}
	defer rows.Close()

	workspaces := []*Workspace{}
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workspaces: %w", err)
	}
	return workspaces, nil
}

// DeleteWorkspace removes a workspace record. The working copy is left on disk.
func (s *SQLiteStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, workspaceID)
	}
	return nil
}

func scanWorkspace(row rowScanner) (*Workspace, error) {
	ws := &Workspace{}
	var synced sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&ws.ID, &ws.OwnerID, &ws.Name, &ws.Type, &ws.GitHubRepo, &ws.GitHubBranch, &ws.LocalPath,
		&ws.Path, &synced, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan workspace: %w", err)
	}
	ws.LastSyncedAt = timePtr(synced)
	ws.CreatedAt = fromNanos(createdAt)
	ws.UpdatedAt = fromNanos(updatedAt)
	return ws, nil
}
