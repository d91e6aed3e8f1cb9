package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/redstone-dev/redstone/internal/agents"
	"github.com/redstone-dev/redstone/internal/scheduler"
)

// workflowDefinition is the JSON column holding the graph and its settings.
type workflowDefinition struct {
	Nodes    []scheduler.Node   `json:"nodes"`
	Edges    []scheduler.Edge   `json:"edges"`
	Settings scheduler.Settings `json:"settings"`
}

// SaveWorkflow validates and upserts a user workflow. Built-in stacks are
// never stored. Nothing is written when validation fails.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, wf *scheduler.Workflow) error {
	if wf.IsBuiltin {
		return scheduler.ErrBuiltinReadOnly
	}
	if err := wf.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.Slug == "" {
		wf.Slug = scheduler.Slugify(wf.Name)
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	def, err := json.Marshal(workflowDefinition{Nodes: wf.Nodes, Edges: wf.Edges, Settings: wf.Settings})
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, owner_id, name, slug, description, definition, tier, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			description = excluded.description,
			definition = excluded.definition,
			tier = excluded.tier,
			updated_at = excluded.updated_at
	`, wf.ID, wf.OwnerID, wf.Name, wf.Slug, wf.Description, string(def), wf.Tier.String(),
		toNanos(wf.CreatedAt), toNanos(wf.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// GetWorkflow loads a stored workflow.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, workflowID string) (*scheduler.Workflow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, slug, description, definition, tier, created_at, updated_at
		FROM workflows
		WHERE id = ?
	`, workflowID)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	return wf, err
}

// ListWorkflows returns the workflows of ownerID, most recently updated first.
// An empty ownerID lists every workflow.
func (s *SQLiteStore) ListWorkflows(ctx context.Context, ownerID string) ([]*scheduler.Workflow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, slug, description, definition, tier, created_at, updated_at
		FROM workflows
		WHERE (? = '' OR owner_id = ?)
		ORDER BY updated_at DESC, id ASC
	`, ownerID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	workflows := []*scheduler.Workflow{}
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return workflows, nil
}

// DeleteWorkflow removes a workflow. Sessions bound to it fail their next turn
// with an unknown workflow error.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*scheduler.Workflow, error) {
	wf := &scheduler.Workflow{}
	var def, tier string
	var createdAt, updatedAt int64
	err := row.Scan(&wf.ID, &wf.OwnerID, &wf.Name, &wf.Slug, &wf.Description, &def, &tier, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	var d workflowDefinition
	if err := json.Unmarshal([]byte(def), &d); err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s: %w", wf.ID, err)
	}
	wf.Nodes = d.Nodes
	wf.Edges = d.Edges
	if wf.Edges == nil {
		wf.Edges = []scheduler.Edge{}
	}
	wf.Settings = d.Settings
	wf.Tier = agents.ParseTier(tier)
	wf.CreatedAt = fromNanos(createdAt)
	wf.UpdatedAt = fromNanos(updatedAt)
	return wf, nil
}
