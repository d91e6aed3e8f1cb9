package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redstone-dev/redstone/internal/scheduler"
)

// SaveTask saves or updates an agent task.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *scheduler.AgentTask) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	files := task.FilesModified
	if files == nil {
		files = []string{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("failed to encode files_modified: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_tasks (id, turn_id, session_id, node_id, agent_type, label, status, output, error,
			files_modified, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			error = excluded.error,
			files_modified = excluded.files_modified,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`, task.ID, task.TurnID, task.SessionID, task.NodeID, task.AgentType, task.Label, task.Status, task.Output,
		task.Error, string(filesJSON), nullNanos(task.StartedAt), nullNanos(task.CompletedAt), toNanos(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// ListTasks returns the tasks of a session in creation order.
func (s *SQLiteStore) ListTasks(ctx context.Context, sessionID string) ([]*scheduler.AgentTask, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, turn_id, session_id, node_id, agent_type, label, status, output, error,
			files_modified, started_at, completed_at
		FROM agent_tasks
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*scheduler.AgentTask{}
	for rows.Next() {
		task := &scheduler.AgentTask{}
		var files string
		var startedAt, completedAt sql.NullInt64
		err := rows.Scan(&task.ID, &task.TurnID, &task.SessionID, &task.NodeID, &task.AgentType, &task.Label,
			&task.Status, &task.Output, &task.Error, &files, &startedAt, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if task.FilesModified, err = decodePaths(files); err != nil {
			return nil, err
		}
		task.StartedAt = timePtr(startedAt)
		task.CompletedAt = timePtr(completedAt)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}
