package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		workspace_id TEXT,
		workflow_ref TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_workspace ON sessions(workspace_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		turn_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		agent TEXT NOT NULL DEFAULT '',
		files_modified TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		UNIQUE (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS agent_tasks (
		id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		files_modified TEXT NOT NULL DEFAULT '[]',
		started_at INTEGER,
		completed_at INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_agent_tasks_session ON agent_tasks(session_id, created_at);

	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		definition TEXT NOT NULL,
		tier TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_workflows_owner ON workflows(owner_id, updated_at);

	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		github_repo TEXT NOT NULL DEFAULT '',
		github_branch TEXT NOT NULL DEFAULT '',
		local_path TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL,
		last_synced_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
