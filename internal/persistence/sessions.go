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
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one append-only entry in a session.
type Message struct {
	ID            string           `json:"id"`
	TurnID        string           `json:"turn_id,omitempty"`
	Role          Role             `json:"role"`
	Content       string           `json:"content"`
	Agent         agents.AgentType `json:"agent,omitempty"`
	FilesModified []string         `json:"files_modified"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Session is durable conversation state bound to a workflow and optionally a workspace.
type Session struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id,omitempty"`
	Title       string     `json:"title"`
	WorkspaceID string     `json:"workspace_id,omitempty"`
	WorkflowRef string     `json:"workflow_ref"` // stack slug or workflow id
	Messages    []*Message `json:"messages"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	WorkspaceID  string    `json:"workspace_id,omitempty"`
	WorkflowRef  string    `json:"workflow_ref"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionFilter narrows ListSessions. Empty fields match everything.
type SessionFilter struct {
	OwnerID     string
	WorkspaceID string
	Limit       int
}

// DefaultSessionLimit caps ListSessions when no limit is given.
const DefaultSessionLimit = 50

// CreateSession inserts a new session, assigning ID and timestamps when unset.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Title == "" {
		session.Title = "New Chat"
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt
	if session.Messages == nil {
		session.Messages = []*Message{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, title, workspace_id, workflow_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.OwnerID, session.Title, nullString(session.WorkspaceID), session.WorkflowRef,
		toNanos(session.CreatedAt), toNanos(session.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession loads a session with its messages in append order.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	session := &Session{ID: sessionID}
	var workspaceID sql.NullString
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, title, workspace_id, workflow_ref, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, sessionID).Scan(&session.OwnerID, &session.Title, &workspaceID, &session.WorkflowRef, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	session.WorkspaceID = workspaceID.String
	session.CreatedAt = fromNanos(createdAt)
	session.UpdatedAt = fromNanos(updatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, turn_id, role, content, agent, files_modified, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	session.Messages = []*Message{}
	for rows.Next() {
		msg := &Message{}
		var files string
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.TurnID, &msg.Role, &msg.Content, &msg.Agent, &files, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Timestamp = fromNanos(ts)
		if msg.FilesModified, err = decodePaths(files); err != nil {
			return nil, err
		}
		session.Messages = append(session.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return session, nil
}

// ListSessions returns summaries ordered by most recently updated.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultSessionLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.workspace_id, s.workflow_ref, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		WHERE (? = '' OR s.owner_id = ?)
			AND (? = '' OR s.workspace_id = ?)
		ORDER BY s.updated_at DESC, s.id ASC
		LIMIT ?
	`, filter.OwnerID, filter.OwnerID, filter.WorkspaceID, filter.WorkspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	summaries := []SessionSummary{}
	for rows.Next() {
		var sum SessionSummary
		var workspaceID sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&sum.ID, &sum.Title, &workspaceID, &sum.WorkflowRef, &createdAt, &updatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.WorkspaceID = workspaceID.String
		sum.CreatedAt = fromNanos(createdAt)
		sum.UpdatedAt = fromNanos(updatedAt)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return summaries, nil
}

// DeleteSession removes a session with its messages and tasks.
// Deleting a session that does not exist is not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := s.appends.Lock(ctx, sessionID); err != nil {
		return err
	}
	defer s.appends.Unlock(sessionID)

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// AppendMessages appends msgs to the session atomically and in order.
// Appends to one session are serialized; none are lost under concurrent turns.
// Returns ErrSessionNotFound if the session no longer exists.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID string, msgs ...*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := s.appends.Lock(ctx, sessionID); err != nil {
		return err
	}
	defer s.appends.Unlock(sessionID)

	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT MAX(seq) FROM messages WHERE session_id = ?), 0)
		FROM sessions
		WHERE id = ?
	`, sessionID, sessionID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to read message sequence: %w", err)
	}

	var last time.Time
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}
		if msg.FilesModified == nil {
			msg.FilesModified = []string{}
		}
		files, err := json.Marshal(msg.FilesModified)
		if err != nil {
			return fmt.Errorf("failed to encode files_modified: %w", err)
		}

		seq++
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, seq, turn_id, role, content, agent, files_modified, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, sessionID, seq, msg.TurnID, msg.Role, msg.Content, msg.Agent, string(files), toNanos(msg.Timestamp))
		if err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
		if msg.Timestamp.After(last) {
			last = msg.Timestamp
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE sessions SET updated_at = MAX(updated_at, ?) WHERE id = ?`, toNanos(last), sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func decodePaths(raw string) ([]string, error) {
	paths := []string{}
	if raw == "" {
		return paths, nil
	}
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return nil, fmt.Errorf("failed to decode paths: %w", err)
	}
	return paths, nil
}
