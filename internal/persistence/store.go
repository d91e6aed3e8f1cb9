package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/redstone-dev/redstone/internal/locks"
	"github.com/redstone-dev/redstone/internal/scheduler"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrWorkspaceNotFound = errors.New("workspace not found")
)

// queryTimeout bounds every store call.
const queryTimeout = 5 * time.Second

// Store defines the persistence interface for sessions, agent tasks,
// workflows and workspace records.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID string) error
	AppendMessages(ctx context.Context, sessionID string, msgs ...*Message) error

	// Agent tasks
	SaveTask(ctx context.Context, task *scheduler.AgentTask) error
	ListTasks(ctx context.Context, sessionID string) ([]*scheduler.AgentTask, error)

	// Workflows
	SaveWorkflow(ctx context.Context, wf *scheduler.Workflow) error
	GetWorkflow(ctx context.Context, workflowID string) (*scheduler.Workflow, error)
	ListWorkflows(ctx context.Context, ownerID string) ([]*scheduler.Workflow, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error

	// Workspaces
	SaveWorkspace(ctx context.Context, ws *Workspace) error
	GetWorkspace(ctx context.Context, workspaceID string) (*Workspace, error)
	ListWorkspaces(ctx context.Context, ownerID string) ([]*Workspace, error)
	DeleteWorkspace(ctx context.Context, workspaceID string) error

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	appends *locks.KeyedLocker // serializes appends per session id
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite doesn't support _foreign_keys in the connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(1)", dbPath)
	return open(ctx, connStr, 2)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each call
// gets its own database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:redstone-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	return open(ctx, connStr, 1)
}

func open(ctx context.Context, connStr string, maxConns int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)

	// _pragma in the DSN covers pooled connections opened later
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db, appends: locks.New()}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) beginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// Timestamps are stored as UTC unix nanoseconds so ORDER BY is exact.
func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) driver.Value {
	if t == nil {
		return nil
	}
	return toNanos(*t)
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
