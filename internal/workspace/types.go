package workspace

import (
	"context"
	"errors"
	"time"

	"github.com/redstone-dev/redstone/internal/persistence"
)

var (
	ErrFileNotFound         = errors.New("file not found")
	ErrFileTooLarge         = errors.New("file too large")
	ErrBinaryFile           = errors.New("binary file")
	ErrPathOutsideWorkspace = errors.New("path outside workspace")
	ErrNotGitWorkspace      = errors.New("workspace is not git-backed")
	ErrMergeConflict        = errors.New("merge conflict: cannot fast-forward")
	ErrNothingToCommit      = errors.New("nothing to commit")
	ErrInvalidWorkspace     = errors.New("invalid workspace")
)

// Limits applied to reads, listings and searches.
const (
	MaxReadBytes       = 1 << 20
	MaxSearchFileBytes = 512 << 10
	MaxSearchResults   = 100
	DefaultListDepth   = 3
	previewContext     = 50
)

// skipDirs are never listed or searched.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
}

// Records is the storage the manager keeps workspace records in.
type Records interface {
	SaveWorkspace(ctx context.Context, ws *persistence.Workspace) error
	GetWorkspace(ctx context.Context, workspaceID string) (*persistence.Workspace, error)
	ListWorkspaces(ctx context.Context, ownerID string) ([]*persistence.Workspace, error)
	DeleteWorkspace(ctx context.Context, workspaceID string) error
}

// Options configures the workspace manager.
type Options struct {
	Root            string        // parent directory for cloned working copies
	GitHubToken     string        // injected into https clone URLs when set
	AuthorName      string        // commit identity
	AuthorEmail     string        // commit identity
	RetryInitial    time.Duration // first backoff interval for transient IO failures
	RetryMaxElapsed time.Duration // total retry budget per operation
}

func (o Options) withDefaults() Options {
	if o.AuthorName == "" {
		o.AuthorName = "Redstone"
	}
	if o.AuthorEmail == "" {
		o.AuthorEmail = "redstone@localhost"
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 50 * time.Millisecond
	}
	if o.RetryMaxElapsed <= 0 {
		o.RetryMaxElapsed = 5 * time.Second
	}
	return o
}

// FileEntry is one node of a workspace file tree.
type FileEntry struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	IsDir    bool        `json:"is_dir"`
	Size     int64       `json:"size,omitempty"`
	Modified time.Time   `json:"modified"`
	Children []FileEntry `json:"children,omitempty"`
}

// SearchResult is one file containing the query.
type SearchResult struct {
	Path    string `json:"path"`
	Matches int    `json:"matches"`
	Preview string `json:"preview"`
}

// GitChange is one line of git status.
type GitChange struct {
	Status string `json:"status"` // M, A or D
	Path   string `json:"path"`
}

// SyncResult reports what a sync did.
type SyncResult struct {
	Updated bool   `json:"updated"`
	Head    string `json:"head"`
}

// OpKind is the kind of file operation applied to a workspace.
type OpKind string

const (
	OpWrite  OpKind = "write"
	OpDelete OpKind = "delete"
)

// FileOp is a pending mutation of one path.
type FileOp struct {
	Path    string `json:"path"`
	Op      OpKind `json:"operation"`
	Content string `json:"-"`
}

// FileResult is the per-file outcome of applying a FileOp.
type FileResult struct {
	Path    string `json:"path"`
	Op      OpKind `json:"operation"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}
