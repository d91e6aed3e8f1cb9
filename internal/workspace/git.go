package workspace

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/redstone-dev/redstone/internal/persistence"
)

// git runs a git command in dir and returns its combined output.
func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_AUTHOR_NAME="+m.opts.AuthorName,
		"GIT_AUTHOR_EMAIL="+m.opts.AuthorEmail,
		"GIT_COMMITTER_NAME="+m.opts.AuthorName,
		"GIT_COMMITTER_EMAIL="+m.opts.AuthorEmail,
	)
	output, err := cmd.CombinedOutput()
	out := string(output)
	if err != nil {
		if strings.Contains(out, "index.lock") || strings.Contains(out, "Unable to create") {
			return out, fmt.Errorf("%w: git %s: %v (output: %s)", errTransient, args[0], err, strings.TrimSpace(out))
		}
		return out, fmt.Errorf("git %s: %w (output: %s)", args[0], err, strings.TrimSpace(redact(out)))
	}
	return out, nil
}

// gitRetry runs git with bounded retry on lock contention.
func (m *Manager) gitRetry(ctx context.Context, dir string, args ...string) (string, error) {
	var out string
	err := m.retry(ctx, func() error {
		var err error
		out, err = m.git(ctx, dir, args...)
		return err
	})
	return out, err
}

func (m *Manager) clone(ctx context.Context, ws *persistence.Workspace) error {
	if err := os.MkdirAll(filepath.Dir(ws.Path), 0755); err != nil {
		return fmt.Errorf("failed to create workspace root: %w", err)
	}
	src := m.cloneURL(ws.GitHubRepo)
	_, err := m.git(ctx, filepath.Dir(ws.Path), "clone", "--branch", ws.GitHubBranch, "--single-branch", src, ws.Path)
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	return nil
}

// cloneURL expands "owner/repo" into a GitHub https URL and injects the token.
// URLs and local paths are used as given.
func (m *Manager) cloneURL(repo string) string {
	if strings.Contains(repo, "://") || strings.HasPrefix(repo, "git@") || filepath.IsAbs(repo) || strings.HasPrefix(repo, ".") {
		return repo
	}
	u := &url.URL{Scheme: "https", Host: "github.com", Path: "/" + strings.TrimSuffix(repo, ".git") + ".git"}
	if m.opts.GitHubToken != "" {
		u.User = url.UserPassword("x-access-token", m.opts.GitHubToken)
	}
	return u.String()
}

// redact hides credentials embedded in URLs inside git output.
func redact(s string) string {
	i := strings.Index(s, "x-access-token:")
	if i < 0 {
		return s
	}
	j := strings.Index(s[i:], "@")
	if j < 0 {
		return s[:i] + "x-access-token:***"
	}
	return s[:i] + "x-access-token:***" + s[i+j:]
}

// gitWorkspace loads the record and confirms it has a git working copy.
func (m *Manager) gitWorkspace(ws *persistence.Workspace) error {
	if ws.Type == persistence.WorkspaceGitHub {
		return nil
	}
	if info, err := os.Stat(filepath.Join(ws.Path, ".git")); err == nil && info.IsDir() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotGitWorkspace, ws.ID)
}

func (m *Manager) branch(ctx context.Context, ws *persistence.Workspace) (string, error) {
	if ws.GitHubBranch != "" {
		return ws.GitHubBranch, nil
	}
	out, err := m.git(ctx, ws.Path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Sync fast-forwards the working copy to its remote branch. When the local
// branch has diverged, or the merge would touch uncommitted changes, it
// returns ErrMergeConflict and leaves the working copy as it was.
func (m *Manager) Sync(ctx context.Context, workspaceID string) (*SyncResult, error) {
	unlock, ws, err := m.lock(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := m.gitWorkspace(ws); err != nil {
		return nil, err
	}
	branch, err := m.branch(ctx, ws)
	if err != nil {
		return nil, err
	}

	if _, err := m.gitRetry(ctx, ws.Path, "fetch", "origin", branch); err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}

	head, err := m.revParse(ctx, ws.Path, "HEAD")
	if err != nil {
		return nil, err
	}
	remote, err := m.revParse(ctx, ws.Path, "FETCH_HEAD")
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Head: head}
	switch {
	case head == remote:
	case m.isAncestor(ctx, ws.Path, remote, head):
		// Local is ahead; nothing to pull
	case !m.isAncestor(ctx, ws.Path, head, remote):
		return nil, fmt.Errorf("%w: %s has diverged from origin/%s", ErrMergeConflict, ws.ID, branch)
	default:
		out, err := m.gitRetry(ctx, ws.Path, "merge", "--ff-only", "FETCH_HEAD")
		if err != nil {
			if strings.Contains(out, "would be overwritten") || strings.Contains(out, "Not possible to fast-forward") {
				return nil, fmt.Errorf("%w: %s", ErrMergeConflict, strings.TrimSpace(out))
			}
			return nil, fmt.Errorf("failed to fast-forward: %w", err)
		}
		result.Updated = true
		result.Head = remote
	}

	now := time.Now().UTC()
	ws.LastSyncedAt = &now
	if err := m.records.SaveWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	log.Info().Str("workspace_id", ws.ID).Bool("updated", result.Updated).Str("head", result.Head).Msg("workspace synced")
	return result, nil
}

func (m *Manager) revParse(ctx context.Context, dir, ref string) (string, error) {
	out, err := m.git(ctx, dir, "rev-parse", ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	return strings.TrimSpace(out), nil
}

func (m *Manager) isAncestor(ctx context.Context, dir, ancestor, descendant string) bool {
	_, err := m.git(ctx, dir, "merge-base", "--is-ancestor", ancestor, descendant)
	return err == nil
}

// Status lists changed paths in the working copy. Untracked and renamed-to
// paths are reported as A.
func (m *Manager) Status(ctx context.Context, workspaceID string) ([]GitChange, error) {
	ws, err := m.records.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := m.gitWorkspace(ws); err != nil {
		return nil, err
	}
	out, err := m.gitRetry(ctx, ws.Path, "status", "--porcelain", "-z", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return parseStatus(out), nil
}

func parseStatus(out string) []GitChange {
	changes := []GitChange{}
	fields := strings.Split(out, "\x00")
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}
		x, y, path := entry[0], entry[1], entry[3:]

		status := "M"
		switch {
		case x == '?' || x == 'A' || x == 'R' || x == 'C':
			status = "A"
		case x == 'D' || y == 'D':
			status = "D"
		}
		if x == 'R' || x == 'C' {
			i++ // skip the source path field
		}
		changes = append(changes, GitChange{Status: status, Path: path})
	}
	return changes
}

// Commit stages files (everything when files is empty) and commits them.
// Returns the new HEAD.
func (m *Manager) Commit(ctx context.Context, workspaceID, message string, files []string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: commit message required", ErrInvalidWorkspace)
	}
	unlock, ws, err := m.lock(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	defer unlock()

	if err := m.gitWorkspace(ws); err != nil {
		return "", err
	}

	if len(files) == 0 {
		if _, err := m.gitRetry(ctx, ws.Path, "add", "-A"); err != nil {
			return "", fmt.Errorf("failed to stage changes: %w", err)
		}
	} else {
		args := []string{"add", "-A", "--"}
		for _, f := range files {
			if _, err := resolve(ws.Path, f); err != nil {
				return "", err
			}
			args = append(args, filepath.ToSlash(filepath.Clean(f)))
		}
		if _, err := m.gitRetry(ctx, ws.Path, args...); err != nil {
			return "", fmt.Errorf("failed to stage files: %w", err)
		}
	}

	if _, err := m.git(ctx, ws.Path, "diff", "--cached", "--quiet"); err == nil {
		return "", ErrNothingToCommit
	}
	if _, err := m.gitRetry(ctx, ws.Path, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	head, err := m.revParse(ctx, ws.Path, "HEAD")
	if err != nil {
		return "", err
	}
	log.Info().Str("workspace_id", ws.ID).Str("head", head).Msg("workspace committed")
	return head, nil
}

// Push pushes the workspace branch to origin.
func (m *Manager) Push(ctx context.Context, workspaceID string) error {
	unlock, ws, err := m.lock(ctx, workspaceID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.gitWorkspace(ws); err != nil {
		return err
	}
	branch, err := m.branch(ctx, ws)
	if err != nil {
		return err
	}
	if _, err := m.gitRetry(ctx, ws.Path, "push", "origin", "HEAD:"+branch); err != nil {
		return fmt.Errorf("failed to push: %w", err)
	}
	log.Info().Str("workspace_id", ws.ID).Str("branch", branch).Msg("workspace pushed")
	return nil
}
