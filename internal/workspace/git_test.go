package workspace

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/redstone-dev/redstone/internal/persistence"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// run executes git in dir with a fixed identity.
func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-c", "user.name=Test User", "-c", "user.email=test@example.com", "-c", "commit.gpgsign=false"}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v (output: %s)", strings.Join(args, " "), err, string(output))
	}
	return strings.TrimSpace(string(output))
}

// setupOrigin creates a bare repository with one commit on main.
func setupOrigin(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	run(t, src, "init")
	run(t, src, "checkout", "-b", "main")
	if err := os.WriteFile(filepath.Join(src, "README.md"), []byte("# Test Repo\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run(t, src, "add", ".")
	run(t, src, "commit", "-m", "initial commit")

	origin := filepath.Join(t.TempDir(), "origin.git")
	run(t, filepath.Dir(origin), "clone", "--bare", src, origin)
	return origin
}

// pushUpstream commits content to path in a separate clone and pushes it.
func pushUpstream(t *testing.T, origin, path, content string) {
	t.Helper()
	other := filepath.Join(t.TempDir(), "other")
	run(t, filepath.Dir(other), "clone", "--branch", "main", origin, other)
	if err := os.WriteFile(filepath.Join(other, path), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	run(t, other, "add", ".")
	run(t, other, "commit", "-m", "upstream change")
	run(t, other, "push", "origin", "main")
}

func newGitWorkspace(t *testing.T, m *Manager, origin string) *persistence.Workspace {
	t.Helper()
	ws, err := m.Create(context.Background(), CreateRequest{
		Type:         persistence.WorkspaceGitHub,
		GitHubRepo:   origin,
		GitHubBranch: "main",
	})
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	return ws
}

func TestCreateClones(t *testing.T) {
	requireGit(t)
	m, _ := newTestManager(t)
	origin := setupOrigin(t)

	ws := newGitWorkspace(t, m, origin)
	if ws.Name != "origin" || ws.LastSyncedAt == nil {
		t.Errorf("workspace = %+v", ws)
	}
	content, err := m.ReadFile(context.Background(), ws.ID, "README.md")
	if err != nil {
		t.Fatal(err)
	}
	if content != "# Test Repo\n" {
		t.Errorf("README = %q", content)
	}
}

func TestCreateCloneFailureLeavesNothing(t *testing.T) {
	requireGit(t)
	m, store := newTestManager(t)

	_, err := m.Create(context.Background(), CreateRequest{
		Type:       persistence.WorkspaceGitHub,
		GitHubRepo: filepath.Join(t.TempDir(), "missing.git"),
	})
	if err == nil {
		t.Fatal("expected clone failure")
	}
	list, _ := store.ListWorkspaces(context.Background(), "")
	if len(list) != 0 {
		t.Errorf("failed clone was recorded: %+v", list)
	}
}

func TestSyncFastForward(t *testing.T) {
	requireGit(t)
	m, _ := newTestManager(t)
	ctx := context.Background()
	origin := setupOrigin(t)
	ws := newGitWorkspace(t, m, origin)

	res, err := m.Sync(ctx, ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated {
		t.Error("nothing upstream, sync should not update")
	}

	pushUpstream(t, origin, "NEW.md", "upstream\n")
	res, err = m.Sync(ctx, ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Updated {
		t.Error("expected fast-forward")
	}
	if content, _ := m.ReadFile(ctx, ws.ID, "NEW.md"); content != "upstream\n" {
		t.Errorf("NEW.md = %q", content)
	}
}

func TestSyncDivergedIsMergeConflict(t *testing.T) {
	requireGit(t)
	m, _ := newTestManager(t)
	ctx := context.Background()
	origin := setupOrigin(t)
	ws := newGitWorkspace(t, m, origin)

	if err := m.WriteFile(ctx, ws.ID, "README.md", "local edit\n"); err != nil {
		t.Fatal(err)
	}
	before, err := m.Commit(ctx, ws.ID, "local change", nil)
	if err != nil {
		t.Fatal(err)
	}
	pushUpstream(t, origin, "README.md", "upstream edit\n")

	if _, err := m.Sync(ctx, ws.ID); !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}

	content, _ := m.ReadFile(ctx, ws.ID, "README.md")
	if content != "local edit\n" {
		t.Errorf("working copy overwritten: %q", content)
	}
	if head := run(t, ws.Path, "rev-parse", "HEAD"); head != before {
		t.Errorf("HEAD moved from %s to %s", before, head)
	}
}

func TestSyncWithConflictingLocalChanges(t *testing.T) {
	requireGit(t)
	m, _ := newTestManager(t)
	ctx := context.Background()
	origin := setupOrigin(t)
	ws := newGitWorkspace(t, m, origin)

	pushUpstream(t, origin, "README.md", "upstream edit\n")
	if err := m.WriteFile(ctx, ws.ID, "README.md", "uncommitted\n"); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Sync(ctx, ws.ID); !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
	if content, _ := m.ReadFile(ctx, ws.ID, "README.md"); content != "uncommitted\n" {
		t.Errorf("uncommitted change lost: %q", content)
	}
}

func TestStatusCommitPush(t *testing.T) {
	requireGit(t)
	m, _ := newTestManager(t)
	ctx := context.Background()
	origin := setupOrigin(t)
	ws := newGitWorkspace(t, m, origin)

	m.WriteFile(ctx, ws.ID, "README.md", "changed\n")
	m.WriteFile(ctx, ws.ID, "src/app.go", "package app\n")

	changes, err := m.Status(ctx, ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, c := range changes {
		got[c.Path] = c.Status
	}
	if got["README.md"] != "M" || got["src/app.go"] != "A" {
		t.Errorf("status = %+v", changes)
	}

	// Commit only one file
	if _, err := m.Commit(ctx, ws.ID, "add app", []string{"src/app.go"}); err != nil {
		t.Fatal(err)
	}
	changes, _ = m.Status(ctx, ws.ID)
	if len(changes) != 1 || changes[0].Path != "README.md" {
		t.Errorf("status after partial commit = %+v", changes)
	}

	head, err := m.Commit(ctx, ws.ID, "update readme", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Commit(ctx, ws.ID, "empty", nil); !errors.Is(err, ErrNothingToCommit) {
		t.Errorf("expected ErrNothingToCommit, got %v", err)
	}

	if err := m.Push(ctx, ws.ID); err != nil {
		t.Fatal(err)
	}
	if remote := run(t, origin, "rev-parse", "main"); remote != head {
		t.Errorf("origin main = %s, want %s", remote, head)
	}
}

func TestGitOnPlainLocalWorkspace(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	ws, _ := newLocalWorkspace(t, m)

	if _, err := m.Sync(ctx, ws.ID); !errors.Is(err, ErrNotGitWorkspace) {
		t.Errorf("Sync: expected ErrNotGitWorkspace, got %v", err)
	}
	if _, err := m.Status(ctx, ws.ID); !errors.Is(err, ErrNotGitWorkspace) {
		t.Errorf("Status: expected ErrNotGitWorkspace, got %v", err)
	}
	if err := m.Push(ctx, ws.ID); !errors.Is(err, ErrNotGitWorkspace) {
		t.Errorf("Push: expected ErrNotGitWorkspace, got %v", err)
	}
}
