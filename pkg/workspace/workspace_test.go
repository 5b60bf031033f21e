package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a minimal git repository with one commit on its
// default branch, returning the repo root.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.local",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.local",
		)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "initial")
	return dir
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func TestCreateAndRemove(t *testing.T) {
	requireGit(t)
	repo := initRepo(t)
	svc := New(repo, filepath.Join(repo, ".worktrees"), "main")

	c, err := svc.Create(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "orkestra/task-1", c.Branch)
	assert.DirExists(t, c.Path)

	got, ok := svc.Get("task-1")
	require.True(t, ok)
	assert.Equal(t, c.Path, got.Path)

	require.NoError(t, svc.Remove(context.Background(), "task-1", false))
	assert.NoDirExists(t, c.Path)
	_, ok = svc.Get("task-1")
	assert.False(t, ok)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	requireGit(t)
	repo := initRepo(t)
	svc := New(repo, filepath.Join(repo, ".worktrees"), "main")

	_, err := svc.Create(context.Background(), "task-1")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "task-1")
	assert.Error(t, err)
}

func TestListAndCleanup(t *testing.T) {
	requireGit(t)
	repo := initRepo(t)
	svc := New(repo, filepath.Join(repo, ".worktrees"), "main")

	_, err := svc.Create(context.Background(), "task-1")
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), "task-2")
	require.NoError(t, err)

	assert.Len(t, svc.List(), 2)

	require.NoError(t, svc.Cleanup(context.Background()))
	assert.Empty(t, svc.List())
}
