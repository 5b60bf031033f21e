package merge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.local",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.local",
	)
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
	return string(out)
}

func write(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

// repoWithConflict builds a repo on "trunk" with a commit on
// "feature" that conflicts with a later trunk commit in the same file.
func repoWithConflict(t *testing.T, filename string) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-b", "trunk")
	write(t, dir, filename, "base\n")
	run(t, dir, "add", filename)
	run(t, dir, "commit", "-m", "base")

	run(t, dir, "checkout", "-b", "feature")
	write(t, dir, filename, "feature change\n")
	run(t, dir, "add", filename)
	run(t, dir, "commit", "-m", "feature change")

	run(t, dir, "checkout", "trunk")
	write(t, dir, filename, "trunk change\n")
	run(t, dir, "add", filename)
	run(t, dir, "commit", "-m", "trunk change")
	return dir
}

func repoWithCleanMerge(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-b", "trunk")
	write(t, dir, "README.md", "base\n")
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-m", "base")

	run(t, dir, "checkout", "-b", "feature")
	write(t, dir, "feature.txt", "new file\n")
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-m", "add feature file")
	run(t, dir, "checkout", "trunk")
	return dir
}

func TestMergeCleanSucceeds(t *testing.T) {
	requireGit(t)
	dir := repoWithCleanMerge(t)
	r := New(dir, testPolicy(), nil)
	outcome, err := r.Merge(context.Background(), "t1", "feature", "add feature")
	require.NoError(t, err)
	assert.True(t, outcome.Clean)
	assert.Empty(t, outcome.UnresolvedFiles)
}

func TestMergeLockfileConflictAutoResolves(t *testing.T) {
	requireGit(t)
	dir := repoWithConflict(t, "package-lock.json")
	r := New(dir, testPolicy(), nil)
	outcome, err := r.Merge(context.Background(), "t2", "feature", "bump deps")
	require.NoError(t, err)
	assert.Empty(t, outcome.UnresolvedFiles)
	assert.Empty(t, outcome.HumanReviewFiles)
}

func TestMergeSensitivePathEscalates(t *testing.T) {
	requireGit(t)
	dir := repoWithConflict(t, "src/auth/login.go")
	r := New(dir, testPolicy(), nil)
	outcome, err := r.Merge(context.Background(), "t3", "feature", "touch auth")
	require.NoError(t, err)
	require.Len(t, outcome.HumanReviewFiles, 1)
	assert.Equal(t, "src/auth/login.go", outcome.HumanReviewFiles[0].File)
}

func TestMergeSourceFileWithoutAIResolverIsUnresolved(t *testing.T) {
	requireGit(t)
	dir := repoWithConflict(t, "src/handler.go")
	r := New(dir, testPolicy(), nil)
	outcome, err := r.Merge(context.Background(), "t4", "feature", "edit handler")
	require.NoError(t, err)
	require.Len(t, outcome.UnresolvedFiles, 1)
}

type fakeAI struct {
	resolution AIResolution
	err        error
}

func (f *fakeAI) Resolve(ctx context.Context, repoRoot string, files []string) (AIResolution, error) {
	return f.resolution, f.err
}

func TestMergeSourceFileResolvedByAI(t *testing.T) {
	requireGit(t)
	dir := repoWithConflict(t, "src/handler.go")
	ai := &fakeAI{resolution: AIResolution{Resolved: []string{"src/handler.go"}}}
	r := New(dir, testPolicy(), ai)
	outcome, err := r.Merge(context.Background(), "t5", "feature", "edit handler")
	require.NoError(t, err)
	assert.True(t, outcome.Clean)
}
