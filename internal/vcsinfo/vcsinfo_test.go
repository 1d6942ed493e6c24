package vcsinfo

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRepoDetectsGitDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, New(dir).IsRepo())

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	assert.True(t, New(dir).IsRepo())
}

func TestIsRepoFalseWhenDotGitIsAFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: elsewhere"), 0o644))
	assert.False(t, New(dir).IsRepo(), "a .git file (submodule/worktree marker) is not a directory")
}

func TestCurrentBranchAndCommitAgainstRealRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644))
	run("add", "f.txt")
	run("commit", "-q", "-m", "initial")

	info := New(dir)
	assert.True(t, info.IsRepo())

	branch, err := info.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	commit, err := info.CurrentCommit()
	require.NoError(t, err)
	assert.Len(t, commit, 40)
}

func TestNewDefaultsToCurrentDirectory(t *testing.T) {
	info := New("")
	assert.NotEmpty(t, info.workDir)
}
