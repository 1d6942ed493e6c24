package watch

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

func TestWriteReadSessionFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	doc := sessionDocument{
		WatchSession: violation.WatchSession{ID: "s1", SessionStart: time.Now().UTC(), TotalChecks: 3},
		LastUpdate:   time.Now().UTC(),
		WorkingDir:   "/repo",
		TargetPath:   "./src",
		Strict:       true,
	}
	require.NoError(t, writeSessionFile(dir, doc))

	got := readSessionFile(dir)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, 3, got.TotalChecks)
	assert.Equal(t, "/repo", got.WorkingDir)
	assert.True(t, got.Strict)

	// temp files must not linger
	matches, err := filepath.Glob(filepath.Join(dir, ".watch-session-*.json.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestReadSessionFileMissingReturnsNil(t *testing.T) {
	assert.Nil(t, readSessionFile(t.TempDir()))
}

func TestReadSessionFileCorruptReturnsNil(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeSessionFile(dir, sessionDocument{}))
	require.NoError(t, clearSessionFile(dir))
	assert.Nil(t, readSessionFile(dir))
}

func TestClearSessionFileIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, clearSessionFile(dir)) // no file yet, must not error
	require.NoError(t, writeSessionFile(dir, sessionDocument{}))
	require.NoError(t, clearSessionFile(dir))
	require.NoError(t, clearSessionFile(dir))
}

func TestResumablePredicate(t *testing.T) {
	now := time.Now().UTC()
	base := &sessionDocument{
		LastUpdate: now,
		WorkingDir: "/repo",
		TargetPath: "./src",
		Strict:     false,
		ESLintOnly: false,
	}

	assert.True(t, resumable(base, "/repo", "./src", false, false, now), "fresh session with matching flags resumes")
	assert.False(t, resumable(nil, "/repo", "./src", false, false, now), "no saved session")
	assert.False(t, resumable(base, "/repo", "./src", false, false, now.Add(25*time.Hour)), "stale beyond 24h")
	assert.False(t, resumable(base, "/elsewhere", "./src", false, false, now), "different working directory")
	assert.False(t, resumable(base, "/repo", "./src", true, false, now), "strict flag mismatch (Scenario D)")
	assert.False(t, resumable(base, "/repo", "./other", false, false, now), "targetPath mismatch")

	withErrors := &sessionDocument{
		LastUpdate: now,
		WorkingDir: "/repo",
		TargetPath: "./src",
	}
	withErrors.Errors = []violation.SessionError{
		{Timestamp: now.Add(-1 * time.Minute)},
		{Timestamp: now.Add(-2 * time.Minute)},
		{Timestamp: now.Add(-3 * time.Minute)},
		{Timestamp: now.Add(-4 * time.Minute)},
	}
	assert.False(t, resumable(withErrors, "/repo", "./src", false, false, now), "4 errors within 5 minutes blocks resumption")

	withOldErrors := &sessionDocument{
		LastUpdate: now,
		WorkingDir: "/repo",
		TargetPath: "./src",
	}
	withOldErrors.Errors = []violation.SessionError{
		{Timestamp: now.Add(-10 * time.Minute)},
		{Timestamp: now.Add(-10 * time.Minute)},
		{Timestamp: now.Add(-10 * time.Minute)},
		{Timestamp: now.Add(-10 * time.Minute)},
	}
	assert.True(t, resumable(withOldErrors, "/repo", "./src", false, false, now), "errors outside the 5-minute window do not count")
}
