package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSTriggerDebouncesEventsIntoOneRetry(t *testing.T) {
	dir := t.TempDir()
	retryCh := make(chan struct{}, 1)
	done := make(chan struct{})

	trig := newFSTrigger(dir, 20*time.Millisecond, t.Logf)
	require.NotNil(t, trig)
	go trig.run(done, retryCh)
	defer close(done)

	path := filepath.Join(dir, "a.txt")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-retryCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a debounced retry signal")
	}
}

func TestNewFSTriggerDisabledWhenPathEmpty(t *testing.T) {
	assert.Nil(t, newFSTrigger("", time.Millisecond, t.Logf))
}

func TestNewFSTriggerNonexistentPathIsNonFatal(t *testing.T) {
	assert.Nil(t, newFSTrigger(filepath.Join(t.TempDir(), "does-not-exist"), time.Millisecond, t.Logf))
}
