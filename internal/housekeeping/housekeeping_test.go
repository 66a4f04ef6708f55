package housekeeping

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTouchesFileUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pizauth.sock")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	past := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	before, err := os.Stat(path)
	require.NoError(t, err)

	k := New(path)
	k.interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err = k.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, after.ModTime().After(before.ModTime()))
}

func TestTouchSurvivesMissingFile(t *testing.T) {
	k := New(filepath.Join(t.TempDir(), "does-not-exist.sock"))
	k.touch() // must not panic
}
