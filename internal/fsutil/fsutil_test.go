package fsutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("stack"), 0o644))
}

func TestIsStackFile(t *testing.T) {
	assert.True(t, IsStackFile("/data/cells.tif"))
	assert.True(t, IsStackFile("/data/cells.OME.TIFF"))
	assert.True(t, IsStackFile("scan.lsm"))
	assert.False(t, IsStackFile("/data/cells.png"))
	assert.False(t, IsStackFile("/data/.cells.tif"))
	assert.False(t, IsStackFile("/data/cells.tif~"))
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.tif"))
	writeFile(t, filepath.Join(dir, "sub", "a.tiff"))
	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, ".hidden", "c.tif"))
	single := filepath.Join(t.TempDir(), "single.png")
	writeFile(t, single)

	files, dirs, err := ExpandPaths([]string{single, dir, filepath.Join(dir, "b.tif")})
	require.NoError(t, err)
	assert.Equal(t, []string{single, filepath.Join(dir, "b.tif"), filepath.Join(dir, "sub", "a.tiff")}, files)
	assert.Equal(t, []string{dir}, dirs)

	_, _, err = ExpandPaths([]string{filepath.Join(dir, "missing.tif")})
	assert.Error(t, err)
}

func TestStackWatcherReportsSettledFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewStackWatcher([]string{dir}, 100*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "ignored.txt"))
	target := filepath.Join(dir, "new.tif")
	writeFile(t, target)

	select {
	case ev := <-w.Events:
		assert.Equal(t, target, ev.Path)
		assert.EqualValues(t, 5, ev.Size)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stack event")
	}

	cancel()
	require.NoError(t, <-done)
	_, open := <-w.Events
	assert.False(t, open)
}
