package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_FiresForWatchedNames(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, "summary.json")
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	changed := make(chan string, 4)
	w.OnChange = func(d string) { changed <- d }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
	select {
	case <-changed:
		t.Fatal("unexpected change for unwatched file")
	case <-time.After(150 * time.Millisecond):
	}

	tmp := filepath.Join(dir, ".summary.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("[]"), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "summary.json")))

	select {
	case got := <-changed:
		abs, _ := filepath.Abs(dir)
		assert.Equal(t, abs, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestNewWatcher_MissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
