package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherFiresAfterSettledWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "req.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title: A\n"), 0o644))

	fired := make(chan string, 8)
	w, err := NewWatcher(path, func(ctx context.Context, p string) { fired <- p })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	assert.True(t, w.IsWatching())

	// Give the inotify watch a moment to register before writing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("title: B\n"), 0o644))

	select {
	case p := <-fired:
		assert.Equal(t, "req.yaml", filepath.Base(p))
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never fired")
	}

	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Events, 1)
	assert.GreaterOrEqual(t, stats.Triggers, 1)
}

func TestWatcherCoalescesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "req.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title: A\n"), 0o644))

	fired := make(chan string, 8)
	w, err := NewWatcher(path, func(ctx context.Context, p string) { fired <- p })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	time.Sleep(200 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("title: B\n"), 0o644))
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never fired")
	}

	// The burst settled once, so no second trigger follows.
	select {
	case <-fired:
		t.Fatal("rapid writes were not coalesced")
	case <-time.After(800 * time.Millisecond):
	}
	assert.Equal(t, 1, w.Stats().Triggers)
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "req.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title: A\n"), 0o644))

	fired := make(chan string, 8)
	w, err := NewWatcher(path, func(ctx context.Context, p string) { fired <- p })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x\n"), 0o644))

	select {
	case <-fired:
		t.Fatal("sibling file change triggered the watcher")
	case <-time.After(1200 * time.Millisecond):
	}
	assert.Equal(t, 0, w.Stats().Events)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "req.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title: A\n"), 0o644))

	w, err := NewWatcher(path, func(context.Context, string) {})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
	assert.False(t, w.IsWatching())
}
