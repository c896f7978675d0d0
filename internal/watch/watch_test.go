package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bueller/bueller/internal/logging"
	"github.com/bueller/bueller/internal/storage/fsstore"
	"github.com/bueller/bueller/internal/types"
)

func waitForRun(t *testing.T, runs <-chan []string) []string {
	t.Helper()
	select {
	case names := <-runs:
		return names
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a run")
		return nil
	}
}

func assertNoRun(t *testing.T, runs <-chan []string) {
	t.Helper()
	select {
	case names := <-runs:
		t.Fatalf("unexpected run for %v", names)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherRunsNewIssuesOnce(t *testing.T) {
	root := t.TempDir()
	store := fsstore.New(root)
	require.NoError(t, store.Init(context.Background()))
	openDir := filepath.Join(root, types.LifecycleOpen.Dir())
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(openDir, name), []byte(content), 0o644))
	}
	write("p1-001-first.md", "@user: first\n")

	runs := make(chan []string, 10)
	run := func(_ context.Context, names []string) error {
		runs <- names
		return nil
	}

	w := New(store, openDir, run, WithDebounce(20*time.Millisecond), WithLogger(logging.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Equal(t, []string{"p1-001-first.md"}, waitForRun(t, runs))

	write("p1-002-second.md", "@user: second\n")
	assert.Equal(t, []string{"p1-002-second.md"}, waitForRun(t, runs))

	// The first issue is still open (as after a failure); touching it does
	// not trigger a retry.
	write("p1-001-first.md", "@user: first, edited\n")
	assertNoRun(t, runs)

	// Hidden temp files are ignored.
	write(".p1-003-tmp.md.tmp-123", "x")
	assertNoRun(t, runs)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherRerunsReopenedIssue(t *testing.T) {
	root := t.TempDir()
	store := fsstore.New(root)
	require.NoError(t, store.Init(context.Background()))
	openDir := filepath.Join(root, types.LifecycleOpen.Dir())
	require.NoError(t, os.WriteFile(filepath.Join(openDir, "p1-001-a.md"), []byte("@user: a\n"), 0o644))

	runs := make(chan []string, 10)
	run := func(ctx context.Context, names []string) error {
		runs <- names
		for _, n := range names {
			if err := store.Move(ctx, n, types.LifecycleOpen, types.LifecycleReview); err != nil {
				return err
			}
		}
		return nil
	}

	w := New(store, openDir, run, WithDebounce(20*time.Millisecond), WithLogger(logging.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	assert.Equal(t, []string{"p1-001-a.md"}, waitForRun(t, runs))
	// Let the move's rename event settle so the name is pruned.
	assertNoRun(t, runs)

	require.NoError(t, store.Move(context.Background(), "p1-001-a.md", types.LifecycleReview, types.LifecycleOpen))
	assert.Equal(t, []string{"p1-001-a.md"}, waitForRun(t, runs))
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "/x/open/p1-001-a.md", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/x/open/p1-001-a.md", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/x/open/p1-001-a.md", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/x/open/notes.txt", Op: fsnotify.Create}, false},
		{fsnotify.Event{Name: "/x/open/.p1-001-a.md.tmp-1", Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relevant(tt.event), tt.event.String())
	}
}
