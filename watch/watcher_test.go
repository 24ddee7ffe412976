package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kilnlsp/kiln/watch"
)

// recordingTarget captures FileChanged calls.
type recordingTarget struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingTarget) FileChanged(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)

	return 1
}

func (r *recordingTarget) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.paths...)
}

func (r *recordingTarget) waitFor(t *testing.T, path string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, p := range r.calls() {
			if p == path {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no change delivered for %s (got %v)", path, r.calls())
}

func newWatcher(t *testing.T, target watch.Target, opts watch.Options) *watch.Watcher {
	t.Helper()

	if opts.Debounce == 0 {
		opts.Debounce = 30 * time.Millisecond
	}

	w, err := watch.New(target, zap.NewNop(), opts)
	if err != nil {
		t.Fatalf("watch.New() error: %v", err)
	}
	t.Cleanup(w.Stop)

	return w
}

func TestWatcher_DeliversSourceChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := &recordingTarget{}
	w := newWatcher(t, target, watch.Options{})

	if err := w.Watch(dir); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	path := filepath.Join(dir, "lib.kiln")
	if err := os.WriteFile(path, []byte("int a = 1;\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	target.waitFor(t, path, 3*time.Second)
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := &recordingTarget{}
	w := newWatcher(t, target, watch.Options{})

	if err := w.Watch(dir); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	noise := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(noise, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	source := filepath.Join(dir, "real.kiln")
	if err := os.WriteFile(source, []byte("int a = 1;\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	target.waitFor(t, source, 3*time.Second)

	for _, p := range target.calls() {
		if p == noise {
			t.Errorf("non-source file delivered: %s", p)
		}
	}
}

func TestWatcher_RemoveTriggersHook(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.kiln")
	if err := os.WriteFile(path, []byte("int a = 1;\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	target := &recordingTarget{}

	var mu sync.Mutex
	var removed []string
	w := newWatcher(t, target, watch.Options{
		OnRemove: func(p string) {
			mu.Lock()
			removed = append(removed, p)
			mu.Unlock()
		},
	})

	if err := w.Watch(dir); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	target.waitFor(t, path, 3*time.Second)

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(removed)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("OnRemove never called for a deleted file")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcher_CoalescesBursts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := &recordingTarget{}
	w := newWatcher(t, target, watch.Options{Debounce: 80 * time.Millisecond})

	if err := w.Watch(dir); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	path := filepath.Join(dir, "busy.kiln")
	for i := 0; i < 5; i++ {
		text := []byte("int a = 1;\n")
		if i%2 == 1 {
			text = []byte("int a = 2;\n")
		}
		if err := os.WriteFile(path, text, 0o644); err != nil {
			t.Fatalf("WriteFile(%d) error: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	target.waitFor(t, path, 3*time.Second)

	// A short settle, then the burst must have collapsed into one call.
	time.Sleep(200 * time.Millisecond)
	count := 0
	for _, p := range target.calls() {
		if p == path {
			count++
		}
	}
	if count != 1 {
		t.Errorf("burst delivered %d times, want 1", count)
	}
}
