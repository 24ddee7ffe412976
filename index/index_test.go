package index_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/engine"
	"github.com/kilnlsp/kiln/index"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	return path
}

func newIndexer(t *testing.T) (*engine.Engine, *index.Indexer) {
	t.Helper()

	e, err := engine.New(&kiln.Config{
		Scheduler: kiln.SchedulerConfig{DebounceMS: 50},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("engine.New() error: %v", err)
	}
	t.Cleanup(e.Close)

	return e, index.New(e, zap.NewNop())
}

func TestRun_IndexesWorkspaceSymbols(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "main.kiln", "int counter = 0;\nfn tick(int by) {\n  return by;\n}\n")
	writeFile(t, dir, "nested/util.kiln", "class Counter {\n  int value;\n}\n")
	writeFile(t, dir, "notes.txt", "not source")

	_, ix := newIndexer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ix.Run(ctx, []string{dir}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	files, failed := ix.Stats()
	if files != 2 {
		t.Errorf("indexed %d files, want 2", files)
	}
	if failed != 0 {
		t.Errorf("failed = %d", failed)
	}

	hits := ix.Search("counter")
	if len(hits) != 2 {
		t.Fatalf("Search(counter) = %v, want the var and the class", hits)
	}
	// Case-insensitive, sorted by name: "Counter" before "counter".
	if hits[0].Name != "Counter" || hits[0].Kind != "class" {
		t.Errorf("first hit = %+v", hits[0])
	}
	if hits[1].Name != "counter" || hits[1].Kind != "var" {
		t.Errorf("second hit = %+v", hits[1])
	}

	if got := ix.Search("tick"); len(got) != 1 || got[0].Kind != "fn" {
		t.Errorf("Search(tick) = %v", got)
	}
	if got := ix.Search("value"); len(got) != 1 || got[0].Container != "Counter" {
		t.Errorf("Search(value) = %v", got)
	}
	if got := ix.Search("by"); len(got) != 0 {
		t.Errorf("parameters indexed: %v", got)
	}
}

func TestRun_BrokenFilesStillIndexed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "broken.kiln", "int x = ;\nint ok = 1;\n")

	_, ix := newIndexer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ix.Run(ctx, []string{dir}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := ix.Search("ok"); len(got) != 1 {
		t.Errorf("symbols after the broken declaration lost: %v", got)
	}
}

func TestSearch_EmptyQueryReturnsAllSorted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.kiln", "int zebra = 1;\nint apple = 2;\n")

	_, ix := newIndexer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ix.Run(ctx, []string{dir}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	all := ix.Search("")
	if len(all) != 2 {
		t.Fatalf("Search(\"\") = %d entries, want 2", len(all))
	}
	if all[0].Name != "apple" || all[1].Name != "zebra" {
		t.Errorf("not sorted by name: %v", all)
	}
}

func TestForget_DropsFileEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "gone.kiln", "int doomed = 1;\n")

	_, ix := newIndexer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ix.Run(ctx, []string{dir}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := ix.Search("doomed"); len(got) != 1 {
		t.Fatalf("precondition failed: %v", got)
	}

	ix.Forget(path)

	if got := ix.Search("doomed"); len(got) != 0 {
		t.Errorf("entries survived Forget: %v", got)
	}
}
