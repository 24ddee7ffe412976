package engine_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/engine"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()

	cfg := &kiln.Config{
		Scheduler: kiln.SchedulerConfig{DebounceMS: 50},
	}

	e, err := engine.New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("engine.New() error: %v", err)
	}
	t.Cleanup(e.Close)

	return e
}

func query(id string, feature kiln.Feature, uri string, pos *kiln.Position) kiln.Request {
	return kiln.Request{
		RequestID: id,
		Feature:   feature,
		Snapshot:  kiln.Latest(),
		Params:    kiln.QueryParams{URI: uri, Position: pos},
	}
}

func await(t *testing.T, e *engine.Engine, req kiln.Request) *kiln.QueryResponse {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := e.QueryWait(ctx, req)
	if err != nil {
		t.Fatalf("QueryWait(%s) error: %v", req.RequestID, err)
	}

	return resp
}

func TestQuery_FixedSnapshotReflectsOldContent(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	res1, err := e.OpenDocument("file:///doc1.kiln", "kiln", 1, "int a = 1;")
	if err != nil {
		t.Fatalf("OpenDocument() error: %v", err)
	}

	// Pin the v1 snapshot the way a client holding a stale view would.
	snap1, err := e.Host().SnapshotFor(res1.SnapshotID)
	if err != nil {
		t.Fatalf("SnapshotFor(v1) error: %v", err)
	}
	defer snap1.Release()

	res2, err := e.ChangeDocument("file:///doc1.kiln", 2, []kiln.TextEdit{{Text: "int a = 2;\nint b = a;"}})
	if err != nil {
		t.Fatalf("ChangeDocument() error: %v", err)
	}
	if res2.Revision <= res1.Revision {
		t.Fatalf("revisions not increasing: %d then %d", res1.Revision, res2.Revision)
	}

	req := query("fixed-1", kiln.FeatureDefinition, "file:///doc1.kiln", &kiln.Position{Line: 0, Column: 4})
	req.Snapshot = kiln.Fixed(res1.SnapshotID)

	resp := await(t, e, req)
	if resp.SnapshotIDUsed != res1.SnapshotID {
		t.Errorf("SnapshotIDUsed = %s, want %s", resp.SnapshotIDUsed, res1.SnapshotID)
	}
	if len(resp.Result.Locations) != 1 {
		t.Fatalf("Locations = %v, want the v1 declaration of a", resp.Result.Locations)
	}

	want := kiln.Span{Start: kiln.Position{Line: 0, Column: 4}, End: kiln.Position{Line: 0, Column: 5}}
	if diff := cmp.Diff(want, resp.Result.Locations[0].Span); diff != "" {
		t.Errorf("definition span mismatch (-want +got):\n%s", diff)
	}
}

func TestQuery_FixedSnapshotReleasedNotFound(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	res1, err := e.OpenDocument("file:///doc.kiln", "kiln", 1, "int a = 1;")
	if err != nil {
		t.Fatalf("OpenDocument() error: %v", err)
	}

	// The v1 snapshot is unpinned by the next mutation; nobody retained it.
	if _, err := e.ChangeDocument("file:///doc.kiln", 2, []kiln.TextEdit{{Text: "int a = 2;"}}); err != nil {
		t.Fatalf("ChangeDocument() error: %v", err)
	}

	req := query("stale", kiln.FeatureDefinition, "file:///doc.kiln", &kiln.Position{Line: 0, Column: 4})
	req.Snapshot = kiln.Fixed(res1.SnapshotID)

	_, err = e.Query(req)
	if !errors.Is(err, kiln.ErrSnapshotNotFound) {
		t.Fatalf("Query(stale fixed) = %v, want SNAPSHOT_NOT_FOUND", err)
	}
	if kiln.CodeOf(err) != kiln.CodeSnapshotNotFound {
		t.Errorf("CodeOf = %s", kiln.CodeOf(err))
	}
}

func TestQuery_DeterministicAndCacheHitParity(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	if _, err := e.OpenDocument("file:///d.kiln", "kiln", 1, "int a = 1;\nint b = a;"); err != nil {
		t.Fatalf("OpenDocument() error: %v", err)
	}

	first := await(t, e, query("d-1", kiln.FeatureHover, "file:///d.kiln", &kiln.Position{Line: 1, Column: 8}))
	second := await(t, e, query("d-2", kiln.FeatureHover, "file:///d.kiln", &kiln.Position{Line: 1, Column: 8}))

	if diff := cmp.Diff(first.Result, second.Result); diff != "" {
		t.Errorf("hit and miss results differ (-first +second):\n%s", diff)
	}
	if first.Metrics.Cache.Hit {
		t.Error("first query reported a cache hit on a cold cache")
	}
	if !second.Metrics.Cache.Hit {
		t.Error("second identical query missed the cache")
	}
	if first.SnapshotIDUsed != second.SnapshotIDUsed {
		t.Errorf("snapshot drift: %s then %s", first.SnapshotIDUsed, second.SnapshotIDUsed)
	}
}

func TestQuery_BrokenInputStillStructured(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	broken := []string{
		"int x = ;",
		"class C {\n int y\n",
		"",
		"fn f( {",
	}

	for i, text := range broken {
		version := int32(i + 1)
		if i == 0 {
			if _, err := e.OpenDocument("file:///b.kiln", "kiln", version, text); err != nil {
				t.Fatalf("OpenDocument() error: %v", err)
			}
		} else if _, err := e.ChangeDocument("file:///b.kiln", version, []kiln.TextEdit{{Text: text}}); err != nil {
			t.Fatalf("ChangeDocument(%d) error: %v", i, err)
		}

		resp := await(t, e, query(fmt.Sprintf("broken-%d", i), kiln.FeatureDiagnostics, "file:///b.kiln", nil))
		if resp.SnapshotIDUsed == "" {
			t.Errorf("edit %d: empty snapshotIdUsed", i)
		}
		if text != "" && len(resp.Result.Diagnostics) == 0 {
			t.Errorf("edit %d: broken text produced no diagnostics", i)
		}
	}
}

func TestQuery_ReferencesAcrossDocument(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	text := "int total = 0;\nfn bump(int n) {\n  int next = total + n;\n  return next;\n}"
	if _, err := e.OpenDocument("file:///r.kiln", "kiln", 1, text); err != nil {
		t.Fatalf("OpenDocument() error: %v", err)
	}

	resp := await(t, e, query("refs", kiln.FeatureReferences, "file:///r.kiln", &kiln.Position{Line: 0, Column: 5}))
	if len(resp.Result.Locations) != 2 {
		t.Fatalf("references = %d locations, want the declaration plus one use", len(resp.Result.Locations))
	}
	for _, loc := range resp.Result.Locations {
		if loc.URI != "file:///r.kiln" {
			t.Errorf("reference escaped the document: %s", loc.URI)
		}
	}
}

func TestQuery_CompletionIncludesImportExports(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	libPath := filepath.Join(dir, "lib.kiln")
	if err := os.WriteFile(libPath, []byte("int shared = 7;\nfn helper(int x) {\n}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	e := newEngine(t)

	mainURI := "file://" + filepath.Join(dir, "main.kiln")
	text := "import \"lib\";\nint local = shared;"
	if _, err := e.OpenDocument(mainURI, "kiln", 1, text); err != nil {
		t.Fatalf("OpenDocument() error: %v", err)
	}

	req := query("comp", kiln.FeatureCompletion, mainURI, nil)
	resp := await(t, e, req)

	labels := make(map[string]bool)
	for _, item := range resp.Result.Completions {
		labels[item.Label] = true
	}
	for _, want := range []string{"local", "shared", "helper"} {
		if !labels[want] {
			t.Errorf("completion missing %q (got %v)", want, resp.Result.Completions)
		}
	}
	if len(resp.Result.Failures) != 0 {
		t.Errorf("unexpected failures: %v", resp.Result.Failures)
	}
}

func TestQuery_DefinitionCrossFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	libPath := filepath.Join(dir, "lib.kiln")
	if err := os.WriteFile(libPath, []byte("int shared = 7;\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	e := newEngine(t)

	mainURI := "file://" + filepath.Join(dir, "main.kiln")
	if _, err := e.OpenDocument(mainURI, "kiln", 1, "import \"lib\";\nint local = shared;"); err != nil {
		t.Fatalf("OpenDocument() error: %v", err)
	}

	resp := await(t, e, query("xdef", kiln.FeatureDefinition, mainURI, &kiln.Position{Line: 1, Column: 13}))
	if len(resp.Result.Locations) != 1 {
		t.Fatalf("Locations = %v, want the declaration in lib.kiln", resp.Result.Locations)
	}
	if got := resp.Result.Locations[0].URI; got != "file://"+libPath {
		t.Errorf("definition uri = %s, want lib.kiln", got)
	}
}

func TestQuery_MissingImportIsPartialSuccess(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	if _, err := e.OpenDocument("file:///p.kiln", "kiln", 1, "import \"nowhere\";\nint a = 1;"); err != nil {
		t.Fatalf("OpenDocument() error: %v", err)
	}

	resp := await(t, e, query("partial", kiln.FeatureDiagnostics, "file:///p.kiln", nil))
	if len(resp.Result.Failures) != 1 {
		t.Fatalf("Failures = %v, want the unreadable import", resp.Result.Failures)
	}
}

func TestQuery_InvalidParams(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	if _, err := e.OpenDocument("file:///v.kiln", "kiln", 1, "int a = 1;"); err != nil {
		t.Fatalf("OpenDocument() error: %v", err)
	}

	if _, err := e.Query(query("no-pos", kiln.FeatureHover, "file:///v.kiln", nil)); !errors.Is(err, kiln.ErrInvalidParams) {
		t.Errorf("hover without position = %v, want INVALID_PARAMS", err)
	}
	if _, err := e.Query(query("no-uri", kiln.FeatureDiagnostics, "", nil)); !errors.Is(err, kiln.ErrInvalidParams) {
		t.Errorf("query without uri = %v, want INVALID_PARAMS", err)
	}
}

func TestMutation_EditUnknownDocument(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	_, err := e.ChangeDocument("file:///ghost.kiln", 1, []kiln.TextEdit{{Text: "int a = 1;"}})
	if !errors.Is(err, kiln.ErrInvalidParams) {
		t.Fatalf("ChangeDocument(unknown) = %v, want INVALID_PARAMS", err)
	}
}

func TestChange_InvalidatesDependents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	libPath := filepath.Join(dir, "lib.kiln")
	if err := os.WriteFile(libPath, []byte("int shared = 7;\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	e := newEngine(t)

	libURI := "file://" + libPath
	mainURI := "file://" + filepath.Join(dir, "main.kiln")
	if _, err := e.OpenDocument(mainURI, "kiln", 1, "import \"lib\";\nint local = shared;"); err != nil {
		t.Fatalf("OpenDocument(main) error: %v", err)
	}

	first := await(t, e, query("dep-1", kiln.FeatureDiagnostics, mainURI, nil))
	if gotWarn(first.Result.Diagnostics, "unresolved") {
		t.Fatalf("shared should resolve through the import: %v", first.Result.Diagnostics)
	}

	// Opening lib with different content changes what main resolves
	// against; main's cached analysis must not survive.
	if _, err := e.OpenDocument(libURI, "kiln", 1, "int renamed = 7;\n"); err != nil {
		t.Fatalf("OpenDocument(lib) error: %v", err)
	}

	second := await(t, e, query("dep-2", kiln.FeatureDiagnostics, mainURI, nil))
	if second.Metrics.Cache.Hit {
		t.Error("dependent served from cache after its import changed")
	}
	if !gotWarn(second.Result.Diagnostics, "unresolved") {
		t.Errorf("shared still resolves after the export was renamed: %v", second.Result.Diagnostics)
	}
}

func gotWarn(diags []kiln.Diagnostic, code string) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}

	return false
}

func TestStats_Surface(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	if _, err := e.OpenDocument("file:///s.kiln", "kiln", 1, "int a = 1;"); err != nil {
		t.Fatalf("OpenDocument() error: %v", err)
	}
	_ = await(t, e, query("stat-1", kiln.FeatureDiagnostics, "file:///s.kiln", nil))

	stats := e.EngineStats()
	if stats.Revision == 0 {
		t.Error("revision not advanced")
	}
	if stats.Cache.Size == 0 {
		t.Error("no cache entries after a query")
	}
	if stats.LiveSnapshots == 0 {
		t.Error("current snapshot not pinned")
	}
}
