// Package index maintains a workspace-wide symbol table. It walks the
// workspace roots, pushes background-class analysis through the engine
// so indexing never competes with typing work, and answers workspace
// symbol searches from the accumulated table.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/boyter/gocodewalker"
	"github.com/google/uuid"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/engine"
)

// sourceExtension is the demo language's file extension, without dot.
const sourceExtension = "kiln"

// walkerBuffer bounds the file discovery queue per root.
const walkerBuffer = 100

// Entry is one indexed symbol.
type Entry struct {
	Name      string        `json:"name"`
	Kind      string        `json:"kind"`
	Container string        `json:"container,omitempty"`
	Location  kiln.Location `json:"location"`
}

// Indexer walks workspace roots and indexes their symbols.
type Indexer struct {
	logger *zap.Logger
	eng    *engine.Engine

	mu      sync.RWMutex
	byPath  map[string][]Entry
	failed  int
	running bool
}

// New creates an indexer over eng.
func New(eng *engine.Engine, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Indexer{
		logger: logger,
		eng:    eng,
		byPath: make(map[string][]Entry),
	}
}

// Run indexes every source file under roots. Roots are walked
// concurrently; file analysis flows through the engine's background
// queue one file at a time so the scheduler can interleave foreground
// work. Per-file failures are logged and skipped, never fatal.
func (ix *Indexer) Run(ctx context.Context, roots []string) error {
	ix.mu.Lock()
	if ix.running {
		ix.mu.Unlock()

		return fmt.Errorf("%w: index run already in progress", kiln.ErrEngineBusy)
	}
	ix.running = true
	ix.mu.Unlock()

	defer func() {
		ix.mu.Lock()
		ix.running = false
		ix.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, root := range roots {
		root := root
		g.Go(func() error {
			return ix.walkRoot(gctx, root)
		})
	}

	return g.Wait()
}

// walkRoot enumerates one root, honoring .gitignore, and indexes each
// discovered file.
func (ix *Indexer) walkRoot(ctx context.Context, root string) error {
	fileListQueue := make(chan *gocodewalker.File, walkerBuffer)

	fileWalker := gocodewalker.NewFileWalker(root, fileListQueue)
	fileWalker.AllowListExtensions = []string{sourceExtension}

	var walkErr error
	fileWalker.SetErrorHandler(func(e error) bool {
		walkErr = e

		return true
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for f := range fileListQueue {
			if ctx.Err() != nil {
				continue // drain; the walker has no abort channel
			}
			ix.indexFile(ctx, f.Location)
		}
	}()

	if err := fileWalker.Start(); err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}

	wg.Wait()
	if walkErr != nil {
		return fmt.Errorf("walk %s: %w", root, walkErr)
	}

	return ctx.Err()
}

// indexFile runs one file's analysis as background work and records its
// symbols.
func (ix *Indexer) indexFile(ctx context.Context, path string) {
	fileURI := string(uri.File(path))

	req := kiln.Request{
		RequestID: "index-" + uuid.NewString(),
		Feature:   kiln.FeatureDiagnostics,
		Snapshot:  kiln.Latest(),
		Class:     kiln.ClassBackground,
		Params:    kiln.QueryParams{URI: fileURI},
	}

	if _, err := ix.eng.QueryWait(ctx, req); err != nil {
		ix.logger.Debug("index analysis failed",
			zap.String("path", path),
			zap.Error(err))
		ix.mu.Lock()
		ix.failed++
		ix.mu.Unlock()

		return
	}

	// The query above populated the cache, so this is a cheap re-read.
	syms, err := ix.eng.DocumentSymbols(ctx, fileURI)
	if err != nil {
		ix.mu.Lock()
		ix.failed++
		ix.mu.Unlock()

		return
	}

	entries := make([]Entry, 0, len(syms))
	for _, sym := range syms {
		if sym.Kind == "param" {
			continue // parameters are not workspace symbols
		}
		entries = append(entries, Entry{
			Name:      sym.Name,
			Kind:      string(sym.Kind),
			Container: sym.Container,
			Location:  kiln.Location{URI: fileURI, Span: sym.NameSpan},
		})
	}

	ix.mu.Lock()
	ix.byPath[path] = entries
	ix.mu.Unlock()
}

// Search returns indexed symbols whose name contains query,
// case-insensitively. An empty query matches everything. Results are
// sorted by name then location for deterministic output.
func (ix *Indexer) Search(query string) []Entry {
	needle := strings.ToLower(query)

	ix.mu.RLock()
	var out []Entry
	for _, entries := range ix.byPath {
		for _, e := range entries {
			if needle == "" || strings.Contains(strings.ToLower(e.Name), needle) {
				out = append(out, e)
			}
		}
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].Location.URI != out[j].Location.URI {
			return out[i].Location.URI < out[j].Location.URI
		}

		return out[i].Location.Span.Start.Line < out[j].Location.Span.Start.Line
	})

	return out
}

// Forget drops a file's entries, for deleted files.
func (ix *Indexer) Forget(path string) {
	ix.mu.Lock()
	delete(ix.byPath, path)
	ix.mu.Unlock()
}

// Stats reports indexed and failed file counts.
func (ix *Indexer) Stats() (files, failed int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.byPath), ix.failed
}
