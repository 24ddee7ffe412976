package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"go.uber.org/zap"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/host"
	"github.com/kilnlsp/kiln/oracle"
	"github.com/kilnlsp/kiln/scheduler"
)

// checkpointer is the cancellation poll shared by one request's
// analysis passes. Background-class requests additionally yield the
// processor every slice polls so foreground goroutines run promptly
// even under a long workspace walk.
type checkpointer struct {
	ctx   context.Context
	tok   *scheduler.Token
	slice int // 0 disables yielding
	polls int
}

func (e *Engine) newCheckpointer(ctx context.Context, tok *scheduler.Token, class kiln.RequestClass) *checkpointer {
	cp := &checkpointer{ctx: ctx, tok: tok}
	if class == kiln.ClassBackground {
		cp.slice = e.cfg.Scheduler.Slice()
	}

	return cp
}

func (cp *checkpointer) poll() error {
	if err := cp.tok.Err(); err != nil {
		return err
	}
	if err := cp.ctx.Err(); err != nil {
		return err
	}

	if cp.slice > 0 {
		cp.polls++
		if cp.polls%cp.slice == 0 {
			runtime.Gosched()
		}
	}

	return nil
}

// fileInput is one file's analyzable content with its cache key.
type fileInput struct {
	path        string
	content     []byte
	fingerprint kiln.Fingerprint
}

// documentAnalysis is the pipeline's view of one analyzed document plus
// the direct dependencies its imports resolved to.
type documentAnalysis struct {
	primary *oracle.FileAnalysis
	deps    map[string]*oracle.FileAnalysis

	// failures lists dependency paths that could not be read or
	// analyzed. Partial success is still success.
	failures []string

	cacheHit bool
}

// loadInput resolves a path's authoritative content: the snapshot's
// buffer when the document is open, the disk (via the content cache)
// otherwise.
func (e *Engine) loadInput(snap *host.Snapshot, path string) (fileInput, error) {
	if doc, ok := snap.Document(uriForPath(path)); ok {
		return fileInput{
			path:        path,
			content:     []byte(doc.Text),
			fingerprint: doc.Fingerprint,
		}, nil
	}

	data, fp, err := e.content.Read(path)
	if err != nil {
		return fileInput{}, fmt.Errorf("%w: cannot read %s: %v", kiln.ErrInvalidParams, path, err)
	}

	return fileInput{path: path, content: data, fingerprint: fp}, nil
}

// analyzeDocument produces the analysis for path at the snapshot's
// content, memoized through the cache store. Dependency edges are
// registered before the artifact is stored so later invalidation of any
// import reaches this path.
func (e *Engine) analyzeDocument(ctx context.Context, cp *checkpointer, snap *host.Snapshot, path string) (*documentAnalysis, error) {
	in, err := e.loadInput(snap, path)
	if err != nil {
		return nil, err
	}

	if cached, ok := e.store.Get(path, in.fingerprint); ok {
		if fa, ok := cached.(*oracle.FileAnalysis); ok {
			deps, failures := e.resolveDeps(ctx, cp, snap, fa)

			return &documentAnalysis{primary: fa, deps: deps, failures: failures, cacheHit: true}, nil
		}
	}

	// First pass discovers imports; externals from resolved imports
	// feed the second pass so cross-file uses resolve.
	fa, err := e.oracle.Analyze(ctx, path, in.content, e.oracleOptions(cp, nil))
	if err != nil {
		return nil, err
	}

	deps, failures := e.resolveDeps(ctx, cp, snap, fa)

	if len(deps) > 0 {
		externals := make(map[string]struct{})
		for _, dep := range deps {
			for name := range dep.ExportedNames() {
				externals[name] = struct{}{}
			}
		}

		fa, err = e.oracle.Analyze(ctx, path, in.content, e.oracleOptions(cp, externals))
		if err != nil {
			return nil, err
		}
	}

	depPaths := make([]string, 0, len(deps))
	for p := range deps {
		depPaths = append(depPaths, p)
	}
	sort.Strings(depPaths)

	if err := cp.poll(); err != nil {
		// Cancelled work commits nothing.
		return nil, err
	}
	e.store.Put(path, in.fingerprint, fa, depPaths)

	return &documentAnalysis{primary: fa, deps: deps, failures: failures}, nil
}

// oracleOptions binds a request's checkpointer and the configured poll
// cadence into one analysis invocation.
func (e *Engine) oracleOptions(cp *checkpointer, externals map[string]struct{}) oracle.Options {
	return oracle.Options{
		Checkpoint:      cp.poll,
		CheckpointEvery: e.cfg.Oracle.Checkpoint(),
		Externals:       externals,
	}
}

// resolveDeps analyzes each import of fa one level deep. Unreadable or
// unanalyzable imports are reported as failures, never as a hard error.
func (e *Engine) resolveDeps(ctx context.Context, cp *checkpointer, snap *host.Snapshot, fa *oracle.FileAnalysis) (map[string]*oracle.FileAnalysis, []string) {
	if len(fa.Imports) == 0 {
		return nil, nil
	}

	deps := make(map[string]*oracle.FileAnalysis, len(fa.Imports))
	var failures []string

	for _, imp := range fa.Imports {
		depPath := resolveImport(fa.Path, imp.Path)

		depFA, err := e.analyzeDep(ctx, cp, snap, depPath)
		if err != nil {
			e.logger.Debug("dependency analysis failed",
				zap.String("path", fa.Path),
				zap.String("import", imp.Path),
				zap.Error(err))
			failures = append(failures, depPath)

			continue
		}
		deps[depPath] = depFA
	}

	sort.Strings(failures)

	return deps, failures
}

// analyzeDep analyzes one imported file without chasing its own
// imports. Results are memoized under the dependency's own key.
func (e *Engine) analyzeDep(ctx context.Context, cp *checkpointer, snap *host.Snapshot, path string) (*oracle.FileAnalysis, error) {
	in, err := e.loadInput(snap, path)
	if err != nil {
		return nil, err
	}

	if cached, ok := e.store.Get(path, in.fingerprint); ok {
		if fa, ok := cached.(*oracle.FileAnalysis); ok {
			return fa, nil
		}
	}

	fa, err := e.oracle.Analyze(ctx, path, in.content, e.oracleOptions(cp, nil))
	if err != nil {
		return nil, err
	}

	if err := cp.poll(); err != nil {
		return nil, err
	}
	e.store.Put(path, in.fingerprint, fa, nil)

	return fa, nil
}

// resolveImport turns an import path into a filesystem path relative to
// the importing file. Extension-less imports get the demo language's.
func resolveImport(fromPath, imp string) string {
	if filepath.Ext(imp) == "" {
		imp += ".kiln"
	}
	if filepath.IsAbs(imp) {
		return filepath.Clean(imp)
	}

	return filepath.Clean(filepath.Join(filepath.Dir(fromPath), imp))
}
