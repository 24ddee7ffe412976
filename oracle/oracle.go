// Package oracle provides the analysis oracle: a revision-addressable
// analyzer that turns source text into symbols, imports, references,
// and diagnostics. The engine treats the oracle as opaque; this package
// also ships the in-process reference oracle for the kiln demo
// language.
package oracle

import (
	"context"

	"github.com/kilnlsp/kiln"
)

// Checkpoint is polled between units of work so long-running analysis
// can observe cancellation promptly. A non-nil return unwinds the
// analysis immediately; partial artifacts are discarded by the caller.
type Checkpoint func() error

// Options tunes one analysis invocation.
type Options struct {
	// Checkpoint is polled between declarations. Nil means never
	// cancelled.
	Checkpoint Checkpoint

	// CheckpointEvery is the number of top-level declarations scanned
	// between checkpoint polls. Values below 1 poll every declaration.
	CheckpointEvery int

	// Externals names symbols visible through imports. Identifier uses
	// resolving to an external are not flagged as unresolved.
	Externals map[string]struct{}
}

// Oracle answers analysis requests for a single file's content.
type Oracle interface {
	// Analyze inspects content and returns the file's analysis. A
	// broken file yields a partial analysis with diagnostics, not an
	// error; the error return is reserved for cancellation and
	// timeouts.
	Analyze(ctx context.Context, path string, content []byte, opts Options) (*FileAnalysis, error)
}

// SymbolKind classifies a declared symbol.
type SymbolKind string

// Symbol kinds.
const (
	KindVar   SymbolKind = "var"
	KindClass SymbolKind = "class"
	KindField SymbolKind = "field"
	KindFn    SymbolKind = "fn"
	KindParam SymbolKind = "param"
)

// Symbol is one declaration found during analysis.
type Symbol struct {
	Name string
	Kind SymbolKind

	// Type is the declared type for vars/fields/params, or the class
	// name for classes.
	Type string

	// Detail is a one-line signature for hover.
	Detail string

	// Span covers the whole declaration; NameSpan just the identifier.
	Span     kiln.Span
	NameSpan kiln.Span

	// Container is the enclosing class or function name, if any.
	Container string
}

// Reference is one identifier use.
type Reference struct {
	Name string
	Span kiln.Span
}

// Import is one import directive.
type Import struct {
	Path string
	Span kiln.Span
}

// FileAnalysis is the artifact produced by analyzing one file. It is
// immutable once returned and safe to share across snapshots with the
// same fingerprint.
type FileAnalysis struct {
	Path        string
	Imports     []Import
	Symbols     []Symbol
	Refs        []Reference
	Diagnostics []kiln.Diagnostic

	// Decls counts top-level declarations scanned, including broken
	// ones. Used as the work-unit measure.
	Decls int
}

// ImportPaths returns the imported paths in declaration order.
func (fa *FileAnalysis) ImportPaths() []string {
	out := make([]string, len(fa.Imports))
	for i, imp := range fa.Imports {
		out[i] = imp.Path
	}

	return out
}

// HasErrors reports whether any diagnostic has error severity.
func (fa *FileAnalysis) HasErrors() bool {
	for _, d := range fa.Diagnostics {
		if d.Severity == kiln.SeverityError {
			return true
		}
	}

	return false
}
