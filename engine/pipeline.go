package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/host"
	"github.com/kilnlsp/kiln/oracle"
	"github.com/kilnlsp/kiln/scheduler"
)

// diagnosticSource tags engine-produced diagnostics.
const diagnosticSource = "kiln"

// runPipeline executes the feature pipeline for req against snap. It is
// deterministic over (snapshot id, feature, params): the same inputs
// produce the same result whether they hit or miss the cache.
func (e *Engine) runPipeline(ctx context.Context, tok *scheduler.Token, snap *host.Snapshot, req kiln.Request) (*kiln.QueryResult, bool, error) {
	path := pathOfURI(req.Params.URI)

	class := req.Class
	if class == "" {
		class = kiln.ClassFor(req.Feature)
	}

	da, err := e.analyzeDocument(ctx, e.newCheckpointer(ctx, tok, class), snap, path)
	if err != nil {
		return nil, false, err
	}

	result := &kiln.QueryResult{Failures: da.failures}

	switch req.Feature {
	case kiln.FeatureDiagnostics:
		result.Diagnostics = projectDiagnostics(da.primary)
	case kiln.FeatureDefinition:
		result.Locations = e.definition(da, req.Params)
	case kiln.FeatureReferences:
		result.Locations = e.references(da, req.Params)
	case kiln.FeatureCompletion:
		result.Completions = e.completion(da, req.Params)
	case kiln.FeatureHover:
		result.Hover = e.hover(da, req.Params)
	default:
		return nil, false, fmt.Errorf("%w: unknown feature %q", kiln.ErrInvalidParams, req.Feature)
	}

	return result, da.cacheHit, nil
}

// projectDiagnostics copies the analysis diagnostics into wire-shaped
// DTOs with the engine source tag.
func projectDiagnostics(fa *oracle.FileAnalysis) []kiln.Diagnostic {
	out := make([]kiln.Diagnostic, len(fa.Diagnostics))
	for i, d := range fa.Diagnostics {
		d.Source = diagnosticSource
		out[i] = d
	}

	return out
}

// definition resolves the declaration of the identifier at the
// position, first in the document, then across its direct imports.
func (e *Engine) definition(da *documentAnalysis, params kiln.QueryParams) []kiln.Location {
	sym, ok := da.primary.DefinitionAt(*params.Position)
	if ok {
		return []kiln.Location{{URI: params.URI, Span: sym.NameSpan}}
	}

	name, ok := identNameAt(da.primary, *params.Position)
	if !ok {
		return nil
	}

	for _, depPath := range sortedDepPaths(da.deps) {
		if depSym, ok := da.deps[depPath].SymbolNamed(name); ok {
			return []kiln.Location{{URI: uriForPath(depPath), Span: depSym.NameSpan}}
		}
	}

	return nil
}

// references lists every use of the identifier at the position within
// the document, declaration included.
func (e *Engine) references(da *documentAnalysis, params kiln.QueryParams) []kiln.Location {
	spans := da.primary.ReferencesAt(*params.Position, true)

	out := make([]kiln.Location, len(spans))
	for i, span := range spans {
		out[i] = kiln.Location{URI: params.URI, Span: span}
	}

	return out
}

// completion merges document-local symbols with the exports of resolved
// imports, deduplicated and sorted for deterministic output.
func (e *Engine) completion(da *documentAnalysis, params kiln.QueryParams) []kiln.CompletionItem {
	items := make([]kiln.CompletionItem, 0, 16)
	seen := make(map[string]struct{})

	for _, sym := range da.primary.Completions(params.Prefix) {
		if _, dup := seen[sym.Name]; dup {
			continue
		}
		seen[sym.Name] = struct{}{}
		items = append(items, kiln.CompletionItem{
			Label:  sym.Name,
			Kind:   string(sym.Kind),
			Detail: sym.Detail,
		})
	}

	for _, depPath := range sortedDepPaths(da.deps) {
		dep := da.deps[depPath]
		for _, sym := range dep.Completions(params.Prefix) {
			if sym.Container != "" {
				continue // only top-level exports cross files
			}
			if _, dup := seen[sym.Name]; dup {
				continue
			}
			seen[sym.Name] = struct{}{}
			items = append(items, kiln.CompletionItem{
				Label:  sym.Name,
				Kind:   string(sym.Kind),
				Detail: sym.Detail,
			})
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })

	return items
}

// hover describes the symbol at the position, or nil when the position
// hits nothing nameable.
func (e *Engine) hover(da *documentAnalysis, params kiln.QueryParams) *kiln.HoverInfo {
	sym, ok := da.primary.HoverAt(*params.Position)
	if !ok {
		if name, found := identNameAt(da.primary, *params.Position); found {
			for _, depPath := range sortedDepPaths(da.deps) {
				if depSym, ok := da.deps[depPath].SymbolNamed(name); ok {
					// The hovered range lives in this document, not the
					// import, so no span is attached.
					return &kiln.HoverInfo{Contents: depSym.Detail}
				}
			}
		}

		return nil
	}

	span := sym.NameSpan

	return &kiln.HoverInfo{Contents: sym.Detail, Span: &span}
}

// identNameAt finds the identifier name under the position, checking
// references first and declared names second.
func identNameAt(fa *oracle.FileAnalysis, pos kiln.Position) (string, bool) {
	for _, ref := range fa.Refs {
		if ref.Span.Contains(pos) {
			return ref.Name, true
		}
	}
	for _, sym := range fa.Symbols {
		if sym.NameSpan.Contains(pos) {
			return sym.Name, true
		}
	}

	return "", false
}

func sortedDepPaths(deps map[string]*oracle.FileAnalysis) []string {
	if len(deps) == 0 {
		return nil
	}

	paths := make([]string, 0, len(deps))
	for p := range deps {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return paths
}
