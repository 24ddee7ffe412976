package oracle

import (
	"sort"
	"strings"

	"github.com/kilnlsp/kiln"
)

// identAt returns the identifier name under pos: either a reference or
// a declared symbol's name span.
func (fa *FileAnalysis) identAt(pos kiln.Position) (string, bool) {
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

// SymbolNamed returns the first declared symbol with the given name.
// Top-level declarations win over nested ones.
func (fa *FileAnalysis) SymbolNamed(name string) (Symbol, bool) {
	var nested *Symbol
	for i, sym := range fa.Symbols {
		if sym.Name != name {
			continue
		}
		if sym.Container == "" {
			return sym, true
		}
		if nested == nil {
			nested = &fa.Symbols[i]
		}
	}
	if nested != nil {
		return *nested, true
	}

	return Symbol{}, false
}

// DefinitionAt resolves the identifier at pos to its declaration's name
// span.
func (fa *FileAnalysis) DefinitionAt(pos kiln.Position) (Symbol, bool) {
	name, ok := fa.identAt(pos)
	if !ok {
		return Symbol{}, false
	}

	return fa.SymbolNamed(name)
}

// ReferencesAt returns every span where the identifier at pos appears:
// its declaration name plus all uses, in document order.
func (fa *FileAnalysis) ReferencesAt(pos kiln.Position, includeDecl bool) []kiln.Span {
	name, ok := fa.identAt(pos)
	if !ok {
		return nil
	}

	var spans []kiln.Span
	if includeDecl {
		if sym, found := fa.SymbolNamed(name); found {
			spans = append(spans, sym.NameSpan)
		}
	}
	for _, ref := range fa.Refs {
		if ref.Name == name {
			spans = append(spans, ref.Span)
		}
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start.Line != spans[j].Start.Line {
			return spans[i].Start.Line < spans[j].Start.Line
		}

		return spans[i].Start.Column < spans[j].Start.Column
	})

	return spans
}

// HoverAt describes the symbol under pos as a one-line signature.
func (fa *FileAnalysis) HoverAt(pos kiln.Position) (Symbol, bool) {
	return fa.DefinitionAt(pos)
}

// Completions returns declared symbols matching prefix, sorted by name.
// An empty prefix matches everything.
func (fa *FileAnalysis) Completions(prefix string) []Symbol {
	var out []Symbol
	seen := make(map[string]struct{})

	for _, sym := range fa.Symbols {
		if prefix != "" && !strings.HasPrefix(sym.Name, prefix) {
			continue
		}
		if _, dup := seen[sym.Name]; dup {
			continue
		}
		seen[sym.Name] = struct{}{}
		out = append(out, sym)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// ExportedNames returns the names a file contributes to importers:
// top-level vars, classes, and functions.
func (fa *FileAnalysis) ExportedNames() map[string]struct{} {
	out := make(map[string]struct{})
	for _, sym := range fa.Symbols {
		if sym.Container == "" && sym.Kind != KindParam {
			out[sym.Name] = struct{}{}
		}
	}

	return out
}
