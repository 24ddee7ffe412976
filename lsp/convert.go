package lsp

import (
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/oracle"
)

// Engine columns are byte offsets within the line; LSP Character counts
// UTF-16 code units. The two agree on ASCII source, which is all the
// kiln grammar admits outside string literals and comments, so both
// conversions map columns through unchanged. A client placing the
// cursor after a non-ASCII literal on the same line gets a position
// skewed by the width difference.

// spanToRange converts an engine span to an LSP range. Both are
// zero-based with half-open ends, so the mapping is direct.
func spanToRange(s kiln.Span) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{
			Line:      uint32(s.Start.Line),   //nolint:gosec // spans are non-negative
			Character: uint32(s.Start.Column), //nolint:gosec
		},
		End: protocol.Position{
			Line:      uint32(s.End.Line),   //nolint:gosec
			Character: uint32(s.End.Column), //nolint:gosec
		},
	}
}

// positionFromLSP converts an LSP position to an engine position.
func positionFromLSP(p protocol.Position) kiln.Position {
	return kiln.Position{Line: int(p.Line), Column: int(p.Character)}
}

// convertDiagnostic converts an engine diagnostic to LSP format.
func convertDiagnostic(d kiln.Diagnostic) protocol.Diagnostic {
	return protocol.Diagnostic{
		Range:    spanToRange(d.Span),
		Severity: convertSeverity(d.Severity),
		Code:     d.Code,
		Source:   d.Source,
		Message:  d.Message,
	}
}

// convertSeverity maps engine severities onto LSP severities.
func convertSeverity(sev kiln.Severity) protocol.DiagnosticSeverity {
	switch sev {
	case kiln.SeverityError:
		return protocol.DiagnosticSeverityError
	case kiln.SeverityWarning:
		return protocol.DiagnosticSeverityWarning
	case kiln.SeverityInfo:
		return protocol.DiagnosticSeverityInformation
	case kiln.SeverityHint:
		return protocol.DiagnosticSeverityHint
	default:
		return protocol.DiagnosticSeverityError
	}
}

// convertLocation converts an engine location to LSP format.
func convertLocation(loc kiln.Location) protocol.Location {
	return protocol.Location{
		URI:   uri.URI(loc.URI),
		Range: spanToRange(loc.Span),
	}
}

// convertCompletionKind maps engine item kinds onto LSP kinds.
func convertCompletionKind(kind string) protocol.CompletionItemKind {
	switch oracle.SymbolKind(kind) {
	case oracle.KindVar:
		return protocol.CompletionItemKindVariable
	case oracle.KindClass:
		return protocol.CompletionItemKindClass
	case oracle.KindField:
		return protocol.CompletionItemKindField
	case oracle.KindFn:
		return protocol.CompletionItemKindFunction
	case oracle.KindParam:
		return protocol.CompletionItemKindVariable
	default:
		return protocol.CompletionItemKindText
	}
}

// convertSymbolKind maps oracle symbol kinds onto LSP symbol kinds.
func convertSymbolKind(kind oracle.SymbolKind) protocol.SymbolKind {
	switch kind {
	case oracle.KindClass:
		return protocol.SymbolKindClass
	case oracle.KindField:
		return protocol.SymbolKindField
	case oracle.KindFn:
		return protocol.SymbolKindFunction
	default:
		return protocol.SymbolKindVariable
	}
}

// changesFromLSP converts LSP content changes to engine edits. The
// server declares full document sync, so the last change carries the
// whole text and maps to one full-text replacement.
func changesFromLSP(changes []protocol.TextDocumentContentChangeEvent) []kiln.TextEdit {
	if len(changes) == 0 {
		return nil
	}

	return []kiln.TextEdit{{Text: changes[len(changes)-1].Text}}
}
