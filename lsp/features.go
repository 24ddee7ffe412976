package lsp

import (
	"context"
	"errors"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/oracle"
)

// query runs one feature request against the latest snapshot. A
// cancelled or failed query degrades to no result; the adapter never
// invents one.
func (s *Server) query(ctx context.Context, feature kiln.Feature, params kiln.QueryParams) (*kiln.QueryResponse, bool) {
	requestID := newRequestID()

	resp, err := s.eng.QueryWait(ctx, kiln.Request{
		RequestID: requestID,
		Feature:   feature,
		Snapshot:  kiln.Latest(),
		Params:    params,
	})
	if err != nil {
		if !errors.Is(err, kiln.ErrCancelled) {
			s.logger.Warn("query failed",
				zap.String("feature", string(feature)),
				zap.String("requestId", requestID),
				zap.Error(err))
		}

		return nil, false
	}

	if s.wasCancelled(requestID) {
		return nil, false
	}

	return resp, true
}

// Hover handles textDocument/hover requests.
func (s *Server) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	pos := positionFromLSP(params.Position)

	resp, ok := s.query(ctx, kiln.FeatureHover, kiln.QueryParams{
		URI:      string(params.TextDocument.URI),
		Position: &pos,
	})
	if !ok || resp.Result.Hover == nil {
		return nil, nil //nolint:nilnil
	}

	hover := &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: "```kiln\n" + resp.Result.Hover.Contents + "\n```",
		},
	}
	if resp.Result.Hover.Span != nil {
		rng := spanToRange(*resp.Result.Hover.Span)
		hover.Range = &rng
	}

	return hover, nil
}

// Definition handles textDocument/definition requests.
func (s *Server) Definition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error) {
	pos := positionFromLSP(params.Position)

	resp, ok := s.query(ctx, kiln.FeatureDefinition, kiln.QueryParams{
		URI:      string(params.TextDocument.URI),
		Position: &pos,
	})
	if !ok {
		return nil, nil
	}

	return convertLocations(resp.Result.Locations), nil
}

// References handles textDocument/references requests.
func (s *Server) References(ctx context.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	pos := positionFromLSP(params.Position)

	resp, ok := s.query(ctx, kiln.FeatureReferences, kiln.QueryParams{
		URI:      string(params.TextDocument.URI),
		Position: &pos,
	})
	if !ok {
		return nil, nil
	}

	return convertLocations(resp.Result.Locations), nil
}

// Completion handles textDocument/completion requests.
func (s *Server) Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	pos := positionFromLSP(params.Position)

	resp, ok := s.query(ctx, kiln.FeatureCompletion, kiln.QueryParams{
		URI:      string(params.TextDocument.URI),
		Position: &pos,
	})
	if !ok {
		return nil, nil //nolint:nilnil
	}

	items := make([]protocol.CompletionItem, 0, len(resp.Result.Completions))
	for _, c := range resp.Result.Completions {
		items = append(items, protocol.CompletionItem{
			Label:  c.Label,
			Kind:   convertCompletionKind(c.Kind),
			Detail: c.Detail,
		})
	}

	return &protocol.CompletionList{IsIncomplete: false, Items: items}, nil
}

// DocumentSymbol handles textDocument/documentSymbol requests.
func (s *Server) DocumentSymbol(ctx context.Context, params *protocol.DocumentSymbolParams) ([]any, error) {
	syms, err := s.eng.DocumentSymbols(ctx, string(params.TextDocument.URI))
	if err != nil {
		s.logger.Warn("documentSymbol failed", zap.Error(err))

		return nil, nil
	}

	out := make([]any, 0, len(syms))
	for _, sym := range syms {
		if sym.Kind == oracle.KindParam {
			continue
		}
		out = append(out, protocol.SymbolInformation{
			Name:          sym.Name,
			Kind:          convertSymbolKind(sym.Kind),
			ContainerName: sym.Container,
			Location: protocol.Location{
				URI:   params.TextDocument.URI,
				Range: spanToRange(sym.NameSpan),
			},
		})
	}

	return out, nil
}

// Symbols handles workspace/symbol requests from the background index.
func (s *Server) Symbols(_ context.Context, params *protocol.WorkspaceSymbolParams) ([]protocol.SymbolInformation, error) {
	entries := s.ix.Search(params.Query)

	out := make([]protocol.SymbolInformation, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.SymbolInformation{
			Name:          e.Name,
			Kind:          convertSymbolKind(oracle.SymbolKind(e.Kind)),
			ContainerName: e.Container,
			Location:      convertLocation(e.Location),
		})
	}

	return out, nil
}

func convertLocations(locs []kiln.Location) []protocol.Location {
	out := make([]protocol.Location, 0, len(locs))
	for _, loc := range locs {
		out = append(out, convertLocation(loc))
	}

	return out
}
