package lsp

import (
	"context"
	"errors"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/kilnlsp/kiln"
)

// refreshDiagnostics runs the diagnostics pipeline for uri and
// publishes the outcome. The scheduler coalesces bursts on the stream,
// so most calls during rapid typing settle as CANCELLED and publish
// nothing. A response tagged with an older snapshot than one already
// published for the stream is dropped.
func (s *Server) refreshDiagnostics(ctx context.Context, u protocol.DocumentURI, version uint32) {
	requestID := newRequestID()

	resp, err := s.eng.QueryWait(ctx, kiln.Request{
		RequestID: requestID,
		Feature:   kiln.FeatureDiagnostics,
		Snapshot:  kiln.Latest(),
		Params:    kiln.QueryParams{URI: string(u)},
	})
	if err != nil {
		if errors.Is(err, kiln.ErrCancelled) {
			return // superseded by a newer edit, silent by contract
		}
		s.logger.Warn("diagnostics failed",
			zap.String("uri", string(u)),
			zap.String("requestId", requestID),
			zap.Error(err))

		return
	}

	if s.wasCancelled(requestID) {
		s.logger.Debug("dropping result for cancelled request",
			zap.String("requestId", requestID))

		return
	}

	rev := resp.SnapshotIDUsed.Revision()

	s.mu.Lock()
	if last, ok := s.published[u]; ok && rev < last {
		s.mu.Unlock()
		s.logger.Debug("dropping stale diagnostics",
			zap.String("uri", string(u)),
			zap.Uint64("revision", uint64(rev)),
			zap.Uint64("published", uint64(last)))

		return
	}
	s.published[u] = rev
	s.mu.Unlock()

	diagnostics := make([]protocol.Diagnostic, 0, len(resp.Result.Diagnostics))
	for _, d := range resp.Result.Diagnostics {
		diagnostics = append(diagnostics, convertDiagnostic(d))
	}

	if err := s.client.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		URI:         u,
		Version:     version,
		Diagnostics: diagnostics,
	}); err != nil {
		s.logger.Error("publish diagnostics failed",
			zap.String("uri", string(u)),
			zap.Error(err))
	}
}
