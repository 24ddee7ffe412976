// Package engine wires the host, scheduler, cache, and analysis oracle
// into the query pipelines exposed over the query-engine-v2 surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/cache"
	"github.com/kilnlsp/kiln/host"
	"github.com/kilnlsp/kiln/oracle"
	"github.com/kilnlsp/kiln/scheduler"
)

// Engine owns one session's state: the mutable host, the artifact
// cache, and the scheduler. All methods are safe for concurrent use.
type Engine struct {
	logger  *zap.Logger
	cfg     *kiln.Config
	host    *host.Host
	store   *cache.Store
	content *cache.ContentCache
	sched   *scheduler.Scheduler
	oracle  oracle.Oracle
}

// New builds an engine from cfg. A nil cfg uses defaults throughout.
func New(cfg *kiln.Config, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = &kiln.Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	content, err := cache.NewContentCache(cfg.Cache.ContentBudget())
	if err != nil {
		return nil, fmt.Errorf("content cache: %w", err)
	}

	return &Engine{
		logger:  logger,
		cfg:     cfg,
		host:    host.New(logger),
		store:   cache.New(cfg.Cache.Budget(), logger),
		content: content,
		sched:   scheduler.New(cfg.Scheduler, logger),
		oracle:  oracle.NewAnalyzer(),
	}, nil
}

// Host exposes the engine's host for adapters that need snapshot access.
func (e *Engine) Host() *host.Host { return e.host }

// OpenDocument makes uri's content authoritative from the editor buffer.
func (e *Engine) OpenDocument(u, languageID string, version int32, text string) (kiln.MutationResult, error) {
	res, err := e.host.Open(u, languageID, version, text)
	if err != nil {
		return res, err
	}

	e.store.Invalidate(pathOfURI(u), true)

	return res, nil
}

// ChangeDocument applies edits to an open document. The document's
// cached artifacts are orphaned by the fingerprint change; dependents
// are invalidated explicitly.
func (e *Engine) ChangeDocument(u string, version int32, changes []kiln.TextEdit) (kiln.MutationResult, error) {
	res, err := e.host.Change(u, version, changes)
	if err != nil {
		return res, err
	}

	e.store.Invalidate(pathOfURI(u), true)

	return res, nil
}

// CloseDocument reverts uri to disk authority and tears down its
// request streams.
func (e *Engine) CloseDocument(u string) (kiln.MutationResult, error) {
	res, err := e.host.Close(u)
	if err != nil {
		return res, err
	}

	e.sched.CancelStreamsFor(u)
	e.store.Invalidate(pathOfURI(u), true)

	return res, nil
}

// UpdateConfig merges settings into the session configuration.
func (e *Engine) UpdateConfig(settings map[string]any) (kiln.MutationResult, error) {
	return e.host.UpdateConfig(settings)
}

// UpdateWorkspace replaces or adjusts the workspace roots.
func (e *Engine) UpdateWorkspace(roots, added, removed []string) (kiln.MutationResult, error) {
	return e.host.UpdateWorkspace(roots, added, removed)
}

// Query admits a feature request. The returned handle resolves when the
// request executes, is superseded, or is cancelled. Fixed-snapshot
// selectors are resolved here so staleness fails fast; latest-mode
// requests bind to the newest snapshot at execution time.
func (e *Engine) Query(req kiln.Request) (*scheduler.Handle, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var fixed *host.Snapshot
	if req.Snapshot.Mode == kiln.SnapshotFixed {
		snap, err := e.host.SnapshotFor(req.Snapshot.SnapshotID)
		if err != nil {
			return nil, err
		}
		fixed = snap
	}

	run := func(ctx context.Context, tok *scheduler.Token, queueWait time.Duration) (*kiln.QueryResponse, error) {
		return e.execute(ctx, tok, req, fixed, queueWait)
	}

	handle, err := e.sched.Submit(req, run)
	if err != nil {
		if fixed != nil {
			fixed.Release()
		}

		return nil, err
	}

	if fixed != nil {
		// The snapshot stays pinned until the request settles, whether
		// it ran or was cancelled before execution.
		go func() {
			_, _ = handle.Await(context.Background())
			fixed.Release()
		}()
	}

	return handle, nil
}

// QueryWait submits req and blocks until its outcome.
func (e *Engine) QueryWait(ctx context.Context, req kiln.Request) (*kiln.QueryResponse, error) {
	handle, err := e.Query(req)
	if err != nil {
		return nil, err
	}

	return handle.Await(ctx)
}

// execute runs one pipeline under the per-request timeout.
func (e *Engine) execute(ctx context.Context, tok *scheduler.Token, req kiln.Request, fixed *host.Snapshot, queueWait time.Duration) (*kiln.QueryResponse, error) {
	snap := fixed
	if snap == nil {
		snap = e.host.CurrentSnapshot()
		defer snap.Release()
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.Oracle.Timeout())
	defer cancel()

	start := time.Now()
	result, hit, err := e.runPipeline(tctx, tok, snap, req)
	if err != nil {
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			e.logger.Error("pipeline timed out",
				zap.String("requestId", req.RequestID),
				zap.String("feature", string(req.Feature)),
				zap.String("snapshotId", string(snap.ID())))

			return nil, kiln.WithSnapshot(
				fmt.Errorf("%w: %s pipeline exceeded %s", kiln.ErrInternal, req.Feature, e.cfg.Oracle.Timeout()),
				snap.ID())
		}

		return nil, kiln.WithSnapshot(err, snap.ID())
	}

	return &kiln.QueryResponse{
		RequestID:      req.RequestID,
		SnapshotIDUsed: snap.ID(),
		Result:         *result,
		Metrics: kiln.Metrics{
			DurationMS:  kiln.FormatDuration(time.Since(start)),
			QueueWaitMS: kiln.FormatDuration(queueWait),
			Cache:       kiln.CacheMetrics{Hit: hit},
		},
	}, nil
}

// FileChanged reacts to an on-disk change of path. Open documents are
// authoritative from the editor buffer, so only closed files invalidate
// cached artifacts. Returns the number of entries removed.
func (e *Engine) FileChanged(path string) int {
	snap := e.host.CurrentSnapshot()
	defer snap.Release()

	if _, open := snap.Document(uriForPath(path)); open {
		return 0
	}

	return e.store.Invalidate(path, true)
}

// DocumentSymbols returns the declared symbols of u at the current
// snapshot, through the same memoized analysis path the pipelines use.
// Callers that just ran a query for u get a cache hit.
func (e *Engine) DocumentSymbols(ctx context.Context, u string) ([]oracle.Symbol, error) {
	snap := e.host.CurrentSnapshot()
	defer snap.Release()

	cp := e.newCheckpointer(ctx, scheduler.NewToken(), kiln.ClassInteractive)

	da, err := e.analyzeDocument(ctx, cp, snap, pathOfURI(u))
	if err != nil {
		return nil, err
	}

	return da.primary.Symbols, nil
}

// Cancel cancels a live request by id. Returns whether the id was known
// and still cancellable.
func (e *Engine) Cancel(requestID, reason string) bool {
	return e.sched.CancelRequest(requestID, reason)
}

// Stats reports the engine's cache and queue state.
type Stats struct {
	Revision      kiln.Revision             `json:"revision"`
	LiveSnapshots int                       `json:"liveSnapshots"`
	Cache         cache.Stats               `json:"cache"`
	Queues        map[kiln.RequestClass]int `json:"queues"`
}

// EngineStats returns a point-in-time view for logs and the CLI.
func (e *Engine) EngineStats() Stats {
	return Stats{
		Revision:      e.host.Revision(),
		LiveSnapshots: e.host.LiveSnapshots(),
		Cache:         e.store.Stats(),
		Queues:        e.sched.Depths(),
	}
}

// Close stops the scheduler and releases cache resources.
func (e *Engine) Close() {
	e.sched.Close()
	e.content.Close()
}

// validate rejects malformed requests before admission.
func validate(req kiln.Request) error {
	if req.Params.URI == "" {
		return fmt.Errorf("%w: missing uri", kiln.ErrInvalidParams)
	}

	switch req.Feature {
	case kiln.FeatureDefinition, kiln.FeatureReferences, kiln.FeatureHover:
		if req.Params.Position == nil {
			return fmt.Errorf("%w: %s requires a position", kiln.ErrInvalidParams, req.Feature)
		}
	}

	if req.Snapshot.Mode == kiln.SnapshotFixed && req.Snapshot.SnapshotID == "" {
		return fmt.Errorf("%w: fixed snapshot selector without snapshotId", kiln.ErrInvalidParams)
	}

	return nil
}

// pathOfURI converts a document uri to a filesystem path. Bare paths
// pass through so CLI callers can use them directly.
func pathOfURI(s string) string {
	if strings.HasPrefix(s, "file://") {
		return uri.URI(s).Filename()
	}

	return s
}

// uriForPath is the inverse of pathOfURI.
func uriForPath(p string) string {
	if strings.HasPrefix(p, "file://") {
		return p
	}

	return string(uri.File(p))
}
