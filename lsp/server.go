// Package lsp adapts the kiln query engine to the Language Server
// Protocol. Document lifecycle notifications become host mutations,
// feature requests become engine queries, and diagnostics are published
// as typing-class queries settle. The adapter never synthesizes
// semantic results: when the engine degrades, so does the response.
package lsp

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/engine"
	"github.com/kilnlsp/kiln/index"
	"github.com/kilnlsp/kiln/watch"
)

// serverName is reported in the initialize handshake.
const serverName = "kiln-ls"

// serverVersion is reported in the initialize handshake.
const serverVersion = "0.1.0"

// Server implements the LSP Server interface on top of the engine.
type Server struct {
	// Methods outside the advertised capabilities fall through to the
	// embedded interface; conforming clients never call them.
	protocol.Server

	client  protocol.Client
	logger  *zap.Logger
	eng     *engine.Engine
	ix      *index.Indexer
	watcher *watch.Watcher

	mu sync.Mutex

	// published tracks, per diagnostics stream, the revision of the
	// last snapshot whose results reached the client. Responses tagged
	// with an older snapshot are dropped.
	published map[protocol.DocumentURI]kiln.Revision

	// cancelled remembers request ids the client cancelled, so a
	// response that raced the cancel is refused even if the scheduler
	// already delivered it.
	cancelled map[string]struct{}

	initialized bool
	shutdown    bool
	roots       []string
}

// NewServer creates an LSP server over eng.
func NewServer(client protocol.Client, eng *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		client:    client,
		logger:    logger,
		eng:       eng,
		ix:        index.New(eng, logger),
		published: make(map[protocol.DocumentURI]kiln.Revision),
		cancelled: make(map[string]struct{}),
	}
}

// Initialize handles the initialize request.
func (s *Server) Initialize(_ context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	s.logger.Info("Initialize")

	var roots []string
	if params.RootURI != "" {
		roots = append(roots, params.RootURI.Filename())
	} else if params.RootPath != "" {
		roots = append(roots, params.RootPath)
	}
	for _, f := range params.WorkspaceFolders {
		roots = append(roots, folderPath(f))
	}

	s.mu.Lock()
	s.roots = roots
	s.mu.Unlock()

	if len(roots) > 0 {
		if _, err := s.eng.UpdateWorkspace(roots, nil, nil); err != nil {
			s.logger.Warn("workspace update failed", zap.Error(err))
		}
	}

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindFull,
			},
			HoverProvider:      true,
			DefinitionProvider: true,
			ReferencesProvider: true,
			CompletionProvider: &protocol.CompletionOptions{
				ResolveProvider: false,
			},
			DocumentSymbolProvider:  true,
			WorkspaceSymbolProvider: true,
		},
		ServerInfo: &protocol.ServerInfo{
			Name:    serverName,
			Version: serverVersion,
		},
	}, nil
}

// Initialized handles the initialized notification and kicks off
// background indexing of the workspace roots.
func (s *Server) Initialized(_ context.Context, _ *protocol.InitializedParams) error {
	s.logger.Info("Initialized")

	s.mu.Lock()
	s.initialized = true
	roots := append([]string(nil), s.roots...)
	s.mu.Unlock()

	if len(roots) > 0 {
		go func() {
			if err := s.ix.Run(context.Background(), roots); err != nil {
				s.logger.Warn("background indexing failed", zap.Error(err))
			}
			files, failed := s.ix.Stats()
			s.logger.Info("workspace indexed",
				zap.Int("files", files),
				zap.Int("failed", failed))
		}()

		s.startWatcher(roots)
	}

	return nil
}

// startWatcher invalidates cached analysis when files on disk change
// behind the editor's back.
func (s *Server) startWatcher(roots []string) {
	w, err := watch.New(s.eng, s.logger, watch.Options{
		OnRemove: s.ix.Forget,
	})
	if err != nil {
		s.logger.Warn("file watcher unavailable", zap.Error(err))

		return
	}

	for _, root := range roots {
		if err := w.Watch(root); err != nil {
			s.logger.Warn("watch failed", zap.String("root", root), zap.Error(err))
		}
	}
	w.Start(context.Background())

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
}

// Shutdown handles the shutdown request.
func (s *Server) Shutdown(_ context.Context) error {
	s.logger.Info("Shutdown")

	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	return nil
}

// Exit handles the exit notification.
func (s *Server) Exit(_ context.Context) error {
	s.logger.Info("Exit")

	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w != nil {
		w.Stop()
	}

	return nil
}

// DidOpen handles textDocument/didOpen notifications.
func (s *Server) DidOpen(_ context.Context, params *protocol.DidOpenTextDocumentParams) error {
	td := params.TextDocument
	s.logger.Debug("DidOpen", zap.String("uri", string(td.URI)))

	if _, err := s.eng.OpenDocument(string(td.URI), string(td.LanguageID), td.Version, td.Text); err != nil {
		s.logger.Error("open failed", zap.String("uri", string(td.URI)), zap.Error(err))

		return err
	}

	// The notification's context ends with the handler; publication
	// outlives it.
	go s.refreshDiagnostics(context.Background(), td.URI, uint32(td.Version)) //nolint:gosec // LSP versions are non-negative

	return nil
}

// DidChange handles textDocument/didChange notifications. The engine's
// scheduler debounces the diagnostics query, so a typing burst produces
// one publication against the final snapshot.
func (s *Server) DidChange(_ context.Context, params *protocol.DidChangeTextDocumentParams) error {
	td := params.TextDocument
	s.logger.Debug("DidChange",
		zap.String("uri", string(td.URI)),
		zap.Int32("version", td.Version))

	edits := changesFromLSP(params.ContentChanges)
	if len(edits) == 0 {
		return nil
	}

	if _, err := s.eng.ChangeDocument(string(td.URI), td.Version, edits); err != nil {
		s.logger.Error("change failed", zap.String("uri", string(td.URI)), zap.Error(err))

		return err
	}

	go s.refreshDiagnostics(context.Background(), td.URI, uint32(td.Version)) //nolint:gosec // LSP versions are non-negative

	return nil
}

// DidClose handles textDocument/didClose notifications.
func (s *Server) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	u := params.TextDocument.URI
	s.logger.Debug("DidClose", zap.String("uri", string(u)))

	if _, err := s.eng.CloseDocument(string(u)); err != nil {
		s.logger.Warn("close failed", zap.String("uri", string(u)), zap.Error(err))
	}

	s.mu.Lock()
	delete(s.published, u)
	s.mu.Unlock()

	// Clear stale squiggles in the editor.
	if err := s.client.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		URI:         u,
		Diagnostics: []protocol.Diagnostic{},
	}); err != nil {
		s.logger.Error("failed to clear diagnostics", zap.Error(err))
	}

	return nil
}

// DidSave handles textDocument/didSave notifications.
func (s *Server) DidSave(_ context.Context, params *protocol.DidSaveTextDocumentParams) error {
	s.logger.Debug("DidSave", zap.String("uri", string(params.TextDocument.URI)))

	return nil
}

// DidChangeConfiguration forwards settings to the engine.
func (s *Server) DidChangeConfiguration(_ context.Context, params *protocol.DidChangeConfigurationParams) error {
	settings, ok := params.Settings.(map[string]any)
	if !ok {
		return nil
	}

	_, err := s.eng.UpdateConfig(settings)

	return err
}

// DidChangeWorkspaceFolders adjusts the workspace roots.
func (s *Server) DidChangeWorkspaceFolders(_ context.Context, params *protocol.DidChangeWorkspaceFoldersParams) error {
	var added, removed []string
	for _, f := range params.Event.Added {
		added = append(added, folderPath(f))
	}
	for _, f := range params.Event.Removed {
		removed = append(removed, folderPath(f))
	}

	s.mu.Lock()
	s.roots = applyRootChanges(s.roots, added, removed)
	roots := append([]string(nil), s.roots...)
	s.mu.Unlock()

	_, err := s.eng.UpdateWorkspace(roots, added, removed)

	return err
}

// CancelQuery records a client-side cancel and forwards it to the
// scheduler. Any response for the id that still arrives is dropped.
func (s *Server) CancelQuery(requestID, reason string) bool {
	s.mu.Lock()
	s.cancelled[requestID] = struct{}{}
	s.mu.Unlock()

	return s.eng.Cancel(requestID, reason)
}

// wasCancelled reports whether the client cancelled requestID.
func (s *Server) wasCancelled(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.cancelled[requestID]
	if ok {
		delete(s.cancelled, requestID)
	}

	return ok
}

// newRequestID mints a fresh id for one logical query.
func newRequestID() string {
	return "lsp-" + uuid.NewString()
}

// folderPath extracts a filesystem path from a workspace folder.
func folderPath(f protocol.WorkspaceFolder) string {
	if strings.HasPrefix(f.URI, "file://") {
		return uri.URI(f.URI).Filename()
	}
	if f.URI != "" {
		return f.URI
	}

	return f.Name
}

// applyRootChanges merges workspace folder changes into roots.
func applyRootChanges(roots, added, removed []string) []string {
	out := make([]string, 0, len(roots)+len(added))
	gone := make(map[string]struct{}, len(removed))
	for _, r := range removed {
		gone[r] = struct{}{}
	}
	for _, r := range roots {
		if _, drop := gone[r]; !drop {
			out = append(out, r)
		}
	}

	return append(out, added...)
}
