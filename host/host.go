// Package host owns the engine's mutable input state: open documents,
// configuration, and workspace roots. The host is the single logical
// writer; every mutation is serialized, bumps the revision counter, and
// produces a new immutable snapshot. Readers never touch host state
// directly, they bind to a snapshot.
package host

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kilnlsp/kiln"
)

// Host is the single mutable owner of document/config/workspace input.
type Host struct {
	logger *zap.Logger

	mu        sync.Mutex // serializes mutations and snapshot bookkeeping
	rev       kiln.Revision
	docs      map[string]*DocumentView
	settings  map[string]any
	roots     []string
	current   *Snapshot
	snapshots map[kiln.SnapshotID]*Snapshot
}

// New creates an empty host at revision 0 with an initial snapshot.
func New(logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Host{
		logger:    logger,
		docs:      make(map[string]*DocumentView),
		settings:  make(map[string]any),
		snapshots: make(map[kiln.SnapshotID]*Snapshot),
	}
	h.mu.Lock()
	h.publishLocked()
	h.mu.Unlock()

	return h
}

// Open registers a document. Reopening an already-open URI replaces its
// content, matching editor reload behavior.
func (h *Host) Open(uri, languageID string, version int32, text string) (kiln.MutationResult, error) {
	if uri == "" {
		return kiln.MutationResult{}, fmt.Errorf("%w: empty uri", kiln.ErrInvalidParams)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.docs[uri] = &DocumentView{
		URI:         uri,
		LanguageID:  languageID,
		Version:     version,
		Text:        text,
		Fingerprint: kiln.ContentFingerprint(text),
	}

	res := h.publishLocked()
	h.logger.Debug("document opened",
		zap.String("uri", uri),
		zap.Int32("version", version),
		zap.Uint64("revision", uint64(res.Revision)))

	return res, nil
}

// Change applies edits to an open document. Edits to a closed or
// never-opened document fail with INVALID_PARAMS without mutating state.
func (h *Host) Change(uri string, version int32, edits []kiln.TextEdit) (kiln.MutationResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, ok := h.docs[uri]
	if !ok {
		return kiln.MutationResult{}, fmt.Errorf("%w: document not open: %s", kiln.ErrInvalidParams, uri)
	}
	if len(edits) == 0 {
		return kiln.MutationResult{}, fmt.Errorf("%w: no edits", kiln.ErrInvalidParams)
	}

	text := doc.Text
	for _, e := range edits {
		text = applyEdit(text, e)
	}

	h.docs[uri] = &DocumentView{
		URI:         uri,
		LanguageID:  doc.LanguageID,
		Version:     version,
		Text:        text,
		Fingerprint: kiln.ContentFingerprint(text),
	}

	res := h.publishLocked()
	h.logger.Debug("document changed",
		zap.String("uri", uri),
		zap.Int32("version", version),
		zap.Uint64("revision", uint64(res.Revision)))

	return res, nil
}

// Close removes a document. Closing an unknown document fails with
// INVALID_PARAMS.
func (h *Host) Close(uri string) (kiln.MutationResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.docs[uri]; !ok {
		return kiln.MutationResult{}, fmt.Errorf("%w: document not open: %s", kiln.ErrInvalidParams, uri)
	}

	delete(h.docs, uri)
	res := h.publishLocked()
	h.logger.Debug("document closed", zap.String("uri", uri))

	return res, nil
}

// UpdateConfig merges settings into the session settings. Keys absent
// from the update keep their current values; there is no way to unset
// a key short of overwriting it.
func (h *Host) UpdateConfig(settings map[string]any) (kiln.MutationResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	merged := make(map[string]any, len(h.settings)+len(settings))
	for k, v := range h.settings {
		merged[k] = v
	}
	for k, v := range settings {
		merged[k] = v
	}
	h.settings = merged

	return h.publishLocked(), nil
}

// UpdateWorkspace applies root additions and removals.
func (h *Host) UpdateWorkspace(roots, added, removed []string) (kiln.MutationResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := make([]string, 0, len(h.roots)+len(roots)+len(added))
	if len(roots) > 0 {
		next = append(next, roots...)
	} else {
		next = append(next, h.roots...)
		next = append(next, added...)
	}

	if len(removed) > 0 {
		drop := make(map[string]struct{}, len(removed))
		for _, r := range removed {
			drop[r] = struct{}{}
		}
		kept := next[:0]
		for _, r := range next {
			if _, gone := drop[r]; !gone {
				kept = append(kept, r)
			}
		}
		next = kept
	}

	h.roots = next

	return h.publishLocked(), nil
}

// publishLocked bumps the revision and installs a new current snapshot.
// The previous current snapshot loses its pin and is dropped once no
// request references it.
func (h *Host) publishLocked() kiln.MutationResult {
	h.rev++
	id := kiln.SnapshotIDFor(h.rev)

	docs := make(map[string]*DocumentView, len(h.docs))
	for uri, d := range h.docs {
		docs[uri] = d
	}
	roots := make([]string, len(h.roots))
	copy(roots, h.roots)

	snap := &Snapshot{
		id:       id,
		revision: h.rev,
		docs:     docs,
		settings: h.settings,
		roots:    roots,
		host:     h,
		refs:     1, // pinned while current
	}
	h.snapshots[id] = snap

	prev := h.current
	h.current = snap
	if prev != nil {
		h.releaseLocked(prev)
	}

	return kiln.MutationResult{Revision: h.rev, SnapshotID: id}
}

// CurrentSnapshot returns the newest snapshot, retained for the caller.
// The caller must Release it.
func (h *Host) CurrentSnapshot() *Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current.refs++

	return h.current
}

// SnapshotFor returns the identified snapshot, retained for the caller,
// or SNAPSHOT_NOT_FOUND if it has been released.
func (h *Host) SnapshotFor(id kiln.SnapshotID) (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap, ok := h.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", kiln.ErrSnapshotNotFound, id)
	}
	snap.refs++

	return snap, nil
}

// Revision returns the current revision.
func (h *Host) Revision() kiln.Revision {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.rev
}

// releaseLocked drops one reference and deletes the snapshot once it is
// unreferenced and no longer current.
func (h *Host) releaseLocked(s *Snapshot) {
	s.refs--
	if s.refs <= 0 && s != h.current {
		delete(h.snapshots, s.id)
	}
}

// LiveSnapshots reports how many snapshots are currently retained.
func (h *Host) LiveSnapshots() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.snapshots)
}
