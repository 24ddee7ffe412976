package host

import (
	"sort"
	"strings"

	"github.com/kilnlsp/kiln"
)

// DocumentView is the immutable view of one open document inside a
// snapshot. Views are never mutated after construction; a change
// installs a new view under the same URI.
type DocumentView struct {
	URI         string
	LanguageID  string
	Version     int32
	Text        string
	Fingerprint kiln.Fingerprint
}

// Snapshot is an immutable, revision-tagged view of host state. It is a
// cheap reference (shared document views), not a deep copy, and stays
// readable after the host advances until every holder releases it.
type Snapshot struct {
	id       kiln.SnapshotID
	revision kiln.Revision
	docs     map[string]*DocumentView
	settings map[string]any
	roots    []string

	host *Host
	refs int
}

// ID returns the snapshot id.
func (s *Snapshot) ID() kiln.SnapshotID { return s.id }

// Revision returns the revision the snapshot was taken at.
func (s *Snapshot) Revision() kiln.Revision { return s.revision }

// Document returns the view of an open document, if present.
func (s *Snapshot) Document(uri string) (*DocumentView, bool) {
	d, ok := s.docs[uri]

	return d, ok
}

// Documents returns the open document URIs in sorted order.
func (s *Snapshot) Documents() []string {
	uris := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	return uris
}

// Setting returns a configuration value captured at snapshot time.
func (s *Snapshot) Setting(key string) (any, bool) {
	v, ok := s.settings[key]

	return v, ok
}

// Roots returns the workspace roots captured at snapshot time.
func (s *Snapshot) Roots() []string { return s.roots }

// Retain adds a reference for another holder.
func (s *Snapshot) Retain() {
	s.host.mu.Lock()
	s.refs++
	s.host.mu.Unlock()
}

// Release drops the caller's reference. Once unreferenced and no longer
// current, the snapshot becomes unreachable via SnapshotFor.
func (s *Snapshot) Release() {
	s.host.mu.Lock()
	s.host.releaseLocked(s)
	s.host.mu.Unlock()
}

// applyEdit applies one text edit: full replacement when the edit has
// no span, otherwise a range delta. Out-of-range positions clamp to the
// document bounds so a racing client edit degrades instead of failing.
func applyEdit(text string, e kiln.TextEdit) string {
	if e.Span == nil {
		return e.Text
	}

	start := offsetOf(text, e.Span.Start)
	end := offsetOf(text, e.Span.End)
	if end < start {
		start, end = end, start
	}

	var b strings.Builder
	b.Grow(len(text) - (end - start) + len(e.Text))
	b.WriteString(text[:start])
	b.WriteString(e.Text)
	b.WriteString(text[end:])

	return b.String()
}

// offsetOf converts a line/column position to a byte offset, clamping
// past-end positions.
func offsetOf(text string, p kiln.Position) int {
	if p.Line < 0 {
		return 0
	}

	off := 0
	for line := 0; line < p.Line; line++ {
		nl := strings.IndexByte(text[off:], '\n')
		if nl < 0 {
			return len(text)
		}
		off += nl + 1
	}

	rest := text[off:]
	lineEnd := strings.IndexByte(rest, '\n')
	if lineEnd < 0 {
		lineEnd = len(rest)
	}

	col := p.Column
	if col < 0 {
		col = 0
	}
	if col > lineEnd {
		col = lineEnd
	}

	return off + col
}
