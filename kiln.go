// Package kiln defines the core types shared by the kiln query engine:
// revisions, snapshots identifiers, request classification, and the
// protocol-agnostic result DTOs produced by the query pipelines.
package kiln

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProtocolName identifies the adapter/engine protocol. New fields are
// additive; breaking changes require a version bump negotiated at
// handshake.
const ProtocolName = "query-engine-v2"

// Revision is a process-wide monotonically increasing counter. Every
// host mutation produces exactly one new revision; revisions are never
// reused.
type Revision uint64

// SnapshotID identifies an immutable snapshot. It is derived
// deterministically from the revision that produced it.
type SnapshotID string

// SnapshotIDFor returns the snapshot id for a revision ("snp-<revision>").
func SnapshotIDFor(rev Revision) SnapshotID {
	return SnapshotID("snp-" + strconv.FormatUint(uint64(rev), 10))
}

// Revision returns the revision encoded in the snapshot id, or 0 if the
// id is malformed.
func (id SnapshotID) Revision() Revision {
	raw, ok := strings.CutPrefix(string(id), "snp-")
	if !ok {
		return 0
	}

	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}

	return Revision(n)
}

// Feature identifies a query pipeline.
type Feature string

// Feature constants, one per query pipeline.
const (
	FeatureDiagnostics Feature = "diagnostics"
	FeatureDefinition  Feature = "definition"
	FeatureReferences  Feature = "references"
	FeatureCompletion  Feature = "completion"
	FeatureHover       Feature = "hover"
)

// Valid reports whether f names a known pipeline.
func (f Feature) Valid() bool {
	switch f {
	case FeatureDiagnostics, FeatureDefinition, FeatureReferences,
		FeatureCompletion, FeatureHover:
		return true
	default:
		return false
	}
}

// RequestClass is the scheduling priority bucket for a request.
type RequestClass string

// Request classes, in decreasing priority order.
const (
	// ClassTyping covers diagnostics/completion triggered by the active
	// edit stream. Strict priority over background work.
	ClassTyping RequestClass = "typing"

	// ClassInteractive covers explicit user actions (hover, definition).
	// Preempts queued background work but not in-flight typing work.
	ClassInteractive RequestClass = "interactive"

	// ClassBackground covers workspace-wide indexing and symbol search.
	ClassBackground RequestClass = "background"
)

// ClassFor returns the default request class for a feature when the
// caller does not override it.
func ClassFor(f Feature) RequestClass {
	switch f {
	case FeatureDiagnostics, FeatureCompletion:
		return ClassTyping
	case FeatureDefinition, FeatureReferences, FeatureHover:
		return ClassInteractive
	default:
		return ClassBackground
	}
}

// SnapshotMode selects how a query binds to a snapshot.
type SnapshotMode string

// Snapshot selection modes.
const (
	// SnapshotLatest binds the query to the newest snapshot at
	// execution time.
	SnapshotLatest SnapshotMode = "latest"

	// SnapshotFixed binds the query to one specific snapshot id.
	SnapshotFixed SnapshotMode = "fixed"
)

// SnapshotSelector names the snapshot a query runs against.
type SnapshotSelector struct {
	Mode SnapshotMode `json:"mode"`

	// SnapshotID is required when Mode is SnapshotFixed.
	SnapshotID SnapshotID `json:"snapshotId,omitempty"`
}

// Latest returns a selector for the newest snapshot.
func Latest() SnapshotSelector {
	return SnapshotSelector{Mode: SnapshotLatest}
}

// Fixed returns a selector pinned to one snapshot.
func Fixed(id SnapshotID) SnapshotSelector {
	return SnapshotSelector{Mode: SnapshotFixed, SnapshotID: id}
}

// Position is a zero-based line/column pair in a document.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Span is a half-open [Start, End) range in a document.
type Span struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Contains reports whether p falls inside the span.
func (s Span) Contains(p Position) bool {
	if p.Line < s.Start.Line || p.Line > s.End.Line {
		return false
	}
	if p.Line == s.Start.Line && p.Column < s.Start.Column {
		return false
	}
	if p.Line == s.End.Line && p.Column >= s.End.Column {
		return false
	}

	return true
}

// Severity grades a diagnostic.
type Severity string

// Diagnostic severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// Diagnostic is one finding produced by the diagnostics pipeline.
type Diagnostic struct {
	Span     Span     `json:"span"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
	Source   string   `json:"source,omitempty"`
}

// Location points at a span in a document.
type Location struct {
	URI  string `json:"uri"`
	Span Span   `json:"span"`
}

// CompletionItem is one candidate produced by the completion pipeline.
type CompletionItem struct {
	Label  string `json:"label"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// HoverInfo is the hover pipeline's result.
type HoverInfo struct {
	Contents string `json:"contents"`
	Span     *Span  `json:"span,omitempty"`
}

// QueryParams carries the feature-specific inputs of a query.
type QueryParams struct {
	URI      string    `json:"uri"`
	Position *Position `json:"position,omitempty"`

	// Prefix is the completion prefix, when the client supplies one.
	Prefix string `json:"prefix,omitempty"`

	// Query is the workspace symbol search string (background class).
	Query string `json:"query,omitempty"`
}

// Request is one admitted unit of work for the scheduler.
type Request struct {
	RequestID string           `json:"requestId"`
	Feature   Feature          `json:"feature"`
	Snapshot  SnapshotSelector `json:"snapshot"`
	Params    QueryParams      `json:"params"`
	Class     RequestClass     `json:"class,omitempty"`
}

// Stream returns the logical stream key for supersession and
// latest-wins delivery: same uri + feature is one stream.
func (r Request) Stream() string {
	return r.Params.URI + "\x00" + string(r.Feature)
}

// CacheMetrics reports cache behavior for one query.
type CacheMetrics struct {
	Hit bool `json:"hit"`
}

// Metrics carries per-query observability fields.
type Metrics struct {
	DurationMS  int64        `json:"durationMs"`
	QueueWaitMS int64        `json:"queueWaitMs"`
	Cache       CacheMetrics `json:"cache"`
}

// QueryResult is the protocol-agnostic union of per-feature payloads.
// Exactly the fields matching the request's feature are populated.
type QueryResult struct {
	Diagnostics []Diagnostic     `json:"diagnostics,omitempty"`
	Locations   []Location       `json:"locations,omitempty"`
	Completions []CompletionItem `json:"completions,omitempty"`
	Hover       *HoverInfo       `json:"hover,omitempty"`

	// Failures lists the paths whose analysis failed when the pipeline
	// degraded to a partial result. Partial success is still success.
	Failures []string `json:"failures,omitempty"`
}

// QueryResponse is the engine's answer to one request.
type QueryResponse struct {
	RequestID      string      `json:"requestId"`
	SnapshotIDUsed SnapshotID  `json:"snapshotIdUsed"`
	Result         QueryResult `json:"result"`
	Metrics        Metrics     `json:"metrics"`
}

// MutationResult is returned by every host mutation.
type MutationResult struct {
	Revision   Revision   `json:"revision"`
	SnapshotID SnapshotID `json:"snapshotId"`
}

// TextEdit is one content change: a full-text replacement when Span is
// nil, otherwise a range delta.
type TextEdit struct {
	Span *Span  `json:"span,omitempty"`
	Text string `json:"text"`
}

// FormatDuration renders d as whole milliseconds for metrics fields.
func FormatDuration(d time.Duration) int64 {
	return d.Milliseconds()
}

// String implements fmt.Stringer for debug logs.
func (r Request) String() string {
	return fmt.Sprintf("%s %s %s", r.RequestID, r.Feature, r.Params.URI)
}
