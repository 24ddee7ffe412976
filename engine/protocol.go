package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kilnlsp/kiln"
)

// Wire method names of the query-engine-v2 protocol. Query methods are
// named by their feature.
const (
	MethodOpenDocument    = "openDocument"
	MethodChangeDocument  = "changeDocument"
	MethodCloseDocument   = "closeDocument"
	MethodUpdateConfig    = "updateConfig"
	MethodUpdateWorkspace = "updateWorkspace"
	MethodCancelRequest   = "cancelRequest"
)

// RequestEnvelope is one wire request. Correlation by id is mandatory.
type RequestEnvelope struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// ResponseEnvelope is one wire response, carrying either a result or a
// coded error.
type ResponseEnvelope struct {
	ID     string      `json:"id"`
	Result any         `json:"result,omitempty"`
	Error  *kiln.Error `json:"error,omitempty"`
}

// Command is the closed set of operations the engine accepts. Method
// strings exist only at the decode boundary; past it, routing is an
// exhaustive type switch over these variants.
type Command interface {
	isCommand()
}

// OpenDocumentCmd opens (or reopens) a document from an editor buffer.
type OpenDocumentCmd struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int32  `json:"version"`
	Text       string `json:"text"`
}

// ChangeDocumentCmd applies edits to an open document.
type ChangeDocumentCmd struct {
	URI     string          `json:"uri"`
	Version int32           `json:"version"`
	Changes []kiln.TextEdit `json:"changes"`
}

// CloseDocumentCmd closes an open document.
type CloseDocumentCmd struct {
	URI string `json:"uri"`
}

// UpdateConfigCmd merges session settings.
type UpdateConfigCmd struct {
	Settings map[string]any `json:"settings"`
}

// UpdateWorkspaceCmd adjusts workspace roots.
type UpdateWorkspaceCmd struct {
	Roots   []string `json:"roots"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// CancelRequestCmd cancels a live query by request id.
type CancelRequestCmd struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// queryFields is the shared wire shape of every query variant.
type queryFields struct {
	RequestID string                `json:"requestId"`
	Snapshot  kiln.SnapshotSelector `json:"snapshot"`
	Params    kiln.QueryParams      `json:"params"`
}

// DiagnosticsCmd runs the diagnostics pipeline.
type DiagnosticsCmd struct{ queryFields }

// DefinitionCmd runs the definition pipeline.
type DefinitionCmd struct{ queryFields }

// ReferencesCmd runs the references pipeline.
type ReferencesCmd struct{ queryFields }

// CompletionCmd runs the completion pipeline.
type CompletionCmd struct{ queryFields }

// HoverCmd runs the hover pipeline.
type HoverCmd struct{ queryFields }

func (OpenDocumentCmd) isCommand()    {}
func (ChangeDocumentCmd) isCommand()  {}
func (CloseDocumentCmd) isCommand()   {}
func (UpdateConfigCmd) isCommand()    {}
func (UpdateWorkspaceCmd) isCommand() {}
func (CancelRequestCmd) isCommand()   {}
func (DiagnosticsCmd) isCommand()     {}
func (DefinitionCmd) isCommand()      {}
func (ReferencesCmd) isCommand()      {}
func (CompletionCmd) isCommand()      {}
func (HoverCmd) isCommand()           {}

// CancelResult is cancelRequest's wire result.
type CancelResult struct {
	Accepted bool `json:"accepted"`
}

// DecodeCommand maps a wire method and params onto a Command variant.
// This is the only place the protocol's method strings are interpreted.
func DecodeCommand(method string, params json.RawMessage) (Command, error) {
	decode := func(into Command) (Command, error) {
		if len(params) == 0 {
			return nil, fmt.Errorf("%w: %s requires params", kiln.ErrInvalidParams, method)
		}
		if err := json.Unmarshal(params, into); err != nil {
			return nil, fmt.Errorf("%w: malformed %s params: %v", kiln.ErrInvalidParams, method, err)
		}

		return into, nil
	}

	switch method {
	case MethodOpenDocument:
		return decode(&OpenDocumentCmd{})
	case MethodChangeDocument:
		return decode(&ChangeDocumentCmd{})
	case MethodCloseDocument:
		return decode(&CloseDocumentCmd{})
	case MethodUpdateConfig:
		return decode(&UpdateConfigCmd{})
	case MethodUpdateWorkspace:
		return decode(&UpdateWorkspaceCmd{})
	case MethodCancelRequest:
		return decode(&CancelRequestCmd{})
	case string(kiln.FeatureDiagnostics):
		return decode(&DiagnosticsCmd{})
	case string(kiln.FeatureDefinition):
		return decode(&DefinitionCmd{})
	case string(kiln.FeatureReferences):
		return decode(&ReferencesCmd{})
	case string(kiln.FeatureCompletion):
		return decode(&CompletionCmd{})
	case string(kiln.FeatureHover):
		return decode(&HoverCmd{})
	default:
		return nil, fmt.Errorf("%w: unknown method %q", kiln.ErrInvalidParams, method)
	}
}

// Dispatch executes a decoded command. Queries block until their
// outcome; mutations apply immediately.
func (e *Engine) Dispatch(ctx context.Context, cmd Command) (any, error) {
	switch c := cmd.(type) {
	case *OpenDocumentCmd:
		return e.OpenDocument(c.URI, c.LanguageID, c.Version, c.Text)
	case *ChangeDocumentCmd:
		return e.ChangeDocument(c.URI, c.Version, c.Changes)
	case *CloseDocumentCmd:
		return e.CloseDocument(c.URI)
	case *UpdateConfigCmd:
		return e.UpdateConfig(c.Settings)
	case *UpdateWorkspaceCmd:
		return e.UpdateWorkspace(c.Roots, c.Added, c.Removed)
	case *CancelRequestCmd:
		return CancelResult{Accepted: e.Cancel(c.RequestID, c.Reason)}, nil
	case *DiagnosticsCmd:
		return e.QueryWait(ctx, c.request(kiln.FeatureDiagnostics))
	case *DefinitionCmd:
		return e.QueryWait(ctx, c.request(kiln.FeatureDefinition))
	case *ReferencesCmd:
		return e.QueryWait(ctx, c.request(kiln.FeatureReferences))
	case *CompletionCmd:
		return e.QueryWait(ctx, c.request(kiln.FeatureCompletion))
	case *HoverCmd:
		return e.QueryWait(ctx, c.request(kiln.FeatureHover))
	default:
		return nil, fmt.Errorf("%w: unhandled command %T", kiln.ErrInvalidParams, cmd)
	}
}

// HandleEnvelope decodes and executes one wire request, shaping any
// failure into the coded error payload.
func (e *Engine) HandleEnvelope(ctx context.Context, env RequestEnvelope) ResponseEnvelope {
	cmd, err := DecodeCommand(env.Method, env.Params)
	if err != nil {
		return ResponseEnvelope{ID: env.ID, Error: kiln.WireError(err, env.ID, "")}
	}

	result, err := e.Dispatch(ctx, cmd)
	if err != nil {
		return ResponseEnvelope{ID: env.ID, Error: kiln.WireError(err, requestIDOf(cmd, env.ID), "")}
	}

	return ResponseEnvelope{ID: env.ID, Result: result}
}

func (q queryFields) request(f kiln.Feature) kiln.Request {
	if q.Snapshot.Mode == "" {
		q.Snapshot = kiln.Latest()
	}

	return kiln.Request{
		RequestID: q.RequestID,
		Feature:   f,
		Snapshot:  q.Snapshot,
		Params:    q.Params,
	}
}

// requestIDOf extracts the logical request id for error correlation,
// falling back to the envelope id for mutations.
func requestIDOf(cmd Command, fallback string) string {
	switch c := cmd.(type) {
	case *DiagnosticsCmd:
		return c.RequestID
	case *DefinitionCmd:
		return c.RequestID
	case *ReferencesCmd:
		return c.RequestID
	case *CompletionCmd:
		return c.RequestID
	case *HoverCmd:
		return c.RequestID
	default:
		return fallback
	}
}
