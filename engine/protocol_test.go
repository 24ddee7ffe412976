package engine_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/engine"
)

func envelope(t *testing.T, id, method string, params any) engine.RequestEnvelope {
	t.Helper()

	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}

	return engine.RequestEnvelope{ID: id, Method: method, Params: raw}
}

func TestHandleEnvelope_MutationThenQuery(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	ctx := context.Background()

	open := e.HandleEnvelope(ctx, envelope(t, "m-1", engine.MethodOpenDocument, map[string]any{
		"uri":        "file:///w.kiln",
		"languageId": "kiln",
		"version":    1,
		"text":       "int a = ;\nint b = 2;",
	}))
	if open.Error != nil {
		t.Fatalf("openDocument error: %v", open.Error)
	}

	mres, ok := open.Result.(kiln.MutationResult)
	if !ok {
		t.Fatalf("openDocument result = %T", open.Result)
	}
	if mres.SnapshotID != kiln.SnapshotIDFor(mres.Revision) {
		t.Errorf("snapshot id %s does not match revision %d", mres.SnapshotID, mres.Revision)
	}

	diag := e.HandleEnvelope(ctx, envelope(t, "q-1", string(kiln.FeatureDiagnostics), map[string]any{
		"requestId": "q-1",
		"snapshot":  map[string]any{"mode": "latest"},
		"params":    map[string]any{"uri": "file:///w.kiln"},
	}))
	if diag.Error != nil {
		t.Fatalf("diagnostics error: %v", diag.Error)
	}

	resp, ok := diag.Result.(*kiln.QueryResponse)
	if !ok {
		t.Fatalf("diagnostics result = %T", diag.Result)
	}
	if resp.SnapshotIDUsed != mres.SnapshotID {
		t.Errorf("snapshotIdUsed = %s, want %s", resp.SnapshotIDUsed, mres.SnapshotID)
	}
	if len(resp.Result.Diagnostics) == 0 {
		t.Error("broken first declaration produced no diagnostics")
	}
}

func TestHandleEnvelope_UnknownMethod(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	resp := e.HandleEnvelope(context.Background(), engine.RequestEnvelope{
		ID:     "x-1",
		Method: "formatDocument",
		Params: json.RawMessage(`{}`),
	})
	if resp.Error == nil {
		t.Fatal("unknown method accepted")
	}
	if resp.Error.Code != kiln.CodeInvalidParams {
		t.Errorf("code = %s, want INVALID_PARAMS", resp.Error.Code)
	}
	if resp.ID != "x-1" {
		t.Errorf("response id = %q, correlation lost", resp.ID)
	}
}

func TestHandleEnvelope_MalformedParams(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	resp := e.HandleEnvelope(context.Background(), engine.RequestEnvelope{
		ID:     "x-2",
		Method: engine.MethodOpenDocument,
		Params: json.RawMessage(`{"version": "not a number"`),
	})
	if resp.Error == nil || resp.Error.Code != kiln.CodeInvalidParams {
		t.Fatalf("malformed params: %+v", resp.Error)
	}
}

func TestHandleEnvelope_CancelUnknownRequest(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	resp := e.HandleEnvelope(context.Background(), envelope(t, "c-1", engine.MethodCancelRequest, map[string]any{
		"requestId": "never-submitted",
		"reason":    "client gave up",
	}))
	if resp.Error != nil {
		t.Fatalf("cancelRequest error: %v", resp.Error)
	}

	res, ok := resp.Result.(engine.CancelResult)
	if !ok {
		t.Fatalf("cancelRequest result = %T", resp.Result)
	}
	if res.Accepted {
		t.Error("accepted a cancel for an unknown request id")
	}
}

func TestDecodeCommand_RoundTrip(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{"requestId":"r","snapshot":{"mode":"fixed","snapshotId":"snp-3"},"params":{"uri":"file:///a.kiln","position":{"line":1,"column":2}}}`)

	cmd, err := engine.DecodeCommand(string(kiln.FeatureHover), raw)
	if err != nil {
		t.Fatalf("DecodeCommand() error: %v", err)
	}

	hover, ok := cmd.(*engine.HoverCmd)
	if !ok {
		t.Fatalf("decoded %T, want *HoverCmd", cmd)
	}
	if hover.RequestID != "r" || hover.Snapshot.SnapshotID != "snp-3" {
		t.Errorf("decoded fields wrong: %+v", hover)
	}
	if hover.Params.Position == nil || hover.Params.Position.Line != 1 {
		t.Errorf("position not decoded: %+v", hover.Params.Position)
	}
}
