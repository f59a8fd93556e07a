package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"boardsim/internal/circuit"
	"boardsim/internal/proto"
)

func writeCircuitFile(t *testing.T, dir, name string) string {
	t.Helper()
	ops := []circuit.EditOperation{
		{Kind: circuit.OpAddComponent, ComponentID: "g1", ComponentKind: "GateNot"},
		{Kind: circuit.OpAddComponent, ComponentID: "g2", ComponentKind: "GateNot"},
		{Kind: circuit.OpCreateNet, NetID: "n1", InitialPins: []string{"g1.y", "g2.a"}},
	}
	data, err := json.Marshal(struct {
		Ops []circuit.EditOperation `json:"ops"`
	}{Ops: ops})
	if err != nil {
		t.Fatalf("marshal circuit file: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write circuit file: %v", err)
	}
	return path
}

func TestDispatcherCachesServicePerWorkspace(t *testing.T) {
	d := newDispatcher()
	defer d.closeAll()

	ws := t.TempDir()
	a := d.serviceFor(ws)
	b := d.serviceFor(ws)
	if a != b {
		t.Fatal("serviceFor should return the same *service.Service for the same workspace")
	}

	other := d.serviceFor(t.TempDir())
	if other == a {
		t.Fatal("serviceFor should return distinct services for distinct workspaces")
	}
}

func TestDispatchInitWorkspaceAndSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	d := newDispatcher()
	defer d.closeAll()
	ws := t.TempDir()

	resp := dispatch(ctx, d, proto.Request{ID: "1", Command: "init-workspace", Workspace: ws})
	if !resp.OK {
		t.Fatalf("init-workspace failed: %s", resp.Error)
	}

	circuitPath := writeCircuitFile(t, ws, "board.ckt")
	resp = dispatch(ctx, d, proto.Request{
		ID: "2", Command: "create-session", Workspace: ws,
		Payload: map[string]any{"circuit_file": circuitPath},
	})
	if !resp.OK {
		t.Fatalf("create-session failed: %s", resp.Error)
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("marshal create-session data: %v", err)
	}
	var meta struct {
		SessionID int `json:"session_id"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("unmarshal create-session data: %v", err)
	}
	if meta.SessionID == 0 {
		t.Fatal("expected a nonzero session_id")
	}

	resp = dispatch(ctx, d, proto.Request{
		ID: "3", Command: "run-ticks", Workspace: ws, SessionID: &meta.SessionID,
		Payload: map[string]any{"ticks": 3},
	})
	if !resp.OK {
		t.Fatalf("run-ticks failed: %s", resp.Error)
	}

	resp = dispatch(ctx, d, proto.Request{ID: "4", Command: "get-state", Workspace: ws, SessionID: &meta.SessionID})
	if !resp.OK {
		t.Fatalf("get-state failed: %s", resp.Error)
	}

	resp = dispatch(ctx, d, proto.Request{
		ID: "5", Command: "branch-create", Workspace: ws, SessionID: &meta.SessionID,
		Payload: map[string]any{"name": "feature", "from_branch": "main", "from_revision": -1},
	})
	if !resp.OK {
		t.Fatalf("branch-create failed: %s", resp.Error)
	}

	resp = dispatch(ctx, d, proto.Request{ID: "6", Command: "branch-list", Workspace: ws, SessionID: &meta.SessionID})
	if !resp.OK {
		t.Fatalf("branch-list failed: %s", resp.Error)
	}

	resp = dispatch(ctx, d, proto.Request{ID: "7", Command: "destroy-session", Workspace: ws, SessionID: &meta.SessionID})
	if !resp.OK {
		t.Fatalf("destroy-session failed: %s", resp.Error)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	ctx := context.Background()
	d := newDispatcher()
	defer d.closeAll()
	ws := t.TempDir()

	resp := dispatch(ctx, d, proto.Request{ID: "1", Command: "not-a-real-command", Workspace: ws})
	if resp.OK {
		t.Fatal("dispatch should reject an unknown command")
	}
	if resp.ErrorCode != proto.ErrCommandParseError {
		t.Fatalf("error code = %v, want ErrCommandParseError", resp.ErrorCode)
	}
}

func TestDecodePayloadNil(t *testing.T) {
	var out struct{ Foo string }
	if err := decodePayload(nil, &out); err != nil {
		t.Fatalf("decodePayload(nil, ...) error: %v", err)
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	var out struct {
		Ticks int `json:"ticks"`
	}
	if err := decodePayload(map[string]any{"ticks": 5}, &out); err != nil {
		t.Fatalf("decodePayload error: %v", err)
	}
	if out.Ticks != 5 {
		t.Fatalf("decodePayload Ticks = %d, want 5", out.Ticks)
	}
}
