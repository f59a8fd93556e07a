package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"boardsim/internal/circuit"
	"boardsim/internal/proto"
	"boardsim/internal/session"
)

// writeCircuitFile writes a minimal two-gate circuit (GateNot -> GateNot)
// in the on-disk "ops" shape CreateSession expects, returning its path.
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

func newTestService(t *testing.T) *Service {
	t.Helper()
	root := t.TempDir()
	store := session.Open(root)
	svc := New(store, nil)
	if _, _, err := svc.InitWorkspace(context.Background(), "2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	return svc
}

func TestServiceEndToEndFlow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	circuitPath := writeCircuitFile(t, t.TempDir(), "board.ckt")

	meta, err := svc.CreateSession(ctx, circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	runResult, err := svc.RunTicks(ctx, meta.SessionID, 3, "2026-07-31T00:01:00Z")
	if err != nil {
		t.Fatalf("RunTicks: %v", err)
	}
	if runResult.TotalTicks != 3 {
		t.Fatalf("expected total_ticks 3, got %d", runResult.TotalTicks)
	}
	if runResult.Degraded {
		t.Fatalf("expected a clean NOT->NOT chain to never degrade, got fault_count=%d", runResult.FaultCount)
	}

	state, err := svc.GetState(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !state.HasState {
		t.Fatalf("expected HasState true after RunTicks materialized a Machine")
	}
	if state.Metadata.TotalTicks != 3 {
		t.Fatalf("expected persisted total_ticks 3, got %d", state.Metadata.TotalTicks)
	}
	if state.StateHash != runResult.StateHash {
		t.Fatalf("expected GetState's hash to match RunTicks' hash for an untouched Machine")
	}

	path, text, err := svc.ExportNetlist(ctx, meta.SessionID, "")
	if err != nil {
		t.Fatalf("ExportNetlist: %v", err)
	}
	if text == "" {
		t.Fatalf("expected non-empty netlist text")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected netlist file at %q: %v", path, err)
	}

	list, err := svc.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].SessionID != meta.SessionID {
		t.Fatalf("unexpected session list: %+v", list.Sessions)
	}

	if err := svc.DestroySession(ctx, meta.SessionID); err != nil {
		t.Fatalf("DestroySession: %v", err)
	}
	if _, err := svc.GetState(ctx, meta.SessionID); proto.CodeOf(err) != proto.ErrSessionNotFound {
		t.Fatalf("expected SessionNotFound after destroy, got %v", err)
	}
}

func TestApplyEditOperationAdvancesRevisionAndInvalidatesMachine(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	circuitPath := writeCircuitFile(t, t.TempDir(), "board.ckt")

	meta, err := svc.CreateSession(ctx, circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := svc.RunTicks(ctx, meta.SessionID, 1, "2026-07-31T00:01:00Z"); err != nil {
		t.Fatalf("RunTicks: %v", err)
	}

	newRev, err := svc.ApplyEditOperation(ctx, meta.SessionID, circuit.EditOperation{
		Kind:          circuit.OpAddComponent,
		ComponentID:   "g3",
		ComponentKind: "GateNot",
	})
	if err != nil {
		t.Fatalf("ApplyEditOperation: %v", err)
	}
	if newRev != 1 {
		t.Fatalf("expected head_revision 1 (base ops don't count toward revision numbering), got %d", newRev)
	}

	state, err := svc.GetState(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.HasState {
		t.Fatalf("expected the cached Machine to have been invalidated by the edit")
	}
}

func TestApplyEditOperationRejectsDuplicateComponentWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	circuitPath := writeCircuitFile(t, t.TempDir(), "board.ckt")

	meta, err := svc.CreateSession(ctx, circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, err = svc.ApplyEditOperation(ctx, meta.SessionID, circuit.EditOperation{
		Kind:          circuit.OpAddComponent,
		ComponentID:   "g1",
		ComponentKind: "GateNot",
	})
	if err == nil {
		t.Fatalf("expected duplicate AddComponent to fail")
	}

	state, err := svc.GetState(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.Metadata.CircuitRevision != 0 {
		t.Fatalf("expected circuit_revision unchanged at 0 after a rejected op, got %d", state.Metadata.CircuitRevision)
	}
}
