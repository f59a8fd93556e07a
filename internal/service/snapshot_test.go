package service

import (
	"context"
	"testing"

	"boardsim/internal/circuit"
	"boardsim/internal/session"
)

// TestRunTicksPersistsAndRestoresSnapshot grounds spec §8 scenario S6 /
// "the on-disk snapshot is authoritative": evicting a session's in-memory
// cache (simulating a process restart) and resuming must restore the same
// state hash from the last snapshot written by RunTicks, not silently
// reset to a freshly materialized zero-tick Machine.
func TestRunTicksPersistsAndRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := session.Open(root)
	svc := New(store, nil)
	if _, _, err := svc.InitWorkspace(ctx, "2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}

	circuitPath := writeCircuitFile(t, t.TempDir(), "board.ckt")
	meta, err := svc.CreateSession(ctx, circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	first, err := svc.RunTicks(ctx, meta.SessionID, 5, "2026-07-31T00:01:00Z")
	if err != nil {
		t.Fatalf("RunTicks: %v", err)
	}

	// Simulate a process restart: a brand new Service over the same store,
	// so nothing is resident in memory.
	svc2 := New(store, nil)
	resumed, err := svc2.RunTicks(ctx, meta.SessionID, 0, "2026-07-31T00:02:00Z")
	if err != nil {
		t.Fatalf("RunTicks (resume, 0 ticks): %v", err)
	}
	if resumed.StateHash != first.StateHash {
		t.Fatalf("expected resumed state hash to match the last snapshot, got %d vs %d", resumed.StateHash, first.StateHash)
	}
	if resumed.TotalTicks != 5 {
		t.Fatalf("expected resumed machine tick count 5 from the restored snapshot, got %d", resumed.TotalTicks)
	}
}

// TestMergeLeavesAncestorSnapshotRestorable grounds spec §9 OQ4 from the
// other direction: a fast-forward merge extends main's history strictly
// forward from where main already was, so a snapshot main took before the
// merge remains on an ancestor path of its new head and must not be
// swept away by MergeBranches' invalidation pass.
func TestMergeLeavesAncestorSnapshotRestorable(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := session.Open(root)
	svc := New(store, nil)
	if _, _, err := svc.InitWorkspace(ctx, "2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}

	circuitPath := writeCircuitFile(t, t.TempDir(), "board.ckt")
	meta, err := svc.CreateSession(ctx, circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// main gets a snapshot at its initial head revision (0).
	if _, err := svc.RunTicks(ctx, meta.SessionID, 2, "2026-07-31T00:01:00Z"); err != nil {
		t.Fatalf("RunTicks on main: %v", err)
	}

	if _, err := svc.CreateBranch(ctx, meta.SessionID, "exp", "main", -1); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := svc.SwitchBranch(ctx, meta.SessionID, "exp"); err != nil {
		t.Fatalf("SwitchBranch: %v", err)
	}
	if _, err := svc.ApplyEditOperation(ctx, meta.SessionID, circuit.EditOperation{
		Kind:          circuit.OpAddComponent,
		ComponentID:   "g3",
		ComponentKind: "GateNot",
	}); err != nil {
		t.Fatalf("ApplyEditOperation: %v", err)
	}

	if _, err := svc.MergeBranches(ctx, meta.SessionID, "exp", "main", false); err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}

	if _, _, ok, err := store.LoadLatestSnapshot(meta.SessionID, "main"); err != nil || !ok {
		t.Fatalf("expected main's pre-merge snapshot to survive a fast-forward merge, ok=%v err=%v", ok, err)
	}
}
