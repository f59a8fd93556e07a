package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"boardsim/internal/circuit"
	"boardsim/internal/proto"
	"boardsim/internal/sim/snapshot"
)

func writeCircuitFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	cf := circuitFile{Ops: []circuit.EditOperation{
		{Kind: circuit.OpAddComponent, ComponentID: "u1", ComponentKind: "Register"},
	}}
	data, err := json.Marshal(cf)
	if err != nil {
		t.Fatalf("marshal circuit file: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write circuit file: %v", err)
	}
	return path
}

func TestInitWorkspaceCreatesLayoutAndIsIdempotent(t *testing.T) {
	root := t.TempDir()
	s := Open(root)

	ws, created, err := s.InitWorkspace("2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true on first call")
	}
	if ws.SchemaVersion != 1 || ws.NextSessionID != 1 {
		t.Fatalf("unexpected workspace: %+v", ws)
	}
	for _, dir := range []string{"sessions", "logs", "artifacts"} {
		if fi, err := os.Stat(filepath.Join(root, dir)); err != nil || !fi.IsDir() {
			t.Fatalf("expected directory %q to exist", dir)
		}
	}

	ws2, created2, err := s.InitWorkspace("2099-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("InitWorkspace (second call): %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on second call")
	}
	if ws2 != ws {
		t.Fatalf("expected identical workspace.json content across calls, got %+v vs %+v", ws, ws2)
	}
}

func TestCreateSessionAllocatesMainBranchAndAdvancesCounter(t *testing.T) {
	root := t.TempDir()
	s := Open(root)
	if _, _, err := s.InitWorkspace("2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	circuitPath := writeCircuitFile(t, t.TempDir(), "board.ckt")

	meta, err := s.CreateSession(circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if meta.SessionID != 1 {
		t.Fatalf("expected session_id 1, got %d", meta.SessionID)
	}
	if len(meta.Branches) != 1 || meta.Branches[0].Name != "main" || !meta.Branches[0].IsDefault {
		t.Fatalf("unexpected branches: %+v", meta.Branches)
	}
	if meta.Branches[0].HeadRevision != 0 {
		t.Fatalf("expected head_revision 0, got %d", meta.Branches[0].HeadRevision)
	}

	ws, err := s.LoadWorkspace()
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}
	if ws.NextSessionID != 2 {
		t.Fatalf("expected next_session_id 2, got %d", ws.NextSessionID)
	}

	g, err := s.LoadCircuitGraph(meta.SessionID)
	if err != nil {
		t.Fatalf("LoadCircuitGraph: %v", err)
	}
	if len(g.BaseOps) != 1 || g.BaseOps[0].ComponentID != "u1" {
		t.Fatalf("expected base ops copied from circuit file, got %+v", g.BaseOps)
	}
}

func TestCreateSessionMissingCircuitFileFails(t *testing.T) {
	root := t.TempDir()
	s := Open(root)
	if _, _, err := s.InitWorkspace("2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}

	_, err := s.CreateSession(filepath.Join(root, "does-not-exist.ckt"), "2026-07-31T00:00:00Z")
	if proto.CodeOf(err) != proto.ErrCircuitFileNotFound {
		t.Fatalf("expected CircuitFileNotFound, got %v", err)
	}
}

func TestUpdateSessionTicksAdvancesTotalsAndTimestamp(t *testing.T) {
	root := t.TempDir()
	s := Open(root)
	if _, _, err := s.InitWorkspace("2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	circuitPath := writeCircuitFile(t, t.TempDir(), "board.ckt")
	meta, err := s.CreateSession(circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	updated, err := s.UpdateSessionTicks(meta.SessionID, 5, "2026-07-31T01:00:00Z")
	if err != nil {
		t.Fatalf("UpdateSessionTicks: %v", err)
	}
	if updated.TotalTicks != 5 {
		t.Fatalf("expected total_ticks 5, got %d", updated.TotalTicks)
	}
	if updated.LastUsedAt != "2026-07-31T01:00:00Z" {
		t.Fatalf("expected last_used_at updated, got %q", updated.LastUsedAt)
	}

	reloaded, err := s.LoadSession(meta.SessionID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if reloaded.TotalTicks != 5 {
		t.Fatalf("expected persisted total_ticks 5, got %d", reloaded.TotalTicks)
	}
}

func TestLoadSessionRejectsSchemaMismatch(t *testing.T) {
	root := t.TempDir()
	s := Open(root)
	if _, _, err := s.InitWorkspace("2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	circuitPath := writeCircuitFile(t, t.TempDir(), "board.ckt")
	meta, err := s.CreateSession(circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	meta.SchemaVersion = 99
	if err := s.SaveSession(meta); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	before, statErr := os.ReadFile(s.sessionPath(meta.SessionID))
	if statErr != nil {
		t.Fatalf("read session.json: %v", statErr)
	}

	_, err = s.LoadSession(meta.SessionID)
	if proto.CodeOf(err) != proto.ErrStorageSchemaMismatch {
		t.Fatalf("expected StorageSchemaMismatch, got %v", err)
	}

	after, statErr := os.ReadFile(s.sessionPath(meta.SessionID))
	if statErr != nil {
		t.Fatalf("read session.json after failed load: %v", statErr)
	}
	if string(before) != string(after) {
		t.Fatalf("expected session.json left untouched by a failed load")
	}
}

func TestDeleteSessionOnMissingIdReturnsSessionNotFound(t *testing.T) {
	root := t.TempDir()
	s := Open(root)
	if _, _, err := s.InitWorkspace("2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}

	if err := s.DeleteSession(42); proto.CodeOf(err) != proto.ErrSessionNotFound {
		t.Fatalf("expected SessionNotFound, got %v", err)
	}
}

func TestListSessionsReportsCorruptSessionsSeparately(t *testing.T) {
	root := t.TempDir()
	s := Open(root)
	if _, _, err := s.InitWorkspace("2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	circuitPath := writeCircuitFile(t, t.TempDir(), "board.ckt")
	good, err := s.CreateSession(circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	bad, err := s.CreateSession(circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := os.WriteFile(s.sessionPath(bad.SessionID), []byte("not json"), 0o600); err != nil {
		t.Fatalf("corrupt session file: %v", err)
	}

	result, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(result.Sessions) != 1 || result.Sessions[0].SessionID != good.SessionID {
		t.Fatalf("expected only the good session listed, got %+v", result.Sessions)
	}
	if len(result.CorruptSessions) != 1 || result.CorruptSessions[0] != bad.SessionID {
		t.Fatalf("expected session %d reported corrupt, got %+v", bad.SessionID, result.CorruptSessions)
	}
}

func TestSnapshotSaveLoadAndPruneRetention(t *testing.T) {
	root := t.TempDir()
	s := Open(root)
	if _, _, err := s.InitWorkspace("2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	circuitPath := writeCircuitFile(t, t.TempDir(), "board.ckt")
	meta, err := s.CreateSession(circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	for tick := uint64(1); tick <= 3; tick++ {
		snap := snapshot.Snapshot{SchemaVersion: snapshot.SchemaVersion, TickCount: tick}
		if err := s.SaveSnapshot(meta.SessionID, "main", 0, snap, 2); err != nil {
			t.Fatalf("SaveSnapshot tick %d: %v", tick, err)
		}
	}

	loaded, rev, ok, err := s.LoadLatestSnapshot(meta.SessionID, "main")
	if err != nil || !ok {
		t.Fatalf("LoadLatestSnapshot: ok=%v err=%v", ok, err)
	}
	if loaded.TickCount != 3 || rev != 0 {
		t.Fatalf("expected the tick=3 snapshot at revision 0, got tick=%d rev=%d", loaded.TickCount, rev)
	}

	entries, err := os.ReadDir(s.branchSnapshotsDir(meta.SessionID, "main"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected retention=2 to prune down to 2 files, got %d", len(entries))
	}
}

func TestIsAncestorAndInvalidateSnapshotsNotAncestorOf(t *testing.T) {
	root := t.TempDir()
	s := Open(root)
	if _, _, err := s.InitWorkspace("2026-07-31T00:00:00Z"); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	circuitPath := writeCircuitFile(t, t.TempDir(), "board.ckt")
	meta, err := s.CreateSession(circuitPath, "2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	g := CircuitGraph{
		Revisions: []RevisionNode{
			{Revision: 1, Parent: 0, Op: circuit.EditOperation{Kind: circuit.OpAddComponent, ComponentID: "a", ComponentKind: "Register"}},
			{Revision: 2, Parent: 0, Op: circuit.EditOperation{Kind: circuit.OpAddComponent, ComponentID: "b", ComponentKind: "Register"}},
		},
	}
	if !IsAncestor(&g, 0, 1) {
		t.Fatalf("expected the root revision 0 to be an ancestor of every revision")
	}
	if IsAncestor(&g, 1, 2) {
		t.Fatalf("expected revision 1 (a sibling fork) to not be an ancestor of revision 2")
	}

	for _, snap := range []struct {
		rev  int64
		tick uint64
	}{{1, 1}, {2, 1}} {
		if err := s.SaveSnapshot(meta.SessionID, "main", snap.rev, snapshot.Snapshot{SchemaVersion: snapshot.SchemaVersion, TickCount: snap.tick}, 0); err != nil {
			t.Fatalf("SaveSnapshot rev=%d: %v", snap.rev, err)
		}
	}

	if err := s.InvalidateSnapshotsNotAncestorOf(meta.SessionID, "main", &g, 2); err != nil {
		t.Fatalf("InvalidateSnapshotsNotAncestorOf: %v", err)
	}

	entries, err := os.ReadDir(s.branchSnapshotsDir(meta.SessionID, "main"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only revision 2's snapshot to survive, got %d files", len(entries))
	}
	if rev, _, err := parseSnapshotName(entries[0].Name()); err != nil || rev != 2 {
		t.Fatalf("expected the surviving snapshot to be revision 2, got rev=%d err=%v", rev, err)
	}
}
