package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"boardsim/internal/circuit"
	"boardsim/internal/proto"
	"boardsim/internal/sim/snapshot"
)

const (
	workspaceFileName  = "workspace.json"
	sessionsDirName    = "sessions"
	sessionFileName    = "session.json"
	revisionsFileName  = "revisions.json"
	logsDirName        = "logs"
	artifactsDirName   = "artifacts"
)

// circuitFile is the on-disk shape of the file CreateSession copies into a
// session directory: an ordered list of edit operations that reconstruct
// the session's starting circuit from empty, in the same shape
// circuit.Replay consumes. This is this repo's concrete choice for an
// otherwise spec-unspecified "circuit file" format.
type circuitFile struct {
	Ops []circuit.EditOperation `json:"ops"`
}

// Store is the on-disk session store rooted at a workspace directory (spec
// §4.6). Every write of workspace.json or session.json goes through
// writeJSONAtomic, grounded on getployz-ployz/pkg/sdk/cluster/config.go's
// Save(): marshal, write to a ".tmp" sibling, then rename over the target,
// so a reader never observes a partial write.
type Store struct {
	Root string
}

// Open returns a Store rooted at root. It does not touch disk; call
// InitWorkspace to create the layout.
func Open(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) workspacePath() string       { return filepath.Join(s.Root, workspaceFileName) }
func (s *Store) sessionsDir() string         { return filepath.Join(s.Root, sessionsDirName) }
func (s *Store) sessionDir(id int) string    { return filepath.Join(s.sessionsDir(), strconv.Itoa(id)) }
func (s *Store) sessionPath(id int) string   { return filepath.Join(s.sessionDir(id), sessionFileName) }
func (s *Store) revisionsPath(id int) string { return filepath.Join(s.sessionDir(id), revisionsFileName) }
func (s *Store) snapshotsDir(id int) string  { return filepath.Join(s.sessionDir(id), "snapshots") }
func (s *Store) netlistsDir(id int) string   { return filepath.Join(s.sessionDir(id), "netlists") }

// branchSnapshotsDir scopes a session's snapshot directory per branch —
// branch names are already constrained to branchNameRe, so they are safe
// path elements. Each branch's snapshot lineage is independent (spec §6:
// a snapshot is keyed by (branch, circuit_revision, tick_count)).
func (s *Store) branchSnapshotsDir(id int, branch string) string {
	return filepath.Join(s.snapshotsDir(id), branch)
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return proto.NewError(proto.ErrStorageIoError, "create directory %q: %v", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return proto.NewError(proto.ErrStorageIoError, "marshal %q: %v", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return proto.NewError(proto.ErrStorageIoError, "write temp file %q: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return proto.NewError(proto.ErrStorageIoError, "replace file %q: %v", path, err)
	}
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// InitWorkspace creates workspace.json (if absent) and the sessions/logs/
// artifacts subdirectories, idempotently (spec §8 invariant 11: running
// twice on the same path yields the same workspace.json — an existing
// workspace.json is left untouched rather than re-stamped with a new
// created_at).
func (s *Store) InitWorkspace(nowISO string) (ws Workspace, created bool, err error) {
	if existing, loadErr := s.loadWorkspaceIfPresent(); loadErr == nil && existing != nil {
		return *existing, false, nil
	} else if loadErr != nil {
		return Workspace{}, false, loadErr
	}

	if entries, readErr := os.ReadDir(s.Root); readErr == nil && len(entries) > 0 {
		for _, e := range entries {
			if e.Name() != sessionsDirName && e.Name() != logsDirName && e.Name() != artifactsDirName && e.Name() != engineDefaultsFileName {
				return Workspace{}, false, proto.NewError(proto.ErrInvalidWorkspace, "refusing to initialize non-empty, non-workspace directory %q", s.Root)
			}
		}
	}

	if _, err := s.LoadEngineDefaults(); err != nil {
		return Workspace{}, false, proto.NewError(proto.ErrInvalidWorkspace, "%v", err)
	}

	for _, dir := range []string{s.sessionsDir(), filepath.Join(s.Root, logsDirName), filepath.Join(s.Root, artifactsDirName)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return Workspace{}, false, proto.NewError(proto.ErrStorageIoError, "create directory %q: %v", dir, err)
		}
	}

	ws = Workspace{
		SchemaVersion: SchemaVersion,
		CreatedAt:     nowISO,
		CreatedWith:   "boardsim",
		EngineVersion: EngineVersion,
		NextSessionID: 1,
	}
	if err := writeJSONAtomic(s.workspacePath(), ws); err != nil {
		return Workspace{}, false, err
	}
	return ws, true, nil
}

// loadWorkspaceIfPresent returns nil, nil if workspace.json does not yet
// exist.
func (s *Store) loadWorkspaceIfPresent() (*Workspace, error) {
	var ws Workspace
	err := readJSONFile(s.workspacePath(), &ws)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, proto.NewError(proto.ErrWorkspaceCorrupt, "read workspace.json: %v", err)
	}
	if ws.SchemaVersion != SchemaVersion {
		return nil, proto.NewError(proto.ErrStorageSchemaMismatch, "workspace.json schema_version %d unsupported", ws.SchemaVersion)
	}
	return &ws, nil
}

// LoadWorkspace reads workspace.json, failing with WorkspaceNotFound if the
// workspace was never initialized.
func (s *Store) LoadWorkspace() (Workspace, error) {
	ws, err := s.loadWorkspaceIfPresent()
	if err != nil {
		return Workspace{}, err
	}
	if ws == nil {
		return Workspace{}, proto.NewError(proto.ErrWorkspaceNotFound, "no workspace.json under %q; run init-workspace first", s.Root)
	}
	return *ws, nil
}

func (s *Store) saveWorkspace(ws Workspace) error {
	return writeJSONAtomic(s.workspacePath(), ws)
}

// CreateSession copies circuitFile into sessions/<id>/, writes session.json
// with a single "main" branch at revision 0, and advances workspace.json's
// next_session_id atomically (spec §4.6).
func (s *Store) CreateSession(circuitFilePath, nowISO string) (Metadata, error) {
	ws, err := s.LoadWorkspace()
	if err != nil {
		return Metadata{}, err
	}

	data, err := os.ReadFile(circuitFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, proto.NewError(proto.ErrCircuitFileNotFound, "circuit file %q not found", circuitFilePath)
		}
		return Metadata{}, proto.NewError(proto.ErrCircuitFileUnreadable, "read circuit file %q: %v", circuitFilePath, err)
	}
	var cf circuitFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return Metadata{}, proto.NewError(proto.ErrCircuitFileUnreadable, "parse circuit file %q: %v", circuitFilePath, err)
	}
	if _, err := circuit.Replay(cf.Ops); err != nil {
		return Metadata{}, proto.NewError(proto.ErrCircuitFileUnreadable, "circuit file %q does not replay: %v", circuitFilePath, err)
	}

	id := ws.NextSessionID
	destName := filepath.Base(circuitFilePath)
	dest := filepath.Join(s.sessionDir(id), destName)
	if err := os.MkdirAll(s.sessionDir(id), 0o700); err != nil {
		return Metadata{}, proto.NewError(proto.ErrStorageIoError, "create session directory: %v", err)
	}
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return Metadata{}, proto.NewError(proto.ErrStorageIoError, "copy circuit file into session: %v", err)
	}
	graph := CircuitGraph{SchemaVersion: SchemaVersion, BaseOps: cf.Ops}
	if err := writeJSONAtomic(s.revisionsPath(id), graph); err != nil {
		return Metadata{}, err
	}

	meta := Metadata{
		SchemaVersion:   SchemaVersion,
		SessionID:       id,
		State:           StateCreated,
		CircuitFile:     destName,
		CreatedAt:       nowISO,
		LastUsedAt:      nowISO,
		CurrentBranch:   "main",
		EngineVersion:   EngineVersion,
		Branches: []Branch{{
			Name:         "main",
			HeadRevision: 0,
			SimRevision:  0,
			BaseRevision: 0,
			IsDefault:    true,
		}},
	}
	if err := writeJSONAtomic(s.sessionPath(id), meta); err != nil {
		return Metadata{}, err
	}

	ws.NextSessionID = id + 1
	if err := s.saveWorkspace(ws); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// LoadSession reads sessions/<id>/session.json, rejecting a mismatched
// schema_version with StorageSchemaMismatch and leaving the file untouched
// (spec §8 invariant 16).
func (s *Store) LoadSession(id int) (Metadata, error) {
	var meta Metadata
	if err := readJSONFile(s.sessionPath(id), &meta); err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, proto.NewError(proto.ErrSessionNotFound, "session %d not found", id)
		}
		return Metadata{}, proto.NewError(proto.ErrSessionCorrupt, "read session %d: %v", id, err)
	}
	if meta.SchemaVersion != SchemaVersion {
		return Metadata{}, proto.NewError(proto.ErrStorageSchemaMismatch, "session %d schema_version %d unsupported", id, meta.SchemaVersion)
	}
	if meta.State == StateDeleted {
		return Metadata{}, proto.NewError(proto.ErrSessionDeleted, "session %d was deleted", id)
	}
	return meta, nil
}

// SaveSession persists meta under write-to-temp-then-rename discipline.
func (s *Store) SaveSession(meta Metadata) error {
	return writeJSONAtomic(s.sessionPath(meta.SessionID), meta)
}

// ListResult is ListSessions' return value: the sessions that loaded
// cleanly, plus the ids of any that didn't (spec §4.6: "each corrupt one is
// reported by id in a separate corrupt_sessions list rather than
// aborting the call").
type ListResult struct {
	Sessions       []Metadata
	CorruptSessions []int
}

// ListSessions enumerates session directories under sessions/.
func (s *Store) ListSessions() (ListResult, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return ListResult{}, nil
		}
		return ListResult{}, proto.NewError(proto.ErrStorageIoError, "list sessions directory: %v", err)
	}

	var result ListResult
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, convErr := strconv.Atoi(e.Name())
		if convErr != nil {
			continue
		}
		meta, loadErr := s.LoadSession(id)
		if loadErr != nil {
			result.CorruptSessions = append(result.CorruptSessions, id)
			continue
		}
		result.Sessions = append(result.Sessions, meta)
	}
	sort.Slice(result.Sessions, func(i, j int) bool { return result.Sessions[i].SessionID < result.Sessions[j].SessionID })
	sort.Ints(result.CorruptSessions)
	return result, nil
}

// DeleteSession marks a session deleted and removes its on-disk directory.
// Spec §8 invariant 13: a missing id returns SessionNotFound.
func (s *Store) DeleteSession(id int) error {
	if _, err := s.LoadSession(id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return proto.NewError(proto.ErrStorageIoError, "remove session %d directory: %v", id, err)
	}
	return nil
}

// UpdateSessionState loads, mutates, and atomically re-saves a session's
// state field.
func (s *Store) UpdateSessionState(id int, state State) (Metadata, error) {
	meta, err := s.LoadSession(id)
	if err != nil {
		return Metadata{}, err
	}
	meta.State = state
	if err := s.SaveSession(meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// UpdateSessionTicks advances total_ticks, refreshes last_used_at, and
// re-saves (spec §8 scenario S2: run-ticks changes both total_ticks and
// last_used_at).
func (s *Store) UpdateSessionTicks(id int, addTicks int, nowISO string) (Metadata, error) {
	meta, err := s.LoadSession(id)
	if err != nil {
		return Metadata{}, err
	}
	meta.TotalTicks += addTicks
	meta.LastUsedAt = nowISO
	if err := s.SaveSession(meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// CircuitFilePath returns the absolute path to a session's copied circuit
// file, for callers that need to read/replay it directly.
func (s *Store) CircuitFilePath(meta Metadata) string {
	return filepath.Join(s.sessionDir(meta.SessionID), meta.CircuitFile)
}

// LoadCircuitGraph reads a session's revision graph.
func (s *Store) LoadCircuitGraph(id int) (CircuitGraph, error) {
	var g CircuitGraph
	if err := readJSONFile(s.revisionsPath(id), &g); err != nil {
		if os.IsNotExist(err) {
			return CircuitGraph{}, proto.NewError(proto.ErrCircuitFileNotFound, "revision graph for session %d not found", id)
		}
		return CircuitGraph{}, proto.NewError(proto.ErrCircuitStateCorrupt, "read revision graph for session %d: %v", id, err)
	}
	if g.SchemaVersion != SchemaVersion {
		return CircuitGraph{}, proto.NewError(proto.ErrStorageSchemaMismatch, "session %d revision graph schema_version %d unsupported", id, g.SchemaVersion)
	}
	return g, nil
}

// SaveCircuitGraph persists a session's revision graph atomically.
func (s *Store) SaveCircuitGraph(id int, g CircuitGraph) error {
	return writeJSONAtomic(s.revisionsPath(id), g)
}

// LoadCircuit materializes the given branch of a session's circuit by
// loading its revision graph and replaying BaseOps plus the branch's
// accumulated edits.
func (s *Store) LoadCircuit(meta Metadata, branchName string) (*circuit.Circuit, error) {
	g, err := s.LoadCircuitGraph(meta.SessionID)
	if err != nil {
		return nil, err
	}
	return MaterializeBranch(&g, &meta, branchName)
}

// SnapshotPath returns the path a snapshot for the given branch, circuit
// revision, and tick count would live at under a session's append-only
// snapshots/<branch>/ directory (spec §5, §6: snapshots are keyed by
// (branch, circuit_revision, tick_count)).
func (s *Store) SnapshotPath(id int, branch string, revision int64, tick uint64) string {
	name := "snap_r" + strconv.FormatInt(revision, 10) + "_t" + strconv.FormatUint(tick, 10) + ".bin"
	return filepath.Join(s.branchSnapshotsDir(id, branch), name)
}

// LatestSnapshot returns the (revision, tick) of the snapshot with the
// highest tick count on disk for one branch, and whether any snapshot
// exists at all. Spec §5: "the latest pointer is derived by sorting
// filenames by tick count."
func (s *Store) LatestSnapshot(id int, branch string) (revision int64, tick uint64, ok bool, err error) {
	entries, readErr := os.ReadDir(s.branchSnapshotsDir(id, branch))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return 0, 0, false, nil
		}
		return 0, 0, false, proto.NewError(proto.ErrStorageIoError, "list snapshots for session %d branch %q: %v", id, branch, readErr)
	}
	var bestRev int64
	var bestTick uint64
	found := false
	for _, e := range entries {
		rev, tick, parseErr := parseSnapshotName(e.Name())
		if parseErr != nil {
			continue
		}
		if !found || tick > bestTick {
			bestRev, bestTick, found = rev, tick, true
		}
	}
	return bestRev, bestTick, found, nil
}

func parseSnapshotName(name string) (revision int64, tick uint64, err error) {
	const prefix, mid, suffix = "snap_r", "_t", ".bin"
	if len(name) <= len(prefix)+len(suffix) || name[:len(prefix)] != prefix || name[len(name)-len(suffix):] != suffix {
		return 0, 0, proto.NewError(proto.ErrCircuitStateCorrupt, "malformed snapshot filename %q", name)
	}
	body := name[len(prefix) : len(name)-len(suffix)]
	sep := -1
	for i := 0; i+len(mid) <= len(body); i++ {
		if body[i:i+len(mid)] == mid {
			sep = i
			break
		}
	}
	if sep < 0 {
		return 0, 0, proto.NewError(proto.ErrCircuitStateCorrupt, "malformed snapshot filename %q", name)
	}
	revision, revErr := strconv.ParseInt(body[:sep], 10, 64)
	if revErr != nil {
		return 0, 0, revErr
	}
	tick, tickErr := strconv.ParseUint(body[sep+len(mid):], 10, 64)
	if tickErr != nil {
		return 0, 0, tickErr
	}
	return revision, tick, nil
}

// EnsureSnapshotsDir creates a session branch's snapshots/ directory if
// absent.
func (s *Store) EnsureSnapshotsDir(id int, branch string) error {
	if err := os.MkdirAll(s.branchSnapshotsDir(id, branch), 0o700); err != nil {
		return proto.NewError(proto.ErrStorageIoError, "create snapshots directory for session %d branch %q: %v", id, branch, err)
	}
	return nil
}

// PruneSnapshots deletes every snapshot file under a branch's snapshots/
// directory except the keep most recent (by tick count), grounded on
// boardsim.yaml's optional snapshot_retention setting. keep <= 0 means
// "keep everything" (no-op).
func (s *Store) PruneSnapshots(id int, branch string, keep int) error {
	if keep <= 0 {
		return nil
	}
	dir := s.branchSnapshotsDir(id, branch)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return proto.NewError(proto.ErrStorageIoError, "list snapshots for session %d branch %q: %v", id, branch, err)
	}
	type snap struct {
		name string
		tick uint64
	}
	var snaps []snap
	for _, e := range entries {
		_, tick, parseErr := parseSnapshotName(e.Name())
		if parseErr != nil {
			continue
		}
		snaps = append(snaps, snap{name: e.Name(), tick: tick})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].tick < snaps[j].tick })
	if len(snaps) <= keep {
		return nil
	}
	for _, s2 := range snaps[:len(snaps)-keep] {
		_ = os.Remove(filepath.Join(dir, s2.name))
	}
	return nil
}

// InvalidateSnapshotsNotAncestorOf deletes every on-disk snapshot for
// branch whose circuit_revision is not an ancestor of headRevision in the
// session's revision graph, via isAncestor. Spec §9 OQ4: "the spec
// invalidates all snapshots whose circuit_revision is not an ancestor of
// the new branch head" (snapshot lineage across merges).
func (s *Store) InvalidateSnapshotsNotAncestorOf(id int, branch string, g *CircuitGraph, headRevision int64) error {
	dir := s.branchSnapshotsDir(id, branch)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return proto.NewError(proto.ErrStorageIoError, "list snapshots for session %d branch %q: %v", id, branch, err)
	}
	for _, e := range entries {
		rev, _, parseErr := parseSnapshotName(e.Name())
		if parseErr != nil {
			continue
		}
		if !IsAncestor(g, rev, headRevision) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

// SaveSnapshot encodes snap and writes it to its (branch, revision,
// tick_count)-keyed path under write-to-temp-then-rename discipline, then
// prunes to retain keeps most recent (0 means keep all).
func (s *Store) SaveSnapshot(id int, branch string, revision int64, snap snapshot.Snapshot, retain int) error {
	data, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	if err := s.EnsureSnapshotsDir(id, branch); err != nil {
		return err
	}
	path := s.SnapshotPath(id, branch, revision, snap.TickCount)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return proto.NewError(proto.ErrStorageIoError, "write snapshot %q: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return proto.NewError(proto.ErrStorageIoError, "replace snapshot %q: %v", path, err)
	}
	return s.PruneSnapshots(id, branch, retain)
}

// LoadLatestSnapshot returns the most recent on-disk snapshot for a branch
// (by tick count) along with the circuit_revision it was taken at, and
// false if the branch has no snapshot yet.
func (s *Store) LoadLatestSnapshot(id int, branch string) (snap snapshot.Snapshot, revision int64, ok bool, err error) {
	revision, tick, found, err := s.LatestSnapshot(id, branch)
	if err != nil || !found {
		return snapshot.Snapshot{}, 0, false, err
	}
	data, err := os.ReadFile(s.SnapshotPath(id, branch, revision, tick))
	if err != nil {
		return snapshot.Snapshot{}, 0, false, proto.NewError(proto.ErrStorageIoError, "read snapshot for session %d branch %q: %v", id, branch, err)
	}
	snap, err = snapshot.Decode(data)
	if err != nil {
		return snapshot.Snapshot{}, 0, false, err
	}
	return snap, revision, true, nil
}

// NetlistPath returns the path a textual netlist export for the given PCB
// id would live at under a session's netlists/ directory (spec §6).
func (s *Store) NetlistPath(id int, pcbID string) string {
	return filepath.Join(s.netlistsDir(id), "netlist_"+pcbID+".txt")
}

// EnsureNetlistsDir creates a session's netlists/ directory if absent.
func (s *Store) EnsureNetlistsDir(id int) error {
	if err := os.MkdirAll(s.netlistsDir(id), 0o700); err != nil {
		return proto.NewError(proto.ErrStorageIoError, "create netlists directory for session %d: %v", id, err)
	}
	return nil
}
