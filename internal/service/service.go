package service

import (
	"context"
	"log/slog"
	"sync"

	"boardsim/internal/circuit"
	"boardsim/internal/proto"
	"boardsim/internal/session"
	"boardsim/internal/session/index"
	"boardsim/internal/sim/machine"
	"boardsim/internal/tracing"
)

// cachedSession is the in-memory state the service keeps resident for a
// session while it is being worked on, grounded on
// ProtoVMCLI::SessionServer.h's InMemorySessionState: session metadata plus,
// per branch, a materialized Circuit and (lazily) a live Machine. mu
// serializes all access to one session (spec §5: "the session service
// serializes all accesses to one session's in-memory Machine — one mutex
// per session").
type cachedSession struct {
	mu sync.Mutex

	meta    session.Metadata
	graph   session.CircuitGraph
	circuit map[string]*circuit.Circuit // by branch name
	machine map[string]*machine.Machine // by branch name
}

// Service is the session/design-service orchestration layer (spec §2
// "Control flow"). It resolves session+branch, loads or materializes the
// Machine and/or Circuit model, performs work, writes a new snapshot and/or
// revision, and returns a structured response — the same shape every CLI
// command and daemon RPC handler delegates to.
type Service struct {
	store    *session.Store
	idx      *index.Index // optional; nil disables secondary-index maintenance
	defaults session.EngineDefaults

	cacheMu sync.Mutex
	cache   map[int]*cachedSession
}

// New returns a Service backed by store. idx may be nil. The workspace's
// boardsim.yaml (if any) is loaded once here rather than per-materialize
// call; InitWorkspace already validated it, so a read failure at this
// point means the file changed underfoot and falls back to engine
// built-in defaults rather than failing every subsequent command.
func New(store *session.Store, idx *index.Index) *Service {
	defaults, err := store.LoadEngineDefaults()
	if err != nil {
		slog.Warn("ignoring unreadable boardsim.yaml", "error", err)
		defaults = session.EngineDefaults{}
	}
	return &Service{store: store, idx: idx, cache: make(map[int]*cachedSession), defaults: defaults}
}

// acquire returns the cached session for id, loading it from disk on first
// use. The cache lock is held only long enough to find-or-insert the entry;
// callers must lock the returned entry's mu themselves before touching it,
// exactly the two-tier locking spec §5 describes.
func (s *Service) acquire(id int) (*cachedSession, error) {
	s.cacheMu.Lock()
	cs, ok := s.cache[id]
	if ok {
		s.cacheMu.Unlock()
		return cs, nil
	}
	s.cacheMu.Unlock()

	meta, err := s.store.LoadSession(id)
	if err != nil {
		return nil, err
	}
	graph, err := s.store.LoadCircuitGraph(id)
	if err != nil {
		return nil, err
	}
	cs = &cachedSession{
		meta:    meta,
		graph:   graph,
		circuit: make(map[string]*circuit.Circuit),
		machine: make(map[string]*machine.Machine),
	}

	s.cacheMu.Lock()
	if existing, raced := s.cache[id]; raced {
		s.cacheMu.Unlock()
		return existing, nil
	}
	s.cache[id] = cs
	s.cacheMu.Unlock()
	return cs, nil
}

// evict drops a session from the cache, called after DestroySession so a
// stale in-memory copy never outlives its on-disk directory.
func (s *Service) evict(id int) {
	s.cacheMu.Lock()
	delete(s.cache, id)
	s.cacheMu.Unlock()
}

// circuitFor returns (materializing and caching if needed) the Circuit for
// one branch of an already-locked cachedSession.
func (cs *cachedSession) circuitFor(branch string) (*circuit.Circuit, error) {
	if c, ok := cs.circuit[branch]; ok {
		return c, nil
	}
	c, err := session.MaterializeBranch(&cs.graph, &cs.meta, branch)
	if err != nil {
		return nil, err
	}
	cs.circuit[branch] = c
	return c, nil
}

// invalidateBranch drops a branch's cached Circuit and Machine after an
// edit changes its revision, forcing the next access to rematerialize from
// the (now up to date) revision graph rather than silently diverging from
// it.
func (cs *cachedSession) invalidateBranch(branch string) {
	delete(cs.circuit, branch)
	delete(cs.machine, branch)
}

func (s *Service) saveSession(cs *cachedSession) error {
	if err := s.store.SaveCircuitGraph(cs.meta.SessionID, cs.graph); err != nil {
		return err
	}
	if err := s.store.SaveSession(cs.meta); err != nil {
		return err
	}
	if s.idx != nil {
		_ = s.idx.Upsert(cs.meta) // secondary index is advisory; never fails the request
	}
	return nil
}

func startSpan(ctx context.Context, command string, sessionID int, branch string) (context.Context, func()) {
	ctx, span := tracing.Start(ctx, command, tracing.Int("session_id", sessionID), tracing.String("branch", branch))
	return ctx, func() { span.End() }
}

// InitWorkspace delegates to the store, which is idempotent (spec §8
// invariant 11).
func (s *Service) InitWorkspace(ctx context.Context, nowISO string) (session.Workspace, bool, error) {
	_, end := startSpan(ctx, "init-workspace", 0, "")
	defer end()
	return s.store.InitWorkspace(nowISO)
}

// CreateSession creates a new session and upserts it into the secondary
// index.
func (s *Service) CreateSession(ctx context.Context, circuitFilePath, nowISO string) (session.Metadata, error) {
	_, end := startSpan(ctx, "create-session", 0, "")
	defer end()
	meta, err := s.store.CreateSession(circuitFilePath, nowISO)
	if err != nil {
		return session.Metadata{}, err
	}
	if s.idx != nil {
		_ = s.idx.Upsert(meta)
	}
	slog.Info("session created", "session_id", meta.SessionID, "circuit_file", meta.CircuitFile)
	return meta, nil
}

// ListSessions enumerates the workspace's sessions directly from the store
// (the JSON tree, not the secondary index, so a stale or missing index
// never changes what this reports).
func (s *Service) ListSessions(ctx context.Context) (session.ListResult, error) {
	_, end := startSpan(ctx, "list-sessions", 0, "")
	defer end()
	return s.store.ListSessions()
}

// DestroySession marks a session deleted on disk, evicts any cached
// in-memory state, and removes it from the secondary index.
func (s *Service) DestroySession(ctx context.Context, id int) error {
	_, end := startSpan(ctx, "destroy-session", id, "")
	defer end()
	if err := s.store.DeleteSession(id); err != nil {
		return err
	}
	s.evict(id)
	if s.idx != nil {
		_ = s.idx.Remove(id)
	}
	return nil
}

// RunTicksResult is RunTicks' return value.
type RunTicksResult struct {
	TotalTicks int
	StateHash  uint64
	Degraded   bool
	FaultCount int
}

// RunTicks resolves the session's current branch, materializes a live
// Machine from its circuit if not already cached, advances it by n ticks,
// and persists the new total_ticks (spec §2 control flow, §8 scenario S2).
func (s *Service) RunTicks(ctx context.Context, id, n int, nowISO string) (RunTicksResult, error) {
	cs, err := s.acquire(id)
	if err != nil {
		return RunTicksResult{}, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	branch := cs.meta.CurrentBranch
	_, end := startSpan(ctx, "run-ticks", id, branch)
	defer end()

	m, ok := cs.machine[branch]
	if !ok {
		var err error
		m, err = s.materializeWithSnapshot(cs, branch)
		if err != nil {
			return RunTicksResult{}, err
		}
		cs.machine[branch] = m
	}

	var result RunTicksResult
	for i := 0; i < n; i++ {
		summary := m.Tick()
		if summary.Degraded {
			result.Degraded = true
			result.FaultCount += summary.FaultCount
			slog.Warn("tick produced component-contract faults", "session_id", id, "branch", branch, "fault_count", summary.FaultCount)
		}
	}
	result.TotalTicks = int(m.TotalTicks())
	result.StateHash = m.GetStateHash()

	cs.meta.TotalTicks += n
	cs.meta.LastUsedAt = nowISO
	if b := cs.meta.BranchByName(branch); b != nil && n > 0 {
		b.SimRevision = b.HeadRevision
		if err := s.store.SaveSnapshot(id, branch, b.HeadRevision, m.Snapshot(), s.defaults.SnapshotRetention); err != nil {
			slog.Warn("snapshot write failed", "session_id", id, "branch", branch, "error", err)
		}
	}
	if err := s.saveSession(cs); err != nil {
		return RunTicksResult{}, err
	}
	return result, nil
}

// materializeWithSnapshot builds a live Machine for branch, restoring its
// state from the latest on-disk snapshot when one exists at the branch's
// current head revision (spec: "the on-disk snapshot is authoritative"
// across process restarts / cache eviction) rather than always
// materializing a fresh reset-state Machine.
func (s *Service) materializeWithSnapshot(cs *cachedSession, branch string) (*machine.Machine, error) {
	c, err := cs.circuitFor(branch)
	if err != nil {
		return nil, err
	}
	m, err := MaterializeMachine(c, s.defaults)
	if err != nil {
		return nil, err
	}

	b := cs.meta.BranchByName(branch)
	if b == nil {
		return m, nil
	}
	snap, revision, ok, err := s.store.LoadLatestSnapshot(cs.meta.SessionID, branch)
	if err != nil {
		slog.Warn("ignoring unreadable snapshot", "session_id", cs.meta.SessionID, "branch", branch, "error", err)
		return m, nil
	}
	if !ok || revision != b.HeadRevision {
		return m, nil
	}
	if err := m.Restore(snap); err != nil {
		slog.Warn("ignoring snapshot that failed to restore", "session_id", cs.meta.SessionID, "branch", branch, "error", err)
		return MaterializeMachine(c, s.defaults)
	}
	return m, nil
}

// StateResult is GetState's return value.
type StateResult struct {
	Metadata  session.Metadata
	StateHash uint64
	HasState  bool // false if no Machine has been materialized yet this process
}

// GetState reports a session's persisted metadata plus, if a Machine for
// its current branch is already resident, the live state hash. GetState
// never itself materializes a Machine — it is a pure read (spec §9 OQ3).
func (s *Service) GetState(ctx context.Context, id int) (StateResult, error) {
	cs, err := s.acquire(id)
	if err != nil {
		return StateResult{}, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	_, end := startSpan(ctx, "get-state", id, cs.meta.CurrentBranch)
	defer end()

	res := StateResult{Metadata: cs.meta}
	if m, ok := cs.machine[cs.meta.CurrentBranch]; ok {
		res.StateHash = m.GetStateHash()
		res.HasState = true
	}
	return res, nil
}

// ApplyEditOperation applies op to a session's current branch, appending a
// new revision on success. Spec §8 invariant 5: a failed op leaves the
// session's persisted state bit-identical, which circuit.Apply's
// validate-before-mutate discipline already guarantees for the in-memory
// Circuit — ApplyEditOperation only persists after Apply succeeds.
func (s *Service) ApplyEditOperation(ctx context.Context, id int, op circuit.EditOperation) (int64, error) {
	cs, err := s.acquire(id)
	if err != nil {
		return 0, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	branch := cs.meta.CurrentBranch
	_, end := startSpan(ctx, "edit-"+string(op.Kind), id, branch)
	defer end()

	c, err := cs.circuitFor(branch)
	if err != nil {
		return 0, err
	}
	if _, err := c.Apply(op); err != nil {
		return 0, err
	}

	b := cs.meta.BranchByName(branch)
	newHead := session.AppendRevision(&cs.graph, b.HeadRevision, op)
	b.HeadRevision = newHead
	cs.meta.CircuitRevision = newHead
	delete(cs.machine, branch) // topology may have changed; rematerialize on next run-ticks
	cs.circuit[branch] = c     // c itself already reflects the applied op

	if err := s.saveSession(cs); err != nil {
		return 0, err
	}
	return newHead, nil
}

// ExportNetlist renders a session's current-branch circuit (or the PCB
// named by pcbID, once multi-board circuits exist) to the textual netlist
// format under sessions/<id>/netlists/, and returns its path plus rendered
// text.
func (s *Service) ExportNetlist(ctx context.Context, id int, pcbID string) (path, text string, err error) {
	cs, err := s.acquire(id)
	if err != nil {
		return "", "", err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	branch := cs.meta.CurrentBranch
	_, end := startSpan(ctx, "export-netlist", id, branch)
	defer end()

	c, err := cs.circuitFor(branch)
	if err != nil {
		return "", "", err
	}
	if pcbID == "" {
		pcbID = "main"
	}
	text = renderNetlist(c)
	if err := s.store.EnsureNetlistsDir(id); err != nil {
		return "", "", err
	}
	path = s.store.NetlistPath(id, pcbID)
	if err := writeFileAtomic(path, []byte(text)); err != nil {
		return "", "", proto.NewError(proto.ErrStorageIoError, "write netlist %q: %v", path, err)
	}
	return path, text, nil
}
