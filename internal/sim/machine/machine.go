// Package machine implements the Machine layer (spec §4.4): an ordered
// collection of boards, a monotonic tick counter, and a deterministic state
// hash used for equivalence checks, loop detection, and snapshot integrity.
package machine

import (
	"hash/fnv"
	"io"
	"sync"

	"boardsim/internal/proto"
	"boardsim/internal/sim/board"
	"boardsim/internal/sim/snapshot"
)

// Machine owns N boards. A session exclusively owns its machine instance
// while resident in memory (spec §3).
type Machine struct {
	mu         sync.Mutex
	boards     []*board.Board
	totalTicks uint64

	hashValid bool
	hashCache uint64
}

func New() *Machine {
	return &Machine{}
}

// AddBoard appends a board in declaration order.
func (m *Machine) AddBoard(b *board.Board) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards = append(m.boards, b)
	m.hashValid = false
}

// Boards returns the machine's boards in declaration order. Pure: does not
// mutate any cache (spec §9 OQ3 decision).
func (m *Machine) Boards() []*board.Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*board.Board, len(m.boards))
	copy(out, m.boards)
	return out
}

// TotalTicks returns the monotonic tick counter.
func (m *Machine) TotalTicks() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalTicks
}

// TickSummary aggregates the per-board TickResult for one Machine.Tick call.
type TickSummary struct {
	Degraded    bool
	FaultCount  int
}

// Tick calls Board.Tick on each board in declaration order and increments
// total_ticks by exactly one (spec §4.4, §5). A tick is atomic: no API
// exposes partial-tick state — callers only observe Tick's return.
func (m *Machine) Tick() TickSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var summary TickSummary
	for _, b := range m.boards {
		res := b.Tick()
		if res.Degraded {
			summary.Degraded = true
			summary.FaultCount += len(res.Faults)
		}
	}
	m.totalTicks++
	m.hashValid = false
	return summary
}

// StateHasher is implemented by node kinds that carry hashable state beyond
// their connector table (every built-in kind does). Writing solely the
// node's *output-visible* state (not the tick counter, not the link table)
// is what makes GetStateHash satisfy the idempotence invariant (spec §8
// invariant 10): once a board settles, repeated ticks with no new Put leave
// each node's state unchanged, so the hash stops changing too.
type StateHasher interface {
	HashState(w io.Writer)
}

// GetStateHash returns a content hash over all node states in a stable
// traversal order (board order, then node declaration order, then
// output-visible state). Deterministic: equal Put/Tick sequences yield equal
// hashes (spec §8 invariant 4). total_ticks is deliberately excluded from
// the hash — including it would make invariant 10 (hash settles once inputs
// stop changing) unsatisfiable, since the counter keeps moving every tick.
// Pure — the cache is invalidated on the mutating call (Tick/AddBoard), not
// recomputed lazily inside Tick, per the §9 OQ3 decision in SPEC_FULL.md.
func (m *Machine) GetStateHash() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashValid {
		return m.hashCache
	}
	h := fnv.New64a()
	for _, b := range m.boards {
		_, _ = h.Write([]byte(b.ID))
		for _, n := range b.Nodes() {
			_, _ = h.Write([]byte(n.ClassTag()))
			_, _ = h.Write([]byte(n.ID()))
			if hs, ok := n.(StateHasher); ok {
				hs.HashState(h)
			}
		}
	}
	m.hashCache = h.Sum64()
	m.hashValid = true
	return m.hashCache
}

// StateCodec is implemented by node kinds whose full state (not merely its
// output-visible hash contribution) can be captured and restored — the
// basis for the snapshot codec (spec §4.5). A node that implements
// StateHasher but not StateCodec still participates in hashing but is
// excluded from snapshot payloads (its state is assumed reconstructible
// from the circuit model alone).
type StateCodec interface {
	EncodeState() []byte
	DecodeState(data []byte) error
}

// Snapshot captures the machine's tick count and the full state of every
// node that implements StateCodec, in board-then-declaration order (spec
// §4.5: "machine tick count, per-board node list with class tag and opaque
// state blob").
func (m *Machine) Snapshot() snapshot.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := snapshot.Snapshot{
		SchemaVersion: snapshot.SchemaVersion,
		TickCount:     m.totalTicks,
		Boards:        make([]snapshot.BoardState, 0, len(m.boards)),
	}
	for _, b := range m.boards {
		bs := snapshot.BoardState{}
		for _, n := range b.Nodes() {
			sc, ok := n.(StateCodec)
			if !ok {
				continue
			}
			bs.Nodes = append(bs.Nodes, snapshot.NodeState{ClassTag: n.ClassTag(), State: sc.EncodeState()})
		}
		snap.Boards = append(snap.Boards, bs)
	}
	return snap
}

// Restore loads snap into the machine's existing boards/nodes. Restore is
// strict (spec §4.5): the board count, per-board state-bearing node count,
// and each node's class tag must match the live machine exactly, or a typed
// CircuitStateCorrupt error is returned and the machine is left completely
// unchanged (no partial restore). The live machine must already have its
// boards and nodes constructed by the circuit model before Restore runs —
// the snapshot carries state, not topology.
func (m *Machine) Restore(snap snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(snap.Boards) != len(m.boards) {
		return proto.NewError(proto.ErrCircuitStateCorrupt, "snapshot board_count %d does not match machine's %d live boards", len(snap.Boards), len(m.boards))
	}

	type pending struct {
		codec StateCodec
		data  []byte
	}
	var plan []pending
	for bi, b := range m.boards {
		snapNodes := snap.Boards[bi].Nodes
		si := 0
		for _, n := range b.Nodes() {
			sc, ok := n.(StateCodec)
			if !ok {
				continue
			}
			if si >= len(snapNodes) {
				return proto.NewError(proto.ErrCircuitStateCorrupt, "board %q: snapshot has fewer stateful nodes than the machine", b.ID)
			}
			if n.ClassTag() != snapNodes[si].ClassTag {
				return proto.NewError(proto.ErrCircuitStateCorrupt, "board %q node %q: class tag mismatch (have %q, snapshot has %q)", b.ID, n.ID(), n.ClassTag(), snapNodes[si].ClassTag)
			}
			plan = append(plan, pending{codec: sc, data: snapNodes[si].State})
			si++
		}
		if si != len(snapNodes) {
			return proto.NewError(proto.ErrCircuitStateCorrupt, "board %q: snapshot has more stateful nodes than the machine", b.ID)
		}
	}

	// All validation above completes before any mutation below, so a
	// mismatch never leaves some nodes restored and others untouched.
	for _, p := range plan {
		if err := p.codec.DecodeState(p.data); err != nil {
			return proto.NewError(proto.ErrCircuitStateCorrupt, "state decode failed: %v", err)
		}
	}
	m.totalTicks = snap.TickCount
	m.hashValid = false
	return nil
}
