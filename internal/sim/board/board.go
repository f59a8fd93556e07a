// Package board implements the PCB layer (spec §4.2): an ordered collection
// of nodes plus a link table, providing one tick-step.
package board

import (
	"fmt"

	"boardsim/internal/sim/node"

	"github.com/hashicorp/go-multierror"
)

// Board owns a set of nodes and their link topology. A board exclusively
// owns its nodes (spec §3): destroying a board destroys them; there are no
// cross-board references.
type Board struct {
	ID    string
	nodes []node.Node
	index map[string]int

	// faults holds the component-contract faults recorded so far; a tick
	// pass that records any fault is "degraded" but still completes.
	faults []node.Fault
}

// New creates an empty board.
func New(id string) *Board {
	return &Board{ID: id, index: make(map[string]int)}
}

// AddNode appends a node to the board, assigning it the next node index.
// Returns an error if a node with the same ID already exists on this board
// (spec §3: node IDs are unique within the board).
func (b *Board) AddNode(n node.Node) error {
	if _, exists := b.index[n.ID()]; exists {
		return fmt.Errorf("board %s: duplicate node id %q", b.ID, n.ID())
	}
	b.index[n.ID()] = len(b.nodes)
	b.nodes = append(b.nodes, n)
	return nil
}

// Nodes returns the board's nodes in declaration order.
func (b *Board) Nodes() []node.Node { return b.nodes }

// NodeIndex returns the declaration-order index of the node with the given
// id, or -1 if not found.
func (b *Board) NodeIndex(id string) int {
	i, ok := b.index[id]
	if !ok {
		return -1
	}
	return i
}

// Link connects an outgoing connector on node srcIdx to a connector on node
// dstIdx. Validates the invariants from spec §3: at most one link into a
// non-multi sink, no second link from the same source connector to the
// same destination connector.
func (b *Board) Link(srcIdx, srcConn, dstIdx, dstConn int) error {
	if srcIdx < 0 || srcIdx >= len(b.nodes) {
		return fmt.Errorf("board %s: source node index %d out of range", b.ID, srcIdx)
	}
	if dstIdx < 0 || dstIdx >= len(b.nodes) {
		return fmt.Errorf("board %s: dest node index %d out of range", b.ID, dstIdx)
	}
	srcConns := b.nodes[srcIdx].Connectors()
	dstConns := b.nodes[dstIdx].Connectors()
	if srcConn < 0 || srcConn >= len(srcConns) {
		return fmt.Errorf("board %s: source connector %d out of range on node %s", b.ID, srcConn, b.nodes[srcIdx].ID())
	}
	if dstConn < 0 || dstConn >= len(dstConns) {
		return fmt.Errorf("board %s: dest connector %d out of range on node %s", b.ID, dstConn, b.nodes[dstIdx].ID())
	}
	sc := srcConns[srcConn]
	dc := dstConns[dstConn]
	if sc.Role == node.RoleSink {
		return fmt.Errorf("board %s: connector %s.%s is not a valid link source", b.ID, b.nodes[srcIdx].ID(), sc.Name)
	}
	if dc.Role == node.RoleSource {
		return fmt.Errorf("board %s: connector %s.%s is not a valid link destination", b.ID, b.nodes[dstIdx].ID(), dc.Name)
	}
	if !dc.MultiAllowed && len(dc.Links) > 0 {
		return fmt.Errorf("board %s: connector %s.%s is single-link and already has one", b.ID, b.nodes[dstIdx].ID(), dc.Name)
	}
	for _, l := range sc.Links {
		if l.TargetNodeIndex == dstIdx && l.TargetConnIndex == dstConn {
			return fmt.Errorf("board %s: link %s.%s -> %s.%s already exists", b.ID, b.nodes[srcIdx].ID(), sc.Name, b.nodes[dstIdx].ID(), dc.Name)
		}
	}
	sc.Links = append(sc.Links, node.Link{TargetNodeIndex: dstIdx, TargetConnIndex: dstConn})
	return nil
}

// TickResult summarizes one tick pass. Err aggregates every fault recorded
// during the pass via go-multierror, so callers that want a single error to
// log or wrap don't have to range over Faults themselves; Err is nil when
// the pass was clean.
type TickResult struct {
	Degraded bool
	Faults   []node.Fault
	Err      error
}

// Tick performs one pass (spec §4.2): propagate step 1, then evaluate step
// 2. Step 1 strictly precedes step 2; within each step nodes are visited in
// declaration order and links on a connector in insertion order (spec §5).
// Component-contract faults are recorded and do not abort the pass.
func (b *Board) Tick() TickResult {
	var merr *multierror.Error
	var faults []node.Fault

	record := func(f *node.Fault) {
		faults = append(faults, *f)
		merr = multierror.Append(merr, f)
	}

	// Step 1: propagate.
	for _, n := range b.nodes {
		for connIdx, conn := range n.Connectors() {
			if conn.Role == node.RoleSink {
				continue
			}
			for _, link := range conn.Links {
				dst := b.nodes[link.TargetNodeIndex]
				if err := n.Process(node.ProcessWrite, connIdx, dst, link.TargetConnIndex); err != nil {
					if f, ok := err.(*node.Fault); ok {
						record(f)
						continue
					}
					record(&node.Fault{Kind: node.FaultInternal, NodeID: n.ID(), ConnID: connIdx, Message: err.Error()})
				}
			}
		}
	}

	// Step 2: evaluate.
	for _, n := range b.nodes {
		if err := n.Tick(); err != nil {
			if f, ok := err.(*node.Fault); ok {
				record(f)
				continue
			}
			record(&node.Fault{Kind: node.FaultInternal, NodeID: n.ID(), Message: err.Error()})
		}
	}

	b.faults = append(b.faults, faults...)
	return TickResult{Degraded: len(faults) > 0, Faults: faults, Err: merr.ErrorOrNil()}
}

// AllFaults returns every component-contract fault recorded across every
// tick this board has run, for diagnostics.
func (b *Board) AllFaults() []node.Fault { return b.faults }
