package session

import (
	"boardsim/internal/circuit"
	"boardsim/internal/proto"
)

// nodeForRevision returns the node recorded for rev, or false if rev is the
// root (0) or otherwise absent. Revisions are 1-based and stored densely, so
// Revisions[rev-1] is always the right slot once rev > 0 and rev is within
// range.
func nodeForRevision(g *CircuitGraph, rev int64) (RevisionNode, bool) {
	if rev <= 0 || rev > int64(len(g.Revisions)) {
		return RevisionNode{}, false
	}
	return g.Revisions[rev-1], true
}

// opsToRevision walks the parent chain from rev back to the root, returning
// the session-added ops (on top of BaseOps) that produced rev, in replay
// order.
func opsToRevision(g *CircuitGraph, rev int64) ([]circuit.EditOperation, error) {
	var reversed []circuit.EditOperation
	cur := rev
	for cur != 0 {
		node, ok := nodeForRevision(g, cur)
		if !ok {
			return nil, proto.NewError(proto.ErrCircuitStateCorrupt, "revision graph: missing node for revision %d", cur)
		}
		reversed = append(reversed, node.Op)
		cur = node.Parent
	}
	ops := make([]circuit.EditOperation, len(reversed))
	for i, op := range reversed {
		ops[len(reversed)-1-i] = op
	}
	return ops, nil
}

// MaterializeRevision replays BaseOps followed by the ops leading to rev.
func MaterializeRevision(g *CircuitGraph, rev int64) (*circuit.Circuit, error) {
	tail, err := opsToRevision(g, rev)
	if err != nil {
		return nil, err
	}
	all := make([]circuit.EditOperation, 0, len(g.BaseOps)+len(tail))
	all = append(all, g.BaseOps...)
	all = append(all, tail...)
	return circuit.Replay(all)
}

// MaterializeBranch replays the named branch's head revision.
func MaterializeBranch(g *CircuitGraph, m *Metadata, branchName string) (*circuit.Circuit, error) {
	b := m.BranchByName(branchName)
	if b == nil {
		return nil, proto.NewError(proto.ErrInvalidEditOp, "branch %q not found", branchName)
	}
	return MaterializeRevision(g, b.HeadRevision)
}

// AppendRevision records op as a new child of parent and returns the new
// revision number. It does not validate that op applies cleanly; callers
// are expected to have already run op through circuit.Apply on a
// materialized copy of the branch before recording it here, so the graph
// never holds an op that can't replay.
func AppendRevision(g *CircuitGraph, parent int64, op circuit.EditOperation) int64 {
	rev := int64(len(g.Revisions) + 1)
	g.Revisions = append(g.Revisions, RevisionNode{Revision: rev, Parent: parent, Op: op})
	return rev
}

// ancestors returns the set of revisions reachable by walking parent
// pointers from rev down to and including the root (0).
func ancestors(g *CircuitGraph, rev int64) map[int64]bool {
	seen := map[int64]bool{0: true}
	cur := rev
	for cur != 0 {
		seen[cur] = true
		node, ok := nodeForRevision(g, cur)
		if !ok {
			break
		}
		cur = node.Parent
	}
	return seen
}

// IsAncestor reports whether rev lies on head's parent chain (including
// rev == head and rev == 0, the root every revision descends from). Used
// to decide whether an on-disk snapshot's circuit_revision is still valid
// for a branch after a merge moves its head (spec §9 OQ4).
func IsAncestor(g *CircuitGraph, rev, head int64) bool {
	return ancestors(g, head)[rev]
}

// LowestCommonAncestor walks a's ancestor chain into a set, then walks b's
// chain until it lands on a member of that set (the revision graph is a
// DAG of single-parent nodes, so both chains always terminate at the
// shared root 0). This replaces BranchOperations.cpp's MergeBranch, which
// approximates merge base as min(source.base_revision, target.base_revision)
// with an explicit comment that the computation is not a real
// common-ancestor walk; here it is, since the graph needed to do it
// properly is in hand.
func LowestCommonAncestor(g *CircuitGraph, a, b int64) int64 {
	aSet := ancestors(g, a)
	cur := b
	for {
		if aSet[cur] {
			return cur
		}
		if cur == 0 {
			return 0
		}
		node, ok := nodeForRevision(g, cur)
		if !ok {
			return 0
		}
		cur = node.Parent
	}
}

// tailOps returns the ops on the path from base (exclusive) to head
// (inclusive), in replay order — the edits a branch made since diverging
// from base.
func tailOps(g *CircuitGraph, base, head int64) ([]circuit.EditOperation, error) {
	var reversed []circuit.EditOperation
	cur := head
	for cur != base {
		if cur == 0 {
			return nil, proto.NewError(proto.ErrCircuitStateCorrupt, "revision graph: %d is not a descendant of %d", head, base)
		}
		node, ok := nodeForRevision(g, cur)
		if !ok {
			return nil, proto.NewError(proto.ErrCircuitStateCorrupt, "revision graph: missing node for revision %d", cur)
		}
		reversed = append(reversed, node.Op)
		cur = node.Parent
	}
	ops := make([]circuit.EditOperation, len(reversed))
	for i, op := range reversed {
		ops[len(reversed)-1-i] = op
	}
	return ops, nil
}
