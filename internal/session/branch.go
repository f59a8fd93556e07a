package session

import (
	"reflect"
	"regexp"
	"strings"

	"boardsim/internal/circuit"
	"boardsim/internal/proto"
)

// branchNameRe is spec §4.9's exact naming rule, matching
// BranchOperations.cpp::IsValidBranchName's regex.
var branchNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ListBranches returns a copy of meta's branch list.
func ListBranches(meta Metadata) []Branch {
	return append([]Branch{}, meta.Branches...)
}

// CreateBranch adds a new branch to meta forked from fromBranch at
// fromRevision (-1 meaning fromBranch's current head_revision), per spec
// §4.9. The new branch's base_revision is the fork point, matching the
// fork point's revision for head_revision and sim_revision too — there is
// nothing to simulate or replay yet that the source branch hasn't already
// covered.
func CreateBranch(meta *Metadata, name, fromBranch string, fromRevision int64) (Branch, error) {
	if !branchNameRe.MatchString(name) {
		return Branch{}, proto.NewError(proto.ErrInvalidEditOp, "branch name %q must match [A-Za-z0-9_-]{1,100}", name)
	}
	if meta.BranchByName(name) != nil {
		return Branch{}, proto.NewError(proto.ErrInvalidEditOp, "branch %q already exists", name)
	}
	src := meta.BranchByName(fromBranch)
	if src == nil {
		return Branch{}, proto.NewError(proto.ErrInvalidEditOp, "source branch %q not found", fromBranch)
	}

	rev := fromRevision
	if rev == -1 {
		rev = src.HeadRevision
	}
	if rev < 0 || rev > src.HeadRevision {
		return Branch{}, proto.NewError(proto.ErrInvalidEditOp, "from_revision %d out of range for branch %q (head is %d)", fromRevision, fromBranch, src.HeadRevision)
	}

	b := Branch{Name: name, HeadRevision: rev, SimRevision: rev, BaseRevision: rev, IsDefault: false}
	meta.Branches = append(meta.Branches, b)
	return b, nil
}

// SwitchBranch sets meta's current_branch, failing if name doesn't exist
// (spec §4.9, §8 invariant via scenario S3).
func SwitchBranch(meta *Metadata, name string) error {
	if meta.BranchByName(name) == nil {
		return proto.NewError(proto.ErrInvalidEditOp, "branch %q not found", name)
	}
	meta.CurrentBranch = name
	return nil
}

// DeleteBranch removes a branch, refusing to delete the current branch or
// the default branch (spec §4.9, §8 invariant 15). Branches are weak
// references into the revision graph (spec §3): deleting one never
// removes any RevisionNode, so other branches sharing history with it are
// unaffected.
func DeleteBranch(meta *Metadata, name string) error {
	b := meta.BranchByName(name)
	if b == nil {
		return proto.NewError(proto.ErrInvalidEditOp, "branch %q not found", name)
	}
	if meta.CurrentBranch == name {
		return proto.NewError(proto.ErrInvalidEditOp, "cannot delete the current branch %q", name)
	}
	if b.IsDefault {
		return proto.NewError(proto.ErrInvalidEditOp, "cannot delete the default branch %q", name)
	}
	kept := meta.Branches[:0]
	for _, existing := range meta.Branches {
		if existing.Name != name {
			kept = append(kept, existing)
		}
	}
	meta.Branches = kept
	return nil
}

// ConflictPair is one pair of mutually exclusive edits found while merging
// (spec §4.9's conflict taxonomy).
type ConflictPair struct {
	SourceOp circuit.EditOperation `json:"source_op"`
	TargetOp circuit.EditOperation `json:"target_op"`
	Reason   string                `json:"reason"`
}

// MergeResult is Merge's outcome.
type MergeResult struct {
	BaseRevision    int64          `json:"base_revision"`
	FastForward     bool           `json:"fast_forward"`
	Merged          bool           `json:"merged"`
	NewHeadRevision int64          `json:"new_head_revision"`
	SkippedOps      int            `json:"skipped_ops"`
	Conflicts       []ConflictPair `json:"conflicts,omitempty"`
}

// pinComponent returns the component id prefix of a "component.pin" id.
func pinComponent(pinID string) string {
	if i := strings.IndexByte(pinID, '.'); i >= 0 {
		return pinID[:i]
	}
	return pinID
}

// conflictsWith implements spec §4.9's conflict taxonomy: two ops conflict
// if they touch the same entity with mutually exclusive effects — both
// remove it, both set different values for the same property, or one
// removes a component while the other connects a pin on it.
func conflictsWith(a, b circuit.EditOperation) (bool, string) {
	if a.Kind == circuit.OpRemoveComponent && b.Kind == circuit.OpRemoveComponent && a.ComponentID == b.ComponentID {
		return true, "both branches removed component " + a.ComponentID
	}
	if a.Kind == circuit.OpSetProperty && b.Kind == circuit.OpSetProperty &&
		a.ComponentID == b.ComponentID && a.PropertyName == b.PropertyName {
		if !equalValues(a.PropertyValue, b.PropertyValue) {
			return true, "both branches set " + a.ComponentID + "." + a.PropertyName + " to different values"
		}
		return false, ""
	}
	if a.Kind == circuit.OpRemoveComponent && (b.Kind == circuit.OpConnect || b.Kind == circuit.OpDisconnect) {
		if pinComponent(b.PinA) == a.ComponentID || pinComponent(b.PinB) == a.ComponentID {
			return true, "one branch removed component " + a.ComponentID + " the other wired a pin on"
		}
	}
	if b.Kind == circuit.OpRemoveComponent && (a.Kind == circuit.OpConnect || a.Kind == circuit.OpDisconnect) {
		if pinComponent(a.PinA) == b.ComponentID || pinComponent(a.PinB) == b.ComponentID {
			return true, "one branch removed component " + b.ComponentID + " the other wired a pin on"
		}
	}
	return false, ""
}

// equalValues compares two PropertyValue payloads. reflect.DeepEqual
// rather than == since property values decoded from JSON can hold
// uncomparable types (maps, slices), which would panic under ==.
func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// findConflicts pairs every sourceTail op against every targetTail op and
// reports the ones that conflict.
func findConflicts(sourceTail, targetTail []circuit.EditOperation) []ConflictPair {
	var out []ConflictPair
	for _, so := range sourceTail {
		for _, to := range targetTail {
			if ok, reason := conflictsWith(so, to); ok {
				out = append(out, ConflictPair{SourceOp: so, TargetOp: to, Reason: reason})
			}
		}
	}
	return out
}

// conflictsAnyOf reports whether op conflicts with any op in others.
func conflictsAnyOf(op circuit.EditOperation, others []circuit.EditOperation) bool {
	for _, o := range others {
		if ok, _ := conflictsWith(op, o); ok {
			return true
		}
	}
	return false
}

// Merge finds the lowest common ancestor of source and target in g, then
// three-way merges their edit-operation tails (spec §4.9). This replaces
// BranchOperations.cpp::MergeBranch's placeholder, which approximates the
// merge base as min(base_revision) and only handles a fast-forward special
// case with no conflict detection at all; here the base is a real LCA walk
// (LowestCommonAncestor) and every op pair is checked against the
// conflict taxonomy.
//
// If target's tail is empty, target fast-forwards to source's head. If
// both tails are non-empty but no op pair conflicts, source's tail is
// replayed onto target as new revisions, whatever allowMerge says. If conflicting ops exist and
// allowMerge is true, conflicting source ops are dropped and the rest are
// replayed onto target — "the transformation engine's merge resolver"
// producing a compound edit list, implemented here directly since the
// resolution is a straightforward op-level skip rather than anything the
// retiming/structural-transform engines need to get involved in. If
// allowMerge is false, Merge returns a Conflict error carrying the
// conflict pairs instead of mutating anything.
func Merge(g *CircuitGraph, meta *Metadata, sourceName, targetName string, allowMerge bool) (MergeResult, error) {
	source := meta.BranchByName(sourceName)
	if source == nil {
		return MergeResult{}, proto.NewError(proto.ErrInvalidEditOp, "source branch %q not found", sourceName)
	}
	target := meta.BranchByName(targetName)
	if target == nil {
		return MergeResult{}, proto.NewError(proto.ErrInvalidEditOp, "target branch %q not found", targetName)
	}

	base := LowestCommonAncestor(g, source.HeadRevision, target.HeadRevision)

	sourceTail, err := tailOps(g, base, source.HeadRevision)
	if err != nil {
		return MergeResult{}, err
	}
	targetTail, err := tailOps(g, base, target.HeadRevision)
	if err != nil {
		return MergeResult{}, err
	}

	result := MergeResult{BaseRevision: base}

	if len(targetTail) == 0 {
		// Fast-forward: target hasn't diverged since base, so it can simply
		// point at source's head directly, sharing the existing revision
		// nodes rather than re-appending duplicates of source's ops.
		target.HeadRevision = source.HeadRevision
		result.FastForward = true
		result.Merged = true
		result.NewHeadRevision = source.HeadRevision
		return result, nil
	}

	conflicts := findConflicts(sourceTail, targetTail)
	if len(conflicts) == 0 {
		circ, err := MaterializeRevision(g, target.HeadRevision)
		if err != nil {
			return MergeResult{}, err
		}
		cur := target.HeadRevision
		for _, op := range sourceTail {
			if _, err := circ.Apply(op); err != nil {
				return MergeResult{}, proto.NewError(proto.ErrConflict, "non-conflicting merge op failed to replay: %v", err)
			}
			cur = AppendRevision(g, cur, op)
		}
		target.HeadRevision = cur
		result.Merged = true
		result.NewHeadRevision = cur
		return result, nil
	}

	if !allowMerge {
		result.Conflicts = conflicts
		return result, proto.NewError(proto.ErrConflict, "branch merge found %d conflicting operation pair(s)", len(conflicts)).WithDetail(conflicts)
	}

	circ, err := MaterializeRevision(g, target.HeadRevision)
	if err != nil {
		return MergeResult{}, err
	}
	cur := target.HeadRevision
	skipped := 0
	for _, op := range sourceTail {
		if conflictsAnyOf(op, targetTail) {
			skipped++
			continue
		}
		if _, err := circ.Apply(op); err != nil {
			skipped++
			continue
		}
		cur = AppendRevision(g, cur, op)
	}
	target.HeadRevision = cur
	result.Merged = true
	result.NewHeadRevision = cur
	result.SkippedOps = skipped
	result.Conflicts = conflicts
	return result, nil
}
