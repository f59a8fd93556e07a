package session

import (
	"testing"

	"boardsim/internal/circuit"
	"boardsim/internal/proto"
)

func freshMainSession() Metadata {
	return Metadata{
		CurrentBranch: "main",
		Branches:      []Branch{{Name: "main", HeadRevision: 0, SimRevision: 0, BaseRevision: 0, IsDefault: true}},
	}
}

// TestBranchCreateSwitchDeleteScenario exercises spec scenario S3 verbatim.
func TestBranchCreateSwitchDeleteScenario(t *testing.T) {
	meta := freshMainSession()

	exp, err := CreateBranch(&meta, "exp", "main", -1)
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if exp.HeadRevision != 0 || exp.BaseRevision != 0 || exp.IsDefault {
		t.Fatalf("unexpected new branch: %+v", exp)
	}

	if err := SwitchBranch(&meta, "exp"); err != nil {
		t.Fatalf("SwitchBranch: %v", err)
	}
	if meta.CurrentBranch != "exp" {
		t.Fatalf("expected current_branch exp, got %q", meta.CurrentBranch)
	}

	if err := DeleteBranch(&meta, "exp"); proto.CodeOf(err) != proto.ErrInvalidEditOp {
		t.Fatalf("expected InvalidEditOperation deleting the current branch, got %v", err)
	}

	if err := SwitchBranch(&meta, "main"); err != nil {
		t.Fatalf("SwitchBranch back to main: %v", err)
	}
	if err := DeleteBranch(&meta, "exp"); err != nil {
		t.Fatalf("expected delete of non-current branch exp to succeed, got %v", err)
	}
	if meta.BranchByName("exp") != nil {
		t.Fatalf("expected exp removed from branches")
	}
}

func TestCreateBranchRejectsInvalidName(t *testing.T) {
	meta := freshMainSession()
	if _, err := CreateBranch(&meta, "has a space", "main", -1); proto.CodeOf(err) != proto.ErrInvalidEditOp {
		t.Fatalf("expected InvalidEditOperation for invalid branch name, got %v", err)
	}
}

func TestDeleteBranchRejectsDefaultBranch(t *testing.T) {
	meta := freshMainSession()
	if _, err := CreateBranch(&meta, "other", "main", -1); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := SwitchBranch(&meta, "other"); err != nil {
		t.Fatalf("SwitchBranch: %v", err)
	}
	if err := DeleteBranch(&meta, "main"); proto.CodeOf(err) != proto.ErrInvalidEditOp {
		t.Fatalf("expected InvalidEditOperation deleting the default branch, got %v", err)
	}
}

func TestMergeFastForwardsWhenTargetUnchanged(t *testing.T) {
	g := CircuitGraph{SchemaVersion: SchemaVersion}
	meta := freshMainSession()

	exp, err := CreateBranch(&meta, "exp", "main", -1)
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	expBranch := meta.BranchByName("exp")
	head := AppendRevision(&g, exp.HeadRevision, circuit.EditOperation{Kind: circuit.OpAddComponent, ComponentID: "n1", ComponentKind: "Register"})
	expBranch.HeadRevision = head

	result, err := Merge(&g, &meta, "exp", "main", false)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !result.FastForward || !result.Merged {
		t.Fatalf("expected a fast-forward merge, got %+v", result)
	}
	main := meta.BranchByName("main")
	if main.HeadRevision != head {
		t.Fatalf("expected main's head_revision to advance to %d, got %d", head, main.HeadRevision)
	}
}

func TestMergeReturnsConflictErrorWithoutAllowMerge(t *testing.T) {
	g := CircuitGraph{SchemaVersion: SchemaVersion}
	meta := freshMainSession()
	base := AppendRevision(&g, 0, circuit.EditOperation{Kind: circuit.OpAddComponent, ComponentID: "shared", ComponentKind: "Register"})
	main := meta.BranchByName("main")
	main.HeadRevision = base

	if _, err := CreateBranch(&meta, "exp", "main", -1); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	expBranch := meta.BranchByName("exp")

	// Both branches remove the same component independently.
	expHead := AppendRevision(&g, base, circuit.EditOperation{Kind: circuit.OpRemoveComponent, ComponentID: "shared"})
	expBranch.HeadRevision = expHead
	mainHead := AppendRevision(&g, base, circuit.EditOperation{Kind: circuit.OpRemoveComponent, ComponentID: "shared"})
	main.HeadRevision = mainHead

	result, err := Merge(&g, &meta, "exp", "main", false)
	if proto.CodeOf(err) != proto.ErrConflict {
		t.Fatalf("expected Conflict error, got %v", err)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected one conflict pair reported, got %+v", result.Conflicts)
	}
}

func TestMergeWithAllowMergeSkipsConflictingOpsAndKeepsRest(t *testing.T) {
	g := CircuitGraph{SchemaVersion: SchemaVersion}
	meta := freshMainSession()
	base := AppendRevision(&g, 0, circuit.EditOperation{Kind: circuit.OpAddComponent, ComponentID: "shared", ComponentKind: "Register"})
	main := meta.BranchByName("main")
	main.HeadRevision = base

	if _, err := CreateBranch(&meta, "exp", "main", -1); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	expBranch := meta.BranchByName("exp")

	// exp: a conflicting remove of "shared", plus a harmless unrelated add.
	conflictRev := AppendRevision(&g, base, circuit.EditOperation{Kind: circuit.OpRemoveComponent, ComponentID: "shared"})
	expHead := AppendRevision(&g, conflictRev, circuit.EditOperation{Kind: circuit.OpAddComponent, ComponentID: "exp_only", ComponentKind: "Register"})
	expBranch.HeadRevision = expHead

	// main: its own conflicting remove of "shared".
	mainHead := AppendRevision(&g, base, circuit.EditOperation{Kind: circuit.OpRemoveComponent, ComponentID: "shared"})
	main.HeadRevision = mainHead

	result, err := Merge(&g, &meta, "exp", "main", true)
	if err != nil {
		t.Fatalf("Merge with allow_merge: %v", err)
	}
	if !result.Merged || result.SkippedOps != 1 {
		t.Fatalf("expected the conflicting remove to be skipped, got %+v", result)
	}

	c, err := MaterializeRevision(&g, meta.BranchByName("main").HeadRevision)
	if err != nil {
		t.Fatalf("MaterializeRevision: %v", err)
	}
	if _, ok := c.Components["exp_only"]; !ok {
		t.Fatalf("expected the non-conflicting add to have been merged in")
	}
}
