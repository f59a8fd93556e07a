package retiming

import (
	"testing"

	"boardsim/internal/circuit"
)

func addComp(t *testing.T, c *circuit.Circuit, id, kind string, props map[string]any) {
	t.Helper()
	if _, err := c.Apply(circuit.EditOperation{Kind: circuit.OpAddComponent, ComponentID: id, ComponentKind: kind, Properties: props}); err != nil {
		t.Fatalf("AddComponent %s: %v", id, err)
	}
}

func connect(t *testing.T, c *circuit.Circuit, a, b string) {
	t.Helper()
	if _, err := c.Apply(circuit.EditOperation{Kind: circuit.OpConnect, PinA: a, PinB: b}); err != nil {
		t.Fatalf("Connect %s %s: %v", a, b, err)
	}
}

// buildForwardChain wires up -> r1 (Register) -> g1 (GateNot) -> sink, the
// pattern proposeForwardMove looks for: a register whose q feeds solely a
// GateNot's a pin.
func buildForwardChain(t *testing.T) *circuit.Circuit {
	t.Helper()
	c := circuit.New()
	addComp(t, c, "up", "Register", nil)
	addComp(t, c, "r1", "Register", nil)
	addComp(t, c, "g1", "GateNot", nil)
	addComp(t, c, "sink", "GateNot", nil)
	connect(t, c, "up.q", "r1.d")
	connect(t, c, "r1.q", "g1.a")
	connect(t, c, "g1.y", "sink.a")
	return c
}

func TestProposeForwardMoveFindsRegisterAcrossInverter(t *testing.T) {
	c := buildForwardChain(t)

	plans := ProposeRetimingPlans(c, "r1", Objective{})
	var found *Plan
	for i := range plans {
		if plans[i].Moves[0].Direction == MoveForward {
			found = &plans[i]
		}
	}
	if found == nil {
		t.Fatalf("expected a forward retiming plan, got %+v", plans)
	}
	m := found.Moves[0]
	if m.Detail["src_reg"] != "r1" || m.Detail["gate"] != "g1" || m.Detail["new_reg"] != "r1__retimed" {
		t.Fatalf("unexpected move detail: %+v", m.Detail)
	}
	if m.Detail["upstream"] != "up.q" || m.Detail["consumer"] != "sink.a" {
		t.Fatalf("unexpected upstream/consumer: %+v", m.Detail)
	}
	if m.Safety != SafeIntraDomain {
		t.Fatalf("expected SafeIntraDomain, got %s (%s)", m.Safety, m.SafetyReason)
	}
}

func TestApplyForwardMoveRewiresAroundGate(t *testing.T) {
	c := buildForwardChain(t)

	plans := ProposeRetimingPlans(c, "r1", Objective{})
	var plan Plan
	for _, p := range plans {
		if p.Moves[0].Direction == MoveForward {
			plan = p
		}
	}
	if plan.ID == "" {
		t.Fatalf("no forward plan found")
	}

	result, err := ApplyRetimingPlanInBranch(c, plan, DefaultApplicationOptions())
	if err != nil {
		t.Fatalf("ApplyRetimingPlanInBranch: %v", err)
	}
	if len(result.AppliedMoveIDs) != 1 || len(result.SkippedMoveIDs) != 0 {
		t.Fatalf("expected one applied move, got %+v", result)
	}
	if !result.AllMovesSafe {
		t.Fatalf("expected AllMovesSafe, got false")
	}

	if _, ok := c.Components["r1"]; ok {
		t.Fatalf("r1 should have been removed")
	}
	if _, ok := c.Components["r1__retimed"]; !ok {
		t.Fatalf("r1__retimed should have been added")
	}
	if _, ok := c.Components["g1"]; !ok {
		t.Fatalf("g1 should still exist, only the register moved")
	}

	upQ := c.Pins["up.q"]
	gA := c.Pins["g1.a"]
	if upQ.NetID == "" || upQ.NetID != gA.NetID {
		t.Fatalf("expected up.q directly driving g1.a, got nets %q and %q", upQ.NetID, gA.NetID)
	}
	gY := c.Pins["g1.y"]
	newD := c.Pins["r1__retimed.d"]
	if gY.NetID == "" || gY.NetID != newD.NetID {
		t.Fatalf("expected g1.y feeding r1__retimed.d, got nets %q and %q", gY.NetID, newD.NetID)
	}
	newQ := c.Pins["r1__retimed.q"]
	sinkA := c.Pins["sink.a"]
	if newQ.NetID == "" || newQ.NetID != sinkA.NetID {
		t.Fatalf("expected r1__retimed.q feeding sink.a, got nets %q and %q", newQ.NetID, sinkA.NetID)
	}
}

// buildBackwardChain wires up -> g1 (GateNot) -> r1 (Register) -> sink, the
// pattern proposeBackwardMove looks for: a register whose d is fed solely by
// a GateNot's y pin.
func buildBackwardChain(t *testing.T) *circuit.Circuit {
	t.Helper()
	c := circuit.New()
	addComp(t, c, "up", "Register", nil)
	addComp(t, c, "g1", "GateNot", nil)
	addComp(t, c, "r1", "Register", nil)
	addComp(t, c, "sink", "GateNot", nil)
	connect(t, c, "up.q", "g1.a")
	connect(t, c, "g1.y", "r1.d")
	connect(t, c, "r1.q", "sink.a")
	return c
}

func TestApplyBackwardMoveRewiresAcrossGate(t *testing.T) {
	c := buildBackwardChain(t)

	plans := ProposeRetimingPlans(c, "r1", Objective{})
	var plan Plan
	for _, p := range plans {
		if p.Moves[0].Direction == MoveBackward {
			plan = p
		}
	}
	if plan.ID == "" {
		t.Fatalf("no backward plan found, got %+v", plans)
	}

	result, err := ApplyRetimingPlanInBranch(c, plan, DefaultApplicationOptions())
	if err != nil {
		t.Fatalf("ApplyRetimingPlanInBranch: %v", err)
	}
	if len(result.AppliedMoveIDs) != 1 {
		t.Fatalf("expected one applied move, got %+v", result)
	}

	if _, ok := c.Components["r1"]; ok {
		t.Fatalf("r1 should have been removed")
	}
	newD := c.Pins["r1__retimed.d"]
	upQ := c.Pins["up.q"]
	if newD.NetID == "" || newD.NetID != upQ.NetID {
		t.Fatalf("expected up.q feeding r1__retimed.d, got nets %q and %q", upQ.NetID, newD.NetID)
	}
	newQ := c.Pins["r1__retimed.q"]
	gA := c.Pins["g1.a"]
	if newQ.NetID == "" || newQ.NetID != gA.NetID {
		t.Fatalf("expected r1__retimed.q feeding g1.a, got nets %q and %q", newQ.NetID, gA.NetID)
	}
	gY := c.Pins["g1.y"]
	sinkA := c.Pins["sink.a"]
	if gY.NetID == "" || gY.NetID != sinkA.NetID {
		t.Fatalf("expected g1.y feeding sink.a, got nets %q and %q", gY.NetID, sinkA.NetID)
	}
}

func TestProposeBackwardMoveSkipsFannedOutRegister(t *testing.T) {
	c := buildBackwardChain(t)
	addComp(t, c, "sink2", "GateNot", nil)
	connect(t, c, "r1.q", "sink2.a")

	for _, p := range ProposeRetimingPlans(c, "r1", Objective{}) {
		if p.Moves[0].Direction == MoveBackward {
			t.Fatalf("expected no backward plan for a fanned-out register, got %+v", p)
		}
	}
}

func TestApplyRetimingPlanRollsBackOnFailure(t *testing.T) {
	c := buildForwardChain(t)

	revBefore := c.Revision
	opsBefore := len(c.Ops)

	plan := Plan{
		ID: "bogus",
		Moves: []Move{{
			MoveID: "RM_bogus",
			Safety: SafeIntraDomain,
			Detail: map[string]string{
				"direction": string(MoveForward),
				"src_reg":   "r1",
				"gate":      "g1",
				"new_reg":   "r1__retimed",
				"upstream":  "does-not-exist",
				"consumer":  "sink.a",
			},
		}},
	}
	if _, err := ApplyRetimingPlanInBranch(c, plan, DefaultApplicationOptions()); err == nil {
		t.Fatalf("expected failure connecting a nonexistent upstream pin")
	}
	if c.Revision != revBefore || len(c.Ops) != opsBefore {
		t.Fatalf("expected circuit unchanged after rollback, got revision %d (was %d), %d ops (was %d)",
			c.Revision, revBefore, len(c.Ops), opsBefore)
	}
	if _, ok := c.Components["r1"]; !ok {
		t.Fatalf("r1 should have been restored by rollback")
	}
}

func TestEligibleMovesFiltersBySafetyAndOptions(t *testing.T) {
	moves := []Move{
		{MoveID: "m1", Safety: SafeIntraDomain},
		{MoveID: "m2", Safety: Suspicious},
		{MoveID: "m3", Safety: Forbidden},
	}

	onlySafe := eligibleMoves(moves, ApplicationOptions{ApplyOnlySafeMoves: true, MaxMoves: -1})
	if len(onlySafe) != 1 || onlySafe[0].MoveID != "m1" {
		t.Fatalf("expected only m1 eligible under default options, got %+v", onlySafe)
	}

	allowSuspicious := eligibleMoves(moves, ApplicationOptions{AllowSuspiciousMoves: true, MaxMoves: -1})
	if len(allowSuspicious) != 2 || allowSuspicious[0].MoveID != "m1" || allowSuspicious[1].MoveID != "m2" {
		t.Fatalf("expected m1 and m2 eligible, got %+v", allowSuspicious)
	}

	capped := eligibleMoves(moves, ApplicationOptions{AllowSuspiciousMoves: true, MaxMoves: 1})
	if len(capped) != 1 || capped[0].MoveID != "m1" {
		t.Fatalf("expected max_moves to truncate to [m1], got %+v", capped)
	}

	// ApplyOnlySafeMoves wins even if AllowSuspiciousMoves also let a move in.
	strict := eligibleMoves(moves, ApplicationOptions{ApplyOnlySafeMoves: true, AllowSuspiciousMoves: true, MaxMoves: -1})
	if len(strict) != 1 || strict[0].MoveID != "m1" {
		t.Fatalf("expected ApplyOnlySafeMoves to exclude the suspicious move, got %+v", strict)
	}
}

func TestEvaluateRetimingPlansSortsByAscendingCost(t *testing.T) {
	plans := []Plan{
		{ID: "p-forbidden", EstimatedMaxDepthAfter: 1, Moves: []Move{{Safety: Forbidden}}},
		{ID: "p-safe", EstimatedMaxDepthAfter: 3, Moves: []Move{{Safety: SafeIntraDomain}}},
		{ID: "p-suspicious", EstimatedMaxDepthAfter: 1, Moves: []Move{{Safety: Suspicious}}},
	}

	scores := EvaluateRetimingPlans(plans, Objective{})
	if len(scores) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(scores))
	}
	if scores[0].PlanID != "p-safe" {
		t.Fatalf("expected the safe plan to rank cheapest, got order %+v", scores)
	}
	if scores[len(scores)-1].PlanID != "p-forbidden" {
		t.Fatalf("expected the forbidden plan to rank most expensive, got order %+v", scores)
	}
}

func TestClassifySafetyFlagsCdcFenceAsForbidden(t *testing.T) {
	c := circuit.New()
	addComp(t, c, "g1", "GateNot", map[string]any{"cdc_fence": true})

	safety, reason := classifySafety(c, "g1", "r1", nil)
	if safety != Forbidden || reason == "" {
		t.Fatalf("expected Forbidden with a reason, got %s %q", safety, reason)
	}
}
