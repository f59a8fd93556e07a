package service

import (
	"testing"

	"boardsim/internal/circuit"
	"boardsim/internal/session"
)

func buildCircuit(t *testing.T, ops []circuit.EditOperation) *circuit.Circuit {
	t.Helper()
	c, err := circuit.Replay(ops)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	return c
}

func TestMaterializeMachineLinksNotChain(t *testing.T) {
	c := buildCircuit(t, []circuit.EditOperation{
		{Kind: circuit.OpAddComponent, ComponentID: "g1", ComponentKind: "GateNot"},
		{Kind: circuit.OpAddComponent, ComponentID: "g2", ComponentKind: "GateNot"},
		{Kind: circuit.OpCreateNet, NetID: "n1", InitialPins: []string{"g1.y", "g2.a"}},
	})

	m, err := MaterializeMachine(c, session.EngineDefaults{})
	if err != nil {
		t.Fatalf("MaterializeMachine: %v", err)
	}
	if len(m.Boards()) != 1 {
		t.Fatalf("expected exactly one board, got %d", len(m.Boards()))
	}
	board := m.Boards()[0]
	if len(board.Nodes()) != 2 {
		t.Fatalf("expected two nodes, got %d", len(board.Nodes()))
	}

	for i := 0; i < 3; i++ {
		m.Tick()
	}
	if m.TotalTicks() != 3 {
		t.Fatalf("expected 3 ticks, got %d", m.TotalTicks())
	}
}

func TestMaterializeMachineRejectsUnknownKind(t *testing.T) {
	c := circuit.New()
	c.Components["bogus"] = &circuit.Component{ID: "bogus", Kind: "NotARealKind"}

	if _, err := MaterializeMachine(c, session.EngineDefaults{}); err == nil {
		t.Fatalf("expected an error for an unrecognized component kind")
	}
}

func TestMaterializeMachineAnalogNode(t *testing.T) {
	c := buildCircuit(t, []circuit.EditOperation{
		{Kind: circuit.OpAddComponent, ComponentID: "rc1", ComponentKind: "AnalogNode", Properties: map[string]any{"rc": 0.5}},
	})

	m, err := MaterializeMachine(c, session.EngineDefaults{})
	if err != nil {
		t.Fatalf("MaterializeMachine: %v", err)
	}
	summary := m.Tick()
	if summary.Degraded {
		t.Fatalf("expected an isolated analog node to tick cleanly, got fault_count=%d", summary.FaultCount)
	}
}
