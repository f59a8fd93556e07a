// Package service implements the session/design-service orchestration
// layer (spec §2 "Control flow"): it resolves a session+branch, materializes
// or evicts the in-memory Machine, and wires together the session store,
// the declarative circuit model, the graph/timing analyzer, and the
// transformation/retiming engines behind one API shared by the CLI and the
// daemon.
package service

import (
	"boardsim/internal/circuit"
	"boardsim/internal/proto"
	"boardsim/internal/session"
	"boardsim/internal/sim/analognode"
	"boardsim/internal/sim/board"
	"boardsim/internal/sim/machine"
	"boardsim/internal/sim/node"
)

// connNamer is implemented by every built-in node kind via the embedded
// *node.Base; asserting against it lets MaterializeMachine resolve a pin's
// connector index by name without per-kind knowledge.
type connNamer interface {
	ConnByName(name string) (int, bool)
}

// MaterializeMachine builds a live Machine from a declarative Circuit,
// mirroring the kernel's Node/Connector/Link contract (spec §4.1-§4.2) over
// the Circuit's components, pins, and nets. It is the bridge the session
// service uses whenever a request (run-ticks, get-state) needs simulation
// rather than pure circuit-model bookkeeping. There is exactly one Board,
// named "main" — the declarative model has no notion of which PCB a
// component lives on beyond its optional block grouping, so materialization
// treats the whole circuit as a single board, matching
// ProtoVMCLI::EngineFacade's single-board construction path for a plain
// (non-multi-PCB) session.
func MaterializeMachine(c *circuit.Circuit, defaults session.EngineDefaults) (*machine.Machine, error) {
	b := board.New("main")

	ids := c.SortedComponentIDs()
	nodesByID := make(map[string]node.Node, len(ids))
	for _, id := range ids {
		comp := c.Components[id]
		n, err := newNodeForComponent(comp, defaults)
		if err != nil {
			return nil, err
		}
		if err := b.AddNode(n); err != nil {
			return nil, proto.NewError(proto.ErrCircuitStateCorrupt, "materialize component %q: %v", id, err)
		}
		nodesByID[id] = n
	}

	for _, netID := range c.SortedNetIDs() {
		net := c.Nets[netID]
		var sources, sinks []*circuit.Pin
		for _, pinID := range net.PinIDs {
			p := c.Pins[pinID]
			if p == nil {
				continue
			}
			switch p.Role {
			case node.RoleSource:
				sources = append(sources, p)
			case node.RoleSink:
				sinks = append(sinks, p)
			case node.RoleBidirectional:
				sources = append(sources, p)
				sinks = append(sinks, p)
			}
		}
		for _, src := range sources {
			for _, dst := range sinks {
				if src.ComponentID == dst.ComponentID && src.ID == dst.ID {
					continue
				}
				if err := linkPins(b, nodesByID, src, dst); err != nil {
					return nil, err
				}
			}
		}
	}

	m := machine.New()
	m.AddBoard(b)
	return m, nil
}

func linkPins(b *board.Board, nodesByID map[string]node.Node, src, dst *circuit.Pin) error {
	srcIdx := b.NodeIndex(src.ComponentID)
	dstIdx := b.NodeIndex(dst.ComponentID)
	if srcIdx < 0 || dstIdx < 0 {
		return proto.NewError(proto.ErrCircuitStateCorrupt, "net references unknown component (%q or %q)", src.ComponentID, dst.ComponentID)
	}
	srcConn, ok := connOf(nodesByID[src.ComponentID], src.Name)
	if !ok {
		return proto.NewError(proto.ErrCircuitStateCorrupt, "pin %q has no matching connector", src.ID)
	}
	dstConn, ok := connOf(nodesByID[dst.ComponentID], dst.Name)
	if !ok {
		return proto.NewError(proto.ErrCircuitStateCorrupt, "pin %q has no matching connector", dst.ID)
	}
	if err := b.Link(srcIdx, srcConn, dstIdx, dstConn); err != nil {
		return proto.NewError(proto.ErrCircuitStateCorrupt, "link %s -> %s: %v", src.ID, dst.ID, err)
	}
	return nil
}

func connOf(n node.Node, name string) (int, bool) {
	cn, ok := n.(connNamer)
	if !ok {
		return 0, false
	}
	return cn.ConnByName(name)
}

func newNodeForComponent(comp *circuit.Component, defaults session.EngineDefaults) (node.Node, error) {
	switch comp.Kind {
	case "GateNot":
		return node.NewGate(comp.ID, node.GateNot), nil
	case "GateAnd":
		return node.NewGate(comp.ID, node.GateAnd), nil
	case "GateOr":
		return node.NewGate(comp.ID, node.GateOr), nil
	case "GateXor":
		return node.NewGate(comp.ID, node.GateXor), nil
	case "Register":
		return node.NewRegister(comp.ID, intProp(comp.Properties, "width", 1)), nil
	case "ALU":
		return node.NewALU(comp.ID, intProp(comp.Properties, "width", 8)), nil
	case "AnalogNode":
		sampleRate := analognode.DefaultSampleRate
		if defaults.SampleRateHz > 0 {
			sampleRate = defaults.SampleRateHz
		}
		integrator := analognode.IntegratorRK4
		if defaults.Integrator == "euler" {
			integrator = analognode.IntegratorEuler
		}
		rc := floatProp(comp.Properties, "rc", 1.0)
		timeStep := floatProp(comp.Properties, "time_step", 1.0/sampleRate)
		cfg := analognode.Config{TimeStep: timeStep, Integrator: integrator}
		if v, ok := comp.Properties["integrator"].(string); ok && v == "euler" {
			cfg.Integrator = analognode.IntegratorEuler
		}
		return analognode.NewNode(comp.ID, []float64{0}, analognode.RCLowPassDerivative(rc), cfg), nil
	default:
		return nil, proto.NewError(proto.ErrCircuitStateCorrupt, "unknown component kind %q for component %q", comp.Kind, comp.ID)
	}
}

func intProp(props map[string]any, key string, def int) int {
	v, ok := props[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func floatProp(props map[string]any, key string, def float64) float64 {
	v, ok := props[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}
