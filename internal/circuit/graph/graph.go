// Package graph implements the static circuit analyzer (spec §4.7): graph
// build, topology lint, timing-path/combinational-depth analysis, loop
// detection, and clock-domain-crossing detection, all over the declarative
// circuit model with no live Machine required. Every analysis iterates in a
// sorted, not map, order so results are deterministic regardless of
// map/hash iteration order (spec §4.7).
package graph

import (
	"sort"

	"boardsim/internal/circuit"
	"boardsim/internal/sim/node"
)

// Edge is a directed graph edge from a source-role pin to a sink-role pin,
// classified combinational (same component, pure passthrough, or across a
// net between two combinational components) or sequential (crosses a
// register boundary, carrying one tick of delay).
type Edge struct {
	From       string
	To         string
	Sequential bool
}

// Graph is the pin-level graph built from one Circuit (spec §4.7: "nodes =
// pins; directed edges from sources to sinks along nets").
type Graph struct {
	PinIDs []string // sorted, all pins in the circuit
	Edges  []Edge
}

func isRegister(c *circuit.Circuit, componentID string) bool {
	comp, ok := c.Components[componentID]
	return ok && comp.Kind == "Register"
}

// Build constructs the pin-level graph: one net edge per (source pin, sink
// pin) pair sharing a net, plus one internal edge per (sink pin, source
// pin) pair on the same combinational component (every input is assumed to
// reach every output in one hop — a reasonable simplification given the
// catalog's purely combinational gate/ALU kinds per spec §1 Non-goals).
// Register components contribute no internal edge: their d/q pins are the
// sequential boundary, not a combinational hop.
func Build(c *circuit.Circuit) *Graph {
	g := &Graph{}
	for _, id := range sortedPinIDs(c) {
		g.PinIDs = append(g.PinIDs, id)
	}

	for _, netID := range c.SortedNetIDs() {
		net := c.Nets[netID]
		pins := append([]string(nil), net.PinIDs...)
		sort.Strings(pins)
		for _, from := range pins {
			fp := c.Pins[from]
			if fp.Role == node.RoleSink {
				continue
			}
			for _, to := range pins {
				if to == from {
					continue
				}
				tp := c.Pins[to]
				if tp.Role == node.RoleSource {
					continue
				}
				g.Edges = append(g.Edges, Edge{From: from, To: to, Sequential: isRegister(c, tp.ComponentID) || isRegister(c, fp.ComponentID)})
			}
		}
	}

	for _, compID := range c.SortedComponentIDs() {
		if isRegister(c, compID) {
			continue
		}
		pins := c.ComponentPins(compID)
		var sinks, sources []string
		for _, p := range pins {
			switch p.Role {
			case node.RoleSink:
				sinks = append(sinks, p.ID)
			case node.RoleSource:
				sources = append(sources, p.ID)
			}
		}
		for _, s := range sinks {
			for _, o := range sources {
				g.Edges = append(g.Edges, Edge{From: s, To: o, Sequential: false})
			}
		}
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
	return g
}

func sortedPinIDs(c *circuit.Circuit) []string {
	ids := make([]string, 0, len(c.Pins))
	for id := range c.Pins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// adjacency returns From -> []To for edges matching the seq filter (nil
// means "all edges").
func (g *Graph) adjacency(seqFilter *bool) map[string][]string {
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		if seqFilter != nil && e.Sequential != *seqFilter {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
	}
	for from := range adj {
		sort.Strings(adj[from])
	}
	return adj
}
