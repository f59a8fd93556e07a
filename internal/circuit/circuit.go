// Package circuit implements the declarative circuit model (spec §3, §4.8):
// components, pins, nets, and optional blocks, independent of any live
// Machine, plus the revision-numbered append-only edit-operation log that
// produced it from the empty circuit.
package circuit

import (
	"sort"

	"boardsim/internal/proto"
	"boardsim/internal/sim/node"
)

// Component is one typed instance with properties, grounded on
// ProtoVMCLI::SessionTypes.h's component-catalog concept.
type Component struct {
	ID         string
	Kind       string
	Properties map[string]any
	X, Y       float64
}

// Pin is a named port on a component (spec §3). ID is always
// "<component_id>.<name>" and is the key used to address it from edit
// operations.
type Pin struct {
	ID           string
	ComponentID  string
	Name         string
	Role         node.Role
	MultiAllowed bool
	WidthBits    int
	NetID        string // "" if unconnected
}

// Net is a set of connected pins (spec §3: "nets (sets of connected pins)").
// PinIDs preserves insertion order so net-derived output (netlist export,
// graph build) is deterministic without depending on map iteration.
type Net struct {
	ID     string
	PinIDs []string
}

// Block is a named subgraph with designated port pins (spec §3).
type Block struct {
	ID           string
	Name         string
	ComponentIDs []string
	PortPinIDs   []string
}

// Circuit is the materialized declarative model at some revision, plus the
// append-only op log that produced it from the empty circuit (spec §3).
// Every mutating method validates its full precondition set before
// touching any field, so a failed Apply leaves the Circuit provably
// unchanged (spec §8 invariant 5) — there is no partial-mutation path to
// roll back.
type Circuit struct {
	Revision   int64
	Components map[string]*Component
	Pins       map[string]*Pin
	Nets       map[string]*Net
	Blocks     map[string]*Block
	Ops        []EditOperation
}

// New returns the empty circuit at revision 0.
func New() *Circuit {
	return &Circuit{
		Components: make(map[string]*Component),
		Pins:       make(map[string]*Pin),
		Nets:       make(map[string]*Net),
		Blocks:     make(map[string]*Block),
	}
}

// Replay rebuilds a Circuit by applying ops in order from the empty
// circuit, as required whenever a branch's revision is materialized from
// its op log (spec §3: "the circuit carries... an append-only log of edit
// operations that produced it from the empty circuit").
func Replay(ops []EditOperation) (*Circuit, error) {
	c := New()
	for i, op := range ops {
		if _, err := c.Apply(op); err != nil {
			return nil, proto.NewError(proto.ErrCircuitStateCorrupt, "replay failed at op %d (%s): %v", i, op.Kind, err)
		}
	}
	return c, nil
}

func pinID(componentID, name string) string {
	return componentID + "." + name
}

// ComponentPins returns a component's pins in catalog declaration order.
func (c *Circuit) ComponentPins(componentID string) []*Pin {
	comp, ok := c.Components[componentID]
	if !ok {
		return nil
	}
	specs, _ := pinsForKind(comp.Kind, comp.Properties)
	out := make([]*Pin, 0, len(specs))
	for _, s := range specs {
		if p, ok := c.Pins[pinID(componentID, s.Name)]; ok {
			out = append(out, p)
		}
	}
	return out
}

// SortedComponentIDs returns every component id in sorted order, giving
// callers that iterate c.Components (netlist export, materialization) a
// deterministic order without depending on Go's randomized map iteration.
func (c *Circuit) SortedComponentIDs() []string {
	ids := make([]string, 0, len(c.Components))
	for id := range c.Components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SortedNetIDs returns every net id in sorted order, for the same reason as
// SortedComponentIDs.
func (c *Circuit) SortedNetIDs() []string {
	ids := make([]string, 0, len(c.Nets))
	for id := range c.Nets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
