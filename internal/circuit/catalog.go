package circuit

import "boardsim/internal/sim/node"

// PinSpec describes one pin a component kind exposes, mirroring the
// connector declarations of internal/sim/node so that a materialized
// Machine's connector table and a Circuit's pin table agree on shape for
// the same component kind (spec §3: Circuit is "a separate, serializable
// model" of the same components the kernel simulates).
type PinSpec struct {
	Name         string
	Role         node.Role
	MultiAllowed bool
	WidthBits    int
}

// propertySpec describes one editable property SetProperty may target.
type propertySpec struct {
	kind   string // "int", "float", "string", "bool"
	minInt int
	maxInt int
	hasInt bool
}

// catalog maps a component Kind to its pin layout, parameterized by the
// component's Properties (currently only "width": it sets the Register's
// d/q pin width and the ALU's A/B/R pin count). Kinds mirror internal/sim/node's built-in node kinds plus
// "AnalogNode" (internal/sim/analognode) — the catalog is deliberately thin,
// matching spec §1 Non-goals ("individual component families... are catalog
// material, not core design").
func pinsForKind(kind string, properties map[string]any) ([]PinSpec, error) {
	switch kind {
	case "GateNot":
		return []PinSpec{
			{Name: "a", Role: node.RoleSink, WidthBits: 1},
			{Name: "y", Role: node.RoleSource, WidthBits: 1},
		}, nil
	case "GateAnd", "GateOr", "GateXor":
		return []PinSpec{
			{Name: "a", Role: node.RoleSink, WidthBits: 1},
			{Name: "b", Role: node.RoleSink, WidthBits: 1},
			{Name: "y", Role: node.RoleSource, MultiAllowed: true, WidthBits: 1},
		}, nil
	case "Register":
		width := intProperty(properties, "width", 1)
		return []PinSpec{
			{Name: "d", Role: node.RoleSink, WidthBits: width},
			{Name: "q", Role: node.RoleSource, MultiAllowed: true, WidthBits: width},
		}, nil
	case "ALU":
		width := intProperty(properties, "width", 8)
		pins := make([]PinSpec, 0, 3*width+5)
		for i := 0; i < width; i++ {
			pins = append(pins, PinSpec{Name: aluPinName("A", i), Role: node.RoleSink, WidthBits: 1})
		}
		for i := 0; i < width; i++ {
			pins = append(pins, PinSpec{Name: aluPinName("B", i), Role: node.RoleSink, WidthBits: 1})
		}
		pins = append(pins, PinSpec{Name: "Cin", Role: node.RoleSink, WidthBits: 1})
		for i := 0; i < width; i++ {
			pins = append(pins, PinSpec{Name: aluPinName("R", i), Role: node.RoleSource, MultiAllowed: true, WidthBits: 1})
		}
		pins = append(pins,
			PinSpec{Name: "Zero", Role: node.RoleSource, MultiAllowed: true, WidthBits: 1},
			PinSpec{Name: "Carry", Role: node.RoleSource, MultiAllowed: true, WidthBits: 1},
			PinSpec{Name: "Overflow", Role: node.RoleSource, MultiAllowed: true, WidthBits: 1},
			PinSpec{Name: "Negative", Role: node.RoleSource, MultiAllowed: true, WidthBits: 1},
		)
		return pins, nil
	case "AnalogNode":
		return []PinSpec{
			{Name: "in", Role: node.RoleSink, WidthBits: 0},
			{Name: "out", Role: node.RoleSource, MultiAllowed: true, WidthBits: 0},
		}, nil
	default:
		return nil, nil
	}
}

func aluPinName(prefix string, i int) string {
	const digits = "0123456789"
	if i < 10 {
		return prefix + string(digits[i])
	}
	return prefix + string(digits[i/10]) + string(digits[i%10])
}

func intProperty(properties map[string]any, key string, def int) int {
	v, ok := properties[key]
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

// propertySchema lists the editable properties defined for a component
// kind; SetProperty validates against this (spec §4.8 precondition).
func propertySchema(kind string) map[string]propertySpec {
	switch kind {
	case "Register":
		return map[string]propertySpec{
			"width":        {kind: "int", hasInt: true, minInt: 1, maxInt: 64},
			"clock_domain": {kind: "string"},
		}
	case "ALU":
		return map[string]propertySpec{
			"width": {kind: "int", hasInt: true, minInt: 1, maxInt: 64},
			"op":    {kind: "string"},
		}
	case "AnalogNode":
		return map[string]propertySpec{
			"time_step": {kind: "float"},
		}
	default:
		return nil
	}
}

// knownKinds is used by AddComponent to reject unknown component kinds
// outright rather than silently creating a pinless component.
var knownKinds = map[string]bool{
	"GateNot": true, "GateAnd": true, "GateOr": true, "GateXor": true,
	"Register": true, "ALU": true, "AnalogNode": true,
}
