package node

import "io"

// GateKind enumerates the handful of combinational logic gates the kernel
// ships as catalog material (spec §1 Non-goals: component families beyond
// the abstract contract are not core design — this is just enough to
// exercise combinational-vs-sequential classification in the analyzer).
type GateKind int

const (
	GateNot GateKind = iota
	GateAnd
	GateOr
	GateXor
)

// Gate is a single-bit combinational gate. Connectors: inputs "a" (and "b"
// for binary gates) then output "y", declaration order.
type Gate struct {
	*Base
	kind       GateKind
	a, b       uint64
	out        uint64
	haveInput  bool
}

func NewGate(id string, kind GateKind) *Gate {
	decls := []ConnectorDecl{{Name: "a", Role: RoleSink, WidthBits: 1}}
	if kind != GateNot {
		decls = append(decls, ConnectorDecl{Name: "b", Role: RoleSink, WidthBits: 1})
	}
	decls = append(decls, ConnectorDecl{Name: "y", Role: RoleSource, WidthBits: 1})
	return &Gate{Base: NewBase(id, "Gate", decls), kind: kind}
}

// ConnectorRanges: inputs are [0, n-1), the sole output is the last index.
func (g *Gate) ConnectorRanges() (inputs, outputs, flags [2]int) {
	n := len(g.Connectors())
	return [2]int{0, n - 1}, [2]int{n - 1, n}, [2]int{n, n}
}

func (g *Gate) Put(connID int, v Value) error {
	conn, fault := g.CheckConn(connID)
	if fault != nil {
		return fault
	}
	if conn.Role != RoleSink && conn.Role != RoleBidirectional {
		return &Fault{Kind: FaultWriteToNonSource, NodeID: g.ID(), ConnID: connID, Message: "put on non-sink connector"}
	}
	if v.WidthBits != 1 {
		return &Fault{Kind: FaultWidthMismatch, NodeID: g.ID(), ConnID: connID, Message: "gate inputs are 1 bit wide"}
	}
	switch conn.Name {
	case "a":
		g.a = v.Bits & 1
	case "b":
		g.b = v.Bits & 1
	}
	g.haveInput = true
	return nil
}

// Tick recomputes the output from latched inputs. Idempotent: re-running
// without an intervening Put yields the same out.
func (g *Gate) Tick() error {
	switch g.kind {
	case GateNot:
		g.out = g.a ^ 1
	case GateAnd:
		g.out = g.a & g.b
	case GateOr:
		g.out = g.a | g.b
	case GateXor:
		g.out = g.a ^ g.b
	}
	return nil
}

func (g *Gate) Process(kind ProcessKind, connID int, target Node, targetConnID int) error {
	if kind != ProcessWrite {
		return nil
	}
	conn, fault := g.CheckConn(connID)
	if fault != nil {
		return fault
	}
	if conn.Role != RoleSource {
		return &Fault{Kind: FaultWriteToNonSource, NodeID: g.ID(), ConnID: connID, Message: "process-write from non-source connector"}
	}
	return target.Put(targetConnID, Value{Bits: g.out, WidthBits: 1})
}

// HashState writes the gate's output-visible state (its current latched
// output) for Machine.GetStateHash.
func (g *Gate) HashState(w io.Writer) {
	_, _ = w.Write([]byte{byte(g.out)})
}

// EncodeState/DecodeState implement the snapshot StateCodec contract: a
// gate's full restorable state is its latched a/b/out bits.
func (g *Gate) EncodeState() []byte {
	return []byte{byte(g.a), byte(g.b), byte(g.out), boolByte(g.haveInput)}
}

func (g *Gate) DecodeState(data []byte) error {
	if len(data) != 4 {
		return &Fault{Kind: FaultInternal, NodeID: g.ID(), Message: "gate state blob must be 4 bytes"}
	}
	g.a, g.b, g.out, g.haveInput = uint64(data[0]), uint64(data[1]), uint64(data[2]), data[3] != 0
	return nil
}
