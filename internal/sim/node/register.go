package node

import (
	"encoding/binary"
	"io"
)

// Register is an N-bit edge-triggered register: it latches "d" and exposes
// it on "q" one tick later — the kernel's one source of sequential state,
// used by the timing analyzer to place register boundaries.
//
// Per SPEC_FULL.md open-question decision 2, both input and output
// connectors use plain declaration order ("d" then "q"); the reversed
// output-pin convention from the original StandardLibrary::Register8Bit is
// not carried over.
type Register struct {
	*Base
	width   int
	latched uint64
	q       uint64
}

func NewRegister(id string, width int) *Register {
	return &Register{
		Base: NewBase(id, "Register", []ConnectorDecl{
			{Name: "d", Role: RoleSink, WidthBits: width},
			{Name: "q", Role: RoleSource, WidthBits: width},
		}),
		width: width,
	}
}

func (r *Register) ConnectorRanges() (inputs, outputs, flags [2]int) {
	return [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 2}
}

func (r *Register) Put(connID int, v Value) error {
	conn, fault := r.CheckConn(connID)
	if fault != nil {
		return fault
	}
	if conn.Name != "d" {
		return &Fault{Kind: FaultWriteToNonSource, NodeID: r.ID(), ConnID: connID, Message: "put on non-sink connector"}
	}
	if v.WidthBits != r.width {
		return &Fault{Kind: FaultWidthMismatch, NodeID: r.ID(), ConnID: connID, Message: "width mismatch"}
	}
	r.latched = v.Bits
	return nil
}

// Tick moves the latched input to the output. Idempotent: calling twice
// without an intervening Put keeps q equal to the same latched value.
func (r *Register) Tick() error {
	r.q = r.latched
	return nil
}

func (r *Register) Process(kind ProcessKind, connID int, target Node, targetConnID int) error {
	if kind != ProcessWrite {
		return nil
	}
	conn, fault := r.CheckConn(connID)
	if fault != nil {
		return fault
	}
	if conn.Name != "q" {
		return &Fault{Kind: FaultWriteToNonSource, NodeID: r.ID(), ConnID: connID, Message: "process-write from non-source connector"}
	}
	return target.Put(targetConnID, Value{Bits: r.q, WidthBits: r.width})
}

// Value exposes the currently latched output, for tests and state hashing.
func (r *Register) Value() uint64 { return r.q }

// HashState writes the register's output-visible state (q) for
// Machine.GetStateHash.
func (r *Register) HashState(w io.Writer) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], r.q)
	_, _ = w.Write(buf[:])
}

// EncodeState/DecodeState implement the snapshot StateCodec contract: a
// register's full restorable state is its latched input plus its output.
func (r *Register) EncodeState() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], r.latched)
	binary.LittleEndian.PutUint64(buf[8:16], r.q)
	return buf
}

func (r *Register) DecodeState(data []byte) error {
	if len(data) != 16 {
		return &Fault{Kind: FaultInternal, NodeID: r.ID(), Message: "register state blob must be 16 bytes"}
	}
	r.latched = binary.LittleEndian.Uint64(data[0:8])
	r.q = binary.LittleEndian.Uint64(data[8:16])
	return nil
}
