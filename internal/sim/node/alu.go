package node

import (
	"encoding/binary"
	"io"
)

// AluOp enumerates the operations an ALU performs, grounded on
// ProtoVM/ALU.{h,cpp}'s Operation enum.
type AluOp int

const (
	AluAnd AluOp = iota
	AluOr
	AluXor
	AluNotA
	AluNotB
	AluAdd
	AluSub
	AluIncA
	AluDecA
	AluPassA
	AluPassB
	AluNand
	AluNor
	AluXnor
	AluShl
	AluShr
)

// ALU is a width-bit arithmetic/logic unit.
//
// Per SPEC_FULL.md open-question decision 1, connector ids are normalized
// into three contiguous ranges instead of the original's overlapping
// input/output arithmetic:
//
//	inputs:  [0, width)        operand A, bit 0..width-1
//	         [width, 2*width)  operand B
//	         2*width           carry-in (Cin)
//	outputs: [2*width+1, 3*width+1)  result bus R0..R(width-1)
//	flags:   3*width+1 .. 3*width+4  Zero, Carry, Overflow, Negative (in that order)
//
// The 4-bit operation-select input of the original is not modeled as a
// connector at all: it is set directly via SetOp, since op selection is a
// configuration concern (spec §9 design note: "explicit Config struct"),
// not a per-tick signal, for this catalog entry.
type ALU struct {
	*Base
	width              int
	a, b               uint64
	carryIn            uint64
	op                 AluOp
	result             uint64
	zero, carry, ovf, neg bool
}

func NewALU(id string, width int) *ALU {
	decls := make([]ConnectorDecl, 0, 2*width+1+width+4)
	for i := 0; i < width; i++ {
		decls = append(decls, ConnectorDecl{Name: aName("A", i), Role: RoleSink, WidthBits: 1})
	}
	for i := 0; i < width; i++ {
		decls = append(decls, ConnectorDecl{Name: aName("B", i), Role: RoleSink, WidthBits: 1})
	}
	decls = append(decls, ConnectorDecl{Name: "Cin", Role: RoleSink, WidthBits: 1})
	for i := 0; i < width; i++ {
		decls = append(decls, ConnectorDecl{Name: aName("R", i), Role: RoleSource, MultiAllowed: true, WidthBits: 1})
	}
	decls = append(decls,
		ConnectorDecl{Name: "Zero", Role: RoleSource, MultiAllowed: true, WidthBits: 1},
		ConnectorDecl{Name: "Carry", Role: RoleSource, MultiAllowed: true, WidthBits: 1},
		ConnectorDecl{Name: "Overflow", Role: RoleSource, MultiAllowed: true, WidthBits: 1},
		ConnectorDecl{Name: "Negative", Role: RoleSource, MultiAllowed: true, WidthBits: 1},
	)
	return &ALU{Base: NewBase(id, "ALU", decls), width: width, zero: true}
}

func aName(prefix string, i int) string {
	const digits = "0123456789"
	if i < 10 {
		return prefix + string(digits[i])
	}
	return prefix + string(digits[i/10]) + string(digits[i%10])
}

// ConnectorRanges reports the fixed layout documented on ALU.
func (u *ALU) ConnectorRanges() (inputs, outputs, flags [2]int) {
	w := u.width
	return [2]int{0, 2*w + 1}, [2]int{2*w + 1, 3*w + 1}, [2]int{3*w + 1, 3*w + 5}
}

// SetOp selects the operation the next Tick computes.
func (u *ALU) SetOp(op AluOp) { u.op = op }

func (u *ALU) Put(connID int, v Value) error {
	conn, fault := u.CheckConn(connID)
	if fault != nil {
		return fault
	}
	if conn.Role != RoleSink {
		return &Fault{Kind: FaultWriteToNonSource, NodeID: u.ID(), ConnID: connID, Message: "put on non-sink connector"}
	}
	if v.WidthBits != 1 {
		return &Fault{Kind: FaultWidthMismatch, NodeID: u.ID(), ConnID: connID, Message: "alu bit inputs are 1 bit wide"}
	}
	bit := v.Bits & 1
	w := u.width
	switch {
	case connID < w:
		u.a = setBit(u.a, connID, bit)
	case connID < 2*w:
		u.b = setBit(u.b, connID-w, bit)
	case connID == 2*w:
		u.carryIn = bit
	}
	return nil
}

func setBit(word uint64, i int, bit uint64) uint64 {
	mask := uint64(1) << uint(i)
	if bit != 0 {
		return word | mask
	}
	return word &^ mask
}

func getBit(word uint64, i int) uint64 {
	return (word >> uint(i)) & 1
}

// Tick recomputes result/flags from the latched A/B/carry-in and the
// currently selected op. Idempotent without an intervening Put/SetOp.
func (u *ALU) Tick() error {
	w := uint(u.width)
	mask := uint64(1)<<w - 1
	a, b := u.a&mask, u.b&mask
	var res uint64
	var carryOut, overflow bool

	switch u.op {
	case AluAnd:
		res = a & b
	case AluOr:
		res = a | b
	case AluXor:
		res = a ^ b
	case AluNotA:
		res = ^a & mask
	case AluNotB:
		res = ^b & mask
	case AluAdd:
		sum := a + b + u.carryIn
		res = sum & mask
		carryOut = (sum>>w)&1 != 0
		overflow = signBit(a, w) == signBit(b, w) && signBit(a, w) != signBit(res, w)
	case AluSub:
		sub := a - b - (1 - u.carryIn&1)
		res = sub & mask
		carryOut = (sub>>w)&1 == 0
		overflow = signBit(a, w) != signBit(b, w) && signBit(a, w) != signBit(res, w)
	case AluIncA:
		sum := a + 1
		res = sum & mask
		carryOut = (sum>>w)&1 != 0
	case AluDecA:
		sub := a - 1
		res = sub & mask
		carryOut = (sub>>w)&1 == 0
	case AluPassA:
		res = a
	case AluPassB:
		res = b
	case AluNand:
		res = ^(a & b) & mask
	case AluNor:
		res = ^(a | b) & mask
	case AluXnor:
		res = ^(a ^ b) & mask
	case AluShl:
		res = (a << 1) & mask
		carryOut = signBit(a, w) == 1
	case AluShr:
		res = a >> 1
		carryOut = a&1 != 0
	}

	u.result = res
	u.carry = carryOut
	u.ovf = overflow
	u.zero = res == 0
	if w > 0 {
		u.neg = signBit(res, w) == 1
	}
	return nil
}

func signBit(v uint64, w uint) uint64 {
	if w == 0 {
		return 0
	}
	return (v >> (w - 1)) & 1
}

func (u *ALU) Process(kind ProcessKind, connID int, target Node, targetConnID int) error {
	if kind != ProcessWrite {
		return nil
	}
	conn, fault := u.CheckConn(connID)
	if fault != nil {
		return fault
	}
	if conn.Role != RoleSource {
		return &Fault{Kind: FaultWriteToNonSource, NodeID: u.ID(), ConnID: connID, Message: "process-write from non-source connector"}
	}
	_, outputs, flags := u.ConnectorRanges()
	switch {
	case connID >= outputs[0] && connID < outputs[1]:
		bit := getBit(u.result, connID-outputs[0])
		return target.Put(targetConnID, Value{Bits: bit, WidthBits: 1})
	case connID == flags[0]:
		return target.Put(targetConnID, Value{Bits: boolBit(u.zero), WidthBits: 1})
	case connID == flags[0]+1:
		return target.Put(targetConnID, Value{Bits: boolBit(u.carry), WidthBits: 1})
	case connID == flags[0]+2:
		return target.Put(targetConnID, Value{Bits: boolBit(u.ovf), WidthBits: 1})
	case connID == flags[0]+3:
		return target.Put(targetConnID, Value{Bits: boolBit(u.neg), WidthBits: 1})
	}
	return &Fault{Kind: FaultWriteToNonSource, NodeID: u.ID(), ConnID: connID, Message: "unhandled output connector"}
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Result returns the current result bus and flags, for tests and state hashing.
func (u *ALU) Result() (result uint64, zero, carry, overflow, negative bool) {
	return u.result, u.zero, u.carry, u.ovf, u.neg
}

// HashState writes the ALU's output-visible state (result bus + flags) for
// Machine.GetStateHash.
func (u *ALU) HashState(w io.Writer) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], u.result)
	_, _ = w.Write(buf[:])
	_, _ = w.Write([]byte{boolByte(u.zero), boolByte(u.carry), boolByte(u.ovf), boolByte(u.neg)})
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// EncodeState/DecodeState implement the snapshot StateCodec contract: the
// ALU's full restorable state is its latched operands, selected op, and
// computed result/flags.
func (u *ALU) EncodeState() []byte {
	buf := make([]byte, 8+8+8+8+1+4)
	binary.LittleEndian.PutUint64(buf[0:8], u.a)
	binary.LittleEndian.PutUint64(buf[8:16], u.b)
	binary.LittleEndian.PutUint64(buf[16:24], u.carryIn)
	binary.LittleEndian.PutUint64(buf[24:32], u.result)
	buf[32] = byte(u.op)
	buf[33], buf[34], buf[35], buf[36] = boolByte(u.zero), boolByte(u.carry), boolByte(u.ovf), boolByte(u.neg)
	return buf
}

func (u *ALU) DecodeState(data []byte) error {
	if len(data) != 37 {
		return &Fault{Kind: FaultInternal, NodeID: u.ID(), Message: "alu state blob must be 37 bytes"}
	}
	u.a = binary.LittleEndian.Uint64(data[0:8])
	u.b = binary.LittleEndian.Uint64(data[8:16])
	u.carryIn = binary.LittleEndian.Uint64(data[16:24])
	u.result = binary.LittleEndian.Uint64(data[24:32])
	u.op = AluOp(data[32])
	u.zero, u.carry, u.ovf, u.neg = data[33] != 0, data[34] != 0, data[35] != 0, data[36] != 0
	return nil
}
