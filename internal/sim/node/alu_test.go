package node

import "testing"

// putWord latches a little-endian value onto the width-bit A/B operand
// connectors named prefix+"0".."width-1", mirroring how a board.Link would
// drive them bit by bit.
func putWord(t *testing.T, u *ALU, prefix string, width int, value uint64) {
	t.Helper()
	for i := 0; i < width; i++ {
		connID, ok := u.ConnByName(aName(prefix, i))
		if !ok {
			t.Fatalf("no connector named %s%d", prefix, i)
		}
		if err := u.Put(connID, Value{Bits: (value >> uint(i)) & 1, WidthBits: 1}); err != nil {
			t.Fatalf("put %s%d: %v", prefix, i, err)
		}
	}
}

func setCarryIn(t *testing.T, u *ALU, bit uint64) {
	t.Helper()
	connID, ok := u.ConnByName("Cin")
	if !ok {
		t.Fatal("no Cin connector")
	}
	if err := u.Put(connID, Value{Bits: bit & 1, WidthBits: 1}); err != nil {
		t.Fatalf("put Cin: %v", err)
	}
}

func tickALU(t *testing.T, u *ALU, op AluOp, a, b, cin uint64) (result uint64, zero, carry, ovf, neg bool) {
	t.Helper()
	u.SetOp(op)
	putWord(t, u, "A", u.width, a)
	putWord(t, u, "B", u.width, b)
	setCarryIn(t, u, cin)
	if err := u.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return u.Result()
}

func TestALUAddNoCarry(t *testing.T) {
	u := NewALU("alu", 4)
	result, zero, carry, ovf, neg := tickALU(t, u, AluAdd, 3, 4, 0)
	if result != 7 || zero || carry || ovf || neg {
		t.Fatalf("3+4 = %d (zero=%v carry=%v ovf=%v neg=%v), want 7 with all flags clear", result, zero, carry, ovf, neg)
	}
}

func TestALUAddWithCarryIn(t *testing.T) {
	u := NewALU("alu", 4)
	result, _, _, _, _ := tickALU(t, u, AluAdd, 3, 4, 1)
	if result != 8 {
		t.Fatalf("3+4+1 = %d, want 8", result)
	}
}

func TestALUAddCarryOut(t *testing.T) {
	u := NewALU("alu", 4)
	result, zero, carry, ovf, _ := tickALU(t, u, AluAdd, 15, 1, 0)
	if result != 0 || !zero || !carry || ovf {
		t.Fatalf("15+1 (4-bit) = %d (zero=%v carry=%v ovf=%v), want 0 zero=true carry=true ovf=false", result, zero, carry, ovf)
	}
}

func TestALUAddSignedOverflow(t *testing.T) {
	// 4-bit signed: 7 (0111) + 1 (0001) = 8 (1000), which is -8 signed —
	// same-sign operands producing a different-sign result is overflow.
	u := NewALU("alu", 4)
	result, _, carry, ovf, neg := tickALU(t, u, AluAdd, 7, 1, 0)
	if result != 8 || carry || !ovf || !neg {
		t.Fatalf("7+1 = %d (carry=%v ovf=%v neg=%v), want 8 carry=false ovf=true neg=true", result, carry, ovf, neg)
	}
}

func TestALUSubNoBorrow(t *testing.T) {
	u := NewALU("alu", 4)
	result, zero, carry, ovf, neg := tickALU(t, u, AluSub, 9, 3, 1)
	// 4-bit signed, 9 (1001) is -7, and -7-3 = -10 is below -8: overflow.
	if result != 6 || zero || !carry || !ovf || neg {
		t.Fatalf("9-3 = %d (zero=%v carry=%v ovf=%v neg=%v), want 6 carry=true (no borrow) ovf=true", result, zero, carry, ovf, neg)
	}
}

func TestALUSubBorrow(t *testing.T) {
	u := NewALU("alu", 4)
	result, _, carry, _, _ := tickALU(t, u, AluSub, 3, 9, 1)
	if result != 10 || carry {
		t.Fatalf("3-9 (4-bit) = %d (carry=%v), want 10 carry=false (borrow occurred)", result, carry)
	}
}

func TestALUSubEqualIsZero(t *testing.T) {
	u := NewALU("alu", 4)
	result, zero, _, _, _ := tickALU(t, u, AluSub, 5, 5, 1)
	if result != 0 || !zero {
		t.Fatalf("5-5 = %d (zero=%v), want 0 zero=true", result, zero)
	}
}

func TestALULogicOps(t *testing.T) {
	cases := []struct {
		name string
		op   AluOp
		want uint64
	}{
		{"and", AluAnd, 0b1010 & 0b0110},
		{"or", AluOr, 0b1010 | 0b0110},
		{"xor", AluXor, 0b1010 ^ 0b0110},
		{"nand", AluNand, ^uint64(0b1010&0b0110) & 0xF},
		{"nor", AluNor, ^uint64(0b1010|0b0110) & 0xF},
		{"xnor", AluXnor, ^uint64(0b1010^0b0110) & 0xF},
		{"notA", AluNotA, ^uint64(0b1010) & 0xF},
		{"notB", AluNotB, ^uint64(0b0110) & 0xF},
		{"passA", AluPassA, 0b1010},
		{"passB", AluPassB, 0b0110},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := NewALU("alu", 4)
			result, _, _, _, _ := tickALU(t, u, tc.op, 0b1010, 0b0110, 0)
			if result != tc.want {
				t.Fatalf("%s(1010,0110) = %04b, want %04b", tc.name, result, tc.want)
			}
		})
	}
}

func TestALUIncAAndOverflowToZero(t *testing.T) {
	u := NewALU("alu", 4)
	result, zero, carry, _, _ := tickALU(t, u, AluIncA, 15, 0, 0)
	if result != 0 || !zero || !carry {
		t.Fatalf("inc(15) (4-bit) = %d (zero=%v carry=%v), want 0 zero=true carry=true", result, zero, carry)
	}
}

func TestALUDecAUnderflow(t *testing.T) {
	u := NewALU("alu", 4)
	result, _, carry, _, _ := tickALU(t, u, AluDecA, 0, 0, 0)
	if result != 15 || carry {
		t.Fatalf("dec(0) (4-bit) = %d (carry=%v), want 15 carry=false (borrow)", result, carry)
	}
}

func TestALUShl(t *testing.T) {
	u := NewALU("alu", 4)
	result, _, carry, _, _ := tickALU(t, u, AluShl, 0b1001, 0, 0)
	if result != 0b0010 || !carry {
		t.Fatalf("shl(1001) = %04b (carry=%v), want 0010 carry=true (bit shifted out of the top was 1)", result, carry)
	}
}

func TestALUShr(t *testing.T) {
	u := NewALU("alu", 4)
	result, _, carry, _, _ := tickALU(t, u, AluShr, 0b1001, 0, 0)
	if result != 0b0100 || !carry {
		t.Fatalf("shr(1001) = %04b (carry=%v), want 0100 carry=true (bit shifted out of the bottom was 1)", result, carry)
	}
}

func TestALUEncodeDecodeStateRoundTrip(t *testing.T) {
	u := NewALU("alu", 4)
	tickALU(t, u, AluAdd, 7, 1, 0)
	blob := u.EncodeState()

	restored := NewALU("alu", 4)
	if err := restored.DecodeState(blob); err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	wantResult, wantZero, wantCarry, wantOvf, wantNeg := u.Result()
	gotResult, gotZero, gotCarry, gotOvf, gotNeg := restored.Result()
	if wantResult != gotResult || wantZero != gotZero || wantCarry != gotCarry || wantOvf != gotOvf || wantNeg != gotNeg {
		t.Fatalf("restored ALU state = (%d,%v,%v,%v,%v), want (%d,%v,%v,%v,%v)",
			gotResult, gotZero, gotCarry, gotOvf, gotNeg, wantResult, wantZero, wantCarry, wantOvf, wantNeg)
	}
}

func TestALUDecodeStateRejectsWrongLength(t *testing.T) {
	u := NewALU("alu", 4)
	if err := u.DecodeState([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error decoding a too-short state blob")
	}
}

func TestALUPutRejectsWrongWidth(t *testing.T) {
	u := NewALU("alu", 4)
	connID, _ := u.ConnByName("A0")
	if err := u.Put(connID, Value{Bits: 1, WidthBits: 4}); err == nil {
		t.Fatal("expected a width-mismatch fault")
	}
}
