package core

import (
	"context"
	"testing"
	"time"
)

func loadProgram(t *testing.T, m *Machine, addr uint64, insns []uint32) {
	t.Helper()
	for i, insn := range insns {
		if !m.Bus.Write32(addr+uint64(i*4), insn) {
			t.Fatalf("failed to write instruction %d at %#x", i, addr+uint64(i*4))
		}
	}
}

func TestDispatchAddImmediate(t *testing.T) {
	m := newTestMachine(t, pageSize*4)
	h := m.Harts[0]
	h.PC = RAMBase

	// ADDI x1, x0, 42
	insn := encodeI(42, 0, 0, 1, opOpImm)
	loadProgram(t, m, RAMBase, []uint32{insn})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.RunFor(ctx, 1); err != nil {
		t.Fatalf("RunFor: %v", err)
	}
	if h.ReadReg(1) != 42 {
		t.Fatalf("got x1=%d, want 42", h.ReadReg(1))
	}
	if h.PC != RAMBase+4 {
		t.Fatalf("got PC=%#x, want %#x", h.PC, RAMBase+4)
	}
}

func TestDispatchLoopWithBranch(t *testing.T) {
	m := newTestMachine(t, pageSize*4)
	h := m.Harts[0]
	h.PC = RAMBase

	// x1 = 0
	// loop: x1 += 1; if x1 != 5 goto loop
	// ADDI x1, x1, 1
	// BNE x1, x5(=5), loop (-4)
	insns := []uint32{
		encodeI(0, 0, 0, 1, opOpImm),           // ADDI x1, x0, 0
		encodeI(5, 0, 0, 5, opOpImm),           // ADDI x5, x0, 5
		encodeI(1, 1, 0, 1, opOpImm),           // ADDI x1, x1, 1     <- loop
		encodeB(uint32(int32(-4)), 5, 1, 1, opBranch), // BNE x1, x5, loop
	}
	loadProgram(t, m, RAMBase, insns)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// 2 setup steps + 5 loop iterations * 2 instructions each
	if err := h.RunFor(ctx, 2+5*2); err != nil {
		t.Fatalf("RunFor: %v", err)
	}
	if h.ReadReg(1) != 5 {
		t.Fatalf("got x1=%d, want 5", h.ReadReg(1))
	}
}

func TestDispatchLoadStoreRoundTrip(t *testing.T) {
	m := newTestMachine(t, pageSize*4)
	h := m.Harts[0]
	h.PC = RAMBase

	// Build the data address relative to PC (AUIPC with a zero immediate)
	// rather than materializing RAMBase via LUI: RAMBase has bit 31 set, and
	// LUI always sign-extends from bit 31 on RV64, so a literal LUI/ADDI
	// pair would yield the wrong 64-bit value here.
	insns := []uint32{
		encodeU(0, 2, opAuipc),            // AUIPC x2, 0   (x2 = PC)
		encodeI(64, 2, 0, 2, opOpImm),      // ADDI x2, x2, 64
		encodeI(99, 0, 0, 3, opOpImm),       // ADDI x3, x0, 99
		encodeS(0, 3, 2, 0b011, opStore),   // SD x3, 0(x2)
		encodeI(0, 2, 0b011, 4, opLoad),    // LD x4, 0(x2)
	}
	loadProgram(t, m, RAMBase, insns)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.RunFor(ctx, len(insns)); err != nil {
		t.Fatalf("RunFor: %v", err)
	}
	if h.ReadReg(4) != 99 {
		t.Fatalf("got x4=%d, want 99", h.ReadReg(4))
	}
}

func TestDispatchEcallTrapsToM(t *testing.T) {
	m := newTestMachine(t, pageSize*4)
	h := m.Harts[0]
	h.PC = RAMBase
	h.Priv = PrivM

	loadProgram(t, m, RAMBase, []uint32{0x00000073}) // ECALL

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.RunFor(ctx, 1); err != nil {
		t.Fatalf("RunFor: %v", err)
	}
	if h.csr.Mcause != uint64(CauseEcallFromM) {
		t.Fatalf("got mcause=%d, want %d", h.csr.Mcause, CauseEcallFromM)
	}
	if h.csr.Mepc != RAMBase {
		t.Fatalf("got mepc=%#x, want %#x", h.csr.Mepc, RAMBase)
	}
}
