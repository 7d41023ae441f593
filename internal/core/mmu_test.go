package core

import "testing"

func newTestMachine(t *testing.T, ramBytes uint64) *Machine {
	t.Helper()
	m, err := NewMachine(MachineConfig{
		RAMSize:    ramBytes,
		NumHarts:   1,
		Extensions: MisaExtI | MisaExtM | MisaExtA | MisaExtS | MisaExtU,
	}, nil)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// writePTE writes an 8-byte SV39 page table entry at the given RAM offset.
func writePTE(m *Machine, phys uint64, ppn uint64, flags uint64) {
	pte := (ppn << 10) | flags
	m.Bus.WritePhys(phys, encodeLE64(pte))
}

func encodeLE64(v uint64) []byte {
	buf := make([]byte, 8)
	putLE64(buf, v)
	return buf
}

func TestTranslateBareModeIdentity(t *testing.T) {
	m := newTestMachine(t, pageSize*4)
	h := m.Harts[0]
	h.satpMode = MMUBare

	off, err := h.Translate(RAMBase+0x100, accessRead, AttrNone)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if off != 0x100 {
		t.Fatalf("got offset %#x, want %#x", off, 0x100)
	}
}

func TestTranslateSv39SinglePage(t *testing.T) {
	m := newTestMachine(t, pageSize*16)
	h := m.Harts[0]

	rootPhys := RAMBase
	midPhys := RAMBase + pageSize
	leafPhys := RAMBase + 2*pageSize
	mappedPhys := RAMBase + 3*pageSize

	writePTE(m, rootPhys, midPhys>>12, pteV)
	writePTE(m, midPhys, leafPhys>>12, pteV)

	vaddr := uint64(0x1000)
	leafPPN := mappedPhys >> 12
	// Sv39 walks three levels. vaddr's vpn[2] and vpn[1] are both 0, so slot
	// 0 of the root and middle tables is consulted; vpn[0] is 1, so the leaf
	// PTE sits in slot 1 of the leaf table.
	writePTE(m, leafPhys+8, leafPPN, pteV|pteR|pteW|pteX|pteU|pteA|pteD)

	h.Priv = PrivU // M-mode accesses bypass translation
	h.satpMode = MMUSv39
	h.csr.Satp = (uint64(MMUSv39) << 60) | (rootPhys >> 12)

	off, err := h.Translate(vaddr, accessRead, AttrNone)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	want := mappedPhys - RAMBase
	if off != want {
		t.Fatalf("got offset %#x, want %#x", off, want)
	}
}

func TestTranslateInvalidPTEFaults(t *testing.T) {
	m := newTestMachine(t, pageSize*4)
	h := m.Harts[0]
	h.Priv = PrivS // M-mode accesses bypass translation
	h.satpMode = MMUSv39
	h.csr.Satp = uint64(MMUSv39)<<60 | (RAMBase >> 12) // root table in zeroed RAM -> V=0

	_, err := h.Translate(0x1000, accessRead, AttrNone)
	if err == nil {
		t.Fatalf("expected a page fault for an all-zero (invalid) PTE")
	}
	te, ok := err.(*TrapError)
	if !ok {
		t.Fatalf("expected a *TrapError, got %T", err)
	}
	if te.Cause != CauseLoadPageFault {
		t.Fatalf("got cause %v, want CauseLoadPageFault", te.Cause)
	}
}
