package core

import "testing"

func TestPhysicalRAMReadWrite(t *testing.T) {
	ram, err := NewPhysicalRAM(RAMBase, pageSize, RAMOptions{})
	if err != nil {
		t.Fatalf("NewPhysicalRAM: %v", err)
	}
	defer ram.Close()

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !ram.WriteAt(RAMBase+16, want) {
		t.Fatalf("WriteAt failed")
	}

	got := make([]byte, len(want))
	if !ram.ReadAt(RAMBase+16, got) {
		t.Fatalf("ReadAt failed")
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestPhysicalRAMContainsBounds(t *testing.T) {
	ram, err := NewPhysicalRAM(RAMBase, pageSize, RAMOptions{})
	if err != nil {
		t.Fatalf("NewPhysicalRAM: %v", err)
	}
	defer ram.Close()

	if !ram.Contains(RAMBase, pageSize) {
		t.Fatalf("expected the full region to be contained")
	}
	if ram.Contains(RAMBase-1, 1) {
		t.Fatalf("address below base must not be contained")
	}
	if ram.Contains(RAMBase, pageSize+1) {
		t.Fatalf("range extending past the end must not be contained")
	}
}

func TestNewPhysicalRAMRejectsMisalignedSize(t *testing.T) {
	if _, err := NewPhysicalRAM(RAMBase, 100, RAMOptions{}); err == nil {
		t.Fatalf("expected an error for a non-page-aligned size")
	}
}
