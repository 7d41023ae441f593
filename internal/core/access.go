package core

import (
	"sync/atomic"
	"unsafe"
)

// loadMem and storeMem are the single choke point every load, store, AMO
// and FP memory access in the dispatcher routes through: translate via the
// TLB/MMU, then either do a relaxed-atomic RAM access or fall through to
// the Bus for an MMIO-backed physical address.
func (h *Hart) loadMem(vaddr, size uint64) (uint64, error) {
	off, err := h.Translate(vaddr, accessRead, AttrNone)
	if err != nil {
		return 0, err
	}
	if isMMIOTranslation(off) {
		phys := untagMMIO(off)
		var buf [8]byte
		if !h.m.Bus.ReadPhys(phys, buf[:size]) {
			return 0, Trap(faultCauseFor(accessRead), vaddr)
		}
		return le64(buf[:8]) & sizeMask(size), nil
	}
	return loadRAMAtomic(h.m.Bus.RAM.Data, off, size), nil
}

func (h *Hart) storeMem(vaddr, size, value uint64) error {
	h.lrsc.valid = false // any plain store clears the reservation

	off, err := h.Translate(vaddr, accessWrite, AttrNone)
	if err != nil {
		return err
	}
	if isMMIOTranslation(off) {
		phys := untagMMIO(off)
		var buf [8]byte
		putLE64(buf[:], value)
		if !h.m.Bus.WritePhys(phys, buf[:size]) {
			return Trap(faultCauseFor(accessWrite), vaddr)
		}
		return nil
	}
	storeRAMAtomic(h.m.Bus.RAM.Data, off, size, value)
	return nil
}

func sizeMask(size uint64) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (size * 8)) - 1
}

func ptrAt(data []byte, off uint64) unsafe.Pointer {
	return unsafe.Pointer(&data[off])
}

func loadRAMAtomic(data []byte, off, size uint64) uint64 {
	switch size {
	case 1:
		return uint64(data[off])
	case 2:
		p := (*uint16)(ptrAt(data, off))
		return uint64(atomic.LoadUint16(p))
	case 4:
		p := (*uint32)(ptrAt(data, off))
		return uint64(atomic.LoadUint32(p))
	case 8:
		p := (*uint64)(ptrAt(data, off))
		return atomic.LoadUint64(p)
	}
	return 0
}

func storeRAMAtomic(data []byte, off, size, value uint64) {
	switch size {
	case 1:
		data[off] = byte(value)
	case 2:
		p := (*uint16)(ptrAt(data, off))
		atomic.StoreUint16(p, uint16(value))
	case 4:
		p := (*uint32)(ptrAt(data, off))
		atomic.StoreUint32(p, uint32(value))
	case 8:
		p := (*uint64)(ptrAt(data, off))
		atomic.StoreUint64(p, value)
	}
}
