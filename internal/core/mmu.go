package core

import (
	"sync/atomic"
	"unsafe"
)

// PTE flag bits, shared by SV32's 32-bit format and SV39/48/57's 64-bit
// format (the low 10 bits are identical in both).
const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteG = 1 << 5
	pteA = 1 << 6
	pteD = 1 << 7
)

// TranslateAttr are the flags accepted by Translate.
type TranslateAttr uint8

const (
	AttrNone     TranslateAttr = 0
	AttrNoTrap   TranslateAttr = 1 << 0 // a failed walk returns an access-fault *TrapError instead of a page fault
	AttrNoProt   TranslateAttr = 1 << 1 // ignore U/S/X restrictions (debug access)
	AttrPhysOut  TranslateAttr = 1 << 2 // caller wants the physical address, not a committed access
	AttrReturnPtr TranslateAttr = 1 << 3 // caller wants a RAM byte offset (used by atomics)
)

type sv struct {
	levels  int
	vpnBits uint
	pteSize int // 4 for sv32, 8 for sv39/48/57
}

func modeGeometry(mode MMUMode) (sv, bool) {
	switch mode {
	case MMUSv32:
		return sv{levels: 2, vpnBits: 10, pteSize: 4}, true
	case MMUSv39:
		return sv{levels: 3, vpnBits: 9, pteSize: 8}, true
	case MMUSv48:
		return sv{levels: 4, vpnBits: 9, pteSize: 8}, true
	case MMUSv57:
		return sv{levels: 5, vpnBits: 9, pteSize: 8}, true
	}
	return sv{}, false
}

// effectivePrivilege applies the MPRV rule: a non-fetch access made with
// MPRV set is checked against mstatus.MPP rather than the current privilege.
func (h *Hart) effectivePrivilege(kind accessKind) Privilege {
	priv := h.Priv
	if kind != accessExec && h.csr.Mstatus&StatusMPRV != 0 {
		priv = Privilege((h.csr.Mstatus & StatusMPPMask) >> StatusMPPShift)
	}
	return priv
}

// Translate is the MMU walker entry point. On a Bare mapping or a TLB hit
// it returns immediately; otherwise it walks the page table, updates A/D
// bits with a CAS, installs a TLB entry, and returns the RAM byte offset
// backing vaddr.
func (h *Hart) Translate(vaddr uint64, kind accessKind, attr TranslateAttr) (ramOffset uint64, err error) {
	priv := h.effectivePrivilege(kind)

	// M-mode never walks the page table: instruction fetch always runs at
	// h.Priv regardless of MPRV, and a data access only adopts MPP's
	// translation/protection when MPRV actually swaps the effective
	// privilege away from M. An M-mode trap handler's own fetches and
	// stack accesses must see physical addresses even while the guest OS
	// has SV39/48/57 paging enabled for S-mode.
	if h.satpMode == MMUBare || priv == PrivM {
		if off, ok := h.m.Bus.RAM.TranslatePhys(vaddr, 1); ok {
			return off, nil
		}
		return vaddr | mmioTranslationTag, nil
	}

	if off, ok := h.tlb.lookup(vaddr, kind); ok {
		return off, nil
	}

	geo, ok := modeGeometry(h.satpMode)
	if !ok {
		if attr&AttrNoTrap != 0 {
			return 0, Trap(faultCauseFor(kind), vaddr)
		}
		return 0, Trap(faultCauseFor(kind), vaddr)
	}

	mxr := h.csr.Mstatus&StatusMXR != 0
	sum := h.csr.Mstatus&StatusSUM != 0

	off, pfault := h.walk(vaddr, kind, geo, priv, mxr, sum, attr)
	if pfault {
		if attr&AttrNoTrap != 0 {
			return 0, Trap(faultCauseFor(kind), vaddr)
		}
		return 0, Trap(pageFaultCauseFor(kind), vaddr)
	}
	return off, nil
}

func faultCauseFor(kind accessKind) Cause {
	switch kind {
	case accessWrite:
		return CauseStoreAccessFault
	case accessExec:
		return CauseInsnAccessFault
	default:
		return CauseLoadAccessFault
	}
}

func pageFaultCauseFor(kind accessKind) Cause {
	switch kind {
	case accessWrite:
		return CauseStorePageFault
	case accessExec:
		return CauseInsnPageFault
	default:
		return CauseLoadPageFault
	}
}

// walk performs the level-by-level page table descent. It returns the RAM
// byte offset of vaddr's backing byte and whether the walk faulted.
func (h *Hart) walk(vaddr uint64, kind accessKind, geo sv, priv Privilege, mxr, sum bool, attr TranslateAttr) (uint64, bool) {
	totalVABits := geo.vpnBits*geo.levels + 12
	if !canonical(vaddr, totalVABits) {
		return 0, true
	}

	root := h.csr.Satp & ((uint64(1) << 44) - 1) << 12 // PPN field, already masked by writeSatp

	ppn := root
	for level := geo.levels - 1; level >= 0; level-- {
		vpn := (vaddr >> (12 + uint(level)*geo.vpnBits)) & ((1 << geo.vpnBits) - 1)
		pteAddr := ppn + vpn*uint64(geo.pteSize)

		pte, rawOff, isRAM, ok := h.readPTE(pteAddr, geo.pteSize)
		if !ok {
			return 0, true
		}

		if pte&pteV == 0 || (pte&pteR == 0 && pte&pteW != 0) {
			return 0, true
		}

		leaf := pte&(pteR|pteW|pteX) != 0
		if !leaf {
			ppn = pteToPPN(pte, geo.pteSize) << 12
			continue
		}

		if attr&AttrNoProt == 0 {
			if pte&pteU != 0 {
				if priv == PrivS && (!sum || kind == accessExec) {
					return 0, true
				}
			} else if priv == PrivU {
				return 0, true
			}

			switch kind {
			case accessRead:
				if pte&pteR == 0 && !(mxr && pte&pteX != 0) {
					return 0, true
				}
			case accessWrite:
				if pte&pteW == 0 {
					return 0, true
				}
			case accessExec:
				if pte&pteX == 0 {
					return 0, true
				}
			}
		}

		// Misaligned superpage check: the PPN bits corresponding to every
		// level below this leaf must be zero.
		if level > 0 {
			lowMask := (uint64(1) << (uint(level) * geo.vpnBits)) - 1
			if pteToPPN(pte, geo.pteSize)&lowMask != 0 {
				return 0, true
			}
		}

		desired := pte | pteA
		if kind == accessWrite {
			desired |= pteD
		}
		if desired != pte && isRAM {
			if !h.casPTE(rawOff, geo.pteSize, pte, desired) {
				// Lost the race: reload the PTE and redo this level's checks.
				level++
				continue
			}
			pte = desired
		}

		pageOffsetBits := uint(12 + level*int(geo.vpnBits))
		physPage := pteToPPN(pte, geo.pteSize) &^ ((uint64(1) << (uint(level) * geo.vpnBits)) - 1)
		physAddr := (physPage << 12) | (vaddr & ((uint64(1) << pageOffsetBits) - 1))

		ramOff, ok := h.m.Bus.RAM.TranslatePhys(physAddr, 1)
		if !ok {
			// MMIO-backed page: no TLB caching (TLB only ever holds
			// RAM-backed translations per Invariant 1/2), caller falls
			// through to the Bus for the actual access.
			return physAddr | mmioTranslationTag, false
		}

		pageStart := physAddr &^ 0xfff
		ramPageOff, _ := h.m.Bus.RAM.TranslatePhys(pageStart, 1)
		h.tlb.put(vaddr, ramPageOff, kind)

		return ramOff, false
	}
	return 0, true
}

// mmioTranslationTag marks a returned "ram offset" as actually being a
// physical address routed through the Bus rather than RAM, since Sv57's
// address space can overlap a ramOffset's low bits. Callers that care
// about MMIO-backed translations (the dispatch/atomics layers) strip it
// via isMMIOTranslation/untagMMIO below instead of indexing RAM directly.
const mmioTranslationTag = uint64(1) << 62

func isMMIOTranslation(v uint64) bool { return v&mmioTranslationTag != 0 }
func untagMMIO(v uint64) uint64       { return v &^ mmioTranslationTag }

func canonical(vaddr uint64, bits int) bool {
	shift := uint(64 - bits)
	return uint64(int64(vaddr<<shift)>>shift) == vaddr
}

func pteToPPN(pte uint64, pteSize int) uint64 {
	if pteSize == 4 {
		return (pte >> 10) & 0x3fffff
	}
	return (pte >> 10) & 0xfffffffffff
}

// readPTE fetches a page-table entry via the physical access path, returning
// both the decoded value and the RAM byte offset used for the subsequent
// CAS attempt. An MMIO-backed page table is read through the Bus and
// returns ramOff 0 and isRAM=false, so its A/D bits are never written back;
// ok is false only when the read itself fails.
func (h *Hart) readPTE(addr uint64, pteSize int) (pte uint64, ramOff uint64, isRAM bool, ok bool) {
	off, onRAM := h.m.Bus.RAM.TranslatePhys(addr, uint64(pteSize))
	if !onRAM {
		var buf [8]byte
		if !h.m.Bus.ReadPhys(addr, buf[:pteSize]) {
			return 0, 0, false, false
		}
		if pteSize == 4 {
			return uint64(le32(buf[:4])), 0, false, true
		}
		return le64(buf[:8]), 0, false, true
	}
	if pteSize == 4 {
		p := (*uint32)(unsafe.Pointer(&h.m.Bus.RAM.Data[off]))
		return uint64(atomic.LoadUint32(p)), off, true, true
	}
	p := (*uint64)(unsafe.Pointer(&h.m.Bus.RAM.Data[off]))
	return atomic.LoadUint64(p), off, true, true
}

// casPTE attempts the A/D bit write-back with a hardware CAS so concurrent
// updates from other harts are never lost. ramOff of 0 with a non-RAM page
// table (readPTE's !ok path) never reaches here.
func (h *Hart) casPTE(ramOff uint64, pteSize int, old, new uint64) bool {
	if pteSize == 4 {
		p := (*uint32)(unsafe.Pointer(&h.m.Bus.RAM.Data[ramOff]))
		return atomic.CompareAndSwapUint32(p, uint32(old), uint32(new))
	}
	p := (*uint64)(unsafe.Pointer(&h.m.Bus.RAM.Data[ramOff]))
	return atomic.CompareAndSwapUint64(p, old, new)
}

// FlushTLB implements SFENCE.VMA / satp-mode-change TLB invalidation.
// rs1==0 flushes everything; a nonzero vaddr selectively flushes one page
// via flushOne, regardless of asid (asid is not modeled).
func (h *Hart) FlushTLB(vaddr uint64, haveVaddr bool) {
	if !haveVaddr {
		h.tlb.flushAll()
		return
	}
	if h.tlb.flushOne(vaddr >> 12) {
		h.running = false
	}
}
