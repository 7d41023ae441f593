package core

// tlbSlots is the direct-mapped software TLB size, a power of two.
const tlbSlots = 256
const tlbMask = tlbSlots - 1

// tlbEntry caches a virtual page's host-backing pointer under three
// independent tags, one per access class, so a single slot can answer
// read, write and execute translations for the same page without them
// clobbering each other's validity.
type tlbEntry struct {
	vpnR, vpnW, vpnX uint64
	ptrBase          uint64 // hostOffset - vaddrOfPage; add vaddr to get the RAM byte offset
}

// accessKind selects which TLB tag and MMU permission class an operation
// belongs to.
type accessKind int

const (
	accessRead accessKind = iota
	accessWrite
	accessExec
)

// softTLB is a hart-private direct-mapped translation cache.
type softTLB struct {
	slots [tlbSlots]tlbEntry
}

// newSoftTLB builds a TLB whose slot 0 holds unmatchable tags, so a lookup
// for virtual page 0 (mapped to slot 0) always misses at reset.
func newSoftTLB() *softTLB {
	t := &softTLB{}
	t.flushAll()
	return t
}

// flushAll invalidates every slot.
func (t *softTLB) flushAll() {
	for i := range t.slots {
		t.slots[i] = tlbEntry{}
	}
	allOnes := ^uint64(0)
	t.slots[0] = tlbEntry{vpnR: allOnes, vpnW: allOnes, vpnX: allOnes}
}

// flushOne invalidates the single slot that would hold vpn, for every tag
// that currently matches it. It reports whether the execute tag was the one
// invalidated, since callers must then restart the dispatch loop (a stale
// fetch translation must not be reused).
func (t *softTLB) flushOne(vpn uint64) (execInvalidated bool) {
	e := &t.slots[vpn&tlbMask]
	if e.vpnR == vpn {
		e.vpnR = vpn - 1
	}
	if e.vpnW == vpn {
		e.vpnW = vpn - 1
	}
	if e.vpnX == vpn {
		e.vpnX = vpn - 1
		execInvalidated = true
	}
	return execInvalidated
}

// lookup returns the RAM byte offset for vaddr under the given access
// class, or false on a miss.
func (t *softTLB) lookup(vaddr uint64, kind accessKind) (ramOffset uint64, ok bool) {
	vpn := vaddr >> 12
	e := &t.slots[vpn&tlbMask]
	var tag uint64
	switch kind {
	case accessRead:
		tag = e.vpnR
	case accessWrite:
		tag = e.vpnW
	case accessExec:
		tag = e.vpnX
	}
	if tag != vpn {
		return 0, false
	}
	return e.ptrBase + vaddr, true
}

// put installs a translation using the class-specific tag policy: a write
// also validates the read tag (W implies R) and invalidates the execute tag
// (W and X are mutually exclusive), and vice versa for an execute install.
func (t *softTLB) put(vaddr, ramPageOffset uint64, kind accessKind) {
	vpn := vaddr >> 12
	e := &t.slots[vpn&tlbMask]
	ptrBase := ramPageOffset - (vaddr &^ 0xfff)

	switch kind {
	case accessRead:
		e.vpnR = vpn
		if e.vpnW != vpn {
			e.vpnW = vpn - 1
		}
		if e.vpnX != vpn {
			e.vpnX = vpn - 1
		}
		e.ptrBase = ptrBase

	case accessWrite:
		e.vpnR = vpn
		e.vpnW = vpn
		e.vpnX = vpn - 1
		e.ptrBase = ptrBase

	case accessExec:
		e.vpnX = vpn
		if e.vpnR != vpn {
			e.vpnR = vpn - 1
		}
		e.vpnW = vpn - 1
		e.ptrBase = ptrBase
	}
}
