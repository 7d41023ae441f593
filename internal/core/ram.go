package core

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pageSize is the guest-visible page granularity; base and size of the RAM
// region must be multiples of it.
const pageSize = 4096

// PhysicalRAM is a contiguous host-backed buffer mapped into the guest
// physical address range [Base, Base+len(Data)). The buffer is backed by an
// anonymous mmap instead of a plain Go slice, so huge pages and
// same-page-merging can be requested as allocator hints.
type PhysicalRAM struct {
	Base uint64
	Data []byte

	hugePages bool
}

// RAMOptions controls how the backing allocation is made.
type RAMOptions struct {
	// HugePages requests MAP_HUGETLB; if the mapping fails the allocator
	// silently falls back to a regular anonymous mapping. Huge pages are an
	// allocator hint, never a correctness requirement.
	HugePages bool
	// MergeableMemory advises the kernel the pages are candidates for
	// same-page merging (MADV_MERGEABLE on Linux); best-effort.
	MergeableMemory bool
}

// NewPhysicalRAM allocates a zero-filled RAM region of size bytes mapped at
// guest physical address base. base and size must be page-aligned.
func NewPhysicalRAM(base, size uint64, opts RAMOptions) (*PhysicalRAM, error) {
	if base%pageSize != 0 || size%pageSize != 0 || size == 0 {
		return nil, fmt.Errorf("%w: base=0x%x size=0x%x must be page-aligned and nonzero", ErrRAMAllocation, base, size)
	}

	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_NORESERVE
	hugeAttempted := false
	if opts.HugePages {
		hugeAttempted = true
		flags |= unix.MAP_HUGETLB
	}

	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil && hugeAttempted {
		// Huge pages are best-effort: retry without the hint.
		data, err = unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
		hugeAttempted = false
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRAMAllocation, err)
	}

	if opts.MergeableMemory {
		_ = unix.Madvise(data, unix.MADV_MERGEABLE)
	}

	return &PhysicalRAM{Base: base, Data: data, hugePages: hugeAttempted}, nil
}

// Close releases the backing mapping. The machine must not be running.
func (r *PhysicalRAM) Close() error {
	if r.Data == nil {
		return nil
	}
	err := unix.Munmap(r.Data)
	r.Data = nil
	return err
}

// Size returns the region length in bytes.
func (r *PhysicalRAM) Size() uint64 { return uint64(len(r.Data)) }

// Contains reports whether [addr, addr+size) lies entirely within the RAM
// region.
func (r *PhysicalRAM) Contains(addr, size uint64) bool {
	if addr < r.Base {
		return false
	}
	off := addr - r.Base
	end := off + size
	return end >= off && end <= uint64(len(r.Data))
}

// TranslatePhys returns a direct host pointer (as an index into Data) for
// the given physical range, or false if the range is not fully contained.
// The returned offset is stable for the machine's lifetime.
func (r *PhysicalRAM) TranslatePhys(addr, size uint64) (offset uint64, ok bool) {
	if !r.Contains(addr, size) {
		return 0, false
	}
	return addr - r.Base, true
}

// ReadAt performs a memcpy-style read of len(buf) bytes starting at
// physical address addr. Every read is a plain byte copy; word-aligned
// reads are not word-atomic.
func (r *PhysicalRAM) ReadAt(addr uint64, buf []byte) bool {
	off, ok := r.TranslatePhys(addr, uint64(len(buf)))
	if !ok {
		return false
	}
	copy(buf, r.Data[off:off+uint64(len(buf))])
	return true
}

// WriteAt performs a relaxed memcpy-style write of buf starting at physical
// address addr.
func (r *PhysicalRAM) WriteAt(addr uint64, buf []byte) bool {
	off, ok := r.TranslatePhys(addr, uint64(len(buf)))
	if !ok {
		return false
	}
	copy(r.Data[off:off+uint64(len(buf))], buf)
	return true
}
