package core

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Device is the small interface every MMIO peripheral implements.
// Read/Write operate on the region-relative offset; a false return is a
// device-reported access fault, never a panic.
type Device interface {
	Read(offset uint64, dst []byte) bool
	Write(offset uint64, src []byte) bool
	Update()
	Reset()
}

// MmioRegion is one entry in the registry. Mapping, when non-nil, lets the
// Bus serve reads with a direct memcpy instead of invoking Device.Read;
// writes are copied into Mapping and then still passed to Device.Write.
type MmioRegion struct {
	Addr       uint64
	Size       uint64
	MinOpSize  uint64
	MaxOpSize  uint64
	Device     Device
	Mapping    []byte
	RemoveFunc func()

	name string
}

func (r *MmioRegion) contains(addr, size uint64) bool {
	if addr < r.Addr {
		return false
	}
	off := addr - r.Addr
	end := off + size
	return end >= off && end <= r.Size
}

// Bus is the ordered MMIO registry plus RAM fast path: the single dispatch
// fabric a hart's MMU walker and atomics engine route physical accesses
// through, with region splitting/merging and overlap rejection.
type Bus struct {
	RAM     *PhysicalRAM
	regions []*MmioRegion

	running bool // true once any hart has started; attach/detach require false

	updateLimiter *rate.Limiter
}

// NewBus creates an empty registry bound to ram.
func NewBus(ram *PhysicalRAM) *Bus {
	return &Bus{
		RAM: ram,
		// Device Update() polling is bounded independently of hart count.
		updateLimiter: rate.NewLimiter(rate.Limit(1000), 1),
	}
}

// Attach registers a region, keeping regions in attach order. It returns
// ErrMachineRunning from the start of Machine.Start until Start returns;
// a machine parked by Pause still counts as running.
func (b *Bus) Attach(r *MmioRegion) error {
	if b.running {
		return ErrMachineRunning
	}
	if b.RAM != nil && b.RAM.Contains(r.Addr, r.Size) {
		return fmt.Errorf("%w: %#x overlaps ram", ErrOverlappingRegion, r.Addr)
	}
	for _, existing := range b.regions {
		if rangesOverlap(r.Addr, r.Size, existing.Addr, existing.Size) {
			return fmt.Errorf("%w: %#x overlaps region at %#x", ErrOverlappingRegion, r.Addr, existing.Addr)
		}
	}
	b.regions = append(b.regions, r)
	return nil
}

// Detach removes a region by address, running RemoveFunc first (LIFO is
// naturally satisfied by removing regions one at a time in reverse attach
// order from the caller).
func (b *Bus) Detach(addr uint64) error {
	if b.running {
		return ErrMachineRunning
	}
	for i, r := range b.regions {
		if r.Addr == addr {
			if r.RemoveFunc != nil {
				r.RemoveFunc()
			}
			b.regions = append(b.regions[:i], b.regions[i+1:]...)
			return nil
		}
	}
	return ErrNoRegion
}

func rangesOverlap(a0, aSize, b0, bSize uint64) bool {
	a1 := a0 + aSize
	b1 := b0 + bSize
	return a0 < b1 && b0 < a1
}

func (b *Bus) findRegion(addr, size uint64) *MmioRegion {
	for _, r := range b.regions {
		if r.contains(addr, size) {
			return r
		}
	}
	return nil
}

// ReadPhys performs the full access contract for a read of len(buf)
// bytes at physical address addr.
func (b *Bus) ReadPhys(addr uint64, buf []byte) bool {
	if b.RAM != nil && b.RAM.Contains(addr, uint64(len(buf))) {
		return b.RAM.ReadAt(addr, buf)
	}
	r := b.findRegion(addr, uint64(len(buf)))
	if r == nil {
		if addr >= canonicalLimit {
			for i := range buf {
				buf[i] = 0
			}
			return true
		}
		return false
	}
	return b.accessRegion(r, addr, buf, false)
}

// WritePhys performs the full access contract for a write of buf to
// physical address addr.
func (b *Bus) WritePhys(addr uint64, buf []byte) bool {
	if b.RAM != nil && b.RAM.Contains(addr, uint64(len(buf))) {
		return b.RAM.WriteAt(addr, buf)
	}
	r := b.findRegion(addr, uint64(len(buf)))
	if r == nil {
		if addr >= canonicalLimit {
			return true // silently dropped
		}
		return false
	}
	return b.accessRegion(r, addr, buf, true)
}

const bounceBufferSize = 16

func (b *Bus) accessRegion(r *MmioRegion, addr uint64, buf []byte, write bool) bool {
	size := uint64(len(buf))
	offset := addr - r.Addr

	if r.Mapping != nil {
		end := offset + size
		if end <= uint64(len(r.Mapping)) {
			if write {
				copy(r.Mapping[offset:end], buf)
				if r.Device != nil {
					r.Device.Write(offset, buf)
				}
			} else {
				copy(buf, r.Mapping[offset:end])
			}
			return true
		}
	}

	min, max := r.MinOpSize, r.MaxOpSize
	if min == 0 {
		min = 1
	}
	if max == 0 {
		max = 8
	}

	if size >= min && size <= max && offset%size == 0 {
		return b.invokeCallback(r, offset, buf, write)
	}

	// Splitting/merging fixup: iterate aligned chunks of clamp(size,min,max)
	// through a bounce buffer.
	align := size
	if align < min {
		align = min
	}
	if align > max {
		align = max
	}
	if align > bounceBufferSize {
		return false
	}

	remaining := buf
	cur := addr
	for len(remaining) > 0 {
		chunkStart := cur - (cur % align)
		chunkOff := cur - chunkStart
		n := align - chunkOff
		if uint64(len(remaining)) < n {
			n = uint64(len(remaining))
		}

		var bounce [bounceBufferSize]byte
		chunkBuf := bounce[:align]
		regionOff := chunkStart - r.Addr

		if write {
			partial := chunkOff != 0 || n != align
			if partial {
				if !b.invokeCallback(r, regionOff, chunkBuf, false) {
					return false
				}
			}
			copy(chunkBuf[chunkOff:chunkOff+n], remaining[:n])
			if !b.invokeCallback(r, regionOff, chunkBuf, true) {
				return false
			}
		} else {
			if !b.invokeCallback(r, regionOff, chunkBuf, false) {
				return false
			}
			copy(remaining[:n], chunkBuf[chunkOff:chunkOff+n])
		}

		remaining = remaining[n:]
		cur += n
	}
	return true
}

func (b *Bus) invokeCallback(r *MmioRegion, offset uint64, buf []byte, write bool) bool {
	if r.Device == nil {
		return false
	}
	if write {
		return r.Device.Write(offset, buf)
	}
	return r.Device.Read(offset, buf)
}

// ResetAll invokes Reset on every region in LIFO (reverse attach) order.
func (b *Bus) ResetAll() {
	for i := len(b.regions) - 1; i >= 0; i-- {
		if d := b.regions[i].Device; d != nil {
			d.Reset()
		}
	}
}

// RunEventLoop ticks every region's Update callback at a rate-limited
// cadence until stop is closed.
func (b *Bus) RunEventLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !b.updateLimiter.Allow() {
				continue
			}
			for _, r := range b.regions {
				if r.Device != nil {
					r.Device.Update()
				}
			}
		}
	}
}

// helpers used by the dispatch/atomics paths for fixed-width access.

func (b *Bus) Read8(addr uint64) (uint8, bool) {
	var buf [1]byte
	if !b.ReadPhys(addr, buf[:]) {
		return 0, false
	}
	return buf[0], true
}

func (b *Bus) Read16(addr uint64) (uint16, bool) {
	var buf [2]byte
	if !b.ReadPhys(addr, buf[:]) {
		return 0, false
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, true
}

func (b *Bus) Read32(addr uint64) (uint32, bool) {
	var buf [4]byte
	if !b.ReadPhys(addr, buf[:]) {
		return 0, false
	}
	return le32(buf[:]), true
}

func (b *Bus) Read64(addr uint64) (uint64, bool) {
	var buf [8]byte
	if !b.ReadPhys(addr, buf[:]) {
		return 0, false
	}
	return le64(buf[:]), true
}

func (b *Bus) Write8(addr uint64, v uint8) bool {
	return b.WritePhys(addr, []byte{v})
}

func (b *Bus) Write16(addr uint64, v uint16) bool {
	buf := []byte{byte(v), byte(v >> 8)}
	return b.WritePhys(addr, buf)
}

func (b *Bus) Write32(addr uint64, v uint32) bool {
	var buf [4]byte
	putLE32(buf[:], v)
	return b.WritePhys(addr, buf[:])
}

func (b *Bus) Write64(addr uint64, v uint64) bool {
	var buf [8]byte
	putLE64(buf[:], v)
	return b.WritePhys(addr, buf[:])
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLE64(b []byte, v uint64) {
	putLE32(b[0:4], uint32(v))
	putLE32(b[4:8], uint32(v>>32))
}
