// Package slub layers 15 fixed-size object pools on top of a
// back-allocator satisfying the buddy contract (Alloc/Dealloc/Grained/
// CompoundHead). Each pool carves buddy-backed frames into equally
// sized blocks and threads a free list through the blocks themselves,
// exactly as the kernel original does — frame headers and free-block
// links are cast in place over real arena memory via unsafe.Pointer,
// the same technique balloc uses for its Avail headers.
package slub

import (
	"errors"
	"unsafe"
)

// ClassSizes are the 15 object size classes this layer serves, in
// ascending order. MaxSize is the largest size routed to a pool; larger
// requests fall through to the back-allocator.
var ClassSizes = [15]uint64{8, 16, 24, 32, 48, 64, 92, 128, 192, 256, 384, 512, 768, 1024, 2048}

// MaxSize is ClassSizes's largest entry.
const MaxSize = 2048

var (
	// ErrOutOfMemory is returned when neither a pool frame nor the
	// back-allocator can satisfy a request.
	ErrOutOfMemory = errors.New("slub: no block large enough is available")
	// ErrUnknownAddress is returned when Dealloc/CompoundHead can't
	// trace addr back to a frame this layer owns.
	ErrUnknownAddress = errors.New("slub: address was not allocated by this layer")
)

// BackAllocator is the buddy-shaped contract a slub layer is built on.
type BackAllocator interface {
	Alloc(size, align uint64) (uintptr, error)
	Dealloc(addr uintptr) error
	Grained(minsz uint64) uint64
	CompoundHead(addr uintptr) (uintptr, error)
}

// Allocator routes requests to one of 15 fixed-size pools, or to the
// back-allocator directly for anything larger than MaxSize.
type Allocator struct {
	back  BackAllocator
	pools [len(ClassSizes)]*pool
}

// New constructs the 15 pools against back. back must outlive the
// returned Allocator.
func New(back BackAllocator) *Allocator {
	a := &Allocator{back: back}
	for i, class := range ClassSizes {
		a.pools[i] = newPool(back, class)
	}
	return a
}

func classIndex(size uint64) int {
	for i, class := range ClassSizes {
		if class >= size {
			return i
		}
	}
	return -1
}

// Alloc routes size>MaxSize straight to the back-allocator; otherwise
// it picks the smallest class >= size and allocates from that pool.
func (a *Allocator) Alloc(size, align uint64) (uintptr, error) {
	if size > MaxSize {
		return a.back.Alloc(size, align)
	}
	idx := classIndex(size)
	addr, ok := a.pools[idx].alloc(align)
	if !ok {
		return 0, ErrOutOfMemory
	}
	return addr, nil
}

// Dealloc computes the frame head of addr; if the head equals addr, the
// address was served directly by the back-allocator, so it's freed
// there. Otherwise the frame header names its owning pool.
func (a *Allocator) Dealloc(addr uintptr) error {
	head, err := a.back.CompoundHead(addr)
	if err != nil {
		return ErrUnknownAddress
	}
	if head == addr {
		return a.back.Dealloc(addr)
	}
	fr := (*frame)(unsafe.Pointer(head))
	fr.pool.dealloc(addr, fr)
	return nil
}

// Grained returns the class size a request would consume, or the
// back-allocator's grained size for anything above MaxSize.
func (a *Allocator) Grained(minsz uint64) uint64 {
	if minsz > MaxSize {
		return a.back.Grained(minsz)
	}
	return ClassSizes[classIndex(minsz)]
}

// CompoundHead returns the base address of the live allocation
// containing addr.
func (a *Allocator) CompoundHead(addr uintptr) (uintptr, error) {
	head, err := a.back.CompoundHead(addr)
	if err != nil {
		return 0, ErrUnknownAddress
	}
	if head == addr {
		return head, nil
	}
	fr := (*frame)(unsafe.Pointer(head))
	return fr.pool.blockBase(head, addr), nil
}

// FrameCount returns the number of buddy-backed frames currently held
// across all size-class pools.
func (a *Allocator) FrameCount() uint64 {
	var total uint64
	for _, p := range a.pools {
		total += p.frameCount
	}
	return total
}

// frame is the header colocated at the start of every buddy-backed page
// a pool owns. It is cast directly over arena memory, so every field is
// a plain fixed-size value (pointers, an address, a counter); blkOffset
// is computed from its size so the first block starts past it.
type frame struct {
	pool     *pool
	next     *frame
	prev     *frame
	freeHead uintptr // address of the first free block, 0 if none
	inUse    uint32
}

// blkLink is overlaid on a free block's own bytes to thread the frame's
// free list through unused payload memory.
type blkLink struct {
	next uintptr
}

// pool owns the frames for one size class: at most one current frame,
// a list of partial frames (some free, some in use, not current), and a
// list of full frames.
type pool struct {
	back        BackAllocator
	class       uint64
	frameSize   uint64
	blkSize     uint64
	blkOffset   uint64
	current     *frame
	fullList    *frame
	partialList *frame
	frameCount  uint64
}

func newPool(back BackAllocator, class uint64) *pool {
	frameSize := back.Grained(class * 16)
	blkSize := class
	if blkSize < uint64(unsafe.Sizeof(blkLink{})) {
		blkSize = uint64(unsafe.Sizeof(blkLink{}))
	}
	// blkSize need not be a power of two (24, 48, 92, ...), so round the
	// header size up to a multiple of it arithmetically.
	hdrSize := uint64(unsafe.Sizeof(frame{}))
	blkOffset := (hdrSize + blkSize - 1) / blkSize * blkSize
	return &pool{
		back:      back,
		class:     class,
		frameSize: frameSize,
		blkSize:   blkSize,
		blkOffset: blkOffset,
	}
}

// alloc pops a block from the current frame, promoting a partial or
// fresh frame to current when it's exhausted.
func (p *pool) alloc(align uint64) (uintptr, bool) {
	for {
		if p.current != nil {
			if addr, ok := p.current.alloc(align); ok {
				return addr, true
			}
			if p.current.isFull() {
				full := p.current
				p.current = nil
				p.insertFull(full)
				continue
			}
			// Current has free blocks but none satisfy align: that is
			// a plain allocation failure for this call, not a reason
			// to escalate to a different frame.
			return 0, false
		}

		if p.partialList != nil {
			next := p.partialList
			p.dropFromPartial(next)
			p.current = next
			continue
		}

		fr, ok := p.allocFrame()
		if !ok {
			return 0, false
		}
		p.current = fr
	}
}

// dealloc pushes the block back onto its frame's free list and moves
// the frame between lists as its occupancy changes.
func (p *pool) dealloc(addr uintptr, fr *frame) {
	wasFull := fr.isFull()
	fr.dealloc(addr)

	// A frame that just became full stays `current` until the next
	// alloc() call notices and moves it to fullList; it is never
	// spliced into fullList itself, so only move it here if it's some
	// other, already-listed frame.
	if wasFull && fr != p.current {
		p.dropFromFull(fr)
		p.insertPartial(fr)
		return
	}
	// An empty frame goes back to the back-allocator whether it is
	// current or on the partial list.
	if fr.isEmpty() {
		if fr == p.current {
			p.current = nil
		} else {
			p.dropFromPartial(fr)
		}
		_ = p.back.Dealloc(uintptr(unsafe.Pointer(fr)))
		p.frameCount--
	}
}

// blockBase returns the base address of the block at addr within the
// frame starting at frameStart.
func (p *pool) blockBase(frameStart, addr uintptr) uintptr {
	off := uint64(addr) - uint64(frameStart) - p.blkOffset
	return frameStart + uintptr(p.blkOffset) + uintptr((off/p.blkSize)*p.blkSize)
}

func (p *pool) allocFrame() (*frame, bool) {
	addr, err := p.back.Alloc(p.frameSize, p.frameSize)
	if err != nil {
		return nil, false
	}
	fr := (*frame)(unsafe.Pointer(addr))
	fr.init(p, addr, p.frameSize, p.blkSize, p.blkOffset)
	p.frameCount++
	return fr, true
}

func (p *pool) insertFull(fr *frame) {
	fr.next = p.fullList
	fr.prev = nil
	if p.fullList != nil {
		p.fullList.prev = fr
	}
	p.fullList = fr
}

func (p *pool) insertPartial(fr *frame) {
	fr.next = p.partialList
	fr.prev = nil
	if p.partialList != nil {
		p.partialList.prev = fr
	}
	p.partialList = fr
}

func (p *pool) dropFromFull(fr *frame)    { p.unlink(&p.fullList, fr) }
func (p *pool) dropFromPartial(fr *frame) { p.unlink(&p.partialList, fr) }

func (p *pool) unlink(head **frame, fr *frame) {
	if fr.prev != nil {
		fr.prev.next = fr.next
	} else {
		*head = fr.next
	}
	if fr.next != nil {
		fr.next.prev = fr.prev
	}
	fr.next, fr.prev = nil, nil
}

// init threads a singly linked free list through every block in a
// freshly allocated frame.
func (f *frame) init(owner *pool, start uintptr, frameSize, blkSize, blkOffset uint64) {
	f.pool = owner
	f.next, f.prev = nil, nil
	f.inUse = 0

	blkStart := start + uintptr(blkOffset)
	f.freeHead = uintptr(blkStart)

	p := blkStart
	np := blkStart + uintptr(blkSize)
	for uint64(np-start)+blkSize <= frameSize {
		(*blkLink)(unsafe.Pointer(p)).next = uintptr(np)
		p = np
		np += uintptr(blkSize)
	}
	(*blkLink)(unsafe.Pointer(p)).next = 0
}

// alloc scans the free list for a block whose address satisfies the
// alignment constraint, splicing it out in place. It returns false
// without side effects if no aligned block exists — the caller may not
// escalate to a different frame for this call.
func (f *frame) alloc(align uint64) (uintptr, bool) {
	if f.freeHead == 0 {
		return 0, false
	}
	if uint64(f.freeHead)%align == 0 {
		blk := f.freeHead
		f.freeHead = (*blkLink)(unsafe.Pointer(blk)).next
		f.inUse++
		return blk, true
	}

	prev := f.freeHead
	for {
		next := (*blkLink)(unsafe.Pointer(prev)).next
		if next == 0 {
			return 0, false
		}
		if uint64(next)%align == 0 {
			(*blkLink)(unsafe.Pointer(prev)).next = (*blkLink)(unsafe.Pointer(next)).next
			f.inUse++
			return next, true
		}
		prev = next
	}
}

func (f *frame) dealloc(addr uintptr) {
	(*blkLink)(unsafe.Pointer(addr)).next = f.freeHead
	f.freeHead = addr
	f.inUse--
}

func (f *frame) isFull() bool  { return f.freeHead == 0 }
func (f *frame) isEmpty() bool { return f.inUse == 0 }
