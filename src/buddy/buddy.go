// Package buddy implements the page-granularity buddy allocator: an
// implicit binary tree over a contiguous arena, split and merged in
// power-of-two-sized blocks.
//
// The tree is not a separate data structure — its node bytes are
// colocated with the arena itself, at the arena's base address, exactly
// as the original kernel core lays its metadata array at the front of
// the managed region.
package buddy

import (
	"errors"
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/rvkernel/kalloc/internal/pow2"
	"github.com/rvkernel/kalloc/src/arena"
)

const (
	// LogGranularity is log2 of the smallest block the tree tracks.
	LogGranularity = 12
	// Granularity is the smallest block size in bytes (4 KiB).
	Granularity = 1 << LogGranularity
)

var (
	// ErrOutOfMemory is returned when no block satisfies a request.
	ErrOutOfMemory = errors.New("buddy: no block large enough is available")
	// ErrUnknownAddress is returned when Dealloc or CompoundHead is
	// asked about an address this tree never handed out.
	ErrUnknownAddress = errors.New("buddy: address was not allocated by this tree")
)

// Allocator is an implicit-tree buddy allocator over one arena. It is
// not safe for concurrent use; callers serialize access themselves (see
// src/kalloc, which wraps Hybrid — and therefore this — in a spinlock).
type Allocator struct {
	nodes []byte // reinterpreted view of arena.Bytes()[0:2*leafNum)

	leafNum     uint64
	treeBase    uintptr
	roundedSize uint64

	region     *arena.Arena
	arenaStart uintptr
	arenaSize  uint64

	used uint64
}

// New returns an uninitialized Allocator; call Init before any other
// method.
func New() *Allocator {
	return &Allocator{}
}

// Init configures the tree over the given arena. Must be called exactly
// once. Panics if the arena is too small to hold the metadata array
// plus at least one usable block — there is no meaningful partial state
// to fall back to.
func (b *Allocator) Init(a *arena.Arena) {
	start, size := a.Base, a.Size

	roundedSize := pow2.Next(size) << 1
	leafNum := roundedSize >> LogGranularity
	metadataFootprint := leafNum << 1

	minUsable := metadataFootprint
	if minUsable < Granularity {
		minUsable = Granularity
	}
	if size <= minUsable+Granularity {
		panic(fmt.Sprintf("buddy: region of %d bytes is too small to manage (need > %d)", size, minUsable+Granularity))
	}

	mask := roundedSize - 1
	treeBase := uint64(start) &^ mask

	nodeCount := leafNum << 1
	nodes := unsafe.Slice((*byte)(unsafe.Pointer(start)), nodeCount)

	b.nodes = nodes
	b.leafNum = leafNum
	b.treeBase = uintptr(treeBase)
	b.roundedSize = roundedSize
	b.region = a
	b.arenaStart = start
	b.arenaSize = size
	b.used = 0

	b.initLeaves(treeBase, metadataFootprint)
	b.initInternal()
}

// initLeaves marks every leaf unusable (0) if its address falls inside
// the metadata footprint (or below the real arena start, which the
// footprint check subsumes) or past the end of the real
// [start, start+size) window; every other leaf starts as one free
// block at level 0.
func (b *Allocator) initLeaves(treeBase, metadataFootprint uint64) {
	start, size := uint64(b.arenaStart), b.arenaSize
	for i := uint64(0); i < b.leafNum; i++ {
		addr := treeBase | (i << LogGranularity)
		leaf := b.leafNum + i
		if addr <= start+metadataFootprint || addr > start+size-Granularity {
			b.nodes[leaf] = 0
		} else {
			b.nodes[leaf] = 1
		}
	}
}

// initInternal recomputes every internal node bottom-up.
func (b *Allocator) initInternal() {
	for id := int64(b.leafNum - 1); id >= 1; id-- {
		b.recompute(uint64(id))
	}
}

// recompute sets nodes[id] from its two children: one more than this
// node's level when both children report that level (both halves are
// entirely free, so together they form one whole free block one level
// up), otherwise the larger of the two, since that is the biggest
// block obtainable by descending into this subtree.
func (b *Allocator) recompute(id uint64) {
	cl, cr := b.nodes[2*id], b.nodes[2*id+1]
	lvl := b.level(id)
	if cl == lvl && cr == lvl {
		b.nodes[id] = lvl + 1
	} else if cl > cr {
		b.nodes[id] = cl
	} else {
		b.nodes[id] = cr
	}
}

// level returns ℓ(id): leaves are level 0, the root is level log2(L).
func (b *Allocator) level(id uint64) uint8 {
	return uint8(bits.LeadingZeros64(id) - bits.LeadingZeros64(b.leafNum))
}

func childL(id uint64) uint64 { return id << 1 }
func childR(id uint64) uint64 { return id<<1 | 1 }

// nodeAddr returns the base address of the block node id represents,
// found by descending to its leftmost leaf.
func (b *Allocator) nodeAddr(id uint64) uintptr {
	l := id
	for l < b.leafNum {
		l = childL(l)
	}
	offset := (l - b.leafNum) << LogGranularity
	return b.treeBase + uintptr(offset)
}

// Alloc returns a granularity-aligned block of at least size bytes
// whose address is a multiple of next-power-of-two(align).
//
// Search prefers the right subtree before the left at every level; this
// order is arbitrary but must stay fixed so allocation outcomes stay
// reproducible across runs.
func (b *Allocator) Alloc(size, align uint64) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	blkN := (size + Granularity - 1) >> LogGranularity
	alignPow2 := pow2.Next(align)
	if alignPow2 == 0 {
		alignPow2 = 1
	}

	id, ok := b.findAlloc(blkN, alignPow2, 1)
	if !ok {
		return 0, ErrOutOfMemory
	}

	b.nodes[id] = 0
	b.update(id)
	b.used += b.blockBytes(id)
	return b.nodeAddr(id), nil
}

func (b *Allocator) findAlloc(blkN, alignPow2, id uint64) (uint64, bool) {
	v := b.nodes[id]
	if v == 0 || (uint64(1)<<(v-1)) < blkN {
		return 0, false
	}

	if id >= b.leafNum {
		if uint64(b.nodeAddr(id))&(alignPow2-1) == 0 {
			return id, true
		}
		return 0, false
	}

	if rid, ok := b.findAlloc(blkN, alignPow2, childR(id)); ok {
		return rid, true
	}
	if lid, ok := b.findAlloc(blkN, alignPow2, childL(id)); ok {
		return lid, true
	}

	if v == b.level(id)+1 && uint64(b.nodeAddr(id))&(alignPow2-1) == 0 {
		return id, true
	}
	return 0, false
}

// update recomputes every ancestor of id, walking up to and including
// the root. This is what coalesces a freed node with its buddy once
// both report the same level.
func (b *Allocator) update(id uint64) {
	for t := id; t > 1; {
		p := t >> 1
		b.recompute(p)
		t = p
	}
}

// Dealloc releases a block previously returned by Alloc. addr must be
// granularity-aligned; a misaligned address is a programmer error and
// panics rather than silently corrupting tree state.
func (b *Allocator) Dealloc(addr uintptr) error {
	if uint64(addr)&(Granularity-1) != 0 {
		panic("buddy: dealloc address is not granularity-aligned")
	}
	id, ok := b.allocatedNodeID(addr)
	if !ok {
		return ErrUnknownAddress
	}
	freedBytes := b.blockBytes(id)
	b.nodes[id] = b.level(id) + 1
	b.update(id)
	b.used -= freedBytes
	return nil
}

// blockBytes reads the size of the block node id stands for purely
// from its level — used only to keep the used-byte counter in
// UsedBytes() accurate on both Alloc and Dealloc.
func (b *Allocator) blockBytes(id uint64) uint64 {
	return uint64(1) << (b.level(id) + LogGranularity)
}

// allocatedNodeID finds the node that owns addr by ascending from the
// leaf the address falls in while each node visited is nonzero. Alloc
// clears exactly the node it allocates and recomputes every ancestor
// above it, so the first zero-valued node on this walk is always the
// one Alloc cleared — every node strictly below it never had its value
// touched by that allocation and so is still whatever nonzero level it
// reported before.
//
// An address entirely outside the managed region is rejected up front:
// the offset mask below folds any uintptr into the tree's address
// space, so without this check a wild pointer could alias a live leaf
// instead of being reported as unknown.
func (b *Allocator) allocatedNodeID(addr uintptr) (uint64, bool) {
	if !b.region.Contains(addr) {
		return 0, false
	}
	offsetMask := b.roundedSize - 1
	offset := uint64(addr) & offsetMask
	// Leaves at or below the metadata footprint were never usable (this
	// also covers arena addresses past the tree's end, which the mask
	// folds onto leaves below the arena start), so nothing there was
	// handed out.
	leafAddr := uint64(b.treeBase) + offset&^(Granularity-1)
	if leafAddr <= uint64(b.arenaStart)+2*b.leafNum {
		return 0, false
	}
	id := b.leafNum + (offset >> LogGranularity)
	for id != 0 && b.nodes[id] != 0 {
		id >>= 1
	}
	if id == 0 {
		return 0, false
	}
	return id, true
}

// Grained returns the smallest power of two >= minsz. For minsz of at
// least Granularity this is the size of the block Alloc hands out;
// smaller requests still occupy one whole Granularity-sized block.
func (b *Allocator) Grained(minsz uint64) uint64 {
	return pow2.Next(minsz)
}

// CompoundHead returns the base address of the live allocation
// containing addr.
func (b *Allocator) CompoundHead(addr uintptr) (uintptr, error) {
	id, ok := b.allocatedNodeID(addr)
	if !ok {
		return 0, ErrUnknownAddress
	}
	return b.nodeAddr(id), nil
}

// UsedBytes returns the total bytes currently handed out by this tree.
func (b *Allocator) UsedBytes() uint64 {
	return b.used
}
