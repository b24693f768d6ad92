// Package hybrid composes one buddy.Allocator and one slub.Allocator
// into a single allocator that routes by request size and, for
// deallocation, by address alone — no caller-supplied provenance tag is
// needed because Slub's CompoundHead always resolves back to either a
// slub frame or the buddy directly.
package hybrid

import (
	"github.com/rvkernel/kalloc/src/arena"
	"github.com/rvkernel/kalloc/src/buddy"
	"github.com/rvkernel/kalloc/src/slub"
)

// Allocator owns a Buddy and a Slub layered on top of it. The Buddy
// outlives the Slub by construction — Slub holds it only for the
// lifetime of Allocator, passed in at New rather than stored as a raw
// self-referential pointer, so Go's garbage collector always sees a
// normal reference graph instead of a back-pointer it has to reason
// about specially.
type Allocator struct {
	buddy *buddy.Allocator
	slub  *slub.Allocator
}

// Init initializes the Buddy over the full arena, then constructs the
// Slub against it.
func Init(a *arena.Arena) *Allocator {
	b := buddy.New()
	b.Init(a)
	return &Allocator{
		buddy: b,
		slub:  slub.New(b),
	}
}

// Alloc routes through the Slub, which itself falls back to the Buddy
// for anything larger than slub.MaxSize.
func (h *Allocator) Alloc(size, align uint64) (uintptr, error) {
	return h.slub.Alloc(size, align)
}

// Dealloc routes by address: the Slub resolves it to either a pool
// block or a direct Buddy allocation.
func (h *Allocator) Dealloc(addr uintptr) error {
	return h.slub.Dealloc(addr)
}

// Grained returns the actual bytes a request for minsz would consume.
func (h *Allocator) Grained(minsz uint64) uint64 {
	return h.slub.Grained(minsz)
}

// CompoundHead returns the base address of the live allocation
// containing addr.
func (h *Allocator) CompoundHead(addr uintptr) (uintptr, error) {
	return h.slub.CompoundHead(addr)
}

// UsedBytes reports bytes currently outstanding at the Buddy layer
// (every slub frame is itself one Buddy allocation, so this already
// accounts for slub-resident memory, not just large direct requests).
func (h *Allocator) UsedBytes() uint64 {
	return h.buddy.UsedBytes()
}

// FrameCount reports the number of buddy-backed frames currently held
// by the Slub layer.
func (h *Allocator) FrameCount() uint64 {
	return h.slub.FrameCount()
}
