// Package kalloc is the mutex-wrapped global allocator: one Hybrid
// instance guarded by a spinlock safe to take from trap context. Every
// Alloc/Dealloc acquires the lock, performs the operation, and releases
// it; re-entrance is not supported (see src/spinlock).
package kalloc

import (
	"fmt"
	"unsafe"

	"github.com/rvkernel/kalloc/src/arena"
	"github.com/rvkernel/kalloc/src/hybrid"
	"github.com/rvkernel/kalloc/src/spinlock"
)

// Trace, if set, is called for every Alloc/Dealloc with a short
// operator-facing message. Core packages never log on their own — this
// hook is the seam cmd/allocsim uses to wire a real structured logger
// without the allocator itself taking a logging dependency.
type Trace func(format string, args ...any)

// Allocator is the process-wide dynamic memory core: one init point, no
// teardown beyond Close, gated by a single spinlock for its entire
// lifetime.
type Allocator struct {
	mu     spinlock.Spinlock
	arena  *arena.Arena
	hybrid *hybrid.Allocator
	trace  Trace
}

// New returns an uninitialized Allocator. Call InitHeap before Alloc or
// Dealloc.
func New() *Allocator {
	return &Allocator{}
}

// SetTrace installs a trace hook. Safe to call before or after InitHeap.
func (a *Allocator) SetTrace(t Trace) {
	a.trace = t
}

// InitHeap reserves a size-byte heap and prepares the Buddy/Slub/Hybrid
// stack over it. Must be called exactly once.
func (a *Allocator) InitHeap(size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hybrid != nil {
		return ErrAlreadyInitialized
	}
	ar, err := arena.New(size)
	if err != nil {
		return fmt.Errorf("kalloc: %w", err)
	}
	a.arena = ar
	a.hybrid = hybrid.Init(ar)
	if a.trace != nil {
		a.trace("heap initialized at 0x%x size 0x%x", ar.Base, ar.Size)
	}
	return nil
}

// Alloc returns a pointer to at least size bytes aligned to align (a
// power of two), or ErrOutOfMemory. The kernel's allocation-failure
// hook is expected to panic on that error; this package leaves that
// choice to the caller.
func (a *Allocator) Alloc(size, align uint64) (unsafe.Pointer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hybrid == nil {
		return nil, ErrNotInitialized
	}
	addr, err := a.hybrid.Alloc(size, align)
	if err != nil {
		if a.trace != nil {
			a.trace("alloc failed: size=%d align=%d: %v", size, align, err)
		}
		return nil, ErrOutOfMemory
	}
	if a.trace != nil {
		a.trace("alloc size=%d align=%d -> 0x%x", size, align, addr)
	}
	return unsafe.Pointer(addr), nil
}

// Dealloc releases ptr. size and align are advisory — only ptr is used
// to route the free.
func (a *Allocator) Dealloc(ptr unsafe.Pointer, size, align uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hybrid == nil {
		return ErrNotInitialized
	}
	addr := uintptr(ptr)
	if err := a.hybrid.Dealloc(addr); err != nil {
		return ErrUnknownAddress
	}
	if a.trace != nil {
		a.trace("dealloc 0x%x", addr)
	}
	return nil
}

// UsedBytes reports bytes currently outstanding across the whole heap.
func (a *Allocator) UsedBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hybrid == nil {
		return 0
	}
	return a.hybrid.UsedBytes()
}

// TotalBytes reports the size of the reserved heap.
func (a *Allocator) TotalBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.arena == nil {
		return 0
	}
	return a.arena.Size
}

// FrameCount reports the number of buddy-backed frames currently held
// by the Slub layer.
func (a *Allocator) FrameCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hybrid == nil {
		return 0
	}
	return a.hybrid.FrameCount()
}

// Close unmaps the heap arena. Not part of the kernel's external
// interface (a real kernel never tears its heap down); provided so
// userspace callers — tests and cmd/allocsim — don't leak mmap regions.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.arena == nil {
		return nil
	}
	err := a.arena.Close()
	a.arena, a.hybrid = nil, nil
	return err
}

// Global is the process-wide allocator, mirroring the kernel's
// `#[global_allocator]` singleton: one init point, gated by the same
// spinlock for its entire lifetime.
var Global = New()

// InitHeap initializes Global with the default 8 MiB heap size.
func InitHeap() error {
	return Global.InitHeap(DefaultHeapSize)
}

// Alloc allocates from Global.
func Alloc(size, align uint64) (unsafe.Pointer, error) {
	return Global.Alloc(size, align)
}

// Dealloc frees through Global.
func Dealloc(ptr unsafe.Pointer, size, align uint64) error {
	return Global.Dealloc(ptr, size, align)
}
