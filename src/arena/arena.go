// Package arena provides the backing byte region the buddy allocator
// carves into granularity-aligned blocks.
//
// A real kernel reserves this region as a statically sized array in
// BSS. Go gives no alignment guarantee for a plain slice, so this
// package maps the region with mmap instead, which returns a
// page-aligned base — the same technique balloc uses to get a real,
// page-aligned backing store for unsafe pointer arithmetic. The buddy
// tree itself rounds that base down to its own rounded size.
package arena

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Arena is a contiguous, page-aligned byte region [Base, Base+Size).
type Arena struct {
	Base uintptr
	Size uint64

	mem []byte
}

// New mmaps an anonymous, page-aligned region of size bytes.
func New(size uint64) (*Arena, error) {
	if size == 0 {
		return nil, fmt.Errorf("arena: size must be non-zero")
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap failed: %w", err)
	}
	return &Arena{
		Base: uintptr(unsafe.Pointer(&mem[0])),
		Size: size,
		mem:  mem,
	}, nil
}

// Bytes returns the full backing slice. Callers that compute addresses
// via Base and cast them with unsafe.Pointer are reading and writing
// into this same slice.
func (a *Arena) Bytes() []byte {
	return a.mem
}

// Contains reports whether addr falls within [Base, Base+Size).
func (a *Arena) Contains(addr uintptr) bool {
	return addr >= a.Base && addr < a.Base+uintptr(a.Size)
}

// Close unmaps the region. Must not be called while any allocation
// from it is still live.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}
