package kalloc

import "errors"

var (
	// ErrAlreadyInitialized is returned by InitHeap if called more than
	// once on the same Allocator.
	ErrAlreadyInitialized = errors.New("kalloc: heap already initialized")
	// ErrNotInitialized is returned by Alloc/Dealloc before InitHeap
	// has run.
	ErrNotInitialized = errors.New("kalloc: heap not initialized")
	// ErrOutOfMemory is returned when no block satisfies a request; the
	// kernel's allocation-failure hook is expected to panic on this.
	ErrOutOfMemory = errors.New("kalloc: out of memory")
	// ErrUnknownAddress surfaces an unknown-address Dealloc/CompoundHead
	// call as an error instead of silently corrupting allocator state,
	// since a hosted Go process can and should detect it.
	ErrUnknownAddress = errors.New("kalloc: address was not allocated by this heap")
)
