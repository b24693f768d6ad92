package kalloc

// Compile-time configuration constants. A kernel allocator cannot read
// a config file before its own heap exists, so these stay Go constants
// rather than anything loaded at runtime.
const (
	// DefaultHeapSize is the statically reserved heap size the
	// original kernel carves out of BSS (8 MiB).
	DefaultHeapSize = 8 * 1024 * 1024
)
