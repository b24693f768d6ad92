// Package spinlock provides a busy-wait mutual-exclusion lock safe to
// take from trap/interrupt context, where blocking on the scheduler
// (as sync.Mutex may, via the runtime's semaphore-based slow path) is
// not an option.
//
// This is not re-entrant: acquiring a Spinlock already held by the
// calling goroutine deadlocks it forever, exactly like the kernel core
// it stands in for. A trap handler that allocates while already holding
// this lock would deadlock the core permanently, so the policy this
// package assumes is that interrupt handlers never allocate; it does
// not attempt to mask hardware interrupts it cannot see, and nothing in
// this module calls Alloc/Dealloc from within a held lock.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// Spinlock is a ticket-free test-and-test-and-set spin lock.
type Spinlock struct {
	held atomic.Bool
}

// Lock busy-waits until the lock is acquired.
func (s *Spinlock) Lock() {
	for {
		if !s.held.Load() && s.held.CompareAndSwap(false, true) {
			return
		}
		runtime.Gosched()
	}
}

// Unlock releases the lock. Calling Unlock without holding the lock is
// a programmer error, like any mutex misuse.
func (s *Spinlock) Unlock() {
	s.held.Store(false)
}

// TryLock attempts to acquire the lock without blocking.
func (s *Spinlock) TryLock() bool {
	return !s.held.Load() && s.held.CompareAndSwap(false, true)
}
