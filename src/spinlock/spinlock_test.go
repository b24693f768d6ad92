package spinlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockUnlockSerializesCounter(t *testing.T) {
	var sl Spinlock
	var counter int
	var wg sync.WaitGroup

	const goroutines = 50
	const perGoroutine = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				sl.Lock()
				counter++
				sl.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, counter)
}

func TestTryLockFailsWhileHeld(t *testing.T) {
	var sl Spinlock
	sl.Lock()
	assert.False(t, sl.TryLock())
	sl.Unlock()
	assert.True(t, sl.TryLock())
	sl.Unlock()
}

func TestSecondLockBlocksUntilUnlock(t *testing.T) {
	var sl Spinlock
	sl.Lock()

	var acquired atomic.Bool
	go func() {
		sl.Lock()
		acquired.Store(true)
		sl.Unlock()
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load())

	sl.Unlock()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, acquired.Load())
}
