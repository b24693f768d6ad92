package buddy

import (
	"math/rand"
	"os"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvkernel/kalloc/src/arena"
)

func newTestArena(t *testing.T, size uint64) *arena.Arena {
	t.Helper()
	a, err := arena.New(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// snapshotNodes copies the live tree bytes so later state can be
// compared against the state right after Init (testable property 4:
// round-trip leaves the allocator byte-identical to post-init).
func snapshotNodes(b *Allocator) []byte {
	out := make([]byte, len(b.nodes))
	copy(out, b.nodes)
	return out
}

func TestMain(m *testing.M) {
	rand.Seed(time.Now().UnixNano())
	os.Exit(m.Run())
}

func TestInitMarksLeafZeroUnusable(t *testing.T) {
	a := newTestArena(t, 1<<20) // 1 MiB
	b := New()
	b.Init(a)

	// leaf 0 sits at or below the arena start (inside the metadata
	// footprint or before the arena) and must be unusable.
	assert.Equal(t, uint8(0), b.nodes[b.leafNum])
	// root must report some nonzero usable capacity.
	assert.NotEqual(t, uint8(0), b.nodes[1])
}

func TestAllocRespectsSizeAndAlignment(t *testing.T) {
	a := newTestArena(t, 1<<20)
	b := New()
	b.Init(a)

	addr, err := b.Alloc(1, 4096)
	require.NoError(t, err)
	assert.Zero(t, uint64(addr)%4096)

	addr2, err := b.Alloc(1, 8192)
	require.NoError(t, err)
	assert.Zero(t, uint64(addr2)%8192)
}

func TestAllocWriteReadRoundTrip(t *testing.T) {
	a := newTestArena(t, 1<<20)
	b := New()
	b.Init(a)

	addr, err := b.Alloc(64, 8)
	require.NoError(t, err)

	buf := (*[64]byte)(unsafe.Pointer(addr))
	for i := range buf {
		buf[i] = byte(i)
	}
	for i := range buf {
		assert.Equal(t, byte(i), buf[i])
	}
}

func TestLargestBlockThenNextFails(t *testing.T) {
	a := newTestArena(t, 1<<20)
	b := New()
	b.Init(a)

	// Find the largest block this tree can serve by walking doublings
	// until Alloc stops succeeding, then confirm nothing else fits.
	var last uintptr
	size := uint64(Granularity)
	for {
		addr, err := b.Alloc(size, 1)
		if err != nil {
			break
		}
		last = addr
		size <<= 1
	}
	assert.NotZero(t, last)

	_, err := b.Alloc(Granularity, 1)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestMergeThenSplitReusesAddress(t *testing.T) {
	a := newTestArena(t, 1<<20)
	b := New()
	b.Init(a)

	large1, err := b.Alloc(4096, 1)
	require.NoError(t, err)
	small, err := b.Alloc(16, 1)
	require.NoError(t, err)
	require.NotEqual(t, large1, small)

	require.NoError(t, b.Dealloc(large1))

	large2, err := b.Alloc(4096, 1)
	require.NoError(t, err)
	assert.Equal(t, large1, large2)
}

func TestCompoundHeadIsIdempotentAcrossLiveRange(t *testing.T) {
	a := newTestArena(t, 1<<20)
	b := New()
	b.Init(a)

	addr, err := b.Alloc(4096, 1)
	require.NoError(t, err)

	for off := uintptr(0); off < Granularity; off += 512 {
		head, err := b.CompoundHead(addr + off)
		require.NoError(t, err)
		assert.Equal(t, addr, head)
	}
}

func TestDeallocMisalignedPanics(t *testing.T) {
	a := newTestArena(t, 1<<20)
	b := New()
	b.Init(a)

	assert.Panics(t, func() {
		_ = b.Dealloc(a.Base + 1)
	})
}

func TestDeallocUnknownAddress(t *testing.T) {
	a := newTestArena(t, 1<<20)
	b := New()
	b.Init(a)

	err := b.Dealloc(a.Base + 3*Granularity)
	assert.ErrorIs(t, err, ErrUnknownAddress)
}

func TestRoundTripRandomSequenceRestoresState(t *testing.T) {
	a := newTestArena(t, 1<<20)
	b := New()
	b.Init(a)

	before := snapshotNodes(b)

	var live []uintptr
	for i := 0; i < 200; i++ {
		size := uint64(1 << uint(rand.Intn(8))) // up to 128 granules
		addr, err := b.Alloc(size*Granularity, 1)
		if err != nil {
			continue
		}
		live = append(live, addr)
	}

	rand.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
	for _, addr := range live {
		require.NoError(t, b.Dealloc(addr))
	}

	after := snapshotNodes(b)
	assert.Equal(t, before, after)
	assert.Zero(t, b.UsedBytes())
}

func TestOversizeRequestFails(t *testing.T) {
	a := newTestArena(t, 1<<20)
	b := New()
	b.Init(a)

	_, err := b.Alloc(a.Size*2, 1)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}
