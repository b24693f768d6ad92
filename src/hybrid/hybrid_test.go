package hybrid

import (
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvkernel/kalloc/src/arena"
	"github.com/rvkernel/kalloc/src/slub"
)

func newTestHybrid(t *testing.T, size uint64) (*arena.Arena, *Allocator) {
	t.Helper()
	a, err := arena.New(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, Init(a)
}

func TestMain(m *testing.M) {
	rand.Seed(time.Now().UnixNano())
	os.Exit(m.Run())
}

func TestSmallRequestsRouteThroughSlub(t *testing.T) {
	_, h := newTestHybrid(t, 8<<20)

	before := h.UsedBytes()
	addr, err := h.Alloc(16, 1)
	require.NoError(t, err)
	// A fresh frame is carved from the buddy layer to back the request.
	assert.Greater(t, h.UsedBytes(), before)

	require.NoError(t, h.Dealloc(addr))
}

func TestLargeRequestsRouteThroughBuddy(t *testing.T) {
	_, h := newTestHybrid(t, 8<<20)

	addr, err := h.Alloc(slub.MaxSize+1, 1)
	require.NoError(t, err)

	head, err := h.CompoundHead(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, head)

	require.NoError(t, h.Dealloc(addr))
}

func TestMixedWorkloadNoOverlap(t *testing.T) {
	_, h := newTestHybrid(t, 8<<20)

	sizes := []uint64{8, 64, 256, 1024, 3000, 9000}
	live := map[uintptr]uint64{}
	var order []uintptr

	for i := 0; i < 1000; i++ {
		if len(order) > 0 && rand.Float64() < 0.5 {
			idx := rand.Intn(len(order))
			addr := order[idx]
			order[idx] = order[len(order)-1]
			order = order[:len(order)-1]
			delete(live, addr)
			require.NoError(t, h.Dealloc(addr))
			continue
		}
		size := sizes[rand.Intn(len(sizes))]
		addr, err := h.Alloc(size, 1)
		if err != nil {
			continue
		}
		for existing, esize := range live {
			overlap := addr < existing+uintptr(esize) && existing < addr+uintptr(size)
			require.False(t, overlap)
		}
		live[addr] = size
		order = append(order, addr)
	}

	for _, addr := range order {
		require.NoError(t, h.Dealloc(addr))
	}
}

func TestGrainedMatchesRoutingBoundary(t *testing.T) {
	_, h := newTestHybrid(t, 8<<20)

	assert.Equal(t, uint64(16), h.Grained(9))
	assert.Greater(t, h.Grained(slub.MaxSize+1), uint64(slub.MaxSize))
}

func TestDeallocUnknownAddressPropagatesError(t *testing.T) {
	a, h := newTestHybrid(t, 8<<20)
	// An address inside the arena that was never handed out by Alloc.
	err := h.Dealloc(a.Base + 100*4096)
	assert.Error(t, err)
}
