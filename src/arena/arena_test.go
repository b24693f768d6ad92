package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsZeroSize(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}

func TestNewReturnsPageAlignedBase(t *testing.T) {
	a, err := New(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Zero(t, a.Base%4096)
	assert.Equal(t, uint64(1<<20), a.Size)
}

func TestBytesAliasesBase(t *testing.T) {
	a, err := New(1 << 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	buf := a.Bytes()
	require.Len(t, buf, 1<<16)
	assert.Equal(t, a.Base, uintptr(unsafe.Pointer(&buf[0])))

	buf[0] = 0xAB
	assert.Equal(t, byte(0xAB), *(*byte)(unsafe.Pointer(a.Base)))
}

func TestContainsBounds(t *testing.T) {
	a, err := New(1 << 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.True(t, a.Contains(a.Base))
	assert.True(t, a.Contains(a.Base+uintptr(a.Size)-1))
	assert.False(t, a.Contains(a.Base+uintptr(a.Size)))
	assert.False(t, a.Contains(a.Base-1))
}

func TestCloseUnmapsAndIsIdempotent(t *testing.T) {
	a, err := New(1 << 16)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
