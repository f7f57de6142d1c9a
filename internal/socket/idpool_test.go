package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDPool_AllocIsMonotonicUntilFreed(t *testing.T) {
	p := NewIDPool(4)

	a, err := p.Alloc()
	require.NoError(t, err)
	b, err := p.Alloc()
	require.NoError(t, err)

	assert.Less(t, a, b)
}

func TestIDPool_ExhaustsAtCeiling(t *testing.T) {
	p := NewIDPool(2)

	_, err := p.Alloc()
	require.NoError(t, err)
	_, err = p.Alloc()
	require.NoError(t, err)

	_, err = p.Alloc()
	assert.Error(t, err)
}

func TestIDPool_FreeRecyclesID(t *testing.T) {
	p := NewIDPool(1)

	id, err := p.Alloc()
	require.NoError(t, err)

	p.Free(id)

	id2, err := p.Alloc()
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}
