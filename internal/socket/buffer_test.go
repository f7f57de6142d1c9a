package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_ReduceShiftsBytes(t *testing.T) {
	b := NewBuffer(16)
	require.NoError(t, b.Append([]byte("hello world"), 64))
	orig := append([]byte(nil), b.Filled()...)

	require.NoError(t, b.Reduce(6))

	assert.Equal(t, len(orig)-6, b.Fill)
	assert.Equal(t, orig[6:], b.Filled())
}

func TestBuffer_ReduceRejectsOutOfRange(t *testing.T) {
	b := NewBuffer(8)
	require.NoError(t, b.Append([]byte("abc"), 64))

	assert.Error(t, b.Reduce(4))
	assert.Error(t, b.Reduce(-1))
}

func TestBuffer_GrowDoublesAndCaps(t *testing.T) {
	b := NewBuffer(4)
	require.NoError(t, b.Grow(5, 64))
	assert.Equal(t, 8, b.Size())

	err := b.Grow(1000, 64)
	assert.Error(t, err)
}

func TestBuffer_AppendGrowsWhenNeeded(t *testing.T) {
	b := NewBuffer(2)
	require.NoError(t, b.Append([]byte("abcdef"), 64))
	assert.Equal(t, 6, b.Fill)
	assert.Equal(t, "abcdef", string(b.Filled()))
}

func TestBuffer_InvariantFillNeverExceedsSize(t *testing.T) {
	b := NewBuffer(4)
	require.NoError(t, b.Append([]byte("a"), 64))
	assert.LessOrEqual(t, b.Fill, b.Size())
}
