package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemapSet(t *testing.T) {
	r := NewRemap(2)
	require.NoError(t, r.Set(0, 0, 0))
	require.NoError(t, r.Set(0, 1, 2))
	require.NoError(t, r.Set(1, 0, 1))

	assert.Equal(t, int64(0), r.Dst(0, 0))
	assert.Equal(t, int64(2), r.Dst(0, 1))
	assert.Equal(t, int64(1), r.Dst(1, 0))
	assert.Equal(t, Deleted, r.Dst(1, 5))
	assert.Equal(t, 2, r.Len(0))

	// Repeating an assignment is a no-op.
	require.NoError(t, r.Set(0, 1, 2))

	assert.ErrorIs(t, r.Set(0, 1, 3), ErrRemapConflict)
	assert.ErrorIs(t, r.Set(0, 3, 3), ErrRemapOrder)
	assert.ErrorIs(t, r.Set(1, 2, 3), ErrRemapOrder)
	assert.Error(t, r.Set(2, 0, 0))
}

func TestRemapSetDeleted(t *testing.T) {
	// Two one-row segments with the same key; the second one is newer.
	r := NewRemap(2)
	require.NoError(t, r.Set(0, 0, 0))
	require.NoError(t, r.SetDeleted(1, 0, 0))

	assert.Equal(t, int64(1), r.DstSize())
	assert.Equal(t, Deleted, r.Dst(0, 0))
	assert.Equal(t, int64(0), r.Dst(1, 0))
	assert.Equal(t, int64(0), r.Target(0, 0))
}

func TestRemapSetDeletedLeavesOthers(t *testing.T) {
	r := NewRemap(3)
	require.NoError(t, r.Set(0, 0, 0))
	require.NoError(t, r.Set(1, 0, 1))
	require.NoError(t, r.Set(0, 1, 2))
	require.NoError(t, r.Set(1, 1, 2))
	require.NoError(t, r.Drop(1, 2))
	require.NoError(t, r.SetDeleted(2, 0, 2))
	require.NoError(t, r.Set(0, 2, 3))

	assert.Equal(t, int64(0), r.Dst(0, 0))
	assert.Equal(t, int64(1), r.Dst(1, 0))
	assert.Equal(t, Deleted, r.Dst(0, 1))
	assert.Equal(t, Deleted, r.Dst(1, 1))
	assert.Equal(t, Deleted, r.Dst(1, 2))
	assert.Equal(t, Deleted, r.Target(1, 2))
	assert.Equal(t, int64(2), r.Dst(2, 0))
	assert.Equal(t, int64(3), r.Dst(0, 2))
	assert.Equal(t, int64(4), r.DstSize())
}

func TestRemapSuperseded(t *testing.T) {
	r := NewRemap(2)
	require.NoError(t, r.Set(0, 0, 0))
	require.NoError(t, r.SetSuperseded(1, 0, 0))

	assert.Equal(t, int64(0), r.Dst(0, 0))
	assert.Equal(t, Deleted, r.Dst(1, 0))
	assert.Equal(t, int64(0), r.Target(1, 0))
	assert.ErrorIs(t, r.Set(1, 0, 0), ErrRemapConflict)
}

func TestRemapDstSize(t *testing.T) {
	r := NewRemap(1)
	assert.Equal(t, int64(0), r.DstSize())

	require.NoError(t, r.Set(0, 0, 0))
	require.NoError(t, r.Drop(0, 1))
	assert.Equal(t, int64(1), r.DstSize())

	require.NoError(t, r.Set(0, 2, 1))
	assert.Equal(t, int64(2), r.DstSize())
}
