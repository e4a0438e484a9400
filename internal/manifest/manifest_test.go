package manifest

import (
	"context"
	"testing"

	"github.com/hupe1980/segdb/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore(blobstore.NewMemoryStore())

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	m := New()
	m.Segments = append(m.Segments, SegmentInfo{ID: m.NextSegmentID, Ordinal: m.NextOrdinal, Version: 1})
	m.NextSegmentID++
	m.NextOrdinal++
	require.NoError(t, store.Save(ctx, m))
	assert.Equal(t, uint64(1), m.ID)

	next := m.Clone()
	next.Segments[0].Version = 2
	require.NoError(t, store.Save(ctx, next))
	assert.Equal(t, uint64(2), next.ID)
	assert.Equal(t, uint32(1), m.Segments[0].Version)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.ID)
	assert.Equal(t, CurrentVersion, loaded.Version)
	require.Len(t, loaded.Segments, 1)
	assert.Equal(t, uint32(2), loaded.Segments[0].Version)

	old, err := store.LoadVersion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), old.Segments[0].Version)

	versions, err := store.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, uint64(1), versions[0].ID)

	require.NoError(t, store.DeleteVersion(ctx, 1))
	_, err = store.LoadVersion(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreSkipsCorruptVersions(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	store := NewStore(blobs)

	require.NoError(t, store.Save(ctx, New()))
	require.NoError(t, blobs.Put(ctx, "MANIFEST-000009.bin", []byte("garbage")))

	versions, err := store.ListVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	_, err = store.LoadVersion(ctx, 9)
	assert.Error(t, err)
}

func TestManifestHelpers(t *testing.T) {
	m := New()
	m.Segments = []SegmentInfo{
		{ID: 4, Ordinal: 9, Tables: []TableInfo{{Name: "users", Rows: 3}}},
		{ID: 2, Ordinal: 3},
		{ID: 7, Ordinal: 5},
	}

	ordered := m.ByOrdinal()
	assert.Equal(t, []uint64{3, 5, 9}, []uint64{ordered[0].Ordinal, ordered[1].Ordinal, ordered[2].Ordinal})

	i, s, ok := m.Segment(4)
	require.True(t, ok)
	assert.Equal(t, 0, i)
	tbl, ok := s.Table("users")
	require.True(t, ok)
	assert.Equal(t, uint32(3), tbl.Rows)
	_, ok = s.Table("groups")
	assert.False(t, ok)

	c := m.Clone()
	c.Segments[0].Tables[0].Rows = 10
	c.Remove(2, 7)
	assert.Len(t, c.Segments, 1)
	assert.Len(t, m.Segments, 3)
	assert.Equal(t, uint32(3), m.Segments[0].Tables[0].Rows)

	_, _, ok = m.Segment(99)
	assert.False(t, ok)
}
