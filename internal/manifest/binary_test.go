package manifest

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/hupe1980/segdb/internal/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *Manifest {
	keys := NewBloomFilterForSize(10)
	keys.Add([]byte("alice"))
	keys.Add([]byte("bob"))

	return &Manifest{
		Version:       1,
		ID:            7,
		CreatedAt:     time.Unix(0, 1700000000123456789),
		NextSegmentID: 3,
		NextOrdinal:   5,
		Segments: []SegmentInfo{
			{
				ID:          1,
				Ordinal:     1,
				Version:     2,
				Path:        "seg-000001/v000002/",
				Compression: "zstd",
				Tables: []TableInfo{
					{Name: "users", Rows: 2, Deleted: 1, Keys: keys},
					{Name: "groups"},
				},
			},
			{ID: 2, Ordinal: 4, Version: 1, Path: "seg-000002/v000001/"},
		},
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	m := sampleManifest()

	var buf bytes.Buffer
	require.NoError(t, m.WriteBinary(&buf))

	m2, err := ReadBinary(&buf)
	require.NoError(t, err)

	assert.Equal(t, m.ID, m2.ID)
	assert.True(t, m.CreatedAt.Equal(m2.CreatedAt))
	assert.Equal(t, m.NextSegmentID, m2.NextSegmentID)
	assert.Equal(t, m.NextOrdinal, m2.NextOrdinal)
	require.Len(t, m2.Segments, 2)

	s := m2.Segments[0]
	assert.Equal(t, m.Segments[0].ID, s.ID)
	assert.Equal(t, uint64(1), s.Ordinal)
	assert.Equal(t, uint32(2), s.Version)
	assert.Equal(t, "seg-000001/v000002/", s.Path)
	assert.Equal(t, "zstd", s.Compression)
	require.Len(t, s.Tables, 2)
	assert.Equal(t, "users", s.Tables[0].Name)
	assert.Equal(t, uint32(2), s.Tables[0].Rows)
	assert.Equal(t, uint32(1), s.Tables[0].Deleted)
	require.NotNil(t, s.Tables[0].Keys)
	assert.True(t, s.Tables[0].Keys.MayContain([]byte("alice")))
	assert.Equal(t, uint32(2), s.Tables[0].Keys.Count())
	assert.Nil(t, s.Tables[1].Keys)
	assert.Empty(t, m2.Segments[1].Tables)
}

func TestBinaryErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleManifest().WriteBinary(&buf))
	data := buf.Bytes()

	t.Run("Magic", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[0] ^= 0xff
		_, err := ReadBinary(bytes.NewReader(bad))
		assert.ErrorContains(t, err, "invalid magic")
	})

	t.Run("Version", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[4] = 9
		_, err := ReadBinary(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrIncompatibleVersion)
	})

	t.Run("Checksum", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[len(bad)-1] ^= 0xff
		_, err := ReadBinary(bytes.NewReader(bad))
		assert.ErrorIs(t, err, hash.ErrChecksum)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := ReadBinary(bytes.NewReader(data[:len(data)-3]))
		assert.Error(t, err)
	})
}

func TestBloomFilter(t *testing.T) {
	bf := NewBloomFilterForSize(1000)
	for i := 0; i < 1000; i++ {
		bf.Add(fmt.Appendf(nil, "key-%04d", i))
	}

	for i := 0; i < 1000; i++ {
		assert.True(t, bf.MayContain(fmt.Appendf(nil, "key-%04d", i)))
	}

	fp := 0
	for i := 0; i < 10000; i++ {
		if bf.MayContain(fmt.Appendf(nil, "missing-%05d", i)) {
			fp++
		}
	}
	assert.Less(t, float64(fp)/10000, 0.05)
	assert.Less(t, bf.EstimatedFalsePositiveRate(), 0.05)
	assert.Equal(t, uint32(1000), bf.Count())

	var nilFilter *BloomFilter
	assert.True(t, nilFilter.MayContain([]byte("anything")))
}

func TestBloomFilterSize(t *testing.T) {
	bits, k := BloomFilterSize(1000, 0.01)
	assert.Zero(t, bits%64)
	assert.GreaterOrEqual(t, bits, uint64(9585))
	assert.Equal(t, uint32(7), k)

	bits, k = BloomFilterSize(0, 2)
	assert.Equal(t, uint64(64), bits)
	assert.GreaterOrEqual(t, k, uint32(1))
}
