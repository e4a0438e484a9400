//go:build amd64 || arm64

package conv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntToUint32(t *testing.T) {
	t.Run("in range", func(t *testing.T) {
		for _, v := range []int{0, 123, math.MaxUint32} {
			got, err := IntToUint32(v)
			require.NoError(t, err)
			assert.Equal(t, uint32(v), got)
		}
	})

	t.Run("negative", func(t *testing.T) {
		_, err := IntToUint32(-1)
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := IntToUint32(math.MaxUint32 + 1)
		assert.ErrorIs(t, err, ErrOverflow)
	})
}

func TestRows(t *testing.T) {
	assert.NoError(t, Rows(0))
	assert.NoError(t, Rows(MaxDocs))
	assert.ErrorIs(t, Rows(MaxDocs+1), ErrOverflow)
	assert.ErrorIs(t, Rows(-1), ErrOverflow)
}
