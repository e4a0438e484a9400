package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is returned when a value does not fit the target type.
var ErrOverflow = errors.New("integer overflow")

// MaxDocs is the largest number of rows a single table of a segment may hold.
const MaxDocs = math.MaxUint32

// IntToUint32 converts v to uint32.
func IntToUint32(v int) (uint32, error) {
	if v < 0 || uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d does not fit uint32", ErrOverflow, v)
	}
	return uint32(v), nil
}

// Rows checks that a table of n rows can be numbered with DocNum.
func Rows(n int) error {
	if n < 0 || uint64(n) > MaxDocs {
		return fmt.Errorf("%w: table of %d rows exceeds %d documents", ErrOverflow, n, uint64(MaxDocs))
	}
	return nil
}
