package column

import "errors"

var (
	// ErrInvalidMagic is returned when a blob is not a column file.
	ErrInvalidMagic = errors.New("column: invalid magic")
	// ErrInvalidVersion is returned for unsupported format versions.
	ErrInvalidVersion = errors.New("column: unsupported version")
	// ErrChecksum is returned when a block, index or footer fails verification.
	ErrChecksum = errors.New("column: checksum mismatch")
	// ErrCorrupt is returned for structurally invalid data.
	ErrCorrupt = errors.New("column: corrupt data")
	// ErrKind is returned when a store is opened as the wrong kind.
	ErrKind = errors.New("column: unexpected store kind")
	// ErrOutOfRange is returned for record ordinals past the end.
	ErrOutOfRange = errors.New("column: ordinal out of range")
	// ErrClosed is returned when writing to a closed writer.
	ErrClosed = errors.New("column: writer closed")
)
