package segdb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/segdb/model"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidArgument is returned when an argument is invalid (e.g. an empty batch).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSegmentNotFound is returned when a segment is not part of the current manifest.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrNotFound is returned when a key has no live version.
	ErrNotFound = errors.New("not found")

	// ErrBackpressure is returned when the memory budget rejects an ingest batch.
	ErrBackpressure = errors.New("backpressure: resource limit exceeded")
)

// ErrConflict reports that a segment changed between the start and the
// commit of a background job.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrConflict struct {
	Op      string
	Segment model.SegmentID
	cause   error
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("%s: segment %s changed concurrently", e.Op, e.Segment)
}

func (e *ErrConflict) Unwrap() error { return e.cause }
