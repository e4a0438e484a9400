package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTable is returned when an object names a table the schema does not define.
	ErrUnknownTable = errors.New("unknown table")

	// ErrUnknownField is returned when an object carries a field its table does not define.
	ErrUnknownField = errors.New("unknown field")

	// ErrUnknownFieldType is returned for fields whose declared type is not supported.
	ErrUnknownFieldType = errors.New("unknown field type")

	// ErrFieldTypeConflict is returned when a field is observed with two different
	// declared types within one segment build.
	ErrFieldTypeConflict = errors.New("field type conflict")

	// ErrInvalidSchema is returned when a definition document fails validation.
	ErrInvalidSchema = errors.New("invalid schema")
)

// ParseError reports a raw value that could not be converted to its field's type.
//
// The original underlying error can be accessed via errors.Unwrap.
type ParseError struct {
	Table string
	Field string
	Type  FieldType
	Value string
	cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s value %q for field %s.%s", e.Type, e.Value, e.Table, e.Field)
}

func (e *ParseError) Unwrap() error { return e.cause }
