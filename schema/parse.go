package schema

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order when a TIMESTAMP value is not an integer.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseNumeric converts a raw value of a numeric field to its stored int64 form.
//
// Booleans become 0/1, integers are range-checked for their width, floating
// point values are stored as their IEEE-754 bit pattern (DOUBLE as 64 bits,
// FLOAT as the sign-extended 32 bits) and timestamps become epoch milliseconds.
func ParseNumeric(table string, f Field, raw string) (int64, error) {
	v, err := parseNumeric(f.Type, strings.TrimSpace(raw))
	if err != nil {
		return 0, &ParseError{Table: table, Field: f.Name, Type: f.Type, Value: raw, cause: err}
	}
	return v, nil
}

func parseNumeric(t FieldType, s string) (int64, error) {
	switch t {
	case TypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return 0, err
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case TypeInteger:
		return strconv.ParseInt(s, 10, 32)
	case TypeLong:
		return strconv.ParseInt(s, 10, 64)
	case TypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return int64(math.Float64bits(f)), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0, err
		}
		return int64(int32(math.Float32bits(float32(f)))), nil
	case TypeTimestamp:
		return parseTimestamp(s)
	}
	return 0, ErrUnknownFieldType
}

func parseTimestamp(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	var firstErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UnixMilli(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return 0, firstErr
}

// FormatNumeric renders a stored numeric value back to its textual form.
func FormatNumeric(t FieldType, v int64) string {
	switch t {
	case TypeBoolean:
		return strconv.FormatBool(v != 0)
	case TypeDouble:
		return strconv.FormatFloat(math.Float64frombits(uint64(v)), 'g', -1, 64)
	case TypeFloat:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(int32(v)))), 'g', -1, 32)
	case TypeTimestamp:
		return time.UnixMilli(v).UTC().Format(time.RFC3339Nano)
	}
	return strconv.FormatInt(v, 10)
}
