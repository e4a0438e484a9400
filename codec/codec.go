// Package codec centralizes encoding of self-describing records.
//
// segdb treats codec selection as a format boundary: every persisted record
// written through [Marshal] carries the codec name, so a reader picks the
// matching codec by name regardless of the writer's default.
package codec

import (
	"bytes"
	"errors"
	"fmt"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ErrUnknownCodec is returned when a record names a codec that is not built in.
var ErrUnknownCodec = errors.New("unknown codec")

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Marshal encodes v with c and prefixes the codec name.
// Layout: name '\n' payload.
func Marshal(c Codec, v any) ([]byte, error) {
	if c == nil {
		c = Default
	}
	payload, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec %s: %w", c.Name(), err)
	}
	out := make([]byte, 0, len(c.Name())+1+len(payload))
	out = append(out, c.Name()...)
	out = append(out, '\n')
	return append(out, payload...), nil
}

// Unmarshal decodes a record produced by [Marshal].
func Unmarshal(data []byte, v any) error {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return fmt.Errorf("%w: missing header", ErrUnknownCodec)
	}
	c, ok := ByName(string(data[:i]))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCodec, data[:i])
	}
	return c.Unmarshal(data[i+1:], v)
}
