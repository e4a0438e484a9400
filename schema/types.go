package schema

import (
	"fmt"
	"strings"
)

// FieldType is the declared type of a field.
type FieldType uint8

const (
	TypeUnknown FieldType = iota
	TypeBoolean
	TypeInteger
	TypeLong
	TypeDouble
	TypeFloat
	TypeText
	TypeBinary
	TypeLink
	TypeTimestamp
)

var typeNames = [...]string{
	TypeUnknown:   "UNKNOWN",
	TypeBoolean:   "BOOLEAN",
	TypeInteger:   "INTEGER",
	TypeLong:      "LONG",
	TypeDouble:    "DOUBLE",
	TypeFloat:     "FLOAT",
	TypeText:      "TEXT",
	TypeBinary:    "BINARY",
	TypeLink:      "LINK",
	TypeTimestamp: "TIMESTAMP",
}

// String returns the upper-case name of the type.
func (t FieldType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("FieldType(%d)", uint8(t))
}

// ParseFieldType parses a type name case-insensitively.
func ParseFieldType(s string) (FieldType, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range typeNames {
		if i != int(TypeUnknown) && name == u {
			return FieldType(i), nil
		}
	}
	return TypeUnknown, fmt.Errorf("%w: %q", ErrUnknownFieldType, s)
}

// IsNumeric reports whether values of this type are stored in a numeric column.
func (t FieldType) IsNumeric() bool {
	switch t {
	case TypeBoolean, TypeInteger, TypeLong, TypeDouble, TypeFloat, TypeTimestamp:
		return true
	}
	return false
}

// IsTerm reports whether values of this type are stored in a dictionary.
func (t FieldType) IsTerm() bool {
	return t == TypeText || t == TypeBinary
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(b []byte) error {
	v, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Field describes a single field of a table.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`

	// Target and Inverse are set for LINK fields only.
	Target  string `json:"target,omitempty"`
	Inverse string `json:"inverse,omitempty"`

	// Analyzer names the analyzer used to derive term keys of TEXT fields.
	// Empty selects the default analyzer.
	Analyzer string `json:"analyzer,omitempty"`
}

// Table describes a table and its fields.
type Table struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`

	byName map[string]int
}

// Field returns the field with the given name.
func (t *Table) Field(name string) (Field, bool) {
	if t.byName == nil {
		for _, f := range t.Fields {
			if f.Name == name {
				return f, true
			}
		}
		return Field{}, false
	}
	i, ok := t.byName[name]
	if !ok {
		return Field{}, false
	}
	return t.Fields[i], true
}

func (t *Table) index() {
	t.byName = make(map[string]int, len(t.Fields))
	for i, f := range t.Fields {
		t.byName[f.Name] = i
	}
}

// Schema is the collaborator interface consumed by the builder.
// Implementations must be safe for concurrent use.
type Schema interface {
	// Table returns the table with the given name.
	Table(name string) (*Table, bool)
}
