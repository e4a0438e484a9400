package schema

import (
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/segdb/codec"
	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema is the JSON Schema every definition document must satisfy.
const definitionSchema = `{
  "type": "object",
  "required": ["tables"],
  "properties": {
    "tables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "fields"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "fields": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "type"],
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "type": {"type": "string", "pattern": "^(?i)(boolean|integer|long|double|float|text|binary|link|timestamp)$"},
                "target": {"type": "string"},
                "inverse": {"type": "string"},
                "analyzer": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledDefinition = mustCompile(definitionSchema)

func mustCompile(s string) *gojsonschema.Schema {
	sch, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Errorf("schema: compile definition schema: %w", err))
	}
	return sch
}

// Static is an immutable in-memory Schema.
type Static struct {
	tables map[string]*Table
}

// NewStatic builds a Static schema from table definitions.
// LINK fields are checked for an existing target table and inverse field.
func NewStatic(tables ...Table) (*Static, error) {
	s := &Static{tables: make(map[string]*Table, len(tables))}
	for i := range tables {
		t := tables[i]
		if _, dup := s.tables[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate table %q", ErrInvalidSchema, t.Name)
		}
		t.Fields = append([]Field(nil), t.Fields...)
		t.index()
		if len(t.byName) != len(t.Fields) {
			return nil, fmt.Errorf("%w: duplicate field in table %q", ErrInvalidSchema, t.Name)
		}
		s.tables[t.Name] = &t
	}
	for _, t := range s.tables {
		for _, f := range t.Fields {
			if f.Type == TypeUnknown {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownFieldType, t.Name, f.Name)
			}
			if f.Type != TypeLink {
				continue
			}
			target, ok := s.tables[f.Target]
			if !ok {
				return nil, fmt.Errorf("%w: link %s.%s targets unknown table %q", ErrInvalidSchema, t.Name, f.Name, f.Target)
			}
			inv, ok := target.Field(f.Inverse)
			if !ok || inv.Type != TypeLink || inv.Target != t.Name {
				return nil, fmt.Errorf("%w: link %s.%s has no matching inverse %s.%s", ErrInvalidSchema, t.Name, f.Name, f.Target, f.Inverse)
			}
		}
	}
	return s, nil
}

// Table implements Schema.
func (s *Static) Table(name string) (*Table, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Tables returns the table names of the schema.
func (s *Static) Tables() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	return names
}

type definition struct {
	Tables []Table `json:"tables"`
}

// Load reads, validates and decodes a JSON definition document.
func Load(r io.Reader) (*Static, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	res, err := compiledDefinition.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchema, strings.Join(msgs, "; "))
	}

	var def definition
	if err := (codec.GoJSON{}).Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return NewStatic(def.Tables...)
}
