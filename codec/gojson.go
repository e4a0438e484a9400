package codec

import gojson "github.com/goccy/go-json"

// GoJSON encodes segment metadata and schema files with
// github.com/goccy/go-json. Its output is byte-compatible with JSON, so
// segments written with either codec stay readable by both.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

// Name returns "go-json".
func (GoJSON) Name() string { return "go-json" }
