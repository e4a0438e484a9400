package segment

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/codec"
	"github.com/hupe1980/segdb/model"
	"github.com/hupe1980/segdb/schema"
)

// FormatVersion is the segment layout version written to meta.json.
const FormatVersion = 1

// MetaName is the name of the metadata record inside a segment directory.
const MetaName = "meta.json"

// Meta describes one physical segment.
type Meta struct {
	Format      int         `json:"format"`
	Created     time.Time   `json:"created"`
	Compression string      `json:"compression"`
	Tables      []TableMeta `json:"tables"`
}

// TableMeta describes one table of a segment. Rows counts every document,
// tombstones and stubs included.
type TableMeta struct {
	Name    string      `json:"name"`
	Rows    int         `json:"rows"`
	Deleted int         `json:"deleted"`
	Stubs   int         `json:"stubs,omitempty"`
	Fields  []FieldMeta `json:"fields"`
}

// FieldMeta describes one field of a table together with its statistics.
type FieldMeta struct {
	Name     string           `json:"name"`
	Type     schema.FieldType `json:"type"`
	Target   string           `json:"target,omitempty"`
	Analyzer string           `json:"analyzer,omitempty"`

	// Docs counts documents with at least one value.
	Docs int `json:"docs"`
	// Distinct counts distinct values: terms, numbers or link targets.
	Distinct int `json:"distinct"`

	Min int64 `json:"min,omitempty"`
	Max int64 `json:"max,omitempty"`
}

// Table returns the index and metadata of the named table.
func (m *Meta) Table(name string) (int, *TableMeta, bool) {
	for i := range m.Tables {
		if m.Tables[i].Name == name {
			return i, &m.Tables[i], true
		}
	}
	return -1, nil, false
}

// Field returns the index and metadata of the named field.
func (t *TableMeta) Field(name string) (int, *FieldMeta, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return i, &t.Fields[i], true
		}
	}
	return -1, nil, false
}

// Live returns the number of documents that are neither deleted nor stubs.
func (t *TableMeta) Live() int { return t.Rows - t.Deleted - t.Stubs }

// DirName returns the directory prefix of a physical segment version.
func DirName(id model.SegmentID, version uint32) string {
	return fmt.Sprintf("%s/v%06d/", id, version)
}

// IDsName returns the blob name of a table's ID store.
func IDsName(table int) string { return fmt.Sprintf("t%d/ids", table) }

// FieldName returns the blob name of a field store.
func FieldName(table, field int, t schema.FieldType) string {
	ext := "num"
	switch {
	case t.IsTerm():
		ext = "dict"
	case t == schema.TypeLink:
		ext = "link"
	}
	return fmt.Sprintf("t%d/f%d.%s", table, field, ext)
}

// WriteMeta stores m in dir using c.
func WriteMeta(ctx context.Context, dir blobstore.BlobStore, c codec.Codec, m *Meta) error {
	data, err := codec.Marshal(c, m)
	if err != nil {
		return fmt.Errorf("segment: encode meta: %w", err)
	}
	return dir.Put(ctx, MetaName, data)
}

// ReadMeta loads the metadata record of dir.
func ReadMeta(ctx context.Context, dir blobstore.BlobStore) (*Meta, error) {
	data, err := blobstore.ReadAll(ctx, dir, MetaName)
	if err != nil {
		return nil, err
	}
	m := new(Meta)
	if err := codec.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("segment: decode meta: %w", err)
	}
	if m.Format != FormatVersion {
		return nil, fmt.Errorf("segment: unsupported format %d", m.Format)
	}
	return m, nil
}
