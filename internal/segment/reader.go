package segment

import (
	"context"
	"fmt"

	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/internal/column"
)

// Segment gives access to the stores of one physical segment.
type Segment struct {
	dir  blobstore.BlobStore
	meta *Meta
}

// Open reads the metadata of the segment stored in dir.
func Open(ctx context.Context, dir blobstore.BlobStore) (*Segment, error) {
	meta, err := ReadMeta(ctx, dir)
	if err != nil {
		return nil, err
	}
	return &Segment{dir: dir, meta: meta}, nil
}

// Meta returns the segment metadata. It must not be modified.
func (s *Segment) Meta() *Meta { return s.meta }

// Dir returns the directory holding the segment.
func (s *Segment) Dir() blobstore.BlobStore { return s.dir }

// IDs opens the ID store of table t.
func (s *Segment) IDs(ctx context.Context, t int) (*column.IDReader, error) {
	if err := s.check(t, -1); err != nil {
		return nil, err
	}
	return openStore(ctx, s.dir, IDsName(t), column.OpenIDs)
}

// Numeric opens the numeric store of field f of table t.
func (s *Segment) Numeric(ctx context.Context, t, f int) (*column.NumReader, error) {
	if err := s.check(t, f); err != nil {
		return nil, err
	}
	return openStore(ctx, s.dir, s.fieldName(t, f), column.OpenNumeric)
}

// Dict opens the dictionary store of field f of table t.
func (s *Segment) Dict(ctx context.Context, t, f int) (*column.DictReader, error) {
	if err := s.check(t, f); err != nil {
		return nil, err
	}
	return openStore(ctx, s.dir, s.fieldName(t, f), column.OpenDict)
}

// Links opens the link store of field f of table t.
func (s *Segment) Links(ctx context.Context, t, f int) (*column.LinkReader, error) {
	if err := s.check(t, f); err != nil {
		return nil, err
	}
	return openStore(ctx, s.dir, s.fieldName(t, f), column.OpenLinks)
}

func (s *Segment) fieldName(t, f int) string {
	return FieldName(t, f, s.meta.Tables[t].Fields[f].Type)
}

func (s *Segment) check(t, f int) error {
	if t < 0 || t >= len(s.meta.Tables) {
		return fmt.Errorf("segment: table index %d out of range", t)
	}
	if f >= len(s.meta.Tables[t].Fields) {
		return fmt.Errorf("segment: field index %d out of range for table %s", f, s.meta.Tables[t].Name)
	}
	return nil
}

func openStore[R any](ctx context.Context, dir blobstore.BlobStore, name string, open func(context.Context, blobstore.Blob) (R, error)) (R, error) {
	var zero R
	blob, err := dir.Open(ctx, name)
	if err != nil {
		return zero, err
	}
	r, err := open(ctx, blob)
	if err != nil {
		_ = blob.Close()
		return zero, fmt.Errorf("open %s: %w", name, err)
	}
	return r, nil
}
