package column

import (
	"context"
	"io"

	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/model"
)

// NumWriter writes one record of int64 values per document.
type NumWriter struct {
	w   *Writer
	rec []byte
}

// NewNumWriter starts a numeric store on w.
func NewNumWriter(w io.Writer, opts Options) *NumWriter {
	return &NumWriter{w: NewWriter(w, KindNumeric, opts)}
}

// Add appends the values of the next document. Documents without values add nil.
func (w *NumWriter) Add(vals []int64) error {
	w.rec = appendValues(w.rec[:0], vals)
	return w.w.Append(w.rec)
}

// Close finishes the file.
func (w *NumWriter) Close() error { return w.w.Close() }

// NumReader reads a numeric store.
type NumReader struct {
	r *Reader
}

// OpenNumeric opens a numeric store.
func OpenNumeric(ctx context.Context, blob blobstore.Blob) (*NumReader, error) {
	r, err := Open(ctx, blob, KindNumeric)
	if err != nil {
		return nil, err
	}
	return &NumReader{r: r}, nil
}

// Len returns the number of documents.
func (r *NumReader) Len() int { return int(r.r.Len()) }

// Close closes the underlying blob.
func (r *NumReader) Close() error { return r.r.Close() }

// Values returns the values of doc.
func (r *NumReader) Values(ctx context.Context, doc model.DocNum) ([]int64, error) {
	rec, err := r.r.Get(ctx, uint64(doc))
	if err != nil {
		return nil, err
	}
	return decodeValues(rec, nil)
}

// Cursor returns a cursor over all documents.
func (r *NumReader) Cursor() *NumCursor {
	return &NumCursor{c: r.r.Cursor(0)}
}

// NumCursor iterates numeric records in doc order.
type NumCursor struct {
	c    *Cursor
	vals []int64
	err  error
}

// Next advances to the following document.
func (c *NumCursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.c.Next(ctx) {
		return false
	}
	c.vals, c.err = decodeValues(c.c.Record(), c.vals)
	return c.err == nil
}

// Doc returns the current doc number.
func (c *NumCursor) Doc() model.DocNum { return model.DocNum(c.c.Ordinal()) }

// Values returns the current values, valid until the next call to Next.
func (c *NumCursor) Values() []int64 { return c.vals }

// Err returns the error that stopped the cursor.
func (c *NumCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.c.Err()
}
