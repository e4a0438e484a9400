package column

import (
	"context"
	"io"

	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/model"
)

// LinkWriter writes one adjacency list per document.
type LinkWriter struct {
	w   *Writer
	rec []byte
	ids []uint32
}

// NewLinkWriter starts a link store on w.
func NewLinkWriter(w io.Writer, opts Options) *LinkWriter {
	return &LinkWriter{w: NewWriter(w, KindLinks, opts)}
}

// Add appends the ascending target doc numbers of the next document.
func (w *LinkWriter) Add(targets []model.DocNum) error {
	w.ids = w.ids[:0]
	for _, t := range targets {
		w.ids = append(w.ids, uint32(t))
	}
	w.rec = appendPostings(w.rec[:0], w.ids)
	return w.w.Append(w.rec)
}

// Close finishes the file.
func (w *LinkWriter) Close() error { return w.w.Close() }

// LinkReader reads a link store.
type LinkReader struct {
	r *Reader
}

// OpenLinks opens a link store.
func OpenLinks(ctx context.Context, blob blobstore.Blob) (*LinkReader, error) {
	r, err := Open(ctx, blob, KindLinks)
	if err != nil {
		return nil, err
	}
	return &LinkReader{r: r}, nil
}

// Len returns the number of documents.
func (r *LinkReader) Len() int { return int(r.r.Len()) }

// Close closes the underlying blob.
func (r *LinkReader) Close() error { return r.r.Close() }

// Targets returns the linked doc numbers of doc.
func (r *LinkReader) Targets(ctx context.Context, doc model.DocNum) ([]model.DocNum, error) {
	rec, err := r.r.Get(ctx, uint64(doc))
	if err != nil {
		return nil, err
	}
	ids, err := decodePostings(rec, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.DocNum, len(ids))
	for i, id := range ids {
		out[i] = model.DocNum(id)
	}
	return out, nil
}

// Cursor returns a cursor over all documents.
func (r *LinkReader) Cursor() *PostingsCursor {
	return &PostingsCursor{c: r.r.Cursor(0)}
}

// PostingsCursor iterates per-document lists of ascending numbers.
type PostingsCursor struct {
	c    *Cursor
	base uint64
	ids  []uint32
	err  error
}

// Next advances to the following document.
func (c *PostingsCursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.c.Next(ctx) {
		return false
	}
	c.ids, c.err = decodePostings(c.c.Record(), c.ids)
	return c.err == nil
}

// Doc returns the current doc number.
func (c *PostingsCursor) Doc() model.DocNum { return model.DocNum(c.c.Ordinal() - c.base) }

// IDs returns the current list, valid until the next call to Next.
func (c *PostingsCursor) IDs() []uint32 { return c.ids }

// Err returns the error that stopped the cursor.
func (c *PostingsCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.c.Err()
}
