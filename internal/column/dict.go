package column

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/model"
)

// DictWriter writes the term dictionary and per-document postings of one text field.
//
// Terms come first, in ascending (key, value) order; key is the analyzed
// comparison form and value the original. Postings follow, one record per
// document in doc order.
type DictWriter struct {
	w        *Writer
	terms    uint32
	postings bool
	prevKey  []byte
	prevVal  []byte
	rec      []byte
}

// NewDictWriter starts a dictionary store on w.
func NewDictWriter(w io.Writer, opts Options) *DictWriter {
	return &DictWriter{w: NewWriter(w, KindDict, opts)}
}

// AddTerm appends the next term. It returns the assigned term number.
func (w *DictWriter) AddTerm(key, value []byte) (uint32, error) {
	if w.postings {
		return 0, fmt.Errorf("column: term added after postings")
	}
	if w.terms > 0 {
		c := bytes.Compare(w.prevKey, key)
		if c > 0 || (c == 0 && bytes.Compare(w.prevVal, value) >= 0) {
			return 0, fmt.Errorf("%w: term %q after %q", ErrOrder, value, w.prevVal)
		}
	}
	shared := 0
	if !w.w.AtBlockStart() {
		shared = sharedPrefix(w.prevKey, key)
	}
	w.rec = binary.AppendUvarint(w.rec[:0], uint64(shared))
	w.rec = binary.AppendUvarint(w.rec, uint64(len(key)-shared))
	w.rec = append(w.rec, key[shared:]...)
	if bytes.Equal(key, value) {
		w.rec = binary.AppendUvarint(w.rec, 0)
	} else {
		w.rec = binary.AppendUvarint(w.rec, uint64(len(value))+1)
		w.rec = append(w.rec, value...)
	}
	w.prevKey = append(w.prevKey[:0], key...)
	w.prevVal = append(w.prevVal[:0], value...)
	n := w.terms
	w.terms++
	return n, w.w.Append(w.rec)
}

// AddPostings appends the ascending term numbers of the next document.
func (w *DictWriter) AddPostings(terms []uint32) error {
	w.postings = true
	w.rec = appendPostings(w.rec[:0], terms)
	return w.w.Append(w.rec)
}

// Close finishes the file.
func (w *DictWriter) Close() error {
	w.w.SetAux(binary.AppendUvarint(nil, uint64(w.terms)))
	return w.w.Close()
}

// DictReader reads a dictionary store.
type DictReader struct {
	r     *Reader
	terms uint64
}

// OpenDict opens a dictionary store.
func OpenDict(ctx context.Context, blob blobstore.Blob) (*DictReader, error) {
	r, err := Open(ctx, blob, KindDict)
	if err != nil {
		return nil, err
	}
	d := decoder{buf: r.Aux()}
	terms := d.uvarint()
	if err := d.check("term count"); err != nil {
		return nil, err
	}
	if terms > r.Len() {
		return nil, fmt.Errorf("%w: term count %d exceeds records %d", ErrCorrupt, terms, r.Len())
	}
	return &DictReader{r: r, terms: terms}, nil
}

// TermCount returns the number of distinct terms.
func (r *DictReader) TermCount() int { return int(r.terms) }

// DocCount returns the number of documents.
func (r *DictReader) DocCount() int { return int(r.r.Len() - r.terms) }

// Close closes the underlying blob.
func (r *DictReader) Close() error { return r.r.Close() }

// Term returns owned copies of the key and value of term n.
func (r *DictReader) Term(ctx context.Context, n uint32) (key, value []byte, err error) {
	if uint64(n) >= r.terms {
		return nil, nil, fmt.Errorf("%w: term %d", ErrOutOfRange, n)
	}
	c := r.termsFrom(r.r.BlockStart(uint64(n)))
	for c.Next(ctx) {
		if c.Number() == n {
			return bytes.Clone(c.Key()), bytes.Clone(c.Value()), nil
		}
	}
	if err := c.Err(); err != nil {
		return nil, nil, err
	}
	return nil, nil, fmt.Errorf("%w: term %d", ErrCorrupt, n)
}

// Lookup returns the half-open range of term numbers whose key equals key.
func (r *DictReader) Lookup(ctx context.Context, key []byte) (lo, hi uint32, err error) {
	start, err := r.r.searchBlocks(ctx, r.terms, func(first []byte) (bool, error) {
		d := decoder{buf: first}
		d.uvarint()
		k := d.bytes()
		if err := d.check("term"); err != nil {
			return false, err
		}
		return bytes.Compare(k, key) < 0, nil
	})
	if err != nil {
		return 0, 0, err
	}
	c := r.termsFrom(start)
	found := false
	for c.Next(ctx) {
		cmp := bytes.Compare(c.Key(), key)
		if cmp < 0 {
			continue
		}
		if cmp > 0 {
			break
		}
		if !found {
			lo, found = c.Number(), true
		}
		hi = c.Number() + 1
	}
	if err := c.Err(); err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, nil
	}
	return lo, hi, nil
}

// Postings returns the ascending term numbers of doc.
func (r *DictReader) Postings(ctx context.Context, doc model.DocNum) ([]uint32, error) {
	rec, err := r.r.Get(ctx, r.terms+uint64(doc))
	if err != nil {
		return nil, err
	}
	return decodePostings(rec, nil)
}

// Terms returns a cursor over all terms in term number order.
func (r *DictReader) Terms() *TermCursor { return r.termsFrom(0) }

func (r *DictReader) termsFrom(from uint64) *TermCursor {
	return &TermCursor{c: r.r.CursorRange(from, r.terms)}
}

// PostingsCursor returns a cursor over the per-document postings.
func (r *DictReader) PostingsCursor() *PostingsCursor {
	return &PostingsCursor{c: r.r.CursorRange(r.terms, r.r.Len()), base: r.terms}
}

// TermCursor iterates terms in ascending (key, value) order.
type TermCursor struct {
	c     *Cursor
	key   []byte
	value []byte
	err   error
}

// Next advances to the following term.
func (c *TermCursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.c.Next(ctx) {
		return false
	}
	d := decoder{buf: c.c.Record()}
	shared := d.uvarint()
	suffix := d.bytes()
	flag := d.uvarint()
	if err := d.check("term"); err != nil {
		c.err = err
		return false
	}
	if c.c.FirstInBlock() {
		shared = 0
	}
	if shared > uint64(len(c.key)) {
		c.err = fmt.Errorf("%w: term prefix", ErrCorrupt)
		return false
	}
	c.key = append(c.key[:shared], suffix...)
	switch {
	case flag == 0:
		c.value = c.key
	case flag-1 > uint64(len(d.buf)):
		c.err = fmt.Errorf("%w: term value", ErrCorrupt)
		return false
	default:
		c.value = d.buf[:flag-1]
	}
	return true
}

// Number returns the current term number.
func (c *TermCursor) Number() uint32 { return uint32(c.c.Ordinal()) }

// Key returns the current comparison key, valid until the next call to Next.
func (c *TermCursor) Key() []byte { return c.key }

// Value returns the current original value, valid until the next call to Next.
func (c *TermCursor) Value() []byte { return c.value }

// Err returns the error that stopped the cursor.
func (c *TermCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.c.Err()
}
