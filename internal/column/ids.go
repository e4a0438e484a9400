package column

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/model"
)

// ErrOrder is returned when keys or terms are not added in strictly ascending order.
var ErrOrder = errors.New("column: keys out of order")

// DocState is the state of a document in an ID store.
type DocState uint8

const (
	// Live documents carry field values.
	Live DocState = iota
	// Deleted documents are tombstones that shadow older versions of the key.
	Deleted
	// Stub documents exist only as link targets and never shadow older versions.
	Stub
)

// IDWriter writes the sorted object keys of one table.
type IDWriter struct {
	w       *Writer
	prev    []byte
	started bool
	deleted *roaring.Bitmap
	stubs   *roaring.Bitmap
	rec     []byte
}

// NewIDWriter starts an ID store on w.
func NewIDWriter(w io.Writer, opts Options) *IDWriter {
	return &IDWriter{w: NewWriter(w, KindIDs, opts), deleted: roaring.New(), stubs: roaring.New()}
}

// Add appends the key of the next document. Keys must be strictly ascending.
func (w *IDWriter) Add(key []byte, state DocState) error {
	if w.started && bytes.Compare(w.prev, key) >= 0 {
		return fmt.Errorf("%w: %s after %s", ErrOrder, model.Key(key), model.Key(w.prev))
	}
	shared := 0
	if !w.w.AtBlockStart() {
		shared = sharedPrefix(w.prev, key)
	}
	w.rec = binary.AppendUvarint(w.rec[:0], uint64(shared))
	w.rec = append(w.rec, key[shared:]...)

	switch state {
	case Deleted:
		w.deleted.Add(uint32(w.w.Records()))
	case Stub:
		w.stubs.Add(uint32(w.w.Records()))
	}
	w.prev = append(w.prev[:0], key...)
	w.started = true
	return w.w.Append(w.rec)
}

// Close writes the deleted and stub bitmaps and finishes the file.
func (w *IDWriter) Close() error {
	var aux []byte
	for _, bm := range []*roaring.Bitmap{w.deleted, w.stubs} {
		bm.RunOptimize()
		b, err := bm.ToBytes()
		if err != nil {
			return err
		}
		aux = binary.AppendUvarint(aux, uint64(len(b)))
		aux = append(aux, b...)
	}
	w.w.SetAux(aux)
	return w.w.Close()
}

// IDReader reads an ID store.
type IDReader struct {
	r       *Reader
	deleted *roaring.Bitmap
	stubs   *roaring.Bitmap
}

// OpenIDs opens an ID store.
func OpenIDs(ctx context.Context, blob blobstore.Blob) (*IDReader, error) {
	r, err := Open(ctx, blob, KindIDs)
	if err != nil {
		return nil, err
	}
	d := decoder{buf: r.Aux()}
	bitmaps := [2]*roaring.Bitmap{roaring.New(), roaring.New()}
	for _, bm := range bitmaps {
		b := d.bytes()
		if err := d.check("bitmap"); err != nil {
			return nil, err
		}
		if err := bm.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("%w: bitmap: %v", ErrCorrupt, err)
		}
	}
	return &IDReader{r: r, deleted: bitmaps[0], stubs: bitmaps[1]}, nil
}

// Len returns the number of documents, deleted ones included.
func (r *IDReader) Len() int { return int(r.r.Len()) }

// Deleted returns the bitmap of deleted doc numbers. It must not be modified.
func (r *IDReader) Deleted() *roaring.Bitmap { return r.deleted }

// Stubs returns the bitmap of link-only doc numbers. It must not be modified.
func (r *IDReader) Stubs() *roaring.Bitmap { return r.stubs }

// State returns the state of doc.
func (r *IDReader) State(doc model.DocNum) DocState {
	return state(r.deleted, r.stubs, doc)
}

func state(deleted, stubs *roaring.Bitmap, doc model.DocNum) DocState {
	switch {
	case deleted.Contains(uint32(doc)):
		return Deleted
	case stubs.Contains(uint32(doc)):
		return Stub
	}
	return Live
}

// Close closes the underlying blob.
func (r *IDReader) Close() error { return r.r.Close() }

// Key returns an owned copy of the key of doc.
func (r *IDReader) Key(ctx context.Context, doc model.DocNum) (model.Key, error) {
	c := r.CursorFrom(r.r.BlockStart(uint64(doc)))
	for c.Next(ctx) {
		if c.Doc() == doc {
			return c.Key().Clone(), nil
		}
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: doc %d", ErrOutOfRange, doc)
}

// Find returns the doc number holding key.
func (r *IDReader) Find(ctx context.Context, key []byte) (model.DocNum, bool, error) {
	start, err := r.r.searchBlocks(ctx, r.r.Len(), func(first []byte) (bool, error) {
		d := decoder{buf: first}
		d.uvarint()
		if err := d.check("key"); err != nil {
			return false, err
		}
		return bytes.Compare(d.buf, key) < 0, nil
	})
	if err != nil {
		return 0, false, err
	}
	c := r.CursorFrom(start)
	for c.Next(ctx) {
		switch cmp := bytes.Compare(c.Key(), key); {
		case cmp == 0:
			return c.Doc(), true, nil
		case cmp > 0:
			return 0, false, nil
		}
	}
	return 0, false, c.Err()
}

// Cursor returns a cursor over all documents in doc order.
func (r *IDReader) Cursor() *IDCursor { return r.CursorFrom(0) }

// CursorFrom returns a cursor starting at a block boundary ordinal.
func (r *IDReader) CursorFrom(from uint64) *IDCursor {
	return &IDCursor{c: r.r.Cursor(from), deleted: r.deleted, stubs: r.stubs}
}

// IDCursor iterates the documents of an ID store in ascending key order.
type IDCursor struct {
	c       *Cursor
	deleted *roaring.Bitmap
	stubs   *roaring.Bitmap
	key     []byte
	err     error
}

// Next advances to the following document.
func (c *IDCursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.c.Next(ctx) {
		return false
	}
	d := decoder{buf: c.c.Record()}
	shared := d.uvarint()
	if err := d.check("key"); err != nil {
		c.err = err
		return false
	}
	if c.c.FirstInBlock() {
		shared = 0
	}
	if shared > uint64(len(c.key)) {
		c.err = fmt.Errorf("%w: key prefix", ErrCorrupt)
		return false
	}
	c.key = append(c.key[:shared], d.buf...)
	return true
}

// Doc returns the current doc number.
func (c *IDCursor) Doc() model.DocNum { return model.DocNum(c.c.Ordinal()) }

// Key returns the current key, valid until the next call to Next.
func (c *IDCursor) Key() model.Key { return c.key }

// State returns the state of the current document.
func (c *IDCursor) State() DocState { return state(c.deleted, c.stubs, c.Doc()) }

// Err returns the error that stopped the cursor.
func (c *IDCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.c.Err()
}
