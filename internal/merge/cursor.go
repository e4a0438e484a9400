package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/internal/column"
	"github.com/hupe1980/segdb/model"
)

// docCursor iterates the ID store of one table of one input segment.
type docCursor interface {
	Next(ctx context.Context) bool
	Seg() int
	Key() model.Key
	Doc() model.DocNum
	State() column.DocState
	Err() error
	Close() error
}

// IxDoc iterates the ID store of one table of one input segment in key order.
// Once exhausted Key is nil and Doc is model.NoDoc.
type IxDoc struct {
	seg   int
	ids   *column.IDReader
	cur   *column.IDCursor
	key   model.Key
	doc   model.DocNum
	state column.DocState
	err   error
}

// NewIxDoc creates a cursor for the input at position seg.
func NewIxDoc(seg int, ids *column.IDReader) *IxDoc {
	return &IxDoc{seg: seg, ids: ids, cur: ids.Cursor(), doc: model.NoDoc}
}

// Next advances to the following document. Keys are owned copies.
func (ix *IxDoc) Next(ctx context.Context) bool {
	if ix.err == nil && ix.cur.Next(ctx) {
		ix.key = ix.cur.Key().Clone()
		ix.doc = ix.cur.Doc()
		ix.state = ix.cur.State()
		return true
	}
	if ix.err == nil {
		ix.err = ix.cur.Err()
	}
	ix.key, ix.doc = nil, model.NoDoc
	return false
}

func (ix *IxDoc) Seg() int               { return ix.seg }
func (ix *IxDoc) Key() model.Key         { return ix.key }
func (ix *IxDoc) Doc() model.DocNum      { return ix.doc }
func (ix *IxDoc) State() column.DocState { return ix.state }
func (ix *IxDoc) Err() error             { return ix.err }
func (ix *IxDoc) Close() error           { return ix.ids.Close() }

// maxRestores bounds the reopen attempts of one cursor.
const maxRestores = 3

// RestorableIxDoc is an IxDoc that survives the replacement of the segment
// version it reads. When a read fails because a blob is gone it reopens the
// current version of the same logical segment, skips every key up to the
// last one it returned and continues from there.
type RestorableIxDoc struct {
	IxDoc
	src       *Source
	table     string
	last      model.Key
	restores  int
	logger    *slog.Logger
	onRestore func()
}

// NewRestorableIxDoc creates a restorable cursor over table of src.
func NewRestorableIxDoc(seg int, src *Source, table string, ids *column.IDReader, logger *slog.Logger, onRestore func()) *RestorableIxDoc {
	return &RestorableIxDoc{
		IxDoc:     *NewIxDoc(seg, ids),
		src:       src,
		table:     table,
		logger:    logger,
		onRestore: onRestore,
	}
}

// Next advances to the following document, restoring the cursor if needed.
func (r *RestorableIxDoc) Next(ctx context.Context) bool {
	if r.IxDoc.Next(ctx) {
		r.last = r.key
		return true
	}
	for r.err != nil && errors.Is(r.err, blobstore.ErrNotFound) && r.src.Reopen != nil && r.restores < maxRestores {
		r.restores++
		r.logger.Warn("segment version replaced during merge, restoring cursor",
			"table", r.table, "after", r.last, "attempt", r.restores)
		if r.onRestore != nil {
			r.onRestore()
		}
		if r.restore(ctx) {
			r.last = r.key
			return true
		}
	}
	return false
}

// Restores returns how often the cursor was reopened.
func (r *RestorableIxDoc) Restores() int { return r.restores }

func (r *RestorableIxDoc) restore(ctx context.Context) bool {
	_ = r.ids.Close()
	r.err = nil

	seg, err := r.src.refresh(ctx)
	if err != nil {
		r.err = fmt.Errorf("restore %s: %w", r.table, err)
		return false
	}
	ti, _, ok := seg.Meta().Table(r.table)
	if !ok {
		r.err = fmt.Errorf("restore %s: table missing in new version", r.table)
		return false
	}
	ids, err := seg.IDs(ctx, ti)
	if err != nil {
		r.err = err
		return false
	}
	r.ids, r.cur = ids, ids.Cursor()

	for r.cur.Next(ctx) {
		if r.last != nil && r.cur.Key().Compare(r.last) <= 0 {
			continue
		}
		r.key = r.cur.Key().Clone()
		r.doc = r.cur.Doc()
		r.state = r.cur.State()
		return true
	}
	r.err = r.cur.Err()
	r.key, r.doc = nil, model.NoDoc
	return false
}

// noDst is the terminal destination of an exhausted IxNum or IxSeg.
const noDst int64 = math.MaxInt64

// IxNum iterates the numeric store of one input segment in doc order and
// yields the values of docs with a live destination.
type IxNum struct {
	seg   int
	remap *Remap
	skip  func(dst int64) bool
	r     *column.NumReader
	cur   *column.NumCursor
	dst   int64
	vals  []int64
}

// NewIxNum creates a numeric cursor. Destinations for which skip reports
// true are passed over.
func NewIxNum(seg int, r *column.NumReader, remap *Remap, skip func(dst int64) bool) *IxNum {
	return &IxNum{seg: seg, remap: remap, skip: skip, r: r, cur: r.Cursor(), dst: noDst}
}

// Next advances to the following live document. Values are owned copies.
func (ix *IxNum) Next(ctx context.Context) bool {
	for ix.cur.Next(ctx) {
		dst := ix.remap.Dst(ix.seg, ix.cur.Doc())
		if dst == Deleted || (ix.skip != nil && ix.skip(dst)) {
			continue
		}
		ix.dst = dst
		ix.vals = slices.Clone(ix.cur.Values())
		return true
	}
	ix.dst, ix.vals = noDst, nil
	return false
}

func (ix *IxNum) Dst() int64      { return ix.dst }
func (ix *IxNum) Values() []int64 { return ix.vals }
func (ix *IxNum) Err() error      { return ix.cur.Err() }
func (ix *IxNum) Close() error    { return ix.r.Close() }

// IxSeg iterates a postings store (dictionary postings or links) of one
// input segment in doc order and yields the lists of docs with a live
// destination.
type IxSeg struct {
	seg   int
	remap *Remap
	skip  func(dst int64) bool
	dstOf func(doc model.DocNum) int64
	close func() error
	cur   *column.PostingsCursor
	dst   int64
	doc   model.DocNum
	ids   []uint32
}

// NewIxSeg creates a postings cursor. close releases the underlying store.
func NewIxSeg(seg int, cur *column.PostingsCursor, close func() error, remap *Remap, skip func(dst int64) bool) *IxSeg {
	return &IxSeg{seg: seg, remap: remap, skip: skip, close: close, cur: cur, dst: noDst, doc: model.NoDoc}
}

// withDst replaces the destination lookup; docs it maps to Deleted are skipped.
func (ix *IxSeg) withDst(fn func(doc model.DocNum) int64) *IxSeg {
	ix.dstOf = fn
	return ix
}

// Next advances to the following live document. Lists are owned copies.
func (ix *IxSeg) Next(ctx context.Context) bool {
	for ix.cur.Next(ctx) {
		var dst int64
		if ix.dstOf != nil {
			dst = ix.dstOf(ix.cur.Doc())
		} else {
			dst = ix.remap.Dst(ix.seg, ix.cur.Doc())
		}
		if dst == Deleted || (ix.skip != nil && ix.skip(dst)) {
			continue
		}
		ix.dst, ix.doc = dst, ix.cur.Doc()
		ix.ids = slices.Clone(ix.cur.IDs())
		return true
	}
	ix.dst, ix.doc, ix.ids = noDst, model.NoDoc, nil
	return false
}

func (ix *IxSeg) Seg() int          { return ix.seg }
func (ix *IxSeg) Dst() int64        { return ix.dst }
func (ix *IxSeg) Doc() model.DocNum { return ix.doc }
func (ix *IxSeg) IDs() []uint32     { return ix.ids }
func (ix *IxSeg) Err() error        { return ix.cur.Err() }
func (ix *IxSeg) Close() error      { return ix.close() }
