package merge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/segdb/internal/column"
	"github.com/hupe1980/segdb/internal/queue"
	"github.com/hupe1980/segdb/internal/segment"
	"github.com/hupe1980/segdb/model"
	"github.com/hupe1980/segdb/schema"
)

// dstItem is the value of one output row taken from one source.
type dstItem[T any] struct {
	dst int64
	v   T
}

// byDst merges per-source sequences ordered by destination.
func byDst[T any](next []func() (dstItem[T], bool)) func() (dstItem[T], bool) {
	return queue.Merge(next, func(a, b dstItem[T]) bool { return a.dst < b.dst })
}

// eachRow calls fn for every output row in order, with the zero value for
// rows no source produced. Several values for one row are folded with
// combine; without combine they are an error.
func eachRow[T any](it func() (dstItem[T], bool), rows int, combine func(a, b T) T, fn func(v T) error) error {
	item, ok := it()
	for d := int64(0); d < int64(rows); d++ {
		if ok && item.dst < d {
			return fmt.Errorf("merge: destination %d produced twice", item.dst)
		}
		var v T
		if ok && item.dst == d {
			v = item.v
			item, ok = it()
			for combine != nil && ok && item.dst == d {
				v = combine(v, item.v)
				item, ok = it()
			}
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	if ok {
		return fmt.Errorf("merge: destination %d beyond %d rows", item.dst, rows)
	}
	return nil
}

func (m *Merger) mergeField(ctx context.Context, p *tablePlan, f *fieldPlan, rows int, fm *segment.FieldMeta) error {
	name := segment.FieldName(p.index, f.index, f.meta.Type)
	return segment.WriteStore(ctx, m.dir, name, m.opts.WrapWriter, func(w io.Writer) error {
		switch {
		case f.meta.Type.IsTerm():
			return m.mergeDict(ctx, w, p, f, rows, fm)
		case f.meta.Type == schema.TypeLink:
			return m.mergeLinks(ctx, w, p, f, rows, fm)
		default:
			return m.mergeNumeric(ctx, w, p, f, rows, fm)
		}
	})
}

func (m *Merger) skipTombs(table string) func(int64) bool {
	tombs := m.tombs[table]
	return func(dst int64) bool { return tombs.Test(uint(dst)) }
}

func (m *Merger) mergeNumeric(ctx context.Context, w io.Writer, p *tablePlan, f *fieldPlan, rows int, fm *segment.FieldMeta) error {
	remap, skip := m.remaps[p.name], m.skipTombs(p.name)
	var cursors []*IxNum
	defer func() {
		for _, c := range cursors {
			_ = c.Close()
		}
	}()
	for si, src := range m.sources {
		if f.fields[si] < 0 {
			continue
		}
		r, err := src.Segment().Numeric(ctx, p.tables[si], f.fields[si])
		if err != nil {
			return err
		}
		cursors = append(cursors, NewIxNum(si, r, remap, skip))
	}

	next := make([]func() (dstItem[[]int64], bool), len(cursors))
	for i, c := range cursors {
		next[i] = func() (dstItem[[]int64], bool) {
			if !c.Next(ctx) {
				return dstItem[[]int64]{}, false
			}
			return dstItem[[]int64]{dst: c.Dst(), v: c.Values()}, true
		}
	}

	var stats segment.FieldStats
	nw := column.NewNumWriter(w, m.opts.Column)
	err := eachRow(byDst(next), rows, nil, func(vals []int64) error {
		stats.AddNumeric(vals)
		return nw.Add(vals)
	})
	if err != nil {
		return err
	}
	for _, c := range cursors {
		if err := c.Err(); err != nil {
			return err
		}
	}
	stats.Fill(fm)
	return nw.Close()
}

// dictInput is the dictionary of one source together with the terms its
// surviving documents use and their numbers in the merged dictionary.
type dictInput struct {
	seg   int
	r     *column.DictReader
	used  *roaring.Bitmap
	renum []uint32
}

type termItem struct {
	key   []byte
	value []byte
	in    int
	term  uint32
}

func (m *Merger) mergeDict(ctx context.Context, w io.Writer, p *tablePlan, f *fieldPlan, rows int, fm *segment.FieldMeta) error {
	remap, skip := m.remaps[p.name], m.skipTombs(p.name)
	var inputs []*dictInput
	defer func() {
		for _, in := range inputs {
			_ = in.r.Close()
		}
	}()
	for si, src := range m.sources {
		if f.fields[si] < 0 {
			continue
		}
		r, err := src.Segment().Dict(ctx, p.tables[si], f.fields[si])
		if err != nil {
			return err
		}
		inputs = append(inputs, &dictInput{seg: si, r: r, used: roaring.New(), renum: make([]uint32, r.TermCount())})
	}

	// Only terms referenced by surviving documents are carried over.
	for _, in := range inputs {
		ix := NewIxSeg(in.seg, in.r.PostingsCursor(), nopClose, remap, skip)
		for ix.Next(ctx) {
			in.used.AddMany(ix.IDs())
		}
		if err := ix.Err(); err != nil {
			return err
		}
	}

	cursors := make([]*column.TermCursor, len(inputs))
	next := make([]func() (termItem, bool), len(inputs))
	for i, in := range inputs {
		tc := in.r.Terms()
		cursors[i] = tc
		next[i] = func() (termItem, bool) {
			for tc.Next(ctx) {
				if !in.used.Contains(tc.Number()) {
					continue
				}
				return termItem{key: bytes.Clone(tc.Key()), value: bytes.Clone(tc.Value()), in: i, term: tc.Number()}, true
			}
			return termItem{}, false
		}
	}
	terms := queue.Merge(next, func(a, b termItem) bool {
		if c := bytes.Compare(a.key, b.key); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(a.value, b.value); c != 0 {
			return c < 0
		}
		return a.in < b.in
	})

	var stats segment.FieldStats
	dw := column.NewDictWriter(w, m.opts.Column)
	var prev termItem
	var n uint32
	count := 0
	for {
		t, ok := terms()
		if !ok {
			break
		}
		if count == 0 || !bytes.Equal(t.key, prev.key) || !bytes.Equal(t.value, prev.value) {
			var err error
			if n, err = dw.AddTerm(t.key, t.value); err != nil {
				return err
			}
			count++
			prev = t
		}
		inputs[t.in].renum[t.term] = n
	}
	for _, tc := range cursors {
		if err := tc.Err(); err != nil {
			return err
		}
	}
	stats.SetTerms(count)

	ixs := make([]*IxSeg, len(inputs))
	postings := make([]func() (dstItem[[]uint32], bool), len(inputs))
	for i, in := range inputs {
		ix := NewIxSeg(in.seg, in.r.PostingsCursor(), nopClose, remap, skip)
		ixs[i] = ix
		postings[i] = func() (dstItem[[]uint32], bool) {
			if !ix.Next(ctx) {
				return dstItem[[]uint32]{}, false
			}
			ids := ix.IDs()
			for j, t := range ids {
				ids[j] = in.renum[t]
			}
			slices.Sort(ids)
			return dstItem[[]uint32]{dst: ix.Dst(), v: ids}, true
		}
	}
	err := eachRow(byDst(postings), rows, nil, func(ids []uint32) error {
		stats.AddPostings(ids)
		return dw.AddPostings(ids)
	})
	if err != nil {
		return err
	}
	for _, ix := range ixs {
		if err := ix.Err(); err != nil {
			return err
		}
	}
	stats.Fill(fm)
	return dw.Close()
}

// mergeLinks writes the link lists of the winners. Stub versions of a key
// only hold edges added from the other side, so their lists are folded into
// whichever row the key ended up in.
func (m *Merger) mergeLinks(ctx context.Context, w io.Writer, p *tablePlan, f *fieldPlan, rows int, fm *segment.FieldMeta) error {
	remap, tombs := m.remaps[p.name], m.tombs[p.name]
	targets, targetTombs := m.remaps[f.meta.Target], m.tombs[f.meta.Target]

	var ixs []*IxSeg
	defer func() {
		for _, ix := range ixs {
			_ = ix.Close()
		}
	}()
	for si, src := range m.sources {
		if f.fields[si] < 0 {
			continue
		}
		r, err := src.Segment().Links(ctx, p.tables[si], f.fields[si])
		if err != nil {
			return err
		}
		stubs := p.stubs[si]
		ixs = append(ixs, NewIxSeg(si, r.Cursor(), r.Close, remap, nil).withDst(func(doc model.DocNum) int64 {
			dst := remap.Dst(si, doc)
			if dst == Deleted && stubs != nil && stubs.Contains(uint32(doc)) {
				dst = remap.Target(si, doc)
			}
			if dst == Deleted || tombs.Test(uint(dst)) {
				return Deleted
			}
			return dst
		}))
	}

	next := make([]func() (dstItem[[]model.DocNum], bool), len(ixs))
	for i, ix := range ixs {
		next[i] = func() (dstItem[[]model.DocNum], bool) {
			if !ix.Next(ctx) {
				return dstItem[[]model.DocNum]{}, false
			}
			var out []model.DocNum
			for _, t := range ix.IDs() {
				d := targets.Target(ix.Seg(), model.DocNum(t))
				if d == Deleted || targetTombs.Test(uint(d)) {
					continue
				}
				out = append(out, model.DocNum(d))
			}
			slices.Sort(out)
			return dstItem[[]model.DocNum]{dst: ix.Dst(), v: slices.Compact(out)}, true
		}
	}
	union := func(a, b []model.DocNum) []model.DocNum {
		a = append(a, b...)
		slices.Sort(a)
		return slices.Compact(a)
	}

	var stats segment.FieldStats
	lw := column.NewLinkWriter(w, m.opts.Column)
	err := eachRow(byDst(next), rows, union, func(out []model.DocNum) error {
		stats.AddLinks(out)
		return lw.Add(out)
	})
	if err != nil {
		return err
	}
	for _, ix := range ixs {
		if err := ix.Err(); err != nil {
			return err
		}
	}
	stats.Fill(fm)
	return lw.Close()
}

func nopClose() error { return nil }
