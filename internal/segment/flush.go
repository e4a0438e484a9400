package segment

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/internal/column"
	"github.com/hupe1980/segdb/internal/conv"
	"github.com/hupe1980/segdb/model"
	"golang.org/x/sync/errgroup"
)

// Flush numbers the documents of every table in key order and writes the
// segment into dir. Tables are written concurrently.
func (b *Builder) Flush(ctx context.Context, dir blobstore.BlobStore) (*Meta, error) {
	// Link stores refer to target doc numbers, so every table is numbered first.
	for _, tb := range b.order {
		if err := conv.Rows(tb.len()); err != nil {
			return nil, fmt.Errorf("table %s: %w", tb.table.Name, err)
		}
		tb.number()
	}

	meta := &Meta{
		Format:      FormatVersion,
		Created:     time.Now().UTC(),
		Compression: b.opts.Column.Compression.String(),
		Tables:      make([]TableMeta, len(b.order)),
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, tb := range b.order {
		g.Go(func() error {
			tm, err := tb.flush(gctx, dir, i, b.opts)
			if err != nil {
				return fmt.Errorf("table %s: %w", tb.table.Name, err)
			}
			meta.Tables[i] = tm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := WriteMeta(ctx, dir, b.opts.Codec, meta); err != nil {
		return nil, err
	}
	b.opts.Logger.Debug("segment flushed", "tables", len(meta.Tables), "docs", b.Len())
	return meta, nil
}

func (tb *tableBuilder) number() {
	order := tb.keys.Sort()
	tb.docs = make([]*doc, len(order))
	for n, idx := range order {
		d := tb.rows[idx]
		d.number = model.DocNum(n)
		tb.docs[n] = d
	}
}

func (tb *tableBuilder) flush(ctx context.Context, dir blobstore.BlobStore, ti int, opts Options) (TableMeta, error) {
	tm := TableMeta{Name: tb.table.Name, Rows: len(tb.docs), Fields: make([]FieldMeta, len(tb.fields))}

	err := WriteStore(ctx, dir, IDsName(ti), opts.WrapWriter, func(w io.Writer) error {
		iw := column.NewIDWriter(w, opts.Column)
		for _, d := range tb.docs {
			switch d.state {
			case column.Deleted:
				tm.Deleted++
			case column.Stub:
				tm.Stubs++
			}
			if err := iw.Add(d.key, d.state); err != nil {
				return err
			}
		}
		return iw.Close()
	})
	if err != nil {
		return tm, err
	}

	for _, fb := range tb.fields {
		fm := FieldMeta{Name: fb.field.Name, Type: fb.field.Type, Target: fb.field.Target}
		if fb.analyzer != nil {
			fm.Analyzer = fb.analyzer.Name()
		}
		name := FieldName(ti, fb.index, fb.field.Type)
		err := WriteStore(ctx, dir, name, opts.WrapWriter, func(w io.Writer) error {
			switch {
			case fb.field.Type.IsTerm():
				return tb.writeDict(w, fb, &fm, opts.Column)
			case fb.target != nil:
				return tb.writeLinks(w, fb, &fm, opts.Column)
			default:
				return tb.writeNumeric(w, fb, &fm, opts.Column)
			}
		})
		if err != nil {
			return tm, err
		}
		tm.Fields[fb.index] = fm
	}
	return tm, nil
}

func (tb *tableBuilder) writeNumeric(w io.Writer, fb *fieldBuilder, fm *FieldMeta, opts column.Options) error {
	var stats FieldStats
	nw := column.NewNumWriter(w, opts)
	for _, d := range tb.docs {
		vals := d.nums[fb.index]
		stats.AddNumeric(vals)
		if err := nw.Add(vals); err != nil {
			return err
		}
	}
	stats.Fill(fm)
	return nw.Close()
}

func (tb *tableBuilder) writeDict(w io.Writer, fb *fieldBuilder, fm *FieldMeta, opts column.Options) error {
	var stats FieldStats
	dw := column.NewDictWriter(w, opts)
	perm, numbers := fb.termOrder()
	for _, idx := range perm {
		if _, err := dw.AddTerm(fb.keys.Get(idx), fb.values.Get(idx)); err != nil {
			return err
		}
	}
	stats.SetTerms(len(perm))

	var postings []uint32
	for _, d := range tb.docs {
		postings = postings[:0]
		for _, idx := range d.terms[fb.index] {
			postings = append(postings, numbers[idx])
		}
		slices.Sort(postings)
		postings = slices.Compact(postings)
		stats.AddPostings(postings)
		if err := dw.AddPostings(postings); err != nil {
			return err
		}
	}
	stats.Fill(fm)
	return dw.Close()
}

func (tb *tableBuilder) writeLinks(w io.Writer, fb *fieldBuilder, fm *FieldMeta, opts column.Options) error {
	var stats FieldStats
	lw := column.NewLinkWriter(w, opts)
	var targets []model.DocNum
	for _, d := range tb.docs {
		targets = d.edges(fb.index, targets)
		stats.AddLinks(targets)
		if err := lw.Add(targets); err != nil {
			return err
		}
	}
	stats.Fill(fm)
	return lw.Close()
}

// WriteStore creates name in dir and hands its writer to fn. The blob is
// synced and closed when fn succeeds and aborted otherwise.
func WriteStore(ctx context.Context, dir blobstore.BlobStore, name string, wrap func(io.Writer) io.Writer, fn func(w io.Writer) error) error {
	wb, err := dir.Create(ctx, name)
	if err != nil {
		return err
	}
	var w io.Writer = wb
	if wrap != nil {
		w = wrap(wb)
	}
	if err := fn(w); err != nil {
		if a, ok := wb.(blobstore.Abortable); ok {
			_ = a.Abort()
		} else {
			_ = wb.Close()
		}
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := wb.Sync(); err != nil {
		_ = wb.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	return wb.Close()
}
