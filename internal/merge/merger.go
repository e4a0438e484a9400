package merge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/codec"
	"github.com/hupe1980/segdb/internal/column"
	"github.com/hupe1980/segdb/internal/queue"
	"github.com/hupe1980/segdb/internal/segment"
	"github.com/hupe1980/segdb/model"
	"github.com/hupe1980/segdb/schema"
	"golang.org/x/sync/errgroup"
)

// Options configures a Merger.
type Options struct {
	// PurgeDeleted drops deleted winners instead of keeping tombstones.
	// Only safe when no older segment stays outside the merge.
	PurgeDeleted bool

	Column column.Options
	Codec  codec.Codec
	Logger *slog.Logger

	// WrapWriter, if set, wraps the writer of every output store.
	WrapWriter func(io.Writer) io.Writer

	// OnRestore is called whenever a cursor reopens a replaced segment version.
	OnRestore func()
}

// Stats summarizes a finished merge.
type Stats struct {
	Rows       int
	Superseded int
	Purged     int
	Restores   int
}

// Merger merges the input segments into one output segment.
type Merger struct {
	sources []*Source
	dir     blobstore.BlobStore
	opts    Options

	remaps   map[string]*Remap
	tombs    map[string]*bitset.BitSet
	stats    Stats
	restores atomic.Int64
}

// New creates a Merger writing to dir. Sources are ordered by ordinal.
func New(sources []*Source, dir blobstore.BlobStore, opts Options) *Merger {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Column.BlockSize <= 0 {
		opts.Column.BlockSize = column.DefaultBlockSize
	}
	sorted := slices.Clone(sources)
	slices.SortStableFunc(sorted, func(a, b *Source) int {
		switch {
		case a.Ordinal < b.Ordinal:
			return -1
		case a.Ordinal > b.Ordinal:
			return 1
		}
		return 0
	})
	return &Merger{
		sources: sorted,
		dir:     dir,
		opts:    opts,
		remaps:  make(map[string]*Remap),
		tombs:   make(map[string]*bitset.BitSet),
	}
}

// Remap returns the doc remap of table, available once Merge has run.
func (m *Merger) Remap(table string) *Remap { return m.remaps[table] }

// Stats returns the statistics of the last Merge.
func (m *Merger) Stats() Stats {
	s := m.stats
	s.Restores = int(m.restores.Load())
	return s
}

type tablePlan struct {
	index  int
	name   string
	tables []int
	fields []*fieldPlan
	// stubs holds the stub docs of every source, set while IDs are merged.
	stubs []*roaring.Bitmap
}

type fieldPlan struct {
	index int
	meta  segment.FieldMeta
	// fields holds the field index of every source, -1 where absent.
	fields []int
}

// Merge runs the merge and writes the output segment.
//
// ID stores are merged first, table by table, to build the remaps; field
// stores need them, links even those of other tables. Field stores of
// different tables are then merged concurrently.
func (m *Merger) Merge(ctx context.Context) (*segment.Meta, error) {
	plans, err := m.plan()
	if err != nil {
		return nil, err
	}
	meta := &segment.Meta{
		Format:      segment.FormatVersion,
		Created:     time.Now().UTC(),
		Compression: m.opts.Column.Compression.String(),
		Tables:      make([]segment.TableMeta, len(plans)),
	}

	for _, p := range plans {
		tm, err := m.mergeIDs(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", p.name, err)
		}
		meta.Tables[p.index] = tm
		m.stats.Rows += tm.Rows
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range plans {
		g.Go(func() error {
			tm := &meta.Tables[p.index]
			for _, f := range p.fields {
				if err := m.mergeField(gctx, p, f, tm.Rows, &tm.Fields[f.index]); err != nil {
					return fmt.Errorf("table %s field %s: %w", p.name, f.meta.Name, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := segment.WriteMeta(ctx, m.dir, m.opts.Codec, meta); err != nil {
		return nil, err
	}
	m.opts.Logger.Debug("segments merged",
		"inputs", len(m.sources), "rows", m.stats.Rows,
		"superseded", m.stats.Superseded, "purged", m.stats.Purged)
	return meta, nil
}

// plan unions the tables and fields of all sources. Tables and fields keep
// the order in which they are first seen, oldest source first.
func (m *Merger) plan() ([]*tablePlan, error) {
	var plans []*tablePlan
	byName := make(map[string]*tablePlan)
	for si, src := range m.sources {
		meta := src.Segment().Meta()
		for ti := range meta.Tables {
			t := &meta.Tables[ti]
			p, ok := byName[t.Name]
			if !ok {
				p = &tablePlan{
					index:  len(plans),
					name:   t.Name,
					tables: absent(len(m.sources)),
					stubs:  make([]*roaring.Bitmap, len(m.sources)),
				}
				plans = append(plans, p)
				byName[t.Name] = p
			}
			p.tables[si] = ti

			for fi, f := range t.Fields {
				i := slices.IndexFunc(p.fields, func(fp *fieldPlan) bool { return fp.meta.Name == f.Name })
				if i < 0 {
					i = len(p.fields)
					p.fields = append(p.fields, &fieldPlan{
						index:  i,
						meta:   segment.FieldMeta{Name: f.Name, Type: f.Type, Target: f.Target, Analyzer: f.Analyzer},
						fields: absent(len(m.sources)),
					})
				}
				fp := p.fields[i]
				if fp.meta.Type != f.Type {
					return nil, fmt.Errorf("%w: %s.%s is %s and %s",
						schema.ErrFieldTypeConflict, t.Name, f.Name, fp.meta.Type, f.Type)
				}
				fp.fields[si] = fi
			}
		}
	}
	for _, p := range plans {
		for _, f := range p.fields {
			if f.meta.Type == schema.TypeLink {
				if _, ok := byName[f.meta.Target]; !ok {
					return nil, fmt.Errorf("merge: link %s.%s targets missing table %s", p.name, f.meta.Name, f.meta.Target)
				}
			}
		}
	}
	return plans, nil
}

func absent(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = -1
	}
	return s
}

func (m *Merger) restored() {
	m.restores.Add(1)
	if m.opts.OnRestore != nil {
		m.opts.OnRestore()
	}
}

type docItem struct {
	key   model.Key
	seg   int
	doc   model.DocNum
	state column.DocState
}

// winner returns the position of the newest real document of a run of
// equal keys. Stubs only win when the run holds nothing else.
func winner(run []docItem) int {
	for i := len(run) - 1; i >= 0; i-- {
		if run[i].state != column.Stub {
			return i
		}
	}
	return len(run) - 1
}

func (m *Merger) mergeIDs(ctx context.Context, p *tablePlan) (segment.TableMeta, error) {
	tm := segment.TableMeta{Name: p.name, Fields: make([]segment.FieldMeta, len(p.fields))}
	for _, f := range p.fields {
		tm.Fields[f.index] = f.meta
	}
	remap := NewRemap(len(m.sources))
	tombs := bitset.New(0)
	m.remaps[p.name] = remap
	m.tombs[p.name] = tombs

	cursors := make([]docCursor, 0, len(m.sources))
	defer func() {
		for _, c := range cursors {
			_ = c.Close()
		}
	}()
	for si, src := range m.sources {
		ti := p.tables[si]
		if ti < 0 {
			continue
		}
		ids, err := src.Segment().IDs(ctx, ti)
		if err != nil {
			return tm, err
		}
		p.stubs[si] = ids.Stubs()
		if src.Reopen != nil {
			cursors = append(cursors, NewRestorableIxDoc(si, src, p.name, ids, m.opts.Logger, m.restored))
		} else {
			cursors = append(cursors, NewIxDoc(si, ids))
		}
	}

	next := make([]func() (docItem, bool), len(cursors))
	for i, c := range cursors {
		next[i] = func() (docItem, bool) {
			if !c.Next(ctx) {
				return docItem{}, false
			}
			return docItem{key: c.Key(), seg: c.Seg(), doc: c.Doc(), state: c.State()}, true
		}
	}
	it := queue.Merge(next, func(a, b docItem) bool {
		if c := a.key.Compare(b.key); c != 0 {
			return c < 0
		}
		return a.seg < b.seg
	})

	var dst int64
	err := segment.WriteStore(ctx, m.dir, segment.IDsName(p.index), m.opts.WrapWriter, func(w io.Writer) error {
		iw := column.NewIDWriter(w, m.opts.Column)
		var run []docItem

		emit := func() error {
			wi := winner(run)
			win := run[wi]
			if win.state == column.Deleted && m.opts.PurgeDeleted {
				for _, d := range run {
					if err := remap.Drop(d.seg, d.doc); err != nil {
						return err
					}
				}
				m.stats.Purged++
				return nil
			}
			for i, d := range run {
				var err error
				switch {
				case i == wi && i > 0:
					err = remap.SetDeleted(d.seg, d.doc, dst)
				case i <= wi:
					err = remap.Set(d.seg, d.doc, dst)
				default:
					err = remap.SetSuperseded(d.seg, d.doc, dst)
				}
				if err != nil {
					return err
				}
			}
			switch win.state {
			case column.Deleted:
				tombs.Set(uint(dst))
				tm.Deleted++
			case column.Stub:
				tm.Stubs++
			}
			m.stats.Superseded += len(run) - 1
			dst++
			return iw.Add(win.key, win.state)
		}

		for {
			item, ok := it()
			if !ok {
				break
			}
			if len(run) > 0 && !run[0].key.Equal(item.key) {
				if err := emit(); err != nil {
					return err
				}
				run = run[:0]
			}
			run = append(run, item)
		}
		if len(run) > 0 {
			if err := emit(); err != nil {
				return err
			}
		}
		for _, c := range cursors {
			if err := c.Err(); err != nil {
				return err
			}
		}
		return iw.Close()
	})
	if err != nil {
		return tm, err
	}
	if size := remap.DstSize(); size != dst {
		return tm, fmt.Errorf("merge: remap size %d does not match %d rows", size, dst)
	}
	tm.Rows = int(dst)
	return tm, nil
}
