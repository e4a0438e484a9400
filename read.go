package segdb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/segdb/internal/column"
	"github.com/hupe1980/segdb/internal/segment"
	"github.com/hupe1980/segdb/model"
	"github.com/hupe1980/segdb/query"
	"github.com/hupe1980/segdb/schema"
)

// AllIDs returns the keys of all live documents of table.
//
// The set is evaluated against the segments committed when its iterator is
// opened. A key is reported if its newest version is live, or if it is only
// known from link stubs.
func (d *DB) AllIDs(table string) query.Set {
	return d.latest(table, true, func(*schema.Table) error { return nil }, func(ctx context.Context, ref *segmentRef, t int) (query.Set, error) {
		return &docSet{seg: ref.seg, table: t, want: column.Live}, nil
	})
}

// TermIDs returns the keys of live documents whose field holds a value
// matching term. Values and term are compared by their analyzed keys, so a
// case-folding analyzer makes the match case-insensitive.
func (d *DB) TermIDs(table, field, term string) query.Set {
	validate := func(t *schema.Table) error {
		f, ok := t.Field(field)
		if !ok {
			return fmt.Errorf("%w: %s.%s", schema.ErrUnknownField, table, field)
		}
		if !f.Type.IsTerm() {
			return fmt.Errorf("%w: %s.%s is %s, not a term field", ErrInvalidArgument, table, field, f.Type)
		}
		return nil
	}
	return d.latest(table, false, validate, func(ctx context.Context, ref *segmentRef, t int) (query.Set, error) {
		docs, err := d.termDocs(ctx, ref.seg, t, field, term)
		if err != nil {
			return nil, err
		}
		if docs == nil {
			return query.Empty(), nil
		}
		return &docSet{seg: ref.seg, table: t, want: column.Live, docs: docs}, nil
	})
}

// latest combines per-segment matches so that only the newest version of a
// key counts: a match in segment i is dropped if any newer segment holds a
// live or deleted document with the same key. With stubs set, keys that no
// segment holds except as a stub are added.
func (d *DB) latest(table string, stubs bool, validate func(*schema.Table) error, match func(context.Context, *segmentRef, int) (query.Set, error)) query.Set {
	return query.SetFunc(func(ctx context.Context) (query.Iterator, error) {
		if err := d.check(); err != nil {
			return nil, err
		}
		st, ok := d.schema.Table(table)
		if !ok {
			return nil, fmt.Errorf("%w: %s", schema.ErrUnknownTable, table)
		}
		if err := validate(st); err != nil {
			return nil, err
		}

		snap := d.current.Load()
		var (
			sets    []query.Set
			newer   []query.Set
			stubbed []query.Set
		)
		for i := len(snap.segments) - 1; i >= 0; i-- {
			ref := snap.segments[i]
			t, _, ok := ref.seg.Meta().Table(table)
			if !ok {
				continue
			}
			m, err := match(ctx, ref, t)
			if err != nil {
				return nil, err
			}
			sets = append(sets, query.Difference(m, query.Union(newer...)))
			newer = append(newer, &docSet{seg: ref.seg, table: t, keys: true})
			if stubs {
				stubbed = append(stubbed, &docSet{seg: ref.seg, table: t, want: column.Stub})
			}
		}
		if len(stubbed) > 0 {
			sets = append(sets, query.Difference(query.Union(stubbed...), query.Union(newer...)))
		}

		it, err := query.Union(sets...).Iterator(ctx)
		if err != nil {
			d.metrics.RecordQuery(0, 0, err)
			d.logger.LogQuery(ctx, table, 0, err)
			return nil, err
		}
		return &observed{Iterator: it, ctx: ctx, d: d, table: table, start: time.Now()}, nil
	})
}

// termDocs returns the documents of table t whose field holds term, or nil if
// the segment has no such field or term.
func (d *DB) termDocs(ctx context.Context, seg *segment.Segment, t int, field, term string) (*roaring.Bitmap, error) {
	f, fm, ok := seg.Meta().Tables[t].Field(field)
	if !ok || !fm.Type.IsTerm() {
		return nil, nil
	}
	a, err := d.opts.analyzers.Lookup(fm.Analyzer)
	if err != nil {
		return nil, err
	}

	dict, err := seg.Dict(ctx, t, f)
	if err != nil {
		return nil, err
	}
	defer dict.Close()

	lo, hi, err := dict.Lookup(ctx, a.Key([]byte(term)))
	if err != nil || lo == hi {
		return nil, err
	}

	docs := roaring.New()
	c := dict.PostingsCursor()
	for c.Next(ctx) {
		for _, n := range c.IDs() {
			if n >= lo && n < hi {
				docs.Add(uint32(c.Doc()))
				break
			}
		}
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// docSet iterates the keys of one table of one segment. With keys set it
// reports every document that shadows older versions, otherwise the
// documents in state want, restricted to docs when given.
type docSet struct {
	seg   *segment.Segment
	table int
	want  column.DocState
	keys  bool
	docs  *roaring.Bitmap
}

func (s *docSet) Iterator(ctx context.Context) (query.Iterator, error) {
	ids, err := s.seg.IDs(ctx, s.table)
	if err != nil {
		return nil, err
	}
	return &docIterator{set: s, ctx: ctx, ids: ids, c: ids.Cursor()}, nil
}

type docIterator struct {
	set *docSet
	ctx context.Context
	ids *column.IDReader
	c   *column.IDCursor
	key model.Key
}

func (it *docIterator) Next() bool {
	for it.c.Next(it.ctx) {
		if it.accept() {
			it.key = it.c.Key().Clone()
			return true
		}
	}
	it.key = nil
	return false
}

func (it *docIterator) accept() bool {
	state := it.c.State()
	if it.set.keys {
		return state != column.Stub
	}
	if state != it.set.want {
		return false
	}
	return it.set.docs == nil || it.set.docs.Contains(uint32(it.c.Doc()))
}

func (it *docIterator) Key() model.Key { return it.key }
func (it *docIterator) Err() error     { return it.c.Err() }
func (it *docIterator) Close() error   { return it.ids.Close() }

// observed reports a query to the metrics collector and logger on Close.
type observed struct {
	query.Iterator
	ctx   context.Context
	d     *DB
	table string
	start time.Time
	n     int
	done  bool
}

func (o *observed) Next() bool {
	if o.Iterator.Next() {
		o.n++
		return true
	}
	return false
}

func (o *observed) Close() error {
	if o.done {
		return nil
	}
	o.done = true
	err := o.Iterator.Close()
	qerr := errors.Join(o.Iterator.Err(), err)
	o.d.metrics.RecordQuery(o.n, time.Since(o.start), qerr)
	o.d.logger.LogQuery(o.ctx, o.table, o.n, qerr)
	return err
}

// Values returns the numeric values of field for the newest version of key.
// It returns ErrNotFound if the key does not exist or is deleted.
func (d *DB) Values(ctx context.Context, table, field string, key model.Key) ([]int64, error) {
	doc, err := d.lookup(ctx, table, field, key, schema.FieldType.IsNumeric)
	if err != nil || doc.field < 0 {
		return nil, err
	}
	r, err := doc.ref.seg.Numeric(ctx, doc.table, doc.field)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Values(ctx, doc.doc)
}

// Terms returns the original values of a term field for the newest version
// of key, ordered by their analyzed keys.
func (d *DB) Terms(ctx context.Context, table, field string, key model.Key) ([]string, error) {
	doc, err := d.lookup(ctx, table, field, key, schema.FieldType.IsTerm)
	if err != nil || doc.field < 0 {
		return nil, err
	}
	r, err := doc.ref.seg.Dict(ctx, doc.table, doc.field)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	nums, err := r.Postings(ctx, doc.doc)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(nums))
	for _, n := range nums {
		_, value, err := r.Term(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, string(value))
	}
	return out, nil
}

// Links returns the keys targeted by a link field for the newest version of
// key, in ascending order. Link-only stubs of the key contribute their edges
// too, as they do when segments are merged, and a key known only from stubs
// reports the union of their edges. Targets whose newest version is deleted
// are left out.
func (d *DB) Links(ctx context.Context, table, field string, key model.Key) ([]model.Key, error) {
	isLink := func(t schema.FieldType) bool { return t == schema.TypeLink }
	f, err := d.resolve(table, field, isLink)
	if err != nil {
		return nil, err
	}

	var (
		winner  = column.Stub
		found   bool
		targets []model.Key
		seen    = map[string]struct{}{}
	)
	err = d.versions(ctx, table, key, func(v version) (bool, error) {
		found = true
		if v.state != column.Stub {
			if winner != column.Stub {
				return false, nil
			}
			winner = v.state
			if v.state == column.Deleted {
				return true, nil
			}
		}
		keys, err := linkTargets(ctx, v, field)
		if err != nil {
			return true, err
		}
		for _, k := range keys {
			if _, dup := seen[string(k)]; !dup {
				seen[string(k)] = struct{}{}
				targets = append(targets, k)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if !found || winner == column.Deleted {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, key)
	}

	out := targets[:0]
	for _, k := range targets {
		live, err := d.live(ctx, f.Target, k)
		if err != nil {
			return nil, err
		}
		if live {
			out = append(out, k)
		}
	}
	slices.SortFunc(out, model.Key.Compare)
	return out, nil
}

// linkTargets resolves the link targets of one document version to keys.
func linkTargets(ctx context.Context, v version, field string) ([]model.Key, error) {
	seg := v.ref.seg
	f, fm, ok := seg.Meta().Tables[v.table].Field(field)
	if !ok || fm.Type != schema.TypeLink {
		return nil, nil
	}
	target, _, ok := seg.Meta().Table(fm.Target)
	if !ok {
		return nil, fmt.Errorf("%s: link target table %s missing", v.ref.info.ID, fm.Target)
	}

	links, err := seg.Links(ctx, v.table, f)
	if err != nil {
		return nil, err
	}
	defer links.Close()
	docs, err := links.Targets(ctx, v.doc)
	if err != nil || len(docs) == 0 {
		return nil, err
	}

	ids, err := seg.IDs(ctx, target)
	if err != nil {
		return nil, err
	}
	defer ids.Close()
	out := make([]model.Key, 0, len(docs))
	for _, doc := range docs {
		k, err := ids.Key(ctx, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, k.Clone())
	}
	return out, nil
}

// live reports whether the newest version of key is a live document. A key
// known only from stubs counts as live.
func (d *DB) live(ctx context.Context, table string, key model.Key) (bool, error) {
	state, seen := column.Stub, false
	err := d.versions(ctx, table, key, func(v version) (bool, error) {
		state, seen = v.state, true
		return v.state != column.Stub, nil
	})
	return seen && state != column.Deleted, err
}

// located is the newest live version of a key. field is -1 if the holding
// segment has no values for the requested field.
type located struct {
	ref   *segmentRef
	table int
	field int
	doc   model.DocNum
}

// version is one stored document of a key.
type version struct {
	ref   *segmentRef
	table int
	doc   model.DocNum
	state column.DocState
}

// resolve checks that field exists in table and has an accepted type.
func (d *DB) resolve(table, field string, typeOK func(schema.FieldType) bool) (schema.Field, error) {
	if err := d.check(); err != nil {
		return schema.Field{}, err
	}
	st, ok := d.schema.Table(table)
	if !ok {
		return schema.Field{}, fmt.Errorf("%w: %s", schema.ErrUnknownTable, table)
	}
	f, ok := st.Field(field)
	if !ok {
		return schema.Field{}, fmt.Errorf("%w: %s.%s", schema.ErrUnknownField, table, field)
	}
	if !typeOK(f.Type) {
		return schema.Field{}, fmt.Errorf("%w: %s.%s has type %s", ErrInvalidArgument, table, field, f.Type)
	}
	return f, nil
}

// lookup finds the newest live version of key. A key known only from stubs
// resolves to its newest stub, which holds no field values.
func (d *DB) lookup(ctx context.Context, table, field string, key model.Key, typeOK func(schema.FieldType) bool) (located, error) {
	if _, err := d.resolve(table, field, typeOK); err != nil {
		return located{}, err
	}

	var (
		loc   = located{field: -1}
		found bool
		stub  bool
	)
	err := d.versions(ctx, table, key, func(v version) (bool, error) {
		switch v.state {
		case column.Stub:
			stub = true
			return false, nil
		case column.Deleted:
			stub = false
			return true, nil
		}
		stub = false
		loc.ref, loc.table, loc.doc, found = v.ref, v.table, v.doc, true
		if fi, fm, ok := v.ref.seg.Meta().Tables[v.table].Field(field); ok && typeOK(fm.Type) {
			loc.field = fi
		}
		return true, nil
	})
	if err != nil {
		return located{}, err
	}
	if stub {
		return located{field: -1}, nil
	}
	if !found {
		return located{}, fmt.Errorf("%w: %s/%s", ErrNotFound, table, key)
	}
	return loc, nil
}

// versions calls fn for the stored documents of key, newest first, until fn
// reports stop. Segments whose key filter rules the key out are skipped.
func (d *DB) versions(ctx context.Context, table string, key model.Key, fn func(version) (stop bool, err error)) error {
	snap := d.current.Load()
	for i := len(snap.segments) - 1; i >= 0; i-- {
		ref := snap.segments[i]
		if ti, ok := ref.info.Table(table); !ok || !ti.Keys.MayContain(key) {
			continue
		}
		t, _, ok := ref.seg.Meta().Table(table)
		if !ok {
			continue
		}
		doc, state, found, err := findKey(ctx, ref.seg, t, key)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		stop, err := fn(version{ref: ref, table: t, doc: doc, state: state})
		if err != nil || stop {
			return err
		}
	}
	return nil
}

func findKey(ctx context.Context, seg *segment.Segment, t int, key model.Key) (model.DocNum, column.DocState, bool, error) {
	ids, err := seg.IDs(ctx, t)
	if err != nil {
		return 0, 0, false, err
	}
	defer ids.Close()
	doc, ok, err := ids.Find(ctx, key)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	return doc, ids.State(doc), true, nil
}
